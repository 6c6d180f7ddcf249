package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serve(t *testing.T, h gin.HandlerFunc) (int, HealthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/check", h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check", nil))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestLiveness(t *testing.T) {
	h := NewHealthHandler([]Check{{Name: "database", Critical: true, Ping: failing}}, zap.NewNop(), "1.2.0")
	code, body := serve(t, h.Liveness)

	assert.Equal(t, http.StatusOK, code, "liveness ignores dependencies")
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, "1.2.0", body.Version)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		checks   []Check
		wantCode int
		want     Status
	}{
		{
			name:     "all healthy",
			checks:   []Check{{Name: "database", Critical: true, Ping: ok}, {Name: "nats", Ping: ok}},
			wantCode: http.StatusOK,
			want:     StatusHealthy,
		},
		{
			name:     "optional dependency down",
			checks:   []Check{{Name: "database", Critical: true, Ping: ok}, {Name: "nats", Ping: failing}},
			wantCode: http.StatusOK,
			want:     StatusDegraded,
		},
		{
			name:     "critical dependency down",
			checks:   []Check{{Name: "database", Critical: true, Ping: failing}, {Name: "nats", Ping: failing}},
			wantCode: http.StatusServiceUnavailable,
			want:     StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks, zap.NewNop(), "test")
			code, body := serve(t, h.Readiness)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.want, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestReadiness_ReportsError(t *testing.T) {
	h := NewHealthHandler([]Check{{Name: "redis", Critical: true, Ping: failing}}, zap.NewNop(), "test")
	_, body := serve(t, h.Readiness)

	require.Contains(t, body.Checks, "redis")
	assert.Equal(t, "connection refused", body.Checks["redis"].Error)
}
