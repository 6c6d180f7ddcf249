package graceful

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rail-service/yield_bridge/pkg/logger"
)

type recorder struct {
	name  string
	order *[]string
	err   error
}

func (r recorder) Shutdown(timeout time.Duration) error {
	*r.order = append(*r.order, r.name)
	return r.err
}

func TestShutdownOrder(t *testing.T) {
	var order []string
	sm := NewShutdownManager(nil, time.Second, logger.NewNop())
	sm.Register(recorder{name: "bridge", order: &order})
	sm.Register(recorder{name: "rebalancer", order: &order})
	sm.RegisterCloser("db", func() error { order = append(order, "db"); return nil })
	sm.RegisterCloser("nats", func() error { order = append(order, "nats"); return nil })

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"bridge", "rebalancer", "nats", "db"}, order)
}

func TestShutdownCollectsErrors(t *testing.T) {
	var order []string
	boom := errors.New("drain timed out")
	sm := NewShutdownManager(nil, time.Second, logger.NewNop())
	sm.Register(recorder{name: "bridge", order: &order, err: boom})
	sm.RegisterCloser("redis", func() error { order = append(order, "redis"); return nil })

	err := sm.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"bridge", "redis"}, order, "a failing component must not skip closers")
}
