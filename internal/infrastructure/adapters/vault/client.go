// Package vault is the HTTP client for the escrow/vault gateway that fronts the
// on-chain deposit and release contracts.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/yield_bridge/pkg/metrics"
	"github.com/rail-service/yield_bridge/pkg/retry"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxRetries    = 3
	maxRequestsPerSecond = 50
)

// Config represents vault gateway client configuration
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client talks to the vault gateway
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	retrier        *retry.Retrier
	logger         *zap.Logger
}

// NewClient creates a new vault gateway client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	cbSettings := gobreaker.Settings{
		Name:        "VaultAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// 4xx answers mean the gateway is healthy
		IsSuccessful: func(err error) bool {
			var er *ErrorResponse
			return err == nil || (errors.As(err, &er) && er.StatusCode < 500)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Vault circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetBreakerState(name, to.String())
		},
	}

	policy := retry.Policy{
		MaxRetries:   config.MaxRetries,
		InitialDelay: config.RetryDelay,
		MaxDelay:     config.RetryDelay * 8,
		Multiplier:   2,
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(maxRequestsPerSecond), 5),
		retrier:        retry.NewRetrier(policy, logger),
		logger:         logger,
	}
}

// CreateDeposit opens an escrow or burn deposit on the source chain
func (c *Client) CreateDeposit(ctx context.Context, req CreateDepositRequest) (*Deposit, error) {
	var resp Deposit
	if err := c.doRequest(ctx, http.MethodPost, "/v1/deposits", req, &resp); err != nil {
		return nil, fmt.Errorf("create deposit failed: %w", err)
	}
	return &resp, nil
}

// ReleaseDeposit pays the deposit out on the destination chain
func (c *Client) ReleaseDeposit(ctx context.Context, id string, req ReleaseRequest) (*Deposit, error) {
	var resp Deposit
	endpoint := fmt.Sprintf("/v1/deposits/%s/release", url.PathEscape(id))
	if err := c.doRequest(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("release deposit failed: %w", err)
	}
	return &resp, nil
}

// GetDeposit fetches the current state of a deposit
func (c *Client) GetDeposit(ctx context.Context, id string) (*Deposit, error) {
	var resp Deposit
	if err := c.doRequest(ctx, http.MethodGet, "/v1/deposits/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get deposit failed: %w", err)
	}
	return &resp, nil
}

// GetFees quotes the gateway fee for a route
func (c *Client) GetFees(ctx context.Context, sourceChain, destinationChain, token string, amount decimal.Decimal) (*FeeQuote, error) {
	q := url.Values{}
	q.Set("source_chain", sourceChain)
	q.Set("destination_chain", destinationChain)
	if token != "" {
		q.Set("token", strings.ToUpper(token))
	}
	q.Set("amount", amount.String())

	var resp FeeQuote
	if err := c.doRequest(ctx, http.MethodGet, "/v1/fees?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("get fees failed: %w", err)
	}
	return &resp, nil
}

// GetYield returns the current vault APY for token
func (c *Client) GetYield(ctx context.Context, token string) (*YieldRate, error) {
	var resp YieldRate
	if err := c.doRequest(ctx, http.MethodGet, "/v1/yield/"+url.PathEscape(strings.ToUpper(token)), nil, &resp); err != nil {
		return nil, fmt.Errorf("get yield failed: %w", err)
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doRequestOnce(ctx, method, endpoint, body, response)
		})
	})
	return err
}

// doRequestOnce performs one attempt. Client errors are permanent; transport
// failures and 5xx are retried.
func (c *Client) doRequestOnce(ctx context.Context, method, endpoint string, body, response interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+endpoint, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			errResp.StatusCode = resp.StatusCode
			return retry.Permanent(&errResp)
		}
		return retry.Permanent(&ErrorResponse{StatusCode: resp.StatusCode, Message: string(respBody)})
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
	}
	return nil
}
