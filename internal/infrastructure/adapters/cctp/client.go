package cctp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/yield_bridge/pkg/metrics"
	"github.com/rail-service/yield_bridge/pkg/retry"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
)

// Config represents CCTP client configuration
type Config struct {
	BaseURL     string
	Environment string // "sandbox" or "mainnet"
	Timeout     time.Duration
	RetryDelay  time.Duration
}

// Client represents a CCTP Iris API client
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	retrier        *retry.Retrier
	logger         *zap.Logger
}

// NewClient creates a new CCTP Iris API client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.BaseURL == "" {
		if config.Environment == "mainnet" {
			config.BaseURL = IrisMainnetURL
		} else {
			config.BaseURL = IrisSandboxURL
		}
	}

	cbSettings := gobreaker.Settings{
		Name:        "CCTPAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// a 404 while Iris indexes the burn is expected
		IsSuccessful: func(err error) bool {
			var er *ErrorResponse
			return err == nil || (errors.As(err, &er) && er.StatusCode < 500)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("CCTP circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetBreakerState(name, to.String())
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(MaxRequestsPerSecond), 1),
		retrier: retry.NewRetrier(retry.Policy{
			MaxRetries:   maxRetries,
			InitialDelay: config.RetryDelay,
			MaxDelay:     config.RetryDelay * 4,
			Multiplier:   2,
		}, logger),
		logger: logger,
	}
}

// GetAttestation fetches the burn message and attestation for a source transaction.
// Returns ErrNoMessages while Iris has not seen the burn.
func (c *Client) GetAttestation(ctx context.Context, sourceDomain uint32, txHash string) (*AttestationResponse, error) {
	endpoint := fmt.Sprintf("/v2/messages/%d?transactionHash=%s", sourceDomain, txHash)
	var resp AttestationResponse
	if err := c.doRequest(ctx, endpoint, &resp); err != nil {
		var er *ErrorResponse
		if errors.As(err, &er) && er.IsNotFound() {
			return nil, ErrNoMessages
		}
		return nil, fmt.Errorf("get attestation failed: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, ErrNoMessages
	}
	return &resp, nil
}

// GetFees retrieves current fees for a transfer between domains
func (c *Client) GetFees(ctx context.Context, sourceDomain, destDomain uint32) (*FeesResponse, error) {
	endpoint := fmt.Sprintf("/v2/burn/USDC/fees?sourceDomain=%d&destinationDomain=%d", sourceDomain, destDomain)
	var resp FeesResponse
	if err := c.doRequest(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("get fees failed: %w", err)
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, response interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.get(ctx, endpoint, response)
		})
	})
	return err
}

// get performs one attempt; 5xx and transport errors are retried
func (c *Client) get(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+endpoint, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, errResp) != nil || errResp.Message == "" {
			errResp.Message = string(body)
		}
		errResp.StatusCode = resp.StatusCode
		return retry.Permanent(errResp)
	}

	if response != nil && len(body) > 0 {
		if err := json.Unmarshal(body, response); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
	}
	return nil
}
