package consensus

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/pkg/metrics"
)

// Validator is one member of the attesting set
type Validator interface {
	Address() common.Address
	Sign(ctx context.Context, digest common.Hash) ([]byte, error)
}

// LocalSigner signs in-process with an ECDSA key. Development and tests only.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner parses a hex private key, with or without 0x prefix
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid validator key: %w", err)
	}
	return NewLocalSignerFromKey(key), nil
}

func NewLocalSignerFromKey(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *LocalSigner) Address() common.Address { return s.address }

func (s *LocalSigner) Sign(ctx context.Context, digest common.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return crypto.Sign(digest.Bytes(), s.key)
}

// RemoteValidator asks a validator node to sign over HTTP
type RemoteValidator struct {
	address        common.Address
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

type signRequest struct {
	Digest string `json:"digest"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

// NewRemoteValidator creates a client for one validator node
func NewRemoteValidator(address common.Address, baseURL string, timeout time.Duration, logger *zap.Logger) *RemoteValidator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	name := "validator-" + strings.ToLower(address.Hex()[:10])
	cbSettings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Validator circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetBreakerState(name, to.String())
		},
	}

	return &RemoteValidator{
		address:        address,
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		logger:         logger,
	}
}

func (v *RemoteValidator) Address() common.Address { return v.address }

// Sign posts the digest to /v1/sign and returns the decoded signature
func (v *RemoteValidator) Sign(ctx context.Context, digest common.Hash) ([]byte, error) {
	out, err := v.circuitBreaker.Execute(func() (interface{}, error) {
		return v.sign(ctx, digest)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (v *RemoteValidator) sign(ctx context.Context, digest common.Hash) ([]byte, error) {
	body, err := json.Marshal(signRequest{Digest: digest.Hex()})
	if err != nil {
		return nil, fmt.Errorf("marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validator returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var sr signResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	sig, err := hexutil.Decode(sr.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature from validator: %w", err)
	}
	return sig, nil
}

