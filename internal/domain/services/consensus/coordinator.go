// Package consensus gates settlement on a quorum of validator signatures over
// the transaction payload. Collection is asynchronous; RequestConsensus blocks
// until quorum, timeout or cancellation.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/pkg/metrics"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultResultTTL  = time.Hour
	DefaultMaxResults = 10000
)

// Quorum is ceil(2/3 * active)
func Quorum(active int) int {
	if active <= 0 {
		return 0
	}
	return (2*active + 2) / 3
}

type round struct {
	digest  common.Hash
	voted   map[common.Address]bool
	result  *entities.ValidationResult
	done    chan struct{}
	closed  bool
	waiters int
	cancel  context.CancelFunc
}

// retainedResult is a closed round's outcome, queued in close order
type retainedResult struct {
	id       uuid.UUID
	result   *entities.ValidationResult
	closedAt time.Time
}

// Coordinator runs at most one pending round per transaction
type Coordinator struct {
	validators []Validator
	members    map[common.Address]bool
	timeout    time.Duration
	resultTTL  time.Duration
	maxResults int
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	rounds   map[uuid.UUID]*round
	results  map[uuid.UUID]*entities.ValidationResult
	retained []retainedResult
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithResultRetention bounds how long and how many closed results are kept
// for GetValidationResult. Pending rounds are never evicted.
func WithResultRetention(ttl time.Duration, max int) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.resultTTL = ttl
		}
		if max > 0 {
			c.maxResults = max
		}
	}
}

// NewCoordinator requires at least one validator and unique addresses
func NewCoordinator(validators []Validator, timeout time.Duration, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if len(validators) == 0 {
		return nil, errors.New("consensus requires at least one validator")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	members := make(map[common.Address]bool, len(validators))
	for _, v := range validators {
		if members[v.Address()] {
			return nil, fmt.Errorf("duplicate validator %s", v.Address().Hex())
		}
		members[v.Address()] = true
	}
	c := &Coordinator{
		validators: validators,
		members:    members,
		timeout:    timeout,
		resultTTL:  DefaultResultTTL,
		maxResults: DefaultMaxResults,
		logger:     logger,
		now:        time.Now,
		rounds:     make(map[uuid.UUID]*round),
		results:    make(map[uuid.UUID]*entities.ValidationResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Required is the current quorum size
func (c *Coordinator) Required() int {
	return Quorum(len(c.validators))
}

// RequestConsensus opens a round for the payload, or joins the pending one for
// the same transaction, and waits for it to close. A round that closes below
// quorum is returned with ConsensusReached false and a nil error; the caller's
// own cancellation is returned as ctx.Err(). The round stays open while any
// caller still waits on it.
func (c *Coordinator) RequestConsensus(ctx context.Context, payload Payload) (*entities.ValidationResult, error) {
	r, opened := c.openOrJoin(ctx, payload)
	if opened {
		c.logger.Info("Consensus round opened",
			zap.String("transaction_id", payload.TransactionID.String()),
			zap.Int("required", c.Required()),
			zap.Int("validators", len(c.validators)))
	} else {
		c.logger.Debug("Joined pending consensus round",
			zap.String("transaction_id", payload.TransactionID.String()))
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		c.leave(payload.TransactionID, r)
		return c.snapshot(r), ctx.Err()
	}

	res := c.snapshot(r)
	if !res.ConsensusReached {
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Coordinator) openOrJoin(ctx context.Context, payload Payload) (*round, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := payload.TransactionID
	if r, ok := c.rounds[id]; ok && !r.closed {
		r.result.Timestamp = c.now().UTC()
		r.waiters++
		return r, false
	}

	// the round outlives the opener; leave closes it when nobody waits
	roundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	r := &round{
		digest: payload.Digest(),
		voted:  make(map[common.Address]bool, len(c.validators)),
		result: &entities.ValidationResult{
			TransactionID:      id,
			RequiredValidators: c.Required(),
			Signatures:         []entities.ValidatorSignature{},
			Pending:            true,
			Timestamp:          c.now().UTC(),
		},
		done:    make(chan struct{}),
		waiters: 1,
		cancel:  cancel,
	}
	c.rounds[id] = r
	c.results[id] = r.result

	for _, v := range c.validators {
		go c.collect(roundCtx, id, r, v)
	}
	go func() {
		<-roundCtx.Done()
		c.close(id, r, "not_reached")
	}()
	return r, true
}

// leave drops one waiter and closes the round once the last one is gone
func (c *Coordinator) leave(id uuid.UUID, r *round) {
	c.mu.Lock()
	r.waiters--
	abandoned := r.waiters <= 0 && !r.closed
	c.mu.Unlock()

	if abandoned {
		c.close(id, r, "cancelled")
	}
}

func (c *Coordinator) collect(ctx context.Context, id uuid.UUID, r *round, v Validator) {
	sig, err := v.Sign(ctx, r.digest)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("Validator failed to sign",
				zap.String("transaction_id", id.String()),
				zap.String("validator", v.Address().Hex()),
				zap.Error(err))
		}
		return
	}
	if err := c.addVote(id, r, v.Address(), sig); err != nil {
		c.logger.Warn("Rejected validator vote",
			zap.String("transaction_id", id.String()),
			zap.String("validator", v.Address().Hex()),
			zap.Error(err))
	}
}

// addVote verifies and records one signature. Duplicates are ignored.
func (c *Coordinator) addVote(id uuid.UUID, r *round, validator common.Address, sig []byte) error {
	if !c.members[validator] {
		return domainerrors.ValidationError("validator", fmt.Sprintf("%s is not an active validator", validator.Hex()))
	}
	signer, err := RecoverSigner(r.digest, sig)
	if err != nil {
		return domainerrors.ValidationError("signature", err.Error())
	}
	if signer != validator {
		return domainerrors.ValidationError("signature", fmt.Sprintf("signature recovers to %s, not %s", signer.Hex(), validator.Hex()))
	}

	c.mu.Lock()
	if r.closed || r.voted[validator] {
		c.mu.Unlock()
		return nil
	}
	r.voted[validator] = true
	r.result.Signatures = append(r.result.Signatures, entities.ValidatorSignature{
		Validator: validator.Hex(),
		Signature: hexutil.Encode(sig),
		SignedAt:  c.now().UTC(),
	})
	r.result.ActualValidators = len(r.result.Signatures)
	reached := r.result.ActualValidators >= r.result.RequiredValidators
	c.mu.Unlock()

	if reached {
		c.close(id, r, "reached")
	}
	return nil
}

func (c *Coordinator) close(id uuid.UUID, r *round, result string) {
	c.mu.Lock()
	if r.closed {
		c.mu.Unlock()
		return
	}
	now := c.now()
	r.closed = true
	r.result.Pending = false
	r.result.ConsensusReached = result == "reached"
	r.result.Timestamp = now.UTC()
	if c.rounds[id] == r {
		delete(c.rounds, id)
	}
	c.retained = append(c.retained, retainedResult{id: id, result: r.result, closedAt: now})
	c.pruneLocked(now)
	actual, required := r.result.ActualValidators, r.result.RequiredValidators
	c.mu.Unlock()

	r.cancel()
	close(r.done)
	metrics.ConsensusRoundsTotal.WithLabelValues(result).Inc()
	c.logger.Info("Consensus round closed",
		zap.String("transaction_id", id.String()),
		zap.String("result", result),
		zap.Int("signatures", actual),
		zap.Int("required", required))
}

// SubmitVote records a signature pushed by a validator for the pending round
func (c *Coordinator) SubmitVote(txID uuid.UUID, validator common.Address, signature string) error {
	c.mu.Lock()
	r, ok := c.rounds[txID]
	c.mu.Unlock()
	if !ok {
		return domainerrors.NotFoundError("CONSENSUS_ROUND")
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return domainerrors.ValidationError("signature", err.Error())
	}
	return c.addVote(txID, r, validator, sig)
}

// GetValidationResult returns the latest round outcome for a transaction
func (c *Coordinator) GetValidationResult(txID uuid.UUID) (*entities.ValidationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	res, ok := c.results[txID]
	if !ok {
		return nil, domainerrors.NotFoundError("VALIDATION_RESULT")
	}
	return copyResult(res), nil
}

// pruneLocked evicts closed results older than resultTTL, oldest first, and
// any beyond maxResults. A result replaced by a newer round is skipped.
func (c *Coordinator) pruneLocked(now time.Time) {
	n := 0
	for ; n < len(c.retained); n++ {
		e := c.retained[n]
		if now.Sub(e.closedAt) < c.resultTTL && len(c.retained)-n <= c.maxResults {
			break
		}
		if c.results[e.id] == e.result {
			delete(c.results, e.id)
		}
	}
	if n > 0 {
		c.retained = append([]retainedResult(nil), c.retained[n:]...)
	}
}

func (c *Coordinator) snapshot(r *round) *entities.ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyResult(r.result)
}

func copyResult(res *entities.ValidationResult) *entities.ValidationResult {
	out := *res
	out.Signatures = append([]entities.ValidatorSignature(nil), res.Signatures...)
	return &out
}
