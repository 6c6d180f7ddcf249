// Package bridge drives a cross-chain transfer from intake to settlement.
package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	"github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/repositories"
	"github.com/rail-service/yield_bridge/internal/domain/services/chain"
	"github.com/rail-service/yield_bridge/internal/domain/services/consensus"
	"github.com/rail-service/yield_bridge/internal/domain/services/settlement"
	"github.com/rail-service/yield_bridge/internal/domain/services/yield"
	"github.com/rail-service/yield_bridge/pkg/metrics"
	"github.com/rail-service/yield_bridge/pkg/security"
)

var tracer = otel.Tracer("bridge-service")

const (
	defaultListLimit  = 20
	maxListLimit      = 100
	maxCancelAttempts = 3
)

// LiquidityManager gates initiation and absorbs pool-backed settlements
type LiquidityManager interface {
	CheckAvailability(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal, token string) (*entities.LiquidityCheck, error)
	ApplySettlement(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal, token string) error
}

// ConsensusCoordinator collects validator signatures for a transaction
type ConsensusCoordinator interface {
	RequestConsensus(ctx context.Context, payload consensus.Payload) (*entities.ValidationResult, error)
	GetValidationResult(txID uuid.UUID) (*entities.ValidationResult, error)
}

// Locker grants short-lived leases. acquired is false when another holder
// owns key; release must be called exactly once when acquired is true.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Publisher receives the ordered update stream. Errors are logged only.
type Publisher interface {
	Publish(ctx context.Context, update entities.BridgeUpdate) error
}

// Config holds pricing and timing for the orchestrator
type Config struct {
	BaseFeeRate             decimal.Decimal
	CrossEcosystemSurcharge decimal.Decimal
	MaxFeeRatio             decimal.Decimal
	SettlementOverhead      time.Duration
	SettlementTimeout       time.Duration
	SettlementPollInterval  time.Duration
	LockTTL                 time.Duration
	// AutoProcess continues Initiate with Process in the background
	AutoProcess bool
}

func (c *Config) setDefaults() {
	if c.SettlementTimeout <= 0 {
		c.SettlementTimeout = 2 * time.Minute
	}
	if c.SettlementPollInterval <= 0 {
		c.SettlementPollInterval = 2 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
}

// Service is the bridge transaction state machine
type Service struct {
	registry   *chain.Registry
	liquidity  LiquidityManager
	yield      *yield.Calculator
	consensus  ConsensusCoordinator
	router     *settlement.Router
	repo       repositories.BridgeRepository
	locker     Locker
	publisher  Publisher
	config     Config
	logger     *zap.Logger
	now        func() time.Time
	sequence   atomic.Uint64
	emitMu     sync.Mutex
	emitLocks  map[uuid.UUID]*emitLock
	mu         sync.Mutex
	inflight   map[uuid.UUID]context.CancelFunc
	closed     bool
	wg         sync.WaitGroup
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewService creates the orchestrator
func NewService(
	registry *chain.Registry,
	liquidity LiquidityManager,
	calculator *yield.Calculator,
	coordinator ConsensusCoordinator,
	router *settlement.Router,
	repo repositories.BridgeRepository,
	locker Locker,
	publisher Publisher,
	config Config,
	logger *zap.Logger,
) *Service {
	config.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		registry:   registry,
		liquidity:  liquidity,
		yield:      calculator,
		consensus:  coordinator,
		router:     router,
		repo:       repo,
		locker:     locker,
		publisher:  publisher,
		config:     config,
		logger:     logger,
		now:        time.Now,
		inflight:   make(map[uuid.UUID]context.CancelFunc),
		emitLocks:  make(map[uuid.UUID]*emitLock),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

func lockKey(id uuid.UUID) string {
	return "bridge:lock:" + id.String()
}

// Initiate validates, gates on liquidity, prices and persists a new transfer.
// Validation and liquidity failures write nothing.
func (s *Service) Initiate(ctx context.Context, req *entities.BridgeRequest) (*entities.BridgeTransaction, error) {
	ctx, span := tracer.Start(ctx, "bridge.Initiate")
	defer span.End()

	if err := s.validateRequest(req); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("source_chain", string(req.SourceChain)),
		attribute.String("destination_chain", string(req.DestinationChain)),
		attribute.String("token", req.Token),
		attribute.String("amount", req.Amount.String()),
	)

	check, err := s.liquidity.CheckAvailability(ctx, req.SourceChain, req.DestinationChain, req.Amount, req.Token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !check.Available {
		err := errors.LiquidityError(
			fmt.Sprintf("insufficient liquidity in pool %s: requested %s, available %s", check.PoolID, req.Amount, check.AvailableAmount),
			check.SuggestedAmount, check.EstimatedWait)
		span.RecordError(err)
		return nil, err
	}

	q := s.quote(req.SourceChain, req.DestinationChain, req.Amount)
	now := s.now().UTC()
	tx := &entities.BridgeTransaction{
		ID:                uuid.New(),
		SourceChain:       req.SourceChain,
		DestinationChain:  req.DestinationChain,
		Token:             req.Token,
		SourceAmount:      req.Amount,
		DestinationAmount: req.Amount.Sub(q.fee),
		BridgeFeeAmount:   q.fee,
		EstimatedYield:    q.yield,
		Status:            entities.BridgeStatusInitiated,
		SenderAddress:     req.SenderAddress,
		RecipientAddress:  req.RecipientAddress,
		EstimatedDuration: q.duration,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create bridge transaction: %w", err)
	}
	span.SetAttributes(attribute.String("transaction_id", tx.ID.String()))
	metrics.BridgeTransitionsTotal.WithLabelValues("", string(entities.BridgeStatusInitiated)).Inc()

	s.logger.Info("Bridge initiated",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("source_chain", string(tx.SourceChain)),
		zap.String("destination_chain", string(tx.DestinationChain)),
		zap.String("token", tx.Token),
		zap.String("recipient", security.MaskAddress(tx.RecipientAddress)),
		zap.String("amount", tx.SourceAmount.String()),
		zap.String("fee", tx.BridgeFeeAmount.String()))

	s.emit(ctx, tx, entities.UpdateTypeStatusChange, map[string]interface{}{
		"destination_amount": tx.DestinationAmount.String(),
		"bridge_fee":         tx.BridgeFeeAmount.String(),
		"estimated_yield":    tx.EstimatedYield.String(),
		"estimated_time":     tx.EstimatedDuration.String(),
	})

	if s.config.AutoProcess {
		s.background(tx.ID)
	}
	return tx.Clone(), nil
}

// background runs Process detached from the caller's context
func (s *Service) background(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("Service shutting down, transaction left for manual processing",
			zap.String("transaction_id", id.String()))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Process(s.baseCtx, id); err != nil {
			s.logger.Warn("Background processing ended with error",
				zap.String("transaction_id", id.String()),
				zap.Error(err))
		}
	}()
}

// Process runs consensus and settlement for an INITIATED transaction. A
// concurrent call for the same id returns the current state untouched.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (*entities.BridgeTransaction, error) {
	ctx, span := tracer.Start(ctx, "bridge.Process",
		trace.WithAttributes(attribute.String("transaction_id", id.String())))
	defer span.End()

	release, acquired, err := s.locker.TryLock(ctx, lockKey(id), s.config.LockTTL)
	if err != nil {
		span.RecordError(err)
		return nil, errors.ServiceUnavailableError("lock", err)
	}
	if !acquired {
		s.logger.Info("Transaction already being processed", zap.String("transaction_id", id.String()))
		return s.repo.GetByID(ctx, id)
	}
	defer s.unlock(release, id)

	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if tx.Status != entities.BridgeStatusInitiated {
		return tx, errors.ConflictError("bridge transaction", fmt.Sprintf("cannot process from %s", tx.Status))
	}

	// registered before BRIDGE_PENDING is visible so Cancel can always abort the wait
	waitCtx, untrack := s.track(ctx, id)
	defer untrack()

	if err := s.transition(ctx, tx, entities.BridgeStatusBridgePending, entities.UpdateTypeStatusChange, nil, nil); err != nil {
		return s.afterConflict(ctx, id, err)
	}

	result, err := s.awaitConsensus(waitCtx, tx)
	untrack()
	if err != nil {
		current, getErr := s.repo.GetByID(context.WithoutCancel(ctx), id)
		if getErr == nil && current.Status == entities.BridgeStatusCancelled {
			return current, nil
		}
		span.RecordError(err)
		return s.fail(ctx, tx, errors.CodeConsensus, fmt.Errorf("consensus interrupted: %w", err))
	}
	if !result.ConsensusReached {
		cerr := errors.ConsensusError(result.RequiredValidators, result.ActualValidators)
		span.RecordError(cerr)
		return s.fail(ctx, tx, errors.CodeConsensus, cerr)
	}

	err = s.transition(ctx, tx, entities.BridgeStatusSourceConfirmed, entities.UpdateTypeConfirmation, nil,
		map[string]interface{}{
			"required_validators": result.RequiredValidators,
			"actual_validators":   result.ActualValidators,
		})
	if err != nil {
		return s.afterConflict(ctx, id, err)
	}

	return s.settle(ctx, tx)
}

// track derives a context Cancel can abort. The returned func is idempotent.
func (s *Service) track(ctx context.Context, id uuid.UUID) (context.Context, func()) {
	waitCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.inflight[id] = cancel
	s.mu.Unlock()

	var once sync.Once
	return waitCtx, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inflight, id)
			s.mu.Unlock()
			cancel()
		})
	}
}

func (s *Service) awaitConsensus(ctx context.Context, tx *entities.BridgeTransaction) (*entities.ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "bridge.awaitConsensus")
	defer span.End()

	started := s.now()
	result, err := s.consensus.RequestConsensus(ctx, consensus.PayloadFor(tx))
	outcome := "reached"
	switch {
	case err != nil:
		outcome = "error"
	case !result.ConsensusReached:
		outcome = "not_reached"
	}
	metrics.BridgeStageDuration.WithLabelValues("consensus", outcome).Observe(s.now().Sub(started).Seconds())
	return result, err
}

// Settle runs the settlement stage for a SOURCE_CONFIRMED transaction, for
// pipelines that stopped between consensus and settlement.
func (s *Service) Settle(ctx context.Context, id uuid.UUID) (*entities.BridgeTransaction, error) {
	ctx, span := tracer.Start(ctx, "bridge.Settle",
		trace.WithAttributes(attribute.String("transaction_id", id.String())))
	defer span.End()

	release, acquired, err := s.locker.TryLock(ctx, lockKey(id), s.config.LockTTL)
	if err != nil {
		return nil, errors.ServiceUnavailableError("lock", err)
	}
	if !acquired {
		return s.repo.GetByID(ctx, id)
	}
	defer s.unlock(release, id)

	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != entities.BridgeStatusSourceConfirmed {
		return tx, errors.ConflictError("bridge transaction", fmt.Sprintf("cannot settle from %s", tx.Status))
	}
	return s.settle(ctx, tx)
}

// Cancel moves an INITIATED or BRIDGE_PENDING transaction to CANCELLED and
// aborts its consensus wait. It returns false when the status does not allow it.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, span := tracer.Start(ctx, "bridge.Cancel",
		trace.WithAttributes(attribute.String("transaction_id", id.String())))
	defer span.End()

	// INITIATED may move to BRIDGE_PENDING between read and write
	cancelled := false
	for attempt := 0; attempt < maxCancelAttempts && !cancelled; attempt++ {
		tx, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return false, err
		}
		if !tx.Status.CanCancel() {
			return false, nil
		}

		err = s.transition(ctx, tx, entities.BridgeStatusCancelled, entities.UpdateTypeError,
			func(t *entities.BridgeTransaction) { t.FailureReason = errors.CodeUserCancelled },
			map[string]interface{}{"reason": errors.CodeUserCancelled})
		switch {
		case err == nil:
			cancelled = true
		case !errors.IsConflict(err):
			return false, err
		}
	}
	if !cancelled {
		return false, nil
	}

	s.mu.Lock()
	abort, ok := s.inflight[id]
	s.mu.Unlock()
	if ok {
		abort()
	}

	s.logger.Info("Bridge cancelled", zap.String("transaction_id", id.String()))
	return true, nil
}

// Retry re-runs the full pipeline for a FAILED transaction after checking
// liquidity again. A transfer left behind by an earlier attempt must be
// reported failed by its provider first; its id moves to PreviousSettlementID.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*entities.BridgeTransaction, error) {
	ctx, span := tracer.Start(ctx, "bridge.Retry",
		trace.WithAttributes(attribute.String("transaction_id", id.String())))
	defer span.End()

	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.retryable(ctx, tx); err != nil {
		return tx, err
	}

	check, err := s.liquidity.CheckAvailability(ctx, tx.SourceChain, tx.DestinationChain, tx.SourceAmount, tx.Token)
	if err != nil {
		return tx, err
	}
	if !check.Available {
		return tx, errors.LiquidityError(
			fmt.Sprintf("insufficient liquidity in pool %s for retry", check.PoolID),
			check.SuggestedAmount, check.EstimatedWait)
	}

	err = s.transition(ctx, tx, entities.BridgeStatusInitiated, entities.UpdateTypeStatusChange,
		func(t *entities.BridgeTransaction) {
			t.RetryCount++
			t.FailureReason = ""
			if t.ExternalSettlementID != "" {
				t.PreviousSettlementID = t.ExternalSettlementID
				t.ExternalSettlementID = ""
				t.SettlementProvider = ""
				t.SourceTxHash = ""
				t.DestinationTxHash = ""
			}
		},
		map[string]interface{}{"retry": true, "previous_settlement_id": tx.ExternalSettlementID})
	if err != nil {
		return s.afterConflict(ctx, id, err)
	}

	s.logger.Info("Retrying bridge",
		zap.String("transaction_id", id.String()),
		zap.Int("retry_count", tx.RetryCount))
	return s.Process(ctx, id)
}

// GetStatus builds the read-only status view
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*entities.BridgeStatusView, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &entities.BridgeStatusView{
		Transaction: tx,
		Progress:    tx.Status.Progress(),
		Estimated:   tx.EstimatedDuration,
		CanCancel:   tx.Status.CanCancel(),
	}
	if tx.Status.CanRetry() {
		view.CanRetry = s.retryable(ctx, tx) == nil
	}
	if res, err := s.consensus.GetValidationResult(id); err == nil {
		view.Validation = res
	}

	end := s.now()
	if tx.CompletedAt != nil {
		end = *tx.CompletedAt
	}
	if end.After(tx.CreatedAt) {
		view.Elapsed = end.Sub(tx.CreatedAt)
	}
	if !tx.Status.IsTerminal() && view.Elapsed < view.Estimated {
		view.Remaining = view.Estimated - view.Elapsed
	}
	return view, nil
}

// ListBySender pages a sender's transactions, newest first
func (s *Service) ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.BridgeTransaction, error) {
	if sender == "" {
		return nil, errors.ValidationError("sender_address", "sender address is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListBySender(ctx, sender, limit, offset)
}

// ListByTimeRange returns transactions created in [from, to)
func (s *Service) ListByTimeRange(ctx context.Context, from, to time.Time) ([]*entities.BridgeTransaction, error) {
	if !to.After(from) {
		return nil, errors.ValidationError("to", "time range end must be after start")
	}
	return s.repo.ListByTimeRange(ctx, from, to)
}

// Shutdown stops accepting background work and waits for running pipelines.
// On timeout the pipelines are cancelled and record FAILED.
func (s *Service) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelBase()
		return nil
	case <-time.After(timeout):
		s.cancelBase()
		return fmt.Errorf("bridge pipelines still running after %s", timeout)
	}
}

// transition moves tx to next with a compare-and-set on its current status
// and emits exactly one update of kind. mutate may set fields written in the
// same update.
func (s *Service) transition(
	ctx context.Context,
	tx *entities.BridgeTransaction,
	next entities.BridgeStatus,
	kind entities.UpdateType,
	mutate func(*entities.BridgeTransaction),
	payload map[string]interface{},
) error {
	from := tx.Status
	if !from.CanTransitionTo(next) {
		return errors.ConflictError("bridge transaction", fmt.Sprintf("illegal transition %s -> %s", from, next))
	}

	updated := tx.Clone()
	updated.Status = next
	updated.UpdatedAt = s.now().UTC()
	if mutate != nil {
		mutate(updated)
	}
	if err := s.repo.Update(ctx, updated, from); err != nil {
		return err
	}
	*tx = *updated

	metrics.BridgeTransitionsTotal.WithLabelValues(string(from), string(next)).Inc()
	s.logger.Info("Bridge status changed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(next)))

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["previous_status"] = string(from)
	s.emit(ctx, tx, kind, payload)
	return nil
}

// save persists field changes without a status change
func (s *Service) save(ctx context.Context, tx *entities.BridgeTransaction, mutate func(*entities.BridgeTransaction)) error {
	updated := tx.Clone()
	mutate(updated)
	updated.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, updated, tx.Status); err != nil {
		return err
	}
	*tx = *updated
	return nil
}

// fail records FAILED with a reason. It persists even when ctx is done.
func (s *Service) fail(ctx context.Context, tx *entities.BridgeTransaction, code string, cause error) (*entities.BridgeTransaction, error) {
	ctx = context.WithoutCancel(ctx)
	message := security.MaskString(cause.Error())
	reason := fmt.Sprintf("%s: %s", code, message)

	s.logger.Error("Bridge failed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("status", string(tx.Status)),
		zap.String("code", code),
		zap.Error(cause))

	err := s.transition(ctx, tx, entities.BridgeStatusFailed, entities.UpdateTypeError,
		func(t *entities.BridgeTransaction) { t.FailureReason = reason },
		map[string]interface{}{"reason": code, "message": message})
	if err != nil {
		return s.afterConflict(ctx, tx.ID, err)
	}
	return tx.Clone(), cause
}

// afterConflict returns the stored transaction when a compare-and-set lost
// to a concurrent transition, e.g. Cancel.
func (s *Service) afterConflict(ctx context.Context, id uuid.UUID, err error) (*entities.BridgeTransaction, error) {
	if !errors.IsConflict(err) {
		return nil, err
	}
	current, getErr := s.repo.GetByID(context.WithoutCancel(ctx), id)
	if getErr != nil {
		return nil, stderrors.Join(err, getErr)
	}
	s.logger.Info("Transition superseded",
		zap.String("transaction_id", id.String()),
		zap.String("status", string(current.Status)))
	return current, nil
}

func (s *Service) unlock(release func(context.Context) error, id uuid.UUID) {
	if err := release(context.Background()); err != nil {
		s.logger.Warn("Failed to release lease",
			zap.String("transaction_id", id.String()),
			zap.Error(err))
	}
}

// emitLock serializes publishing for one transaction
type emitLock struct {
	mu   sync.Mutex
	refs int
}

// lockEmit takes the per-transaction publish lock. Locks are dropped once no
// emitter holds or waits on them.
func (s *Service) lockEmit(id uuid.UUID) func() {
	s.emitMu.Lock()
	l, ok := s.emitLocks[id]
	if !ok {
		l = &emitLock{}
		s.emitLocks[id] = l
	}
	l.refs++
	s.emitMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.emitMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.emitLocks, id)
		}
		s.emitMu.Unlock()
	}
}

// emit assigns the sequence and publishes under the transaction's lock, so
// sequence order equals delivery order per transaction. A slow publisher only
// holds up updates for the same transaction.
func (s *Service) emit(ctx context.Context, tx *entities.BridgeTransaction, kind entities.UpdateType, payload map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	unlock := s.lockEmit(tx.ID)
	defer unlock()

	update := entities.BridgeUpdate{
		TransactionID: tx.ID,
		Sequence:      s.sequence.Add(1),
		Type:          kind,
		Status:        tx.Status,
		Timestamp:     s.now().UTC(),
		Payload:       payload,
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), update); err != nil {
		s.logger.Warn("Failed to publish bridge update",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("type", string(kind)),
			zap.Error(err))
	}
}
