package bridge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/services/consensus"
	"github.com/rail-service/yield_bridge/internal/domain/services/settlement"
)

type memBridgeRepo struct {
	mu      sync.Mutex
	txs     map[uuid.UUID]*entities.BridgeTransaction
	history map[uuid.UUID][]entities.BridgeStatus
}

func newMemBridgeRepo() *memBridgeRepo {
	return &memBridgeRepo{
		txs:     make(map[uuid.UUID]*entities.BridgeTransaction),
		history: make(map[uuid.UUID][]entities.BridgeStatus),
	}
}

func (r *memBridgeRepo) Create(ctx context.Context, tx *entities.BridgeTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; ok {
		return domainerrors.ConflictError("bridge transaction", "already exists")
	}
	r.txs[tx.ID] = tx.Clone()
	r.history[tx.ID] = []entities.BridgeStatus{tx.Status}
	return nil
}

func (r *memBridgeRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.BridgeTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, domainerrors.NotFoundError("BRIDGE_TRANSACTION")
	}
	return tx.Clone(), nil
}

func (r *memBridgeRepo) Update(ctx context.Context, tx *entities.BridgeTransaction, expected entities.BridgeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.txs[tx.ID]
	if !ok {
		return domainerrors.NotFoundError("BRIDGE_TRANSACTION")
	}
	if current.Status != expected {
		return domainerrors.ConflictError("bridge transaction", "status changed")
	}
	r.txs[tx.ID] = tx.Clone()
	if tx.Status != current.Status {
		r.history[tx.ID] = append(r.history[tx.ID], tx.Status)
	}
	return nil
}

func (r *memBridgeRepo) ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.BridgeTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.BridgeTransaction
	for _, tx := range r.txs {
		if tx.SenderAddress == sender {
			out = append(out, tx.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBridgeRepo) ListByTimeRange(ctx context.Context, from, to time.Time) ([]*entities.BridgeTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.BridgeTransaction
	for _, tx := range r.txs {
		if !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to) {
			out = append(out, tx.Clone())
		}
	}
	return out, nil
}

func (r *memBridgeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

func (r *memBridgeRepo) statuses(id uuid.UUID) []entities.BridgeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.BridgeStatus(nil), r.history[id]...)
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, true, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []entities.BridgeUpdate
}

func (p *recordingPublisher) Publish(ctx context.Context, u entities.BridgeUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

// gatedPublisher blocks its first Publish until release is closed
type gatedPublisher struct {
	recordingPublisher
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *gatedPublisher) Publish(ctx context.Context, u entities.BridgeUpdate) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	return p.recordingPublisher.Publish(ctx, u)
}

func (p *recordingPublisher) forTx(id uuid.UUID) []entities.BridgeUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []entities.BridgeUpdate
	for _, u := range p.updates {
		if u.TransactionID == id {
			out = append(out, u)
		}
	}
	return out
}

func (p *recordingPublisher) ofType(id uuid.UUID, kind entities.UpdateType) int {
	n := 0
	for _, u := range p.forTx(id) {
		if u.Type == kind {
			n++
		}
	}
	return n
}

// fakeConsensus reaches or misses quorum instantly, or blocks until the
// caller's context ends when block is set
type fakeConsensus struct {
	mu      sync.Mutex
	reached bool
	block   bool
	started chan uuid.UUID
	results map[uuid.UUID]*entities.ValidationResult
}

func newFakeConsensus(reached bool) *fakeConsensus {
	return &fakeConsensus{
		reached: reached,
		started: make(chan uuid.UUID, 16),
		results: make(map[uuid.UUID]*entities.ValidationResult),
	}
}

func (c *fakeConsensus) set(reached, block bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reached, c.block = reached, block
}

func (c *fakeConsensus) RequestConsensus(ctx context.Context, p consensus.Payload) (*entities.ValidationResult, error) {
	c.mu.Lock()
	reached, block := c.reached, c.block
	res := &entities.ValidationResult{TransactionID: p.TransactionID, RequiredValidators: 3, Pending: true}
	c.results[p.TransactionID] = res
	c.mu.Unlock()

	select {
	case c.started <- p.TransactionID:
	default:
	}
	if block {
		<-ctx.Done()
		return res, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	res.Pending = false
	res.ConsensusReached = reached
	if reached {
		res.ActualValidators = 3
	} else {
		res.ActualValidators = 1
	}
	return res, nil
}

func (c *fakeConsensus) GetValidationResult(id uuid.UUID) (*entities.ValidationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.results[id]
	if !ok {
		return nil, domainerrors.NotFoundError("VALIDATION_RESULT")
	}
	cp := *res
	return &cp, nil
}

// fakeProvider returns initial from InitiateTransfer and then walks polls
type fakeProvider struct {
	mu        sync.Mutex
	kind      settlement.Kind
	initial   settlement.TransferResult
	initErr   error
	polls     []settlement.TransferResult
	reported  map[string]settlement.TransferStatus
	fee       decimal.Decimal
	feeErr    error
	apy       decimal.Decimal
	initCalls int
	pollCalls int
}

func (p *fakeProvider) Kind() settlement.Kind { return p.kind }

func (p *fakeProvider) EstimateFee(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal) (decimal.Decimal, error) {
	if p.feeErr != nil {
		return decimal.Zero, p.feeErr
	}
	return p.fee, nil
}

func (p *fakeProvider) InitiateTransfer(ctx context.Context, req settlement.TransferRequest) (*settlement.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls++
	if p.initErr != nil {
		return nil, p.initErr
	}
	res := p.initial
	return &res, nil
}

func (p *fakeProvider) GetTransferStatus(ctx context.Context, externalID string) (*settlement.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pollCalls++
	if status, ok := p.reported[externalID]; ok {
		return &settlement.TransferResult{ExternalID: externalID, Status: status}, nil
	}
	if len(p.polls) == 0 {
		res := p.initial
		return &res, nil
	}
	res := p.polls[0]
	if len(p.polls) > 1 {
		p.polls = p.polls[1:]
	}
	return &res, nil
}

// report pins the status returned for one external id
func (p *fakeProvider) report(externalID string, status settlement.TransferStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reported == nil {
		p.reported = make(map[string]settlement.TransferStatus)
	}
	p.reported[externalID] = status
}

// next replaces what the following InitiateTransfer and polls return
func (p *fakeProvider) next(initial settlement.TransferResult, polls ...settlement.TransferResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initial = initial
	p.polls = polls
}

func (p *fakeProvider) CurrentAPY(ctx context.Context, token string) (decimal.Decimal, error) {
	return p.apy, nil
}

func (p *fakeProvider) calls() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initCalls, p.pollCalls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
