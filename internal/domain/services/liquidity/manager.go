// Package liquidity owns pool balances for every (token, source ecosystem,
// destination ecosystem) triple. Each pool carries its own lock; the pool map
// is built once and never changes shape.
package liquidity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/repositories"
	"github.com/rail-service/yield_bridge/internal/domain/services/chain"
	"github.com/rail-service/yield_bridge/pkg/metrics"
)

const (
	DefaultBaseWait = 5 * time.Minute
	DefaultMaxWait  = time.Hour
)

var half = decimal.NewFromFloat(0.5)

// PoolID resolves a pool identity from token and ecosystem pair
func PoolID(token string, src, dst entities.Ecosystem) string {
	return fmt.Sprintf("%s_%s_%s", strings.ToUpper(token), src, dst)
}

// RebalanceResult reports one pool touched by Rebalance
type RebalanceResult struct {
	PoolID                   string          `json:"pool_id"`
	UtilizationBefore        decimal.Decimal `json:"utilization_before"`
	UtilizationAfter         decimal.Decimal `json:"utilization_after"`
	DestinationBalanceBefore decimal.Decimal `json:"destination_balance_before"`
	DestinationBalanceAfter  decimal.Decimal `json:"destination_balance_after"`
}

type poolState struct {
	mu   sync.Mutex
	pool entities.LiquidityPool
}

// Options tunes the wait estimate returned for unavailable liquidity
type Options struct {
	BaseWait time.Duration
	MaxWait  time.Duration
}

// Manager serializes balance mutations per pool
type Manager struct {
	registry *chain.Registry
	repo     repositories.LiquidityPoolRepository
	logger   *zap.Logger
	baseWait time.Duration
	maxWait  time.Duration
	pools    map[string]*poolState
	now      func() time.Time
}

// NewManager indexes the seed pools. repo may be nil for a purely in-memory manager.
func NewManager(registry *chain.Registry, pools []entities.LiquidityPool, repo repositories.LiquidityPoolRepository, logger *zap.Logger, opts Options) (*Manager, error) {
	if opts.BaseWait <= 0 {
		opts.BaseWait = DefaultBaseWait
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	m := &Manager{
		registry: registry,
		repo:     repo,
		logger:   logger,
		baseWait: opts.BaseWait,
		maxWait:  opts.MaxWait,
		pools:    make(map[string]*poolState, len(pools)),
		now:      time.Now,
	}
	for _, p := range pools {
		if p.ID == "" {
			p.ID = PoolID(p.Token, p.SourceEcosystem, p.DestinationEcosystem)
		}
		if _, dup := m.pools[p.ID]; dup {
			return nil, fmt.Errorf("duplicate liquidity pool %q", p.ID)
		}
		if p.SourceBalance.IsNegative() || p.DestinationBalance.IsNegative() {
			return nil, fmt.Errorf("pool %q has a negative balance", p.ID)
		}
		if !p.RebalanceThreshold.IsPositive() || p.RebalanceThreshold.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("pool %q rebalance threshold must be in (0,1]", p.ID)
		}
		if p.MinLiquidity.GreaterThan(p.MaxLiquidity) {
			return nil, fmt.Errorf("pool %q min liquidity exceeds max", p.ID)
		}
		m.pools[p.ID] = &poolState{pool: p}
		metrics.PoolUtilization.WithLabelValues(p.ID).Set(p.UtilizationRate().InexactFloat64())
	}
	return m, nil
}

// Load overlays persisted balances onto the seed pools, and seeds the
// repository with any pool it does not know yet.
func (m *Manager) Load(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	stored, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list liquidity pools: %w", err)
	}
	seen := make(map[string]bool, len(stored))
	for _, sp := range stored {
		st, ok := m.pools[sp.ID]
		if !ok {
			m.logger.Warn("Ignoring persisted pool without configuration", zap.String("pool_id", sp.ID))
			continue
		}
		seen[sp.ID] = true
		st.mu.Lock()
		st.pool.SourceBalance = sp.SourceBalance
		st.pool.DestinationBalance = sp.DestinationBalance
		st.pool.UpdatedAt = sp.UpdatedAt
		metrics.PoolUtilization.WithLabelValues(sp.ID).Set(st.pool.UtilizationRate().InexactFloat64())
		st.mu.Unlock()
	}

	for id, st := range m.pools {
		if seen[id] {
			continue
		}
		st.mu.Lock()
		snapshot := st.pool
		st.mu.Unlock()
		if err := m.repo.Upsert(ctx, &snapshot); err != nil {
			return fmt.Errorf("failed to seed pool %s: %w", id, err)
		}
	}

	m.logger.Info("Liquidity pools loaded",
		zap.Int("configured", len(m.pools)),
		zap.Int("persisted", len(seen)))
	return nil
}

func (m *Manager) resolve(src, dst entities.ChainID, token string) string {
	return PoolID(token, m.registry.Ecosystem(src), m.registry.Ecosystem(dst))
}

// CheckAvailability reports whether amount can be paid out on the destination
// side right now. It never mutates balances.
func (m *Manager) CheckAvailability(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal, token string) (*entities.LiquidityCheck, error) {
	if !amount.IsPositive() {
		return nil, domainerrors.ValidationError("amount", "amount must be greater than zero")
	}

	id := m.resolve(src, dst, token)
	check := &entities.LiquidityCheck{
		PoolID:          id,
		AvailableAmount: decimal.Zero,
		SuggestedAmount: decimal.Zero,
	}

	st, ok := m.pools[id]
	if !ok {
		check.EstimatedWait = m.baseWait + m.maxWait
		return check, nil
	}

	st.mu.Lock()
	pool := st.pool
	st.mu.Unlock()

	if !pool.IsActive {
		check.EstimatedWait = m.baseWait + m.maxWait
		return check, nil
	}

	available := pool.AvailableLiquidity()
	check.AvailableAmount = available
	if amount.LessThanOrEqual(available) {
		check.Available = true
		return check, nil
	}

	check.SuggestedAmount = available
	check.EstimatedWait = m.estimateWait(amount.Sub(available), pool.MaxLiquidity)
	return check, nil
}

// estimateWait grows linearly with the deficit as a fraction of max liquidity
func (m *Manager) estimateWait(deficit, maxLiquidity decimal.Decimal) time.Duration {
	ratio := decimal.NewFromInt(1)
	if maxLiquidity.IsPositive() {
		ratio = deficit.Div(maxLiquidity)
	}
	if ratio.IsNegative() {
		ratio = decimal.Zero
	}
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	extra := time.Duration(ratio.Mul(decimal.NewFromInt(int64(m.maxWait))).IntPart())
	return m.baseWait + extra
}

// ApplySettlement moves amount from the destination side to the source side.
// The pool total is unchanged.
func (m *Manager) ApplySettlement(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal, token string) error {
	if !amount.IsPositive() {
		return domainerrors.ValidationError("amount", "settlement amount must be greater than zero")
	}

	id := m.resolve(src, dst, token)
	st, ok := m.pools[id]
	if !ok {
		return domainerrors.LiquidityError(fmt.Sprintf("no liquidity pool %s", id), decimal.Zero, m.baseWait+m.maxWait)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.pool.IsActive {
		return domainerrors.LiquidityError(fmt.Sprintf("liquidity pool %s is inactive", id), decimal.Zero, m.baseWait+m.maxWait)
	}
	if amount.GreaterThan(st.pool.DestinationBalance) {
		return domainerrors.LiquidityError(
			fmt.Sprintf("liquidity pool %s cannot pay out %s", id, amount.String()),
			st.pool.DestinationBalance,
			m.estimateWait(amount.Sub(st.pool.DestinationBalance), st.pool.MaxLiquidity))
	}

	before := st.pool
	st.pool.DestinationBalance = st.pool.DestinationBalance.Sub(amount)
	st.pool.SourceBalance = st.pool.SourceBalance.Add(amount)
	st.pool.UpdatedAt = m.now().UTC()

	if err := m.persist(ctx, &st.pool); err != nil {
		st.pool = before
		return err
	}

	metrics.PoolUtilization.WithLabelValues(id).Set(st.pool.UtilizationRate().InexactFloat64())
	m.logger.Debug("Settlement applied to pool",
		zap.String("pool_id", id),
		zap.String("amount", amount.String()),
		zap.String("destination_balance", st.pool.DestinationBalance.String()))
	return nil
}

// Rebalance moves every active pool above its threshold toward a 50/50 split,
// keeping the destination side within [MinLiquidity, MaxLiquidity].
func (m *Manager) Rebalance(ctx context.Context) ([]RebalanceResult, error) {
	var results []RebalanceResult
	for _, id := range m.poolIDs() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, changed, err := m.rebalancePool(ctx, id)
		if err != nil {
			return results, err
		}
		if changed {
			results = append(results, res)
		}
	}
	return results, nil
}

func (m *Manager) rebalancePool(ctx context.Context, id string) (RebalanceResult, bool, error) {
	st := m.pools[id]
	st.mu.Lock()
	defer st.mu.Unlock()

	pool := &st.pool
	utilization := pool.UtilizationRate()
	if !pool.IsActive || !utilization.GreaterThan(pool.RebalanceThreshold) {
		return RebalanceResult{}, false, nil
	}

	total := pool.TotalLiquidity()
	target := total.Mul(half)
	if target.LessThan(pool.MinLiquidity) {
		target = pool.MinLiquidity
	}
	if pool.MaxLiquidity.IsPositive() && target.GreaterThan(pool.MaxLiquidity) {
		target = pool.MaxLiquidity
	}
	if target.GreaterThan(total) {
		target = total
	}
	if target.Equal(pool.DestinationBalance) {
		return RebalanceResult{}, false, nil
	}

	before := *pool
	pool.DestinationBalance = target
	pool.SourceBalance = total.Sub(target)
	pool.UpdatedAt = m.now().UTC()

	if err := m.persist(ctx, pool); err != nil {
		*pool = before
		return RebalanceResult{}, false, err
	}

	res := RebalanceResult{
		PoolID:                   id,
		UtilizationBefore:        utilization,
		UtilizationAfter:         pool.UtilizationRate(),
		DestinationBalanceBefore: before.DestinationBalance,
		DestinationBalanceAfter:  pool.DestinationBalance,
	}
	metrics.PoolUtilization.WithLabelValues(id).Set(res.UtilizationAfter.InexactFloat64())
	metrics.RebalanceTotal.WithLabelValues(id).Inc()
	m.logger.Info("Pool rebalanced",
		zap.String("pool_id", id),
		zap.String("utilization_before", res.UtilizationBefore.StringFixed(4)),
		zap.String("utilization_after", res.UtilizationAfter.StringFixed(4)))
	return res, true, nil
}

func (m *Manager) persist(ctx context.Context, pool *entities.LiquidityPool) error {
	if m.repo == nil {
		return nil
	}
	snapshot := *pool
	if err := m.repo.Upsert(ctx, &snapshot); err != nil {
		return fmt.Errorf("failed to persist pool %s: %w", pool.ID, err)
	}
	return nil
}

// Snapshot returns a copy of one pool
func (m *Manager) Snapshot(id string) (entities.LiquidityPool, bool) {
	st, ok := m.pools[id]
	if !ok {
		return entities.LiquidityPool{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pool, true
}

// Pools returns copies of all pools sorted by id
func (m *Manager) Pools() []entities.LiquidityPool {
	ids := m.poolIDs()
	out := make([]entities.LiquidityPool, 0, len(ids))
	for _, id := range ids {
		p, _ := m.Snapshot(id)
		out = append(out, p)
	}
	return out
}

func (m *Manager) poolIDs() []string {
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
