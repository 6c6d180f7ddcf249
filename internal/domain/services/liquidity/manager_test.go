package liquidity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/repositories"
	"github.com/rail-service/yield_bridge/internal/domain/services/chain"
)

type memPoolRepo struct {
	mu        sync.Mutex
	pools     map[string]entities.LiquidityPool
	upsertErr error
	upserts   int
}

func newMemPoolRepo() *memPoolRepo {
	return &memPoolRepo{pools: make(map[string]entities.LiquidityPool)}
}

func (r *memPoolRepo) Upsert(ctx context.Context, pool *entities.LiquidityPool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserts++
	r.pools[pool.ID] = *pool
	return nil
}

func (r *memPoolRepo) GetByID(ctx context.Context, id string) (*entities.LiquidityPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[id]
	if !ok {
		return nil, domainerrors.NotFoundError("LIQUIDITY_POOL")
	}
	return &p, nil
}

func (r *memPoolRepo) List(ctx context.Context) ([]*entities.LiquidityPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entities.LiquidityPool, 0, len(r.pools))
	for _, p := range r.pools {
		p := p
		out = append(out, &p)
	}
	return out, nil
}

func testRegistry(t *testing.T) *chain.Registry {
	t.Helper()
	r, err := chain.NewRegistry([]chain.Config{
		{ID: "ethereum", Ecosystem: entities.EcosystemPrimary, AddressFormat: chain.AddressFormatEVM, Confirmations: 12, BlockTime: 12 * time.Second},
		{ID: "polygon", Ecosystem: entities.EcosystemSecondary, AddressFormat: chain.AddressFormatEVM, Confirmations: 64, BlockTime: 2 * time.Second},
		{ID: "solana", Ecosystem: entities.EcosystemTertiary, AddressFormat: chain.AddressFormatSolana, Confirmations: 32, BlockTime: 400 * time.Millisecond},
	})
	require.NoError(t, err)
	return r
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedPool(token string, src, dst entities.Ecosystem, srcBal, dstBal, max string) entities.LiquidityPool {
	return entities.LiquidityPool{
		ID:                   PoolID(token, src, dst),
		SourceEcosystem:      src,
		DestinationEcosystem: dst,
		Token:                token,
		SourceBalance:        d(srcBal),
		DestinationBalance:   d(dstBal),
		RebalanceThreshold:   d("0.8"),
		MinLiquidity:         d("50000"),
		MaxLiquidity:         d(max),
		IsActive:             true,
	}
}

func newTestManager(t *testing.T, repo repositories.LiquidityPoolRepository, pools ...entities.LiquidityPool) *Manager {
	t.Helper()
	if len(pools) == 0 {
		pools = []entities.LiquidityPool{
			seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "250000", "750000", "1000000"),
		}
	}
	m, err := NewManager(testRegistry(t), pools, repo, zap.NewNop(), Options{})
	require.NoError(t, err)
	return m
}

func TestPoolID(t *testing.T) {
	assert.Equal(t, "USDC_primary_secondary", PoolID("usdc", entities.EcosystemPrimary, entities.EcosystemSecondary))
	assert.Equal(t, "USDT_tertiary_unknown", PoolID("USDT", entities.EcosystemTertiary, entities.EcosystemUnknown))
}

func TestNewManager_RejectsBadPools(t *testing.T) {
	reg := testRegistry(t)

	dup := seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "1", "1", "10")
	_, err := NewManager(reg, []entities.LiquidityPool{dup, dup}, nil, zap.NewNop(), Options{})
	assert.Error(t, err)

	neg := seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "-1", "1", "10")
	_, err = NewManager(reg, []entities.LiquidityPool{neg}, nil, zap.NewNop(), Options{})
	assert.Error(t, err)

	badThreshold := seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "1", "1", "10")
	badThreshold.RebalanceThreshold = decimal.Zero
	_, err = NewManager(reg, []entities.LiquidityPool{badThreshold}, nil, zap.NewNop(), Options{})
	assert.Error(t, err)
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	t.Run("sufficient liquidity", func(t *testing.T) {
		check, err := m.CheckAvailability(ctx, "ethereum", "polygon", d("1000"), "USDC")
		require.NoError(t, err)
		assert.True(t, check.Available)
		assert.Equal(t, "USDC_primary_secondary", check.PoolID)
		// 750000 * (1 - 0.25)
		assert.True(t, d("562500").Equal(check.AvailableAmount))
		assert.Equal(t, time.Duration(0), check.EstimatedWait)
	})

	t.Run("deficit suggests available amount", func(t *testing.T) {
		check, err := m.CheckAvailability(ctx, "ethereum", "polygon", d("600000"), "usdc")
		require.NoError(t, err)
		assert.False(t, check.Available)
		assert.True(t, d("562500").Equal(check.SuggestedAmount))
		// 5m + 37500/1000000 * 1h
		assert.Equal(t, 5*time.Minute+135*time.Second, check.EstimatedWait)
	})

	t.Run("wait grows with deficit", func(t *testing.T) {
		small, err := m.CheckAvailability(ctx, "ethereum", "polygon", d("570000"), "USDC")
		require.NoError(t, err)
		large, err := m.CheckAvailability(ctx, "ethereum", "polygon", d("900000"), "USDC")
		require.NoError(t, err)
		assert.Less(t, small.EstimatedWait, large.EstimatedWait)

		huge, err := m.CheckAvailability(ctx, "ethereum", "polygon", d("5000000"), "USDC")
		require.NoError(t, err)
		assert.Equal(t, DefaultBaseWait+DefaultMaxWait, huge.EstimatedWait)
	})

	t.Run("no pool for pair", func(t *testing.T) {
		check, err := m.CheckAvailability(ctx, "polygon", "solana", d("10"), "USDC")
		require.NoError(t, err)
		assert.False(t, check.Available)
		assert.True(t, check.SuggestedAmount.IsZero())
	})

	t.Run("inactive pool", func(t *testing.T) {
		p := seedPool("USDT", entities.EcosystemPrimary, entities.EcosystemSecondary, "250000", "750000", "1000000")
		p.IsActive = false
		inactive := newTestManager(t, nil, p)
		check, err := inactive.CheckAvailability(ctx, "ethereum", "polygon", d("10"), "USDT")
		require.NoError(t, err)
		assert.False(t, check.Available)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := m.CheckAvailability(ctx, "ethereum", "polygon", decimal.Zero, "USDC")
		assert.True(t, domainerrors.IsInvalidInput(err))
	})

	t.Run("does not mutate balances", func(t *testing.T) {
		before, _ := m.Snapshot("USDC_primary_secondary")
		_, _ = m.CheckAvailability(ctx, "ethereum", "polygon", d("1000"), "USDC")
		after, _ := m.Snapshot("USDC_primary_secondary")
		assert.True(t, before.DestinationBalance.Equal(after.DestinationBalance))
	})
}

func TestApplySettlement_ConservesTotal(t *testing.T) {
	ctx := context.Background()
	repo := newMemPoolRepo()
	m := newTestManager(t, repo)

	before, ok := m.Snapshot("USDC_primary_secondary")
	require.True(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.ApplySettlement(ctx, "ethereum", "polygon", d("1000"), "USDC"))
		}()
	}
	wg.Wait()

	after, _ := m.Snapshot("USDC_primary_secondary")
	assert.True(t, before.TotalLiquidity().Equal(after.TotalLiquidity()))
	assert.True(t, d("650000").Equal(after.DestinationBalance))
	assert.True(t, d("350000").Equal(after.SourceBalance))
	assert.Equal(t, 100, repo.upserts)

	persisted, err := repo.GetByID(ctx, "USDC_primary_secondary")
	require.NoError(t, err)
	assert.True(t, after.DestinationBalance.Equal(persisted.DestinationBalance))
}

func TestApplySettlement_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("amount exceeds destination balance", func(t *testing.T) {
		m := newTestManager(t, nil)
		err := m.ApplySettlement(ctx, "ethereum", "polygon", d("750001"), "USDC")
		assert.True(t, domainerrors.IsLiquidity(err))
		p, _ := m.Snapshot("USDC_primary_secondary")
		assert.True(t, d("750000").Equal(p.DestinationBalance))
	})

	t.Run("unknown pool", func(t *testing.T) {
		m := newTestManager(t, nil)
		err := m.ApplySettlement(ctx, "solana", "ethereum", d("1"), "USDC")
		assert.True(t, domainerrors.IsLiquidity(err))
	})

	t.Run("persist failure rolls back", func(t *testing.T) {
		repo := newMemPoolRepo()
		repo.upsertErr = errors.New("db down")
		m := newTestManager(t, repo)
		err := m.ApplySettlement(ctx, "ethereum", "polygon", d("1000"), "USDC")
		assert.Error(t, err)
		p, _ := m.Snapshot("USDC_primary_secondary")
		assert.True(t, d("750000").Equal(p.DestinationBalance))
		assert.True(t, d("250000").Equal(p.SourceBalance))
	})
}

func TestRebalance(t *testing.T) {
	ctx := context.Background()

	t.Run("moves toward even split", func(t *testing.T) {
		m := newTestManager(t, nil,
			seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "900000", "100000", "1000000"),
			seedPool("USDT", entities.EcosystemPrimary, entities.EcosystemSecondary, "250000", "750000", "1000000"),
		)

		results, err := m.Rebalance(ctx)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "USDC_primary_secondary", results[0].PoolID)
		assert.True(t, d("0.9").Equal(results[0].UtilizationBefore))
		assert.True(t, d("0.5").Equal(results[0].UtilizationAfter))

		p, _ := m.Snapshot("USDC_primary_secondary")
		assert.True(t, d("500000").Equal(p.DestinationBalance))
		assert.True(t, d("1000000").Equal(p.TotalLiquidity()))

		untouched, _ := m.Snapshot("USDT_primary_secondary")
		assert.True(t, d("750000").Equal(untouched.DestinationBalance))
	})

	t.Run("destination bounded by max liquidity", func(t *testing.T) {
		m := newTestManager(t, nil,
			seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "1900000", "100000", "800000"),
		)
		_, err := m.Rebalance(ctx)
		require.NoError(t, err)

		p, _ := m.Snapshot("USDC_primary_secondary")
		assert.True(t, d("800000").Equal(p.DestinationBalance))
		assert.True(t, d("1200000").Equal(p.SourceBalance))
	})

	t.Run("inactive pools are skipped", func(t *testing.T) {
		pool := seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "900000", "100000", "1000000")
		pool.IsActive = false
		m := newTestManager(t, nil, pool)
		results, err := m.Rebalance(ctx)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	repo := newMemPoolRepo()
	stored := seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "400000", "600000", "1000000")
	repo.pools[stored.ID] = stored

	m := newTestManager(t, repo,
		seedPool("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary, "250000", "750000", "1000000"),
		seedPool("USDT", entities.EcosystemPrimary, entities.EcosystemSecondary, "250000", "750000", "1000000"),
	)
	require.NoError(t, m.Load(ctx))

	p, _ := m.Snapshot("USDC_primary_secondary")
	assert.True(t, d("600000").Equal(p.DestinationBalance))

	_, err := repo.GetByID(ctx, "USDT_primary_secondary")
	assert.NoError(t, err, "unknown pools are seeded into the repository")
	assert.Len(t, m.Pools(), 2)
}
