package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/services/chain"
	"github.com/rail-service/yield_bridge/internal/domain/services/liquidity"
	"github.com/rail-service/yield_bridge/internal/domain/services/settlement"
	"github.com/rail-service/yield_bridge/internal/domain/services/yield"
)

const (
	sender    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	recipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type harness struct {
	svc       *Service
	repo      *memBridgeRepo
	locker    *memLocker
	publisher *recordingPublisher
	consensus *fakeConsensus
	fast      *fakeProvider
	pool      *fakeProvider
	liquidity *liquidity.Manager
	clock     *fakeClock
}

func testRegistry(t *testing.T) *chain.Registry {
	t.Helper()
	r, err := chain.NewRegistry([]chain.Config{
		{ID: "ethereum", Ecosystem: entities.EcosystemPrimary, AddressFormat: chain.AddressFormatEVM, Confirmations: 12, BlockTime: 12 * time.Second},
		{ID: "sepolia", Ecosystem: entities.EcosystemPrimary, AddressFormat: chain.AddressFormatEVM, Confirmations: 3, BlockTime: 12 * time.Second, Testnet: true},
		{ID: "polygon", Ecosystem: entities.EcosystemSecondary, AddressFormat: chain.AddressFormatEVM, Confirmations: 64, BlockTime: 2 * time.Second},
		{ID: "solana", Ecosystem: entities.EcosystemTertiary, AddressFormat: chain.AddressFormatSolana, Confirmations: 32, BlockTime: 400 * time.Millisecond},
	})
	require.NoError(t, err)
	return r
}

func testPool(token string) entities.LiquidityPool {
	return entities.LiquidityPool{
		ID:                   liquidity.PoolID(token, entities.EcosystemPrimary, entities.EcosystemSecondary),
		SourceEcosystem:      entities.EcosystemPrimary,
		DestinationEcosystem: entities.EcosystemSecondary,
		Token:                token,
		SourceBalance:        d("250000"),
		DestinationBalance:   d("750000"),
		RebalanceThreshold:   d("0.8"),
		MinLiquidity:         d("50000"),
		MaxLiquidity:         d("1000000"),
		IsActive:             true,
	}
}

func testConfig() Config {
	return Config{
		BaseFeeRate:             d("0.001"),
		CrossEcosystemSurcharge: d("0.003"),
		MaxFeeRatio:             d("0.005"),
		SettlementOverhead:      time.Minute,
		SettlementTimeout:       2 * time.Second,
		SettlementPollInterval:  5 * time.Millisecond,
		LockTTL:                 time.Minute,
	}
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	registry := testRegistry(t)
	lm, err := liquidity.NewManager(registry, []entities.LiquidityPool{testPool("USDC"), testPool("USDT")}, nil, zap.NewNop(), liquidity.Options{})
	require.NoError(t, err)

	fast := &fakeProvider{
		kind:    settlement.KindFast,
		initial: settlement.TransferResult{ExternalID: "burn-1", SourceTxHash: "0xburn", Status: settlement.TransferStatusPending},
		polls: []settlement.TransferResult{
			{ExternalID: "burn-1", Status: settlement.TransferStatusPending},
			{ExternalID: "burn-1", Status: settlement.TransferStatusCompleted, DestinationTxHash: "0xmint", AccruedYield: d("0.5")},
		},
	}
	pool := &fakeProvider{
		kind:    settlement.KindPool,
		initial: settlement.TransferResult{ExternalID: "dep-1", SourceTxHash: "0xescrow", DestinationTxHash: "0xrelease", Status: settlement.TransferStatusCompleted},
		apy:     d("0.05"),
	}
	router, err := settlement.NewRouter("USDC", []string{"USDT"}, fast, pool)
	require.NoError(t, err)

	h := &harness{
		repo:      newMemBridgeRepo(),
		locker:    newMemLocker(),
		publisher: &recordingPublisher{},
		consensus: newFakeConsensus(true),
		fast:      fast,
		pool:      pool,
		liquidity: lm,
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.svc = NewService(registry, lm, yield.NewCalculator(d("0.04")), h.consensus, router,
		h.repo, h.locker, h.publisher, cfg, zap.NewNop())
	h.svc.now = h.clock.Now
	return h
}

func request(token string, amount string) *entities.BridgeRequest {
	return &entities.BridgeRequest{
		SourceChain:      "ethereum",
		DestinationChain: "polygon",
		Token:            token,
		Amount:           d(amount),
		SenderAddress:    sender,
		RecipientAddress: recipient,
	}
}

func TestInitiate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
	require.NoError(t, err)

	assert.Equal(t, entities.BridgeStatusInitiated, tx.Status)
	// cross-ecosystem: max(0.001, 0.003)
	assert.True(t, d("3").Equal(tx.BridgeFeeAmount), tx.BridgeFeeAmount.String())
	assert.True(t, tx.SourceAmount.Sub(tx.BridgeFeeAmount).Equal(tx.DestinationAmount))
	// 12*12s + 64*2s + 60s
	assert.Equal(t, 332*time.Second, tx.EstimatedDuration)
	assert.True(t, yield.Accrue(d("997"), 332*time.Second, d("0.04")).Equal(tx.EstimatedYield))
	assert.Nil(t, tx.ActualYield)

	stored, err := h.repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BridgeStatusInitiated, stored.Status)

	updates := h.publisher.forTx(tx.ID)
	require.Len(t, updates, 1)
	assert.Equal(t, entities.UpdateTypeStatusChange, updates[0].Type)

	initCalls, _ := h.pool.calls()
	assert.Equal(t, 0, initCalls, "initiate never settles")
}

func TestInitiate_RejectsBeforePersisting(t *testing.T) {
	tests := []struct {
		name  string
		req   func() *entities.BridgeRequest
		field string
	}{
		{"unknown source chain", func() *entities.BridgeRequest { r := request("USDT", "10"); r.SourceChain = "avalanche"; return r }, "source_chain"},
		{"same chain", func() *entities.BridgeRequest { r := request("USDT", "10"); r.DestinationChain = "ethereum"; return r }, "destination_chain"},
		{"zero amount", func() *entities.BridgeRequest { return request("USDT", "0") }, "amount"},
		{"negative amount", func() *entities.BridgeRequest { return request("USDT", "-5") }, "amount"},
		{"unsupported token", func() *entities.BridgeRequest { return request("DAI", "10") }, "token"},
		{"malformed recipient", func() *entities.BridgeRequest { r := request("USDT", "10"); r.RecipientAddress = "0x1234"; return r }, "recipient_address"},
		{"solana recipient must be base58", func() *entities.BridgeRequest {
			r := request("USDT", "10")
			r.DestinationChain = "solana"
			return r
		}, "recipient_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Initiate(context.Background(), tt.req())
			require.Error(t, err)
			assert.True(t, domainerrors.IsInvalidInput(err))
			assert.Equal(t, tt.field, domainerrors.GetErrorDetails(err)["field"])
			assert.Equal(t, 0, h.repo.count())
			assert.Empty(t, h.publisher.updates)
		})
	}
}

func TestInitiate_InsufficientLiquidity(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Initiate(context.Background(), request("USDT", "600000"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsLiquidity(err))
	assert.Equal(t, domainerrors.CodeLiquidity, domainerrors.GetErrorCode(err))
	assert.Equal(t, "562500", domainerrors.GetErrorDetails(err)["suggested_amount"])
	assert.Equal(t, 0, h.repo.count())
	assert.Empty(t, h.publisher.updates)
}

func TestFeePolicy(t *testing.T) {
	t.Run("same ecosystem uses base rate", func(t *testing.T) {
		h := newHarness(t)
		assert.True(t, d("0.001").Equal(h.svc.FeeRate("ethereum", "sepolia")))
	})

	t.Run("cross ecosystem uses the larger rate", func(t *testing.T) {
		h := newHarness(t)
		assert.True(t, d("0.003").Equal(h.svc.FeeRate("ethereum", "polygon")))
	})

	t.Run("capped at max fee ratio", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.MaxFeeRatio = d("0.002") })
		for _, amount := range []string{"1", "999.99999999", "1000", "123456.789"} {
			tx, err := h.svc.Initiate(context.Background(), request("USDT", amount))
			require.NoError(t, err)
			assert.True(t, tx.BridgeFeeAmount.LessThanOrEqual(d(amount).Mul(d("0.002"))), amount)
			assert.True(t, tx.SourceAmount.Sub(tx.BridgeFeeAmount).Equal(tx.DestinationAmount))
		}
	})
}

func TestGetBridgeEstimate(t *testing.T) {
	h := newHarness(t)
	h.pool.fee = d("1.25")
	ctx := context.Background()
	before, _ := h.liquidity.Snapshot(liquidity.PoolID("USDT", entities.EcosystemPrimary, entities.EcosystemSecondary))

	est, err := h.svc.GetBridgeEstimate(ctx, "ethereum", "polygon", d("1000"), "USDT")
	require.NoError(t, err)
	again, err := h.svc.GetBridgeEstimate(ctx, "ethereum", "polygon", d("1000"), "USDT")
	require.NoError(t, err)
	assert.Equal(t, est, again)

	assert.True(t, d("3").Equal(est.Fee))
	assert.True(t, d("997").Equal(est.DestinationAmount))
	assert.Equal(t, 332*time.Second, est.EstimatedTime)
	assert.True(t, d("0.04").Equal(est.APY))
	assert.Equal(t, string(settlement.KindPool), est.SettlementProvider)
	require.NotNil(t, est.ProviderFee)
	assert.True(t, d("1.25").Equal(*est.ProviderFee))

	assert.Equal(t, h.svc.EstimateBridgeTime("ethereum", "polygon"), h.svc.EstimateBridgeTime("ethereum", "polygon"))
	assert.NotEqual(t, h.svc.EstimateBridgeTime("ethereum", "solana"), h.svc.EstimateBridgeTime("sepolia", "solana"))

	after, _ := h.liquidity.Snapshot(liquidity.PoolID("USDT", entities.EcosystemPrimary, entities.EcosystemSecondary))
	assert.Equal(t, before, after)
	assert.Equal(t, 0, h.repo.count())
	assert.Empty(t, h.publisher.updates)

	_, err = h.svc.GetBridgeEstimate(ctx, "ethereum", "ethereum", d("1"), "USDT")
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestGetBridgeEstimate_ProviderQuoteUnavailable(t *testing.T) {
	h := newHarness(t)
	h.fast.feeErr = errors.New("iris unavailable")

	est, err := h.svc.GetBridgeEstimate(context.Background(), "ethereum", "polygon", d("1000"), "USDC")
	require.NoError(t, err)
	assert.Equal(t, string(settlement.KindFast), est.SettlementProvider)
	assert.Nil(t, est.ProviderFee)
	assert.True(t, d("3").Equal(est.Fee), "policy fee does not depend on the provider")
}

func TestProcess_PoolSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	poolID := liquidity.PoolID("USDT", entities.EcosystemPrimary, entities.EcosystemSecondary)
	before, _ := h.liquidity.Snapshot(poolID)

	tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	done, err := h.svc.Process(ctx, tx.ID)
	require.NoError(t, err)

	assert.Equal(t, entities.BridgeStatusCompleted, done.Status)
	require.NotNil(t, done.ActualYield)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.ActualYield.IsNegative())
	// no reported yield, so accrual at the provider's 5% over the hour
	assert.True(t, yield.Accrue(d("997"), time.Hour, d("0.05")).Equal(*done.ActualYield), done.ActualYield.String())
	assert.True(t, done.DestinationAmount.Add(*done.ActualYield).Equal(done.TotalCredited()))
	assert.Equal(t, "dep-1", done.ExternalSettlementID)
	assert.Equal(t, "0xescrow", done.SourceTxHash)
	assert.Equal(t, "0xrelease", done.DestinationTxHash)
	assert.Equal(t, string(settlement.KindPool), done.SettlementProvider)

	after, _ := h.liquidity.Snapshot(poolID)
	assert.True(t, before.DestinationBalance.Sub(d("997")).Equal(after.DestinationBalance))
	assert.True(t, before.TotalLiquidity().Equal(after.TotalLiquidity()))

	assert.Equal(t, []entities.BridgeStatus{
		entities.BridgeStatusInitiated,
		entities.BridgeStatusBridgePending,
		entities.BridgeStatusSourceConfirmed,
		entities.BridgeStatusDestinationPending,
		entities.BridgeStatusCompleted,
	}, h.repo.statuses(tx.ID))

	updates := h.publisher.forTx(tx.ID)
	var kinds []entities.UpdateType
	for i, u := range updates {
		kinds = append(kinds, u.Type)
		if i > 0 {
			assert.Greater(t, u.Sequence, updates[i-1].Sequence)
		}
	}
	assert.Equal(t, []entities.UpdateType{
		entities.UpdateTypeStatusChange,
		entities.UpdateTypeStatusChange,
		entities.UpdateTypeConfirmation,
		entities.UpdateTypeStatusChange,
		entities.UpdateTypeYieldUpdate,
		entities.UpdateTypeCompletion,
	}, kinds)
	completion := updates[len(updates)-1]
	assert.Equal(t, done.TotalCredited().String(), completion.Payload["total_amount"])
}

func TestProcess_FastSettlementPolls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	poolID := liquidity.PoolID("USDC", entities.EcosystemPrimary, entities.EcosystemSecondary)
	before, _ := h.liquidity.Snapshot(poolID)

	tx, err := h.svc.Initiate(ctx, request("USDC", "1000"))
	require.NoError(t, err)
	done, err := h.svc.Process(ctx, tx.ID)
	require.NoError(t, err)

	assert.Equal(t, entities.BridgeStatusCompleted, done.Status)
	assert.True(t, d("0.5").Equal(*done.ActualYield), "provider-reported yield wins")
	assert.Equal(t, "burn-1", done.ExternalSettlementID)
	assert.Equal(t, "0xburn", done.SourceTxHash)
	assert.Equal(t, "0xmint", done.DestinationTxHash)

	_, polls := h.fast.calls()
	assert.Equal(t, 2, polls)

	after, _ := h.liquidity.Snapshot(poolID)
	assert.Equal(t, before, after, "fast path does not touch pool balances")
}

func TestProcess_ConsensusNotReached(t *testing.T) {
	h := newHarness(t)
	h.consensus.set(false, false)
	ctx := context.Background()

	tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
	require.NoError(t, err)

	failed, err := h.svc.Process(ctx, tx.ID)
	require.Error(t, err)
	assert.True(t, domainerrors.IsConsensus(err))
	assert.Equal(t, entities.BridgeStatusFailed, failed.Status)
	assert.True(t, strings.HasPrefix(failed.FailureReason, domainerrors.CodeConsensus), failed.FailureReason)

	initCalls, _ := h.pool.calls()
	assert.Equal(t, 0, initCalls, "no settlement without consensus")

	view, err := h.svc.GetStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, view.CanRetry)
	assert.False(t, view.CanCancel)
	require.NotNil(t, view.Validation)
	assert.False(t, view.Validation.ConsensusReached)
	assert.Equal(t, 1, h.publisher.ofType(tx.ID, entities.UpdateTypeError))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("re-runs the pipeline after a consensus failure", func(t *testing.T) {
		h := newHarness(t)
		h.consensus.set(false, false)
		tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
		require.NoError(t, err)
		_, err = h.svc.Process(ctx, tx.ID)
		require.Error(t, err)

		h.consensus.set(true, false)
		done, err := h.svc.Retry(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.BridgeStatusCompleted, done.Status)
		assert.Equal(t, 1, done.RetryCount)
		assert.Empty(t, done.FailureReason)

		statuses := h.repo.statuses(tx.ID)
		assert.Equal(t, entities.BridgeStatusFailed, statuses[2])
		assert.Equal(t, entities.BridgeStatusInitiated, statuses[3])
	})

	t.Run("only from FAILED", func(t *testing.T) {
		h := newHarness(t)
		tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
		require.NoError(t, err)

		_, err = h.svc.Retry(ctx, tx.ID)
		assert.True(t, domainerrors.IsConflict(err))

		_, err = h.svc.Process(ctx, tx.ID)
		require.NoError(t, err)
		_, err = h.svc.Retry(ctx, tx.ID)
		assert.True(t, domainerrors.IsConflict(err))
	})

	t.Run("re-checks liquidity", func(t *testing.T) {
		h := newHarness(t)
		h.consensus.set(false, false)
		tx, err := h.svc.Initiate(ctx, request("USDT", "500000"))
		require.NoError(t, err)
		_, err = h.svc.Process(ctx, tx.ID)
		require.Error(t, err)

		// another transfer drains the pool meanwhile
		require.NoError(t, h.liquidity.ApplySettlement(ctx, "ethereum", "polygon", d("400000"), "USDT"))

		h.consensus.set(true, false)
		current, err := h.svc.Retry(ctx, tx.ID)
		require.Error(t, err)
		assert.True(t, domainerrors.IsLiquidity(err))
		assert.Equal(t, entities.BridgeStatusFailed, current.Status)
		assert.Equal(t, 0, current.RetryCount)
	})

	t.Run("timed out settlement is retried once the provider gives up on it", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.SettlementTimeout = 50 * time.Millisecond })
		h.fast.polls = nil
		tx, err := h.svc.Initiate(ctx, request("USDC", "1000"))
		require.NoError(t, err)

		failed, err := h.svc.Process(ctx, tx.ID)
		require.Error(t, err)
		assert.Contains(t, failed.FailureReason, "timed out")
		assert.Equal(t, "burn-1", failed.ExternalSettlementID)

		// burn-1 is still pending upstream
		view, err := h.svc.GetStatus(ctx, tx.ID)
		require.NoError(t, err)
		assert.False(t, view.CanRetry)
		current, err := h.svc.Retry(ctx, tx.ID)
		assert.True(t, domainerrors.IsConflict(err))
		assert.Equal(t, entities.BridgeStatusFailed, current.Status)
		assert.Equal(t, 0, current.RetryCount)

		h.fast.report("burn-1", settlement.TransferStatusFailed)
		h.fast.next(
			settlement.TransferResult{ExternalID: "burn-2", SourceTxHash: "0xburn2", Status: settlement.TransferStatusPending},
			settlement.TransferResult{ExternalID: "burn-2", Status: settlement.TransferStatusCompleted, DestinationTxHash: "0xmint2"},
		)
		view, err = h.svc.GetStatus(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, view.CanRetry)

		done, err := h.svc.Retry(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.BridgeStatusCompleted, done.Status)
		assert.Equal(t, 1, done.RetryCount)
		assert.Equal(t, "burn-2", done.ExternalSettlementID)
		assert.Equal(t, "burn-1", done.PreviousSettlementID)
		assert.Equal(t, "0xburn2", done.SourceTxHash)
		assert.Equal(t, "0xmint2", done.DestinationTxHash)
		assert.Empty(t, done.FailureReason)

		initCalls, _ := h.fast.calls()
		assert.Equal(t, 2, initCalls)
	})

	t.Run("refused while the provider reports the transfer completed", func(t *testing.T) {
		h := newHarness(t)
		h.pool.initial.Status = settlement.TransferStatusFailed
		tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
		require.NoError(t, err)

		failed, err := h.svc.Process(ctx, tx.ID)
		require.Error(t, err)
		assert.True(t, domainerrors.IsSettlement(err))
		assert.Equal(t, "dep-1", failed.ExternalSettlementID)

		h.pool.report("dep-1", settlement.TransferStatusCompleted)
		view, err := h.svc.GetStatus(ctx, tx.ID)
		require.NoError(t, err)
		assert.False(t, view.CanRetry)

		current, err := h.svc.Retry(ctx, tx.ID)
		assert.True(t, domainerrors.IsConflict(err))
		assert.Equal(t, "dep-1", current.ExternalSettlementID)
		initCalls, _ := h.pool.calls()
		assert.Equal(t, 1, initCalls)
	})
}

func TestEmit_SlowPublisherOnlyBlocksItsTransaction(t *testing.T) {
	h := newHarness(t)
	gated := newGatedPublisher()
	h.svc.publisher = gated
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := h.svc.Initiate(ctx, request("USDT", "1000"))
		first <- err
	}()
	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first update was never published")
	}

	second := make(chan error, 1)
	go func() {
		_, err := h.svc.Initiate(ctx, request("USDT", "2000"))
		second <- err
	}()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("a stalled publish for one transaction blocked another")
	}

	close(gated.release)
	require.NoError(t, <-first)
	assert.Len(t, gated.updates, 2)

	h.svc.emitMu.Lock()
	assert.Empty(t, h.svc.emitLocks)
	h.svc.emitMu.Unlock()
}

func TestCancel_DuringConsensus(t *testing.T) {
	h := newHarness(t)
	h.consensus.set(true, true)
	ctx := context.Background()

	tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
	require.NoError(t, err)

	type outcome struct {
		tx  *entities.BridgeTransaction
		err error
	}
	result := make(chan outcome, 1)
	go func() {
		got, err := h.svc.Process(ctx, tx.ID)
		result <- outcome{got, err}
	}()

	select {
	case <-h.consensus.started:
	case <-time.After(2 * time.Second):
		t.Fatal("consensus was never requested")
	}

	view, err := h.svc.GetStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BridgeStatusBridgePending, view.Transaction.Status)
	assert.True(t, view.CanCancel)

	ok, err := h.svc.Cancel(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case out := <-result:
		require.NoError(t, out.err)
		assert.Equal(t, entities.BridgeStatusCancelled, out.tx.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not return after cancel")
	}

	view, err = h.svc.GetStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BridgeStatusCancelled, view.Transaction.Status)
	assert.Equal(t, domainerrors.CodeUserCancelled, view.Transaction.FailureReason)
	assert.False(t, view.CanCancel)
	assert.False(t, view.CanRetry)
	assert.Equal(t, 1, h.publisher.ofType(tx.ID, entities.UpdateTypeError))

	initCalls, _ := h.pool.calls()
	assert.Equal(t, 0, initCalls)

	ok, err = h.svc.Cancel(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.publisher.ofType(tx.ID, entities.UpdateTypeError))
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("from INITIATED", func(t *testing.T) {
		h := newHarness(t)
		tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
		require.NoError(t, err)

		ok, err := h.svc.Cancel(ctx, tx.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := h.svc.Process(ctx, tx.ID)
		assert.True(t, domainerrors.IsConflict(err))
		assert.Equal(t, entities.BridgeStatusCancelled, got.Status)
	})

	t.Run("no-op once completed", func(t *testing.T) {
		h := newHarness(t)
		tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
		require.NoError(t, err)
		_, err = h.svc.Process(ctx, tx.ID)
		require.NoError(t, err)

		ok, err := h.svc.Cancel(ctx, tx.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown id", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Cancel(ctx, uuid.New())
		assert.True(t, domainerrors.IsNotFound(err))
	})
}

func TestSettlementFailures(t *testing.T) {
	ctx := context.Background()
	poolID := liquidity.PoolID("USDT", entities.EcosystemPrimary, entities.EcosystemSecondary)

	t.Run("provider error", func(t *testing.T) {
		h := newHarness(t)
		h.pool.initErr = errors.New("gateway unavailable")
		before, _ := h.liquidity.Snapshot(poolID)

		tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
		require.NoError(t, err)
		failed, err := h.svc.Process(ctx, tx.ID)
		require.Error(t, err)
		assert.True(t, domainerrors.IsSettlement(err))
		assert.Equal(t, entities.BridgeStatusFailed, failed.Status)
		assert.Contains(t, failed.FailureReason, "gateway unavailable")
		assert.Empty(t, failed.ExternalSettlementID)
		assert.Equal(t, 1, h.publisher.ofType(tx.ID, entities.UpdateTypeError))

		after, _ := h.liquidity.Snapshot(poolID)
		assert.Equal(t, before, after)

		initCalls, _ := h.pool.calls()
		assert.Equal(t, 1, initCalls, "not retried automatically")
	})

	t.Run("timeout is a failure", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.SettlementTimeout = 50 * time.Millisecond })
		h.fast.polls = nil

		tx, err := h.svc.Initiate(ctx, request("USDC", "1000"))
		require.NoError(t, err)
		failed, err := h.svc.Process(ctx, tx.ID)
		require.Error(t, err)
		assert.True(t, domainerrors.IsSettlement(err))
		assert.Equal(t, entities.BridgeStatusFailed, failed.Status)
		assert.Contains(t, failed.FailureReason, "timed out")
	})
}

func TestProcess_LeaseHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
	require.NoError(t, err)

	release, ok, err := h.locker.TryLock(ctx, lockKey(tx.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := h.svc.Process(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BridgeStatusInitiated, got.Status)
	assert.Len(t, h.publisher.forTx(tx.ID), 1)

	require.NoError(t, release(ctx))
	got, err = h.svc.Process(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BridgeStatusCompleted, got.Status)
}

func TestProcess_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Process(context.Background(), uuid.New())
	assert.True(t, domainerrors.IsNotFound(err))

	_, err = h.svc.GetStatus(context.Background(), uuid.New())
	assert.True(t, domainerrors.IsNotFound(err))
}

func TestGetStatus_Timing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
	require.NoError(t, err)

	h.clock.Advance(100 * time.Second)
	view, err := h.svc.GetStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, view.Progress)
	assert.Equal(t, 100*time.Second, view.Elapsed)
	assert.Equal(t, 332*time.Second, view.Estimated)
	assert.Equal(t, 232*time.Second, view.Remaining)
	assert.Nil(t, view.Validation)

	_, err = h.svc.Process(ctx, tx.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	view, err = h.svc.GetStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, view.Progress)
	assert.Equal(t, 100*time.Second, view.Elapsed, "elapsed stops at completion")
	assert.Equal(t, time.Duration(0), view.Remaining)
	assert.True(t, view.Validation.ConsensusReached)
}

func TestAutoProcessAndShutdown(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AutoProcess = true })
	ctx := context.Background()

	tx, err := h.svc.Initiate(ctx, request("USDT", "1000"))
	require.NoError(t, err)
	assert.Equal(t, entities.BridgeStatusInitiated, tx.Status)

	require.NoError(t, h.svc.Shutdown(2*time.Second))

	got, err := h.repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BridgeStatusCompleted, got.Status)

	// after shutdown transfers are accepted but not processed
	late, err := h.svc.Initiate(ctx, request("USDT", "10"))
	require.NoError(t, err)
	got, err = h.repo.GetByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BridgeStatusInitiated, got.Status)
}

func TestLists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.Initiate(ctx, request("USDT", "10"))
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
	}

	page, err := h.svc.ListBySender(ctx, sender, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	_, err = h.svc.ListBySender(ctx, "", 10, 0)
	assert.True(t, domainerrors.IsInvalidInput(err))

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inRange, err := h.svc.ListByTimeRange(ctx, start, start.Add(90*time.Second))
	require.NoError(t, err)
	assert.Len(t, inRange, 2)

	_, err = h.svc.ListByTimeRange(ctx, start, start)
	assert.True(t, domainerrors.IsInvalidInput(err))
}
