package bridge

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	"github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/services/settlement"
	"github.com/rail-service/yield_bridge/internal/domain/services/yield"
	"github.com/rail-service/yield_bridge/pkg/await"
	"github.com/rail-service/yield_bridge/pkg/metrics"
)

var errProviderReportedFailure = stderrors.New("provider reported transfer failure")

// settle drives SOURCE_CONFIRMED to COMPLETED. The caller holds the lease.
// Every failure lands the transaction in FAILED; nothing is retried here.
func (s *Service) settle(ctx context.Context, tx *entities.BridgeTransaction) (*entities.BridgeTransaction, error) {
	ctx, span := tracer.Start(ctx, "bridge.settle")
	defer span.End()

	provider, err := s.router.Route(tx.Token)
	if err != nil {
		span.RecordError(err)
		return s.fail(ctx, tx, errors.CodeSettlement, err)
	}
	kind := string(provider.Kind())
	span.SetAttributes(attribute.String("provider", kind))

	err = s.transition(ctx, tx, entities.BridgeStatusDestinationPending, entities.UpdateTypeStatusChange,
		func(t *entities.BridgeTransaction) { t.SettlementProvider = kind },
		map[string]interface{}{"provider": kind})
	if err != nil {
		return s.afterConflict(ctx, tx.ID, err)
	}

	started := s.now()
	result, err := s.runTransfer(ctx, tx, provider)
	if err != nil {
		metrics.BridgeStageDuration.WithLabelValues("settlement", "failed").Observe(s.now().Sub(started).Seconds())
		span.RecordError(err)
		return s.fail(ctx, tx, errors.CodeSettlement, errors.SettlementError(kind, err))
	}
	metrics.BridgeStageDuration.WithLabelValues("settlement", "completed").Observe(s.now().Sub(started).Seconds())

	actualYield, apySource := s.finalYield(ctx, tx, provider, result)
	s.emit(ctx, tx, entities.UpdateTypeYieldUpdate, map[string]interface{}{
		"estimated_yield": tx.EstimatedYield.String(),
		"actual_yield":    actualYield.String(),
		"source":          apySource,
	})

	if provider.Kind() == settlement.KindPool {
		err := s.liquidity.ApplySettlement(ctx, tx.SourceChain, tx.DestinationChain, tx.DestinationAmount, tx.Token)
		if err != nil {
			span.RecordError(err)
			return s.fail(ctx, tx, errors.CodeSettlement, errors.SettlementError(kind, fmt.Errorf("apply to pool: %w", err)))
		}
	}

	completedAt := s.now().UTC()
	err = s.transition(ctx, tx, entities.BridgeStatusCompleted, entities.UpdateTypeCompletion,
		func(t *entities.BridgeTransaction) {
			t.ActualYield = &actualYield
			t.CompletedAt = &completedAt
			if result.DestinationTxHash != "" {
				t.DestinationTxHash = result.DestinationTxHash
			}
		},
		map[string]interface{}{
			"total_amount":        actualYield.Add(tx.DestinationAmount).String(),
			"actual_yield":        actualYield.String(),
			"destination_tx_hash": result.DestinationTxHash,
		})
	if err != nil {
		return s.afterConflict(ctx, tx.ID, err)
	}

	s.logger.Info("Bridge completed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("provider", kind),
		zap.String("total_credited", tx.TotalCredited().String()),
		zap.String("actual_yield", actualYield.String()))
	return tx.Clone(), nil
}

// runTransfer submits the transfer and polls it to a final status within
// SettlementTimeout. A timeout is a failure, not a pending state.
func (s *Service) runTransfer(ctx context.Context, tx *entities.BridgeTransaction, provider settlement.Provider) (*settlement.TransferResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SettlementTimeout)
	defer cancel()

	result, err := provider.InitiateTransfer(ctx, settlement.TransferRequest{
		Reference:        tx.ID,
		SourceChain:      tx.SourceChain,
		DestinationChain: tx.DestinationChain,
		Token:            tx.Token,
		Amount:           tx.DestinationAmount,
		SenderAddress:    tx.SenderAddress,
		RecipientAddress: tx.RecipientAddress,
	})
	if err != nil {
		return nil, err
	}
	if result.ExternalID == "" {
		return nil, fmt.Errorf("provider returned no settlement id")
	}

	// written once per attempt; Retry moves it to PreviousSettlementID
	err = s.save(context.WithoutCancel(ctx), tx, func(t *entities.BridgeTransaction) {
		t.ExternalSettlementID = result.ExternalID
		t.SourceTxHash = result.SourceTxHash
		t.DestinationTxHash = result.DestinationTxHash
	})
	if err != nil {
		return nil, fmt.Errorf("record settlement id: %w", err)
	}

	err = await.Until(ctx, s.config.SettlementPollInterval, 0, func(ctx context.Context) (bool, error) {
		if result.Status.IsFinal() {
			return true, nil
		}
		next, err := provider.GetTransferStatus(ctx, result.ExternalID)
		if err != nil {
			s.logger.Warn("Settlement status poll failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("external_id", result.ExternalID),
				zap.Error(err))
			return false, nil
		}
		if next.SourceTxHash == "" {
			next.SourceTxHash = result.SourceTxHash
		}
		result = next
		return result.Status.IsFinal(), nil
	})
	if stderrors.Is(err, await.ErrTimeout) {
		return nil, fmt.Errorf("settlement timed out after %s", s.config.SettlementTimeout)
	}
	if err != nil {
		return nil, err
	}
	if result.Status == settlement.TransferStatusFailed {
		return nil, errProviderReportedFailure
	}
	return result, nil
}

// finalYield prefers a provider-reported yield, then accrual at the
// provider's APY, then accrual at the baseline.
func (s *Service) finalYield(ctx context.Context, tx *entities.BridgeTransaction, provider settlement.Provider, result *settlement.TransferResult) (decimal.Decimal, string) {
	if result.AccruedYield.IsPositive() {
		return result.AccruedYield, "provider"
	}

	elapsed := s.now().Sub(tx.CreatedAt)
	if src, ok := provider.(yield.APYSource); ok {
		apy, err := src.CurrentAPY(ctx, tx.Token)
		if err == nil && apy.IsPositive() {
			return s.yield.Final(tx.DestinationAmount, elapsed, apy), "provider_apy"
		}
		if err != nil {
			s.logger.Warn("Provider APY unavailable, using baseline",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err))
		}
	}
	return s.yield.Final(tx.DestinationAmount, elapsed, decimal.Zero), "baseline"
}

// retryable reports why tx cannot be retried. A transfer already held by a
// provider blocks Retry unless the provider reports it failed.
func (s *Service) retryable(ctx context.Context, tx *entities.BridgeTransaction) error {
	if !tx.Status.CanRetry() {
		return errors.ConflictError("bridge transaction", fmt.Sprintf("cannot retry from %s", tx.Status))
	}
	if tx.ExternalSettlementID == "" {
		return nil
	}

	provider, err := s.router.Route(tx.Token)
	if err != nil {
		return err
	}
	result, err := provider.GetTransferStatus(ctx, tx.ExternalSettlementID)
	if err != nil {
		return errors.ServiceUnavailableError("settlement status", err)
	}
	if result.Status != settlement.TransferStatusFailed {
		return errors.ConflictError("bridge transaction",
			fmt.Sprintf("settlement %s is %s at the provider", tx.ExternalSettlementID, result.Status))
	}
	return nil
}
