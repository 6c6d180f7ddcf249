package bridge

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	"github.com/rail-service/yield_bridge/internal/domain/errors"
)

// quote is the deterministic pricing of a transfer
type quote struct {
	fee      decimal.Decimal
	feeRate  decimal.Decimal
	duration time.Duration
	yield    decimal.Decimal
}

// FeeRate is BaseFeeRate within an ecosystem and the larger of base and
// surcharge across ecosystems, capped at MaxFeeRatio.
func (s *Service) FeeRate(src, dst entities.ChainID) decimal.Decimal {
	rate := s.config.BaseFeeRate
	if s.registry.Ecosystem(src) != s.registry.Ecosystem(dst) {
		rate = decimal.Max(rate, s.config.CrossEcosystemSurcharge)
	}
	return decimal.Min(rate, s.config.MaxFeeRatio)
}

// EstimateBridgeTime depends only on the two chain configs
func (s *Service) EstimateBridgeTime(src, dst entities.ChainID) time.Duration {
	return s.registry.ConfirmationLatency(src) + s.registry.ConfirmationLatency(dst) + s.config.SettlementOverhead
}

func (s *Service) quote(src, dst entities.ChainID, amount decimal.Decimal) quote {
	rate := s.FeeRate(src, dst)
	fee := amount.Mul(rate).Truncate(8)
	duration := s.EstimateBridgeTime(src, dst)
	return quote{
		fee:      fee,
		feeRate:  rate,
		duration: duration,
		yield:    s.yield.Estimate(amount.Sub(fee), duration),
	}
}

// GetBridgeEstimate quotes fee, time and projected yield without side
// effects. The charged fee is always the policy fee; the settlement
// provider's quote rides along when it answers.
func (s *Service) GetBridgeEstimate(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal, token string) (*entities.BridgeEstimate, error) {
	if err := s.validateRoute(src, dst, amount, token); err != nil {
		return nil, err
	}
	q := s.quote(src, dst, amount)
	est := &entities.BridgeEstimate{
		Fee:               q.fee,
		FeeRate:           q.feeRate,
		DestinationAmount: amount.Sub(q.fee),
		EstimatedTime:     q.duration,
		EstimatedYield:    q.yield,
		APY:               s.yield.BaselineAPY(),
	}

	provider, err := s.router.Route(token)
	if err != nil {
		return nil, err
	}
	est.SettlementProvider = string(provider.Kind())
	providerFee, err := provider.EstimateFee(ctx, src, dst, est.DestinationAmount)
	if err != nil {
		s.logger.Warn("Provider fee quote unavailable",
			zap.String("provider", est.SettlementProvider),
			zap.String("token", token),
			zap.Error(err))
		return est, nil
	}
	est.ProviderFee = &providerFee
	return est, nil
}

func (s *Service) validateRoute(src, dst entities.ChainID, amount decimal.Decimal, token string) error {
	if !s.registry.IsSupported(src) {
		return errors.ValidationError("source_chain", "unsupported source chain: "+string(src))
	}
	if !s.registry.IsSupported(dst) {
		return errors.ValidationError("destination_chain", "unsupported destination chain: "+string(dst))
	}
	if src == dst {
		return errors.ValidationError("destination_chain", "source and destination chains must differ")
	}
	if !amount.IsPositive() {
		return errors.ValidationError("amount", "amount must be positive")
	}
	if !s.router.Supports(token) {
		return errors.ValidationError("token", "unsupported token: "+token)
	}
	return nil
}

func (s *Service) validateRequest(req *entities.BridgeRequest) error {
	if req == nil {
		return errors.ValidationError("request", "request is required")
	}
	if err := s.validateRoute(req.SourceChain, req.DestinationChain, req.Amount, req.Token); err != nil {
		return err
	}
	if err := s.registry.ValidateAddress(req.SourceChain, req.SenderAddress); err != nil {
		return errors.ValidationError("sender_address", err.Error())
	}
	if err := s.registry.ValidateAddress(req.DestinationChain, req.RecipientAddress); err != nil {
		return errors.ValidationError("recipient_address", err.Error())
	}
	return nil
}
