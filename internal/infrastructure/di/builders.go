package di

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	"github.com/rail-service/yield_bridge/internal/domain/services/chain"
	"github.com/rail-service/yield_bridge/internal/domain/services/consensus"
	"github.com/rail-service/yield_bridge/internal/domain/services/liquidity"
	"github.com/rail-service/yield_bridge/internal/domain/services/settlement"
	"github.com/rail-service/yield_bridge/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/yield_bridge/internal/infrastructure/adapters/vault"
	"github.com/rail-service/yield_bridge/internal/infrastructure/config"
	"github.com/rail-service/yield_bridge/pkg/security"
)

// ephemeralValidators is the size of the generated development set
const ephemeralValidators = 3

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// BuildRegistry converts the configured chain catalog
func BuildRegistry(cfgs []config.ChainConfig) (*chain.Registry, error) {
	chains := make([]chain.Config, 0, len(cfgs))
	for _, c := range cfgs {
		chains = append(chains, chain.Config{
			ID:            entities.ChainID(c.ID),
			Name:          c.Name,
			Ecosystem:     entities.Ecosystem(c.Ecosystem),
			AddressFormat: chain.AddressFormat(c.AddressFormat),
			Confirmations: c.Confirmations,
			BlockTime:     time.Duration(c.BlockTimeMs) * time.Millisecond,
			Testnet:       c.Testnet,
			CCTPDomain:    c.CCTPDomain,
		})
	}
	return chain.NewRegistry(chains)
}

// PoolsFromConfig seeds the liquidity manager before persisted state is loaded
func PoolsFromConfig(cfgs []config.PoolConfig) []entities.LiquidityPool {
	pools := make([]entities.LiquidityPool, 0, len(cfgs))
	for _, c := range cfgs {
		src, dst := entities.Ecosystem(c.SourceEcosystem), entities.Ecosystem(c.DestinationEcosystem)
		pools = append(pools, entities.LiquidityPool{
			ID:                   liquidity.PoolID(c.Token, src, dst),
			SourceEcosystem:      src,
			DestinationEcosystem: dst,
			Token:                strings.ToUpper(c.Token),
			SourceBalance:        decimal.NewFromFloat(c.SourceBalance),
			DestinationBalance:   decimal.NewFromFloat(c.DestinationBalance),
			RebalanceThreshold:   decimal.NewFromFloat(c.RebalanceThreshold),
			MinLiquidity:         decimal.NewFromFloat(c.MinLiquidity),
			MaxLiquidity:         decimal.NewFromFloat(c.MaxLiquidity),
			IsActive:             c.Active,
		})
	}
	return pools
}

// BuildValidators creates the validator set for the configured mode.
// Local mode without keys generates a throwaway set for development.
func BuildValidators(cfg config.ValidatorsConfig, logger *zap.Logger) ([]consensus.Validator, error) {
	var out []consensus.Validator
	switch cfg.Mode {
	case "local":
		for i, k := range cfg.LocalKeys {
			s, err := consensus.NewLocalSigner(k)
			if err != nil {
				return nil, fmt.Errorf("local validator %d: %w", i, err)
			}
			out = append(out, s)
		}
		if len(cfg.LocalKeys) == 0 {
			for i := 0; i < ephemeralValidators; i++ {
				key, err := crypto.GenerateKey()
				if err != nil {
					return nil, fmt.Errorf("failed to generate validator key: %w", err)
				}
				out = append(out, consensus.NewLocalSignerFromKey(key))
			}
			logger.Warn("Using ephemeral local validators", zap.Int("count", ephemeralValidators))
		}
	case "remote":
		for _, r := range cfg.Remote {
			if !common.IsHexAddress(r.Address) {
				return nil, fmt.Errorf("remote validator has invalid address %q", r.Address)
			}
			out = append(out, consensus.NewRemoteValidator(common.HexToAddress(r.Address), r.URL, seconds(cfg.Timeout), logger))
		}
	default:
		return nil, fmt.Errorf("unknown validator mode %q", cfg.Mode)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no validators configured for mode %q", cfg.Mode)
	}
	return out, nil
}

// SettlementServices holds the outbound settlement clients and the token router
type SettlementServices struct {
	VaultClient *vault.Client
	CCTPClient  *cctp.Client
	Router      *settlement.Router
}

// SettlementServicesBuilder builds both settlement paths over one vault client
type SettlementServicesBuilder struct {
	cfg      *config.Config
	registry *chain.Registry
	logger   *zap.Logger
}

func NewSettlementServicesBuilder(cfg *config.Config, registry *chain.Registry, logger *zap.Logger) *SettlementServicesBuilder {
	return &SettlementServicesBuilder{cfg: cfg, registry: registry, logger: logger}
}

func (b *SettlementServicesBuilder) Build() (*SettlementServices, error) {
	vaultClient := vault.NewClient(vault.Config{
		BaseURL:    b.cfg.Vault.BaseURL,
		APIKey:     b.cfg.Vault.APIKey,
		Timeout:    seconds(b.cfg.Vault.Timeout),
		MaxRetries: b.cfg.Vault.MaxRetries,
	}, b.logger)

	cctpClient := cctp.NewClient(cctp.Config{
		BaseURL:     b.cfg.CCTP.BaseURL,
		Environment: b.cfg.CCTP.Environment,
		Timeout:     seconds(b.cfg.CCTP.Timeout),
	}, b.logger)

	router, err := settlement.NewRouter(
		b.cfg.Bridge.PrimaryToken,
		b.cfg.Bridge.PoolTokens,
		cctp.NewFastProvider(cctpClient, vaultClient, b.registry, b.logger),
		vault.NewPoolProvider(vaultClient, b.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build settlement router: %w", err)
	}

	b.logger.Info("Settlement paths configured",
		zap.String("vault_url", b.cfg.Vault.BaseURL),
		zap.String("vault_api_key", security.MaskAPIKey(b.cfg.Vault.APIKey)),
		zap.String("primary_token", b.cfg.Bridge.PrimaryToken),
		zap.Strings("pool_tokens", b.cfg.Bridge.PoolTokens))

	return &SettlementServices{VaultClient: vaultClient, CCTPClient: cctpClient, Router: router}, nil
}

// BuildConsensus creates the validator set and the coordinator that polls it
func BuildConsensus(cfg *config.Config, logger *zap.Logger) (*consensus.Coordinator, error) {
	validators, err := BuildValidators(cfg.Validators, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build validators: %w", err)
	}
	coordinator, err := consensus.NewCoordinator(validators, cfg.Bridge.ConsensusTimeoutDuration(), logger,
		consensus.WithResultRetention(cfg.Bridge.ConsensusResultTTLDuration(), cfg.Bridge.ConsensusMaxResults))
	if err != nil {
		return nil, fmt.Errorf("failed to build consensus coordinator: %w", err)
	}
	return coordinator, nil
}
