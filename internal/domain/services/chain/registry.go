// Package chain holds the immutable catalog of chains the bridge can route between.
package chain

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
)

// AddressFormat decides how recipient and sender addresses are validated
type AddressFormat string

const (
	AddressFormatEVM    AddressFormat = "evm"
	AddressFormatSolana AddressFormat = "solana"
)

// Config describes one supported chain
type Config struct {
	ID            entities.ChainID
	Name          string
	Ecosystem     entities.Ecosystem
	AddressFormat AddressFormat
	Confirmations int
	BlockTime     time.Duration
	Testnet       bool
	CCTPDomain    uint32
}

// ConfirmationLatency is how long the chain takes to reach the configured finality
func (c Config) ConfirmationLatency() time.Duration {
	return time.Duration(c.Confirmations) * c.BlockTime
}

// Registry is read-only after construction and safe for concurrent use
type Registry struct {
	chains map[entities.ChainID]Config
}

// NewRegistry validates and indexes the given chains
func NewRegistry(chains []Config) (*Registry, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("chain registry requires at least one chain")
	}

	r := &Registry{chains: make(map[entities.ChainID]Config, len(chains))}
	for _, c := range chains {
		if c.ID == "" {
			return nil, fmt.Errorf("chain id is required")
		}
		if _, dup := r.chains[c.ID]; dup {
			return nil, fmt.Errorf("duplicate chain %q", c.ID)
		}
		if c.Confirmations <= 0 || c.BlockTime <= 0 {
			return nil, fmt.Errorf("chain %q needs positive confirmations and block time", c.ID)
		}
		switch c.Ecosystem {
		case entities.EcosystemPrimary, entities.EcosystemSecondary, entities.EcosystemTertiary:
		default:
			return nil, fmt.Errorf("chain %q has unknown ecosystem %q", c.ID, c.Ecosystem)
		}
		switch c.AddressFormat {
		case AddressFormatEVM, AddressFormatSolana:
		default:
			return nil, fmt.Errorf("chain %q has unknown address format %q", c.ID, c.AddressFormat)
		}
		r.chains[c.ID] = c
	}
	return r, nil
}

func (r *Registry) Get(id entities.ChainID) (Config, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// MustGet panics on an unknown chain; only for ids already checked with IsSupported
func (r *Registry) MustGet(id entities.ChainID) Config {
	c, ok := r.chains[id]
	if !ok {
		panic(fmt.Sprintf("chain %q not in registry", id))
	}
	return c
}

func (r *Registry) IsSupported(id entities.ChainID) bool {
	_, ok := r.chains[id]
	return ok
}

// Ecosystem returns EcosystemUnknown for chains not in the catalog
func (r *Registry) Ecosystem(id entities.ChainID) entities.Ecosystem {
	c, ok := r.chains[id]
	if !ok {
		return entities.EcosystemUnknown
	}
	return c.Ecosystem
}

// All returns the catalog sorted by id
func (r *Registry) All() []Config {
	out := make([]Config, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConfirmationLatency returns zero for unknown chains
func (r *Registry) ConfirmationLatency(id entities.ChainID) time.Duration {
	c, ok := r.chains[id]
	if !ok {
		return 0
	}
	return c.ConfirmationLatency()
}

// ValidateAddress checks addr is well formed for the chain's address format
func (r *Registry) ValidateAddress(id entities.ChainID, addr string) error {
	c, ok := r.chains[id]
	if !ok {
		return fmt.Errorf("unsupported chain %q", id)
	}
	switch c.AddressFormat {
	case AddressFormatEVM:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid EVM address %q", addr)
		}
	case AddressFormatSolana:
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("invalid Solana address %q: %w", addr, err)
		}
	}
	return nil
}
