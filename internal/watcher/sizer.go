package watcher

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"solana-mirror-engine/internal/domain"
)

// WalletConfig describes one monitored wallet: how its buys are classified
// and how observed sizes translate into our own. Copy size is the source
// size times Multiplier, clamped into [MinCopySol, MaxCopySol].
type WalletConfig struct {
	Address    string          `yaml:"address"`
	Strategy   domain.Strategy `yaml:"strategy"`
	Multiplier decimal.Decimal `yaml:"multiplier"`
	MinCopySol decimal.Decimal `yaml:"min_copy_sol"`
	MaxCopySol decimal.Decimal `yaml:"max_copy_sol"`
}

// UnmarshalYAML implements yaml.Unmarshaler. The decimal fields arrive as
// plain scalars; yaml cannot decode them directly.
func (w *WalletConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Address    string          `yaml:"address"`
		Strategy   domain.Strategy `yaml:"strategy"`
		Multiplier string          `yaml:"multiplier"`
		MinCopySol string          `yaml:"min_copy_sol"`
		MaxCopySol string          `yaml:"max_copy_sol"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	w.Address = raw.Address
	w.Strategy = raw.Strategy

	for _, f := range []struct {
		name string
		src  string
		dst  *decimal.Decimal
	}{
		{"multiplier", raw.Multiplier, &w.Multiplier},
		{"min_copy_sol", raw.MinCopySol, &w.MinCopySol},
		{"max_copy_sol", raw.MaxCopySol, &w.MaxCopySol},
	} {
		if f.src == "" {
			continue
		}
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return fmt.Errorf("wallet %s: parse %s %q: %w", raw.Address, f.name, f.src, err)
		}
		*f.dst = d
	}
	return nil
}

// Sizer converts an observed source trade size into our copy size. A
// non-positive result drops the signal.
type Sizer interface {
	Size(cfg WalletConfig, sourceSol decimal.Decimal) decimal.Decimal
}

// MultiplierSizer scales the source size by the wallet's multiplier and
// clamps into [MinCopySol, MaxCopySol]. Zero bounds are ignored.
type MultiplierSizer struct{}

var _ Sizer = MultiplierSizer{}

func (MultiplierSizer) Size(cfg WalletConfig, sourceSol decimal.Decimal) decimal.Decimal {
	mult := cfg.Multiplier
	if mult.Sign() <= 0 {
		mult = decimal.NewFromInt(1)
	}
	size := sourceSol.Mul(mult)
	if cfg.MinCopySol.Sign() > 0 && size.LessThan(cfg.MinCopySol) {
		size = cfg.MinCopySol
	}
	if cfg.MaxCopySol.Sign() > 0 && size.GreaterThan(cfg.MaxCopySol) {
		size = cfg.MaxCopySol
	}
	return size
}
