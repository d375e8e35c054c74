package claim

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// maxBump is the largest bump seed a program derived address can have.
const maxBump = 255

// CostModel estimates the compute units a claim consumes. The per-ecosystem
// figures are measured offline and are tunable, not protocol constants.
type CostModel struct {
	SafetyMargin uint32               `toml:"safety_margin"`
	PerBumpCost  uint32               `toml:"per_bump_cost"`
	ATACreation  uint32               `toml:"ata_creation"`
	Ecosystems   map[Ecosystem]uint32 `toml:"-"`
}

// DefaultCostModel returns the compiled-in cost table.
func DefaultCostModel() CostModel {
	return CostModel{
		SafetyMargin: 10_000,
		PerBumpCost:  1_500,
		ATACreation:  25_000,
		Ecosystems: map[Ecosystem]uint32{
			EcosystemDiscord:   31_000,
			EcosystemEVM:       38_000,
			EcosystemSolana:    26_000,
			EcosystemSui:       33_000,
			EcosystemAptos:     33_000,
			EcosystemCosmwasm:  42_000,
			EcosystemInjective: 38_000,
		},
	}
}

// ComputeUnitLimit returns the limit for a claim from eco whose receipt
// account was derived with bump, optionally creating the token account.
func (m CostModel) ComputeUnitLimit(eco Ecosystem, bump uint8, createsATA bool) (uint32, error) {
	cost, ok := m.Ecosystems[eco]
	if !ok {
		return 0, fmt.Errorf("no compute cost for %s: %w", eco, ErrUnknownEcosystem)
	}
	limit := m.SafetyMargin + cost + uint32(maxBump-int(bump))*m.PerBumpCost
	if createsATA {
		limit += m.ATACreation
	}
	return limit, nil
}

// costFile is the on-disk form of a CostModel. Ecosystems are keyed by name.
type costFile struct {
	SafetyMargin *uint32          `toml:"safety_margin"`
	PerBumpCost  *uint32          `toml:"per_bump_cost"`
	ATACreation  *uint32          `toml:"ata_creation"`
	Ecosystems   map[string]uint32 `toml:"ecosystems"`
}

// LoadCostModel reads a TOML cost table, overriding the defaults with
// whichever values the file sets.
//
//	safety_margin = 10000
//	per_bump_cost = 1500
//	ata_creation = 25000
//
//	[ecosystems]
//	evm = 40000
func LoadCostModel(path string) (CostModel, error) {
	var f costFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return CostModel{}, fmt.Errorf("failed to parse cost file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return CostModel{}, fmt.Errorf("unknown keys in cost file %s: %v", path, undecoded)
	}
	return f.apply(DefaultCostModel())
}

// ParseCostModel is LoadCostModel for an in-memory document.
func ParseCostModel(doc string) (CostModel, error) {
	var f costFile
	if _, err := toml.Decode(doc, &f); err != nil {
		return CostModel{}, fmt.Errorf("failed to parse cost table: %w", err)
	}
	return f.apply(DefaultCostModel())
}

func (f costFile) apply(m CostModel) (CostModel, error) {
	if f.SafetyMargin != nil {
		m.SafetyMargin = *f.SafetyMargin
	}
	if f.PerBumpCost != nil {
		m.PerBumpCost = *f.PerBumpCost
	}
	if f.ATACreation != nil {
		m.ATACreation = *f.ATACreation
	}
	for name, cost := range f.Ecosystems {
		eco, err := ParseEcosystem(name)
		if err != nil {
			return CostModel{}, fmt.Errorf("cost table: %w", err)
		}
		m.Ecosystems[eco] = cost
	}
	return m, nil
}
