package claim

import (
	"errors"
	"fmt"
	"strings"
)

// Ecosystem identifies where a claimant's identity lives. Values are the
// borsh variant indices used by the claim program.
type Ecosystem uint8

const (
	EcosystemDiscord Ecosystem = iota
	EcosystemEVM
	EcosystemSolana
	EcosystemSui
	EcosystemAptos
	EcosystemCosmwasm
	EcosystemInjective
)

var ecosystemNames = map[Ecosystem]string{
	EcosystemDiscord:   "discord",
	EcosystemEVM:       "evm",
	EcosystemSolana:    "solana",
	EcosystemSui:       "sui",
	EcosystemAptos:     "aptos",
	EcosystemCosmwasm:  "cosmwasm",
	EcosystemInjective: "injective",
}

// ErrUnknownEcosystem is returned for ecosystem tags without an implementation.
var ErrUnknownEcosystem = errors.New("unknown ecosystem")

func (e Ecosystem) String() string {
	if name, ok := ecosystemNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ecosystem(%d)", uint8(e))
}

// Valid reports whether e is a known ecosystem.
func (e Ecosystem) Valid() bool {
	_, ok := ecosystemNames[e]
	return ok
}

// ParseEcosystem parses the lower-case ecosystem name.
func ParseEcosystem(s string) (Ecosystem, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for eco, n := range ecosystemNames {
		if n == name {
			return eco, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownEcosystem)
}

// Ecosystems returns every known ecosystem in variant order.
func Ecosystems() []Ecosystem {
	return []Ecosystem{
		EcosystemDiscord,
		EcosystemEVM,
		EcosystemSolana,
		EcosystemSui,
		EcosystemAptos,
		EcosystemCosmwasm,
		EcosystemInjective,
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Ecosystem) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%d: %w", uint8(e), ErrUnknownEcosystem)
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Ecosystem) UnmarshalText(text []byte) error {
	parsed, err := ParseEcosystem(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
