package funder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// ErrUnknownFunder is returned when no key is held for a funder identity.
var ErrUnknownFunder = errors.New("unknown funder")

// Registry maps funder identities (base58 public keys) to their signing keys.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	keys   map[string]solanago.PrivateKey
	logger *slog.Logger
}

// NewRegistry builds a registry from the given keys.
func NewRegistry(keys []solanago.PrivateKey, logger *slog.Logger) *Registry {
	m := make(map[string]solanago.PrivateKey, len(keys))
	for _, k := range keys {
		m[k.PublicKey().String()] = k
	}
	return &Registry{
		keys:   m,
		logger: logger.With("component", "funder"),
	}
}

// LoadKey parses a key given either as a path to a solana-keygen JSON file
// or as a base58 encoded secret.
func LoadKey(raw string) (solanago.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty key")
	}
	if _, err := os.Stat(raw); err == nil {
		key, err := solanago.PrivateKeyFromSolanaKeygenFile(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to read keygen file %s: %w", raw, err)
		}
		return key, nil
	}
	key, err := solanago.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base58 key: %w", err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("base58 key must decode to 64 bytes, got %d", len(key))
	}
	return key, nil
}

// LoadKeys parses every key, failing on the first bad one.
func LoadKeys(values []string) ([]solanago.PrivateKey, error) {
	keys := make([]solanago.PrivateKey, 0, len(values))
	for i, s := range values {
		key, err := LoadKey(s)
		if err != nil {
			return nil, fmt.Errorf("funder key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Has reports whether the registry holds a key for funder.
func (r *Registry) Has(funder string) bool {
	_, ok := r.keys[funder]
	return ok
}

// Funders returns the public keys of every held funder.
func (r *Registry) Funders() []solanago.PublicKey {
	out := make([]solanago.PublicKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, k.PublicKey())
	}
	return out
}

// Sign adds funder's signature to tx, keeping every signature already present.
func (r *Registry) Sign(tx *solanago.Transaction, funder string) error {
	key, ok := r.keys[funder]
	if !ok {
		return fmt.Errorf("%s: %w", funder, ErrUnknownFunder)
	}
	if err := solana.SignTransactionAs(tx, key); err != nil {
		return fmt.Errorf("funder %s: %w", funder, err)
	}
	r.logger.Debug("co-signed transaction", "funder", funder)
	return nil
}
