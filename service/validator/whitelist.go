package validator

import (
	"bytes"
	"sort"

	solanago "github.com/gagliardetto/solana-go"
)

// Whitelist is the immutable set of programs a funded transaction may invoke.
// The zero value is an empty whitelist that rejects every program.
type Whitelist struct {
	programs map[solanago.PublicKey]struct{}
}

// NewWhitelist builds a whitelist from the given program IDs. Duplicates are ignored.
func NewWhitelist(programs ...solanago.PublicKey) Whitelist {
	set := make(map[solanago.PublicKey]struct{}, len(programs))
	for _, p := range programs {
		set[p] = struct{}{}
	}
	return Whitelist{programs: set}
}

// Contains reports whether program is whitelisted.
func (w Whitelist) Contains(program solanago.PublicKey) bool {
	_, ok := w.programs[program]
	return ok
}

// Len returns the number of whitelisted programs.
func (w Whitelist) Len() int {
	return len(w.programs)
}

// Programs returns the whitelisted programs in a stable order.
func (w Whitelist) Programs() []solanago.PublicKey {
	out := make([]solanago.PublicKey, 0, len(w.programs))
	for p := range w.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// Union returns a new whitelist containing the programs of both.
func (w Whitelist) Union(other Whitelist) Whitelist {
	programs := append(w.Programs(), other.Programs()...)
	return NewWhitelist(programs...)
}
