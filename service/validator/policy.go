package validator

import (
	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Predicate names, used in diagnostics and metrics labels.
const (
	PredicateProgramAppears          = "program_appears"
	PredicateAllProgramsWhitelisted  = "all_programs_whitelisted"
	PredicateIsCurrentVersion        = "is_current_version"
	PredicateComputeBudgetShape      = "compute_budget_shape"
	PredicatePriorityFeeBounded      = "priority_fee_bounded"
	PredicateSignatureCountWithBound = "signature_count_within_bound"
	PredicateAccountCreationBounded  = "account_creation_bounded"
)

// Every predicate below is total: a nil or malformed transaction yields false.

// ProgramAppears reports whether at least one instruction targets program.
func ProgramAppears(tx *solanago.Transaction, program solanago.PublicKey) bool {
	if tx == nil {
		return false
	}
	for _, ix := range tx.Message.Instructions {
		id, ok := solana.ProgramIDAt(tx, ix)
		if ok && id.Equals(program) {
			return true
		}
	}
	return false
}

// AllProgramsWhitelisted reports whether every instruction targets a whitelisted program.
// A transaction without instructions passes vacuously; ProgramAppears rejects it.
func AllProgramsWhitelisted(tx *solanago.Transaction, wl Whitelist) bool {
	if tx == nil {
		return false
	}
	for _, ix := range tx.Message.Instructions {
		id, ok := solana.ProgramIDAt(tx, ix)
		if !ok || !wl.Contains(id) {
			return false
		}
	}
	return true
}

// IsCurrentVersion reports whether the transaction uses the versioned wire format.
func IsCurrentVersion(tx *solanago.Transaction) bool {
	return tx != nil && tx.Message.IsVersioned()
}

// ComputeBudgetInstructionsShapeOK reports whether every compute budget
// instruction is a SetComputeUnitLimit or SetComputeUnitPrice.
func ComputeBudgetInstructionsShapeOK(tx *solanago.Transaction, dec InstructionDecoder) bool {
	if tx == nil {
		return false
	}
	for _, ix := range tx.Message.Instructions {
		id, ok := solana.ProgramIDAt(tx, ix)
		if !ok {
			return false
		}
		if !id.Equals(solana.ComputeBudgetProgramID) {
			continue
		}
		decoded, err := dec.Decode(id, ix.Data)
		if err != nil {
			return false
		}
		if decoded.Kind != KindSetComputeUnitLimit && decoded.Kind != KindSetComputeUnitPrice {
			return false
		}
	}
	return true
}

// PriorityFeeInstructionPresentAndBounded reports whether exactly one
// SetComputeUnitPrice instruction is present with a price strictly below ceiling.
func PriorityFeeInstructionPresentAndBounded(tx *solanago.Transaction, dec InstructionDecoder, ceiling uint64) bool {
	if tx == nil {
		return false
	}
	found := 0
	for _, ix := range tx.Message.Instructions {
		id, ok := solana.ProgramIDAt(tx, ix)
		if !ok {
			return false
		}
		if !id.Equals(solana.ComputeBudgetProgramID) {
			continue
		}
		decoded, err := dec.Decode(id, ix.Data)
		if err != nil || decoded.Kind != KindSetComputeUnitPrice {
			continue
		}
		found++
		if decoded.MicroLamports >= ceiling {
			return false
		}
	}
	return found == 1
}

// CountSignatures returns the signatures the ledger will verify for tx: the
// required signers plus the count byte leading each precompile instruction.
// The precompile count is taken from the payload as-is.
func CountSignatures(tx *solanago.Transaction) (int, bool) {
	if tx == nil {
		return 0, false
	}
	total := int(tx.Message.Header.NumRequiredSignatures)
	for _, ix := range tx.Message.Instructions {
		id, ok := solana.ProgramIDAt(tx, ix)
		if !ok {
			return 0, false
		}
		if !id.Equals(solana.Ed25519ProgramID) && !id.Equals(solana.Secp256k1ProgramID) {
			continue
		}
		if len(ix.Data) == 0 {
			return 0, false
		}
		total += int(ix.Data[0])
	}
	return total, true
}

// SignatureCountWithinBound reports whether CountSignatures(tx) <= max.
func SignatureCountWithinBound(tx *solanago.Transaction, max int) bool {
	n, ok := CountSignatures(tx)
	return ok && n <= max
}

// Account positions in the claim and associated token account instructions.
const (
	claimFunderIndex   = 0
	claimClaimantIndex = 1
	claimATAIndex      = 2
	claimMinAccounts   = 3

	ataPayerIndex    = 0
	ataAccountIndex  = 1
	ataOwnerIndex    = 2
	ataMintIndex     = 3
	ataSystemIndex   = 4
	ataTokenIndex    = 5
	ataAccountsCount = 6
)

// AccountCreationBounded reports whether the transaction creates at most one
// associated token account, and only the claimant's account for mint that the
// claim instruction pays into, funded by the claim's funder. A zero mint skips
// the mint comparison; the account address must still derive from its mint.
func AccountCreationBounded(tx *solanago.Transaction, claimProgram, mint solanago.PublicKey) bool {
	if tx == nil {
		return false
	}
	var claim, create *solanago.CompiledInstruction
	for i := range tx.Message.Instructions {
		ix := &tx.Message.Instructions[i]
		id, ok := solana.ProgramIDAt(tx, *ix)
		if !ok {
			return false
		}
		switch {
		case id.Equals(solana.AssociatedTokenProgramID):
			if create != nil {
				return false
			}
			create = ix
		case id.Equals(claimProgram) && claim == nil:
			claim = ix
		}
	}
	if create == nil {
		return true
	}
	if claim == nil || len(create.Accounts) != ataAccountsCount {
		return false
	}
	// Create (empty or 0) and CreateIdempotent (1).
	if len(create.Data) > 1 || (len(create.Data) == 1 && create.Data[0] > 1) {
		return false
	}

	claimKeys, ok := resolveAccounts(tx, claim, claimMinAccounts)
	if !ok {
		return false
	}
	createKeys, ok := resolveAccounts(tx, create, ataAccountsCount)
	if !ok {
		return false
	}

	owner, account, ataMint := createKeys[ataOwnerIndex], createKeys[ataAccountIndex], createKeys[ataMintIndex]
	if !createKeys[ataPayerIndex].Equals(claimKeys[claimFunderIndex]) ||
		!owner.Equals(claimKeys[claimClaimantIndex]) ||
		!account.Equals(claimKeys[claimATAIndex]) {
		return false
	}
	if !mint.IsZero() && !ataMint.Equals(mint) {
		return false
	}
	if !createKeys[ataSystemIndex].Equals(solana.SystemProgramID) || !createKeys[ataTokenIndex].Equals(solana.TokenProgramID) {
		return false
	}
	derived, _, err := solanago.FindAssociatedTokenAddress(owner, ataMint)
	return err == nil && derived.Equals(account)
}

// resolveAccounts returns the first n accounts of ix, or false if any of them
// is not a static account key.
func resolveAccounts(tx *solanago.Transaction, ix *solanago.CompiledInstruction, n int) ([]solanago.PublicKey, bool) {
	keys := make([]solanago.PublicKey, n)
	for i := range keys {
		key, ok := solana.AccountAt(tx, *ix, i)
		if !ok {
			return nil, false
		}
		keys[i] = key
	}
	return keys, true
}
