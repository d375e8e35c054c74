package validator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/dispenser/service/metrics"
	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultMaxComputeUnitPrice is the exclusive ceiling on the priority fee, in micro-lamports per unit.
	DefaultMaxComputeUnitPrice uint64 = 1_000_000

	// DefaultMaxSignatures bounds ordinary plus precompile-declared signatures.
	DefaultMaxSignatures = 3
)

// ErrNilTransaction is reported by Check for a nil transaction.
var ErrNilTransaction = errors.New("nil transaction")

// Policy is the set of constraints a funded transaction must satisfy.
type Policy struct {
	ClaimProgram        solanago.PublicKey
	Mint                solanago.PublicKey
	Whitelist           Whitelist
	MaxComputeUnitPrice uint64
	MaxSignatures       int
	Decoder             InstructionDecoder
}

// DefaultWhitelist returns the programs a claim transaction legitimately uses.
// The associated token account program is only accepted in the narrow shape
// AccountCreationBounded allows.
func DefaultWhitelist(claimProgram solanago.PublicKey) Whitelist {
	return NewWhitelist(
		claimProgram,
		solana.ComputeBudgetProgramID,
		solana.Ed25519ProgramID,
		solana.Secp256k1ProgramID,
		solana.AssociatedTokenProgramID,
	)
}

// DefaultPolicy returns the standard policy for the given claim program.
func DefaultPolicy(claimProgram solanago.PublicKey) Policy {
	return Policy{
		ClaimProgram:        claimProgram,
		Whitelist:           DefaultWhitelist(claimProgram),
		MaxComputeUnitPrice: DefaultMaxComputeUnitPrice,
		MaxSignatures:       DefaultMaxSignatures,
		Decoder:             ComputeBudgetDecoder{},
	}
}

// violations returns the names of the predicates tx fails, in evaluation order.
func (p Policy) violations(tx *solanago.Transaction) []string {
	decoder := p.Decoder
	if decoder == nil {
		decoder = ComputeBudgetDecoder{}
	}
	checks := []struct {
		name string
		ok   bool
	}{
		{PredicateProgramAppears, ProgramAppears(tx, p.ClaimProgram)},
		{PredicateAllProgramsWhitelisted, AllProgramsWhitelisted(tx, p.Whitelist)},
		{PredicateIsCurrentVersion, IsCurrentVersion(tx)},
		{PredicateComputeBudgetShape, ComputeBudgetInstructionsShapeOK(tx, decoder)},
		{PredicatePriorityFeeBounded, PriorityFeeInstructionPresentAndBounded(tx, decoder, p.MaxComputeUnitPrice)},
		{PredicateSignatureCountWithBound, SignatureCountWithinBound(tx, p.MaxSignatures)},
		{PredicateAccountCreationBounded, AccountCreationBounded(tx, p.ClaimProgram, p.Mint)},
	}
	var failed []string
	for _, c := range checks {
		if !c.ok {
			failed = append(failed, c.name)
		}
	}
	return failed
}

// Validate is the pure form of Validator.Validate: no logging, no metrics.
func Validate(tx *solanago.Transaction, policy Policy) bool {
	return len(policy.violations(tx)) == 0
}

// ValidateAll is the pure batch form. One failing member fails the batch.
func ValidateAll(txs []*solanago.Transaction, policy Policy) bool {
	for _, tx := range txs {
		if !Validate(tx, policy) {
			return false
		}
	}
	return true
}

// PolicyViolation names a predicate a transaction failed.
type PolicyViolation struct {
	Predicate string
}

func (v *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation: %s", v.Predicate)
}

// Validator applies a Policy to decoded transactions.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	policy  Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Validator. If m is nil, no metrics are recorded.
func New(policy Policy, m *metrics.Metrics, logger *slog.Logger) *Validator {
	if policy.Decoder == nil {
		policy.Decoder = ComputeBudgetDecoder{}
	}
	return &Validator{
		policy:  policy,
		metrics: m,
		logger:  logger.With("component", "validator"),
	}
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Check evaluates every predicate and returns a *multierror.Error listing each
// *PolicyViolation, or nil if the transaction is acceptable.
func (v *Validator) Check(tx *solanago.Transaction) error {
	if tx == nil {
		v.record([]string{"nil_transaction"})
		return ErrNilTransaction
	}

	failed := v.policy.violations(tx)
	var result *multierror.Error
	for _, name := range failed {
		result = multierror.Append(result, &PolicyViolation{Predicate: name})
	}
	v.record(failed)

	if len(failed) > 0 {
		v.logger.Debug("transaction rejected",
			"failed_predicates", failed,
			"instructions", len(tx.Message.Instructions),
		)
	}
	return result.ErrorOrNil()
}

// Validate reports whether the transaction satisfies every predicate.
func (v *Validator) Validate(tx *solanago.Transaction) bool {
	return v.Check(tx) == nil
}

// CheckAll validates a batch. It returns the index of the first failing
// transaction along with its error, or (-1, nil) if all pass. Every member is
// evaluated so rejections are counted for each.
func (v *Validator) CheckAll(txs []*solanago.Transaction) (int, error) {
	first, firstErr := -1, error(nil)
	for i, tx := range txs {
		if err := v.Check(tx); err != nil && first < 0 {
			first, firstErr = i, err
		}
	}
	return first, firstErr
}

// ValidateAll reports whether every transaction in the batch is acceptable.
// A single failure rejects the whole batch.
func (v *Validator) ValidateAll(txs []*solanago.Transaction) bool {
	_, err := v.CheckAll(txs)
	return err == nil
}

func (v *Validator) record(failed []string) {
	if v.metrics != nil {
		v.metrics.RecordValidation(failed)
	}
}

// FailedPredicates extracts predicate names from an error returned by Check.
func FailedPredicates(err error) []string {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return []string{err.Error()}
	}
	names := make([]string, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		var pv *PolicyViolation
		if errors.As(e, &pv) {
			names = append(names, pv.Predicate)
		}
	}
	return names
}
