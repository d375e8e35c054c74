package claim

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/dispenser/service/metrics"
	"github.com/brojonat/dispenser/service/solana"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// LedgerReader is the remote account state the builder consults.
type LedgerReader interface {
	AccountExists(ctx context.Context, account solanago.PublicKey) (bool, error)
	LatestBlockhash(ctx context.Context) (solanago.Hash, error)
}

// Config holds the deployment-specific parameters of claim transactions.
type Config struct {
	ProgramID        solanago.PublicKey
	Mint             solanago.PublicKey
	ComputeUnitPrice uint64
	Costs            CostModel

	// MerkleRoot, when set, is checked against every request's proof.
	MerkleRoot *Hash
}

// ClaimRequest is everything needed to assemble one claim transaction.
type ClaimRequest struct {
	Funder        solanago.PublicKey
	Treasury      solanago.PublicKey
	Claimant      solanago.PublicKey
	Info          ClaimInfo
	Proof         Proof
	SignedMessage *SignedMessage
}

// Builder assembles unsigned claim transactions.
type Builder struct {
	cfg     Config
	ledger  LedgerReader
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBuilder creates a Builder. If m is nil, no metrics are recorded.
func NewBuilder(cfg Config, ledger LedgerReader, m *metrics.Metrics, logger *slog.Logger) *Builder {
	if cfg.Costs.Ecosystems == nil {
		cfg.Costs = DefaultCostModel()
	}
	return &Builder{
		cfg:     cfg,
		ledger:  ledger,
		metrics: m,
		logger:  logger.With("component", "claim_builder"),
	}
}

var claimDiscriminator = anchorDiscriminator("claim")

func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// ConfigPDA returns the program's config account.
func (b *Builder) ConfigPDA() (solanago.PublicKey, error) {
	addr, _, err := solanago.FindProgramAddress([][]byte{[]byte("config")}, b.cfg.ProgramID)
	return addr, err
}

// ReceiptPDA returns the receipt account that marks a leaf as claimed, and its bump.
func (b *Builder) ReceiptPDA(leaf Hash) (solanago.PublicKey, uint8, error) {
	return solanago.FindProgramAddress([][]byte{[]byte("receipt"), leaf[:]}, b.cfg.ProgramID)
}

// BuildClaim assembles, in order: the ecosystem's signature verification
// instruction, token account creation if needed, the claim instruction, the
// compute unit limit and the compute unit price. The result is a v0
// transaction paid by the funder with no signatures.
func (b *Builder) BuildClaim(ctx context.Context, req ClaimRequest) (tx *solanago.Transaction, err error) {
	eco := req.Info.Ecosystem
	var limit uint32
	defer func() {
		if b.metrics != nil {
			b.metrics.RecordClaimBuilt(eco.String(), limit, err)
		}
		if errors.Is(err, ErrUnknownEcosystem) || errors.Is(err, ErrMissingSignedMessage) {
			b.logger.ErrorContext(ctx, "cannot build claim",
				"error", err,
				"ecosystem", eco.String(),
				"identity", req.Info.Identity,
				"claimant", req.Claimant.String(),
				"funder", req.Funder.String(),
			)
		}
	}()

	variant, err := VariantFor(eco)
	if err != nil {
		return nil, err
	}

	leaf, err := LeafHash(req.Info)
	if err != nil {
		return nil, err
	}
	if b.cfg.MerkleRoot != nil && RootFromProof(leaf, req.Proof) != *b.cfg.MerkleRoot {
		return nil, fmt.Errorf("%s/%s: %w", eco, req.Info.Identity, ErrProofMismatch)
	}

	var ixs []solanago.Instruction
	in := identityInput{Info: req.Info, Message: req.SignedMessage}

	// 1. signature verification
	in.VerifyIndex = uint8(len(ixs))
	verifyIx, err := variant.VerificationInstruction(in)
	if err != nil {
		return nil, err
	}
	if verifyIx != nil {
		ixs = append(ixs, verifyIx)
	}

	// 2. claimant token account
	ata, _, err := solanago.FindAssociatedTokenAddress(req.Claimant, b.cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive claimant token account: %w", err)
	}
	exists, err := b.ledger.AccountExists(ctx, ata)
	if err != nil {
		return nil, fmt.Errorf("check claimant token account: %w", err)
	}
	createsATA := !exists
	if createsATA {
		ixs = append(ixs, solana.CreateIdempotentATAInstruction(req.Funder, ata, req.Claimant, b.cfg.Mint))
	}

	// 3. claim
	receipt, bump, err := b.ReceiptPDA(leaf)
	if err != nil {
		return nil, fmt.Errorf("derive receipt account: %w", err)
	}
	claimIx, err := b.claimInstruction(variant, in, req, ata, receipt)
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, claimIx)

	// 4. compute unit limit
	limit, err = b.cfg.Costs.ComputeUnitLimit(eco, bump, createsATA)
	if err != nil {
		return nil, err
	}
	limitIx, err := solana.ComputeUnitLimitInstruction(limit)
	if err != nil {
		return nil, err
	}

	// 5. compute unit price
	priceIx, err := solana.ComputeUnitPriceInstruction(b.cfg.ComputeUnitPrice)
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, limitIx, priceIx)

	blockhash, err := b.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}
	tx, err = solanago.NewTransaction(ixs, blockhash, solanago.TransactionPayer(req.Funder))
	if err != nil {
		return nil, fmt.Errorf("compile claim transaction: %w", err)
	}
	tx.Message.SetVersion(solanago.MessageVersionV0)

	b.logger.DebugContext(ctx, "built claim transaction",
		"ecosystem", eco.String(),
		"claimant", req.Claimant.String(),
		"creates_ata", createsATA,
		"receipt_bump", bump,
		"compute_unit_limit", limit,
		"instructions", len(ixs),
	)
	return tx, nil
}

func (b *Builder) claimInstruction(variant Variant, in identityInput, req ClaimRequest, ata, receipt solanago.PublicKey) (solanago.Instruction, error) {
	config, err := b.ConfigPDA()
	if err != nil {
		return nil, fmt.Errorf("derive config account: %w", err)
	}

	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.WriteBytes(claimDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(req.Info.Amount, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := variant.EncodeIdentity(enc, in); err != nil {
		return nil, fmt.Errorf("encode proof of identity: %w", err)
	}
	if err := enc.WriteUint32(uint32(len(req.Proof)), binary.LittleEndian); err != nil {
		return nil, err
	}
	for _, h := range req.Proof {
		if err := enc.WriteBytes(h[:], false); err != nil {
			return nil, err
		}
	}

	return solanago.NewInstruction(b.cfg.ProgramID, solanago.AccountMetaSlice{
		solanago.NewAccountMeta(req.Funder, true, true),
		solanago.NewAccountMeta(req.Claimant, false, true),
		solanago.NewAccountMeta(ata, true, false),
		solanago.NewAccountMeta(config, false, false),
		solanago.NewAccountMeta(b.cfg.Mint, false, false),
		solanago.NewAccountMeta(req.Treasury, true, false),
		solanago.NewAccountMeta(solana.SysvarInstructionsID, false, false),
		solanago.NewAccountMeta(solana.SystemProgramID, false, false),
		solanago.NewAccountMeta(solana.TokenProgramID, false, false),
		solanago.NewAccountMeta(solana.AssociatedTokenProgramID, false, false),
		solanago.NewAccountMeta(receipt, true, false),
	}, buf.Bytes()), nil
}
