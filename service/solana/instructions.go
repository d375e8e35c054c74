package solana

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ComputeUnitLimitInstruction builds a compute budget SetComputeUnitLimit instruction.
func ComputeUnitLimitInstruction(units uint32) (solana.Instruction, error) {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	if err := enc.WriteUint8(2); err != nil {
		return nil, fmt.Errorf("encode compute unit limit: %w", err)
	}
	if err := enc.WriteUint32(units, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("encode compute unit limit: %w", err)
	}
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, buf.Bytes()), nil
}

// ComputeUnitPriceInstruction builds a compute budget SetComputeUnitPrice instruction.
func ComputeUnitPriceInstruction(microLamports uint64) (solana.Instruction, error) {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	if err := enc.WriteUint8(3); err != nil {
		return nil, fmt.Errorf("encode compute unit price: %w", err)
	}
	if err := enc.WriteUint64(microLamports, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("encode compute unit price: %w", err)
	}
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, buf.Bytes()), nil
}

// CreateIdempotentATAInstruction creates the associated token account of
// (owner, mint) paid by payer. It succeeds if the account already exists.
func CreateIdempotentATAInstruction(payer, ata, owner, mint solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(AssociatedTokenProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(SystemProgramID, false, false),
		solana.NewAccountMeta(TokenProgramID, false, false),
	}, []byte{1})
}
