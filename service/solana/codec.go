package solana

import (
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// ComputeBudgetProgramID sets compute unit limits and priority fees
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

	// Ed25519ProgramID is the ed25519 signature-verification precompile
	Ed25519ProgramID = solana.MustPublicKeyFromBase58("Ed25519SigVerify111111111111111111111111111")

	// Secp256k1ProgramID is the secp256k1 (ethereum-style) signature-verification precompile
	Secp256k1ProgramID = solana.MustPublicKeyFromBase58("KeccakSecp256k11111111111111111111111111111")

	// AssociatedTokenProgramID creates associated token accounts
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// SystemProgramID is the native system program
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// SysvarInstructionsID exposes the executing transaction's instructions to programs
	SysvarInstructionsID = solana.MustPublicKeyFromBase58("Sysvar1nstructions1111111111111111111111111")
)

// ErrNotRequiredSigner is returned when signing with a key the message does not require.
var ErrNotRequiredSigner = errors.New("not a required signer")

// maxTransactionSize is the Solana packet limit for a serialized transaction.
const maxTransactionSize = 1232

// DecodeTransaction parses a wire-format transaction (legacy or versioned).
func DecodeTransaction(data []byte) (*solana.Transaction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty transaction")
	}
	if len(data) > maxTransactionSize {
		return nil, fmt.Errorf("transaction too large: %d bytes (max %d)", len(data), maxTransactionSize)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// DecodeTransactionBase64 decodes a base64 string and parses the transaction.
func DecodeTransactionBase64(b64 string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	return DecodeTransaction(data)
}

// EncodeTransaction serializes a transaction to wire format.
func EncodeTransaction(tx *solana.Transaction) ([]byte, error) {
	data, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return data, nil
}

// EncodeTransactionBase64 serializes a transaction and base64 encodes it.
func EncodeTransactionBase64(tx *solana.Transaction) (string, error) {
	data, err := EncodeTransaction(tx)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ProgramIDAt resolves the program of a compiled instruction.
// Program IDs are always static keys, even in versioned messages.
func ProgramIDAt(tx *solana.Transaction, ix solana.CompiledInstruction) (solana.PublicKey, bool) {
	idx := int(ix.ProgramIDIndex)
	if idx >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return tx.Message.AccountKeys[idx], true
}

// AccountAt resolves the i-th account of a compiled instruction against the
// static account keys. Accounts loaded from lookup tables are not resolved.
func AccountAt(tx *solana.Transaction, ix solana.CompiledInstruction, i int) (solana.PublicKey, bool) {
	if i < 0 || i >= len(ix.Accounts) {
		return solana.PublicKey{}, false
	}
	idx := int(ix.Accounts[i])
	if idx >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return tx.Message.AccountKeys[idx], true
}

// SignTransactionAs adds the signature of key at its required-signer slot,
// leaving every other signature untouched.
func SignTransactionAs(tx *solana.Transaction, key solana.PrivateKey) error {
	pub := key.PublicKey()
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	if numSigners > len(tx.Message.AccountKeys) {
		return fmt.Errorf("malformed message: %d signers but %d keys", numSigners, len(tx.Message.AccountKeys))
	}

	slot := -1
	for i := 0; i < numSigners; i++ {
		if tx.Message.AccountKeys[i].Equals(pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("%s: %w", pub, ErrNotRequiredSigner)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}

	for len(tx.Signatures) < numSigners {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[slot] = sig
	return nil
}
