package claim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/brojonat/dispenser/service/solana"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	ed25519PublicKeySize = 32
	ed25519SignatureSize = 64

	// 2-byte header followed by one 14-byte offsets record.
	ed25519HeaderSize = 16
	// Offsets refer to data within the verification instruction itself.
	ed25519SelfIndex = math.MaxUint16

	secp256k1SignatureSize = 64
	ethAddressSize         = 20

	// 1-byte count followed by one 11-byte offsets record.
	secp256k1HeaderSize = 12
)

// Ed25519VerifyInstruction builds an ed25519 precompile instruction checking
// one signature whose key, signature and message are embedded in the payload.
func Ed25519VerifyInstruction(pubkey, signature, message []byte) (solanago.Instruction, error) {
	if len(pubkey) != ed25519PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d: %w", ed25519PublicKeySize, len(pubkey), ErrInvalidSignedMessage)
	}
	if len(signature) != ed25519SignatureSize {
		return nil, fmt.Errorf("ed25519 signature must be %d bytes, got %d: %w", ed25519SignatureSize, len(signature), ErrInvalidSignedMessage)
	}

	pubkeyOffset := ed25519HeaderSize
	sigOffset := pubkeyOffset + ed25519PublicKeySize
	msgOffset := sigOffset + ed25519SignatureSize
	if msgOffset+len(message) > math.MaxUint16 {
		return nil, fmt.Errorf("message too long: %d bytes: %w", len(message), ErrInvalidSignedMessage)
	}

	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	fields := []uint16{
		uint16(sigOffset), ed25519SelfIndex,
		uint16(pubkeyOffset), ed25519SelfIndex,
		uint16(msgOffset), uint16(len(message)), ed25519SelfIndex,
	}
	if err := enc.WriteBytes([]byte{1, 0}, false); err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := enc.WriteUint16(f, binary.LittleEndian); err != nil {
			return nil, err
		}
	}
	for _, part := range [][]byte{pubkey, signature, message} {
		if err := enc.WriteBytes(part, false); err != nil {
			return nil, err
		}
	}
	return solanago.NewInstruction(solana.Ed25519ProgramID, solanago.AccountMetaSlice{}, buf.Bytes()), nil
}

// Secp256k1VerifyInstruction builds a secp256k1 precompile instruction that
// recovers the signer of keccak256(message) and compares it to ethAddress.
// ixIndex is the position of this instruction in the transaction.
func Secp256k1VerifyInstruction(ethAddress, signature []byte, recoveryID uint8, message []byte, ixIndex uint8) (solanago.Instruction, error) {
	if len(ethAddress) != ethAddressSize {
		return nil, fmt.Errorf("eth address must be %d bytes, got %d: %w", ethAddressSize, len(ethAddress), ErrInvalidSignedMessage)
	}
	if len(signature) != secp256k1SignatureSize {
		return nil, fmt.Errorf("secp256k1 signature must be %d bytes, got %d: %w", secp256k1SignatureSize, len(signature), ErrInvalidSignedMessage)
	}

	addrOffset := secp256k1HeaderSize
	sigOffset := addrOffset + ethAddressSize
	msgOffset := sigOffset + secp256k1SignatureSize + 1
	if msgOffset+len(message) > math.MaxUint16 {
		return nil, fmt.Errorf("message too long: %d bytes: %w", len(message), ErrInvalidSignedMessage)
	}

	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	write := func(steps ...func() error) error {
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	}
	u16 := func(v int) func() error { return func() error { return enc.WriteUint16(uint16(v), binary.LittleEndian) } }
	u8 := func(v uint8) func() error { return func() error { return enc.WriteUint8(v) } }
	raw := func(b []byte) func() error { return func() error { return enc.WriteBytes(b, false) } }

	err := write(
		u8(1),
		u16(sigOffset), u8(ixIndex),
		u16(addrOffset), u8(ixIndex),
		u16(msgOffset), u16(len(message)), u8(ixIndex),
		raw(ethAddress),
		raw(signature), u8(recoveryID),
		raw(message),
	)
	if err != nil {
		return nil, fmt.Errorf("encode secp256k1 instruction: %w", err)
	}
	return solanago.NewInstruction(solana.Secp256k1ProgramID, solanago.AccountMetaSlice{}, buf.Bytes()), nil
}
