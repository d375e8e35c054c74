package claim

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrMissingSignedMessage is returned when a non-native ecosystem claim carries no signed message.
	ErrMissingSignedMessage = errors.New("signed message required for ecosystem")

	// ErrInvalidSignedMessage is returned when the signed message is malformed or does not verify.
	ErrInvalidSignedMessage = errors.New("invalid signed message")
)

// identityInput is what a variant needs to prove a claimant's identity.
type identityInput struct {
	Info    ClaimInfo
	Message *SignedMessage
	// VerifyIndex is the transaction position of the verification instruction.
	VerifyIndex uint8
}

// Variant owns the ecosystem-specific parts of a claim: the optional
// signature verification instruction and the proof of identity encoding.
type Variant interface {
	Ecosystem() Ecosystem

	// VerificationInstruction returns the precompile instruction to place at
	// in.VerifyIndex, or nil when the ecosystem needs none.
	VerificationInstruction(in identityInput) (solanago.Instruction, error)

	// EncodeIdentity writes the borsh proof-of-identity variant.
	EncodeIdentity(enc *bin.Encoder, in identityInput) error
}

// VariantFor returns the implementation of an ecosystem.
func VariantFor(eco Ecosystem) (Variant, error) {
	switch eco {
	case EcosystemSolana:
		return nativeVariant{}, nil
	case EcosystemDiscord:
		return discordVariant{}, nil
	case EcosystemSui, EcosystemAptos:
		return ed25519Variant{eco: eco}, nil
	case EcosystemEVM, EcosystemInjective:
		return secp256k1Variant{eco: eco}, nil
	case EcosystemCosmwasm:
		return cosmwasmVariant{}, nil
	}
	return nil, fmt.Errorf("%s: %w", eco, ErrUnknownEcosystem)
}

func requireMessage(eco Ecosystem, msg *SignedMessage) error {
	if msg == nil {
		return fmt.Errorf("%s: %w", eco, ErrMissingSignedMessage)
	}
	return nil
}

// nativeVariant: the claimant signs the transaction itself.
type nativeVariant struct{}

func (nativeVariant) Ecosystem() Ecosystem { return EcosystemSolana }

func (nativeVariant) VerificationInstruction(identityInput) (solanago.Instruction, error) {
	return nil, nil
}

func (nativeVariant) EncodeIdentity(enc *bin.Encoder, _ identityInput) error {
	return enc.WriteUint8(uint8(EcosystemSolana))
}

// ed25519Variant covers wallets signing with ed25519 keys.
type ed25519Variant struct {
	eco Ecosystem
}

func (v ed25519Variant) Ecosystem() Ecosystem { return v.eco }

func (v ed25519Variant) VerificationInstruction(in identityInput) (solanago.Instruction, error) {
	if err := requireMessage(v.eco, in.Message); err != nil {
		return nil, err
	}
	msg := in.Message
	if len(msg.PublicKey) != ed25519.PublicKeySize || len(msg.Signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%s: bad key or signature length: %w", v.eco, ErrInvalidSignedMessage)
	}
	if !ed25519.Verify(msg.PublicKey, msg.FullMessage, msg.Signature) {
		return nil, fmt.Errorf("%s: signature does not verify: %w", v.eco, ErrInvalidSignedMessage)
	}
	return Ed25519VerifyInstruction(msg.PublicKey, msg.Signature, msg.FullMessage)
}

func (v ed25519Variant) EncodeIdentity(enc *bin.Encoder, in identityInput) error {
	if err := requireMessage(v.eco, in.Message); err != nil {
		return err
	}
	if err := enc.WriteUint8(uint8(v.eco)); err != nil {
		return err
	}
	if err := enc.WriteBytes(in.Message.PublicKey, false); err != nil {
		return err
	}
	return enc.WriteUint8(in.VerifyIndex)
}

// discordVariant is ed25519 signed by the dispenser guard; the identity
// carried on chain is the username rather than a key.
type discordVariant struct{}

func (discordVariant) Ecosystem() Ecosystem { return EcosystemDiscord }

func (discordVariant) VerificationInstruction(in identityInput) (solanago.Instruction, error) {
	return ed25519Variant{eco: EcosystemDiscord}.VerificationInstruction(in)
}

func (discordVariant) EncodeIdentity(enc *bin.Encoder, in identityInput) error {
	if err := requireMessage(EcosystemDiscord, in.Message); err != nil {
		return err
	}
	if err := enc.WriteUint8(uint8(EcosystemDiscord)); err != nil {
		return err
	}
	if err := writeString(enc, in.Info.Identity); err != nil {
		return err
	}
	return enc.WriteUint8(in.VerifyIndex)
}

// secp256k1Variant covers ethereum-style recoverable signatures.
type secp256k1Variant struct {
	eco Ecosystem
}

func (v secp256k1Variant) Ecosystem() Ecosystem { return v.eco }

func (v secp256k1Variant) VerificationInstruction(in identityInput) (solanago.Instruction, error) {
	if err := requireMessage(v.eco, in.Message); err != nil {
		return nil, err
	}
	msg := in.Message
	if msg.RecoveryID == nil {
		return nil, fmt.Errorf("%s: missing recovery id: %w", v.eco, ErrInvalidSignedMessage)
	}
	addr, err := EthAddress(msg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", v.eco, err)
	}
	if err := verifyRecoverable(addr, msg.Signature, *msg.RecoveryID, msg.FullMessage); err != nil {
		return nil, fmt.Errorf("%s: %w", v.eco, err)
	}
	return Secp256k1VerifyInstruction(addr, msg.Signature, *msg.RecoveryID, msg.FullMessage, in.VerifyIndex)
}

func (v secp256k1Variant) EncodeIdentity(enc *bin.Encoder, in identityInput) error {
	if err := requireMessage(v.eco, in.Message); err != nil {
		return err
	}
	addr, err := EthAddress(in.Message.PublicKey)
	if err != nil {
		return err
	}
	if err := enc.WriteUint8(uint8(v.eco)); err != nil {
		return err
	}
	if err := enc.WriteBytes(addr, false); err != nil {
		return err
	}
	return enc.WriteUint8(in.VerifyIndex)
}

// cosmwasmVariant carries the signature inline; the program verifies it, so
// no precompile instruction is emitted.
type cosmwasmVariant struct{}

func (cosmwasmVariant) Ecosystem() Ecosystem { return EcosystemCosmwasm }

func (cosmwasmVariant) VerificationInstruction(in identityInput) (solanago.Instruction, error) {
	return nil, requireMessage(EcosystemCosmwasm, in.Message)
}

func (cosmwasmVariant) EncodeIdentity(enc *bin.Encoder, in identityInput) error {
	if err := requireMessage(EcosystemCosmwasm, in.Message); err != nil {
		return err
	}
	msg := in.Message
	if msg.RecoveryID == nil || len(msg.Signature) != secp256k1SignatureSize {
		return fmt.Errorf("cosmwasm: signature must be %d bytes with a recovery id: %w", secp256k1SignatureSize, ErrInvalidSignedMessage)
	}
	pub, err := secp256k1.ParsePubKey(msg.PublicKey)
	if err != nil {
		return fmt.Errorf("cosmwasm: parse public key: %v: %w", err, ErrInvalidSignedMessage)
	}
	chainID, err := bech32Prefix(in.Info.Identity)
	if err != nil {
		return err
	}

	if err := enc.WriteUint8(uint8(EcosystemCosmwasm)); err != nil {
		return err
	}
	if err := writeString(enc, chainID); err != nil {
		return err
	}
	if err := enc.WriteBytes(msg.Signature, false); err != nil {
		return err
	}
	if err := enc.WriteUint8(*msg.RecoveryID); err != nil {
		return err
	}
	if err := enc.WriteBytes(pub.SerializeCompressed(), false); err != nil {
		return err
	}
	return writeString(enc, string(msg.FullMessage))
}

// bech32Prefix returns the human readable part of a bech32 address, which
// names the cosmos chain.
func bech32Prefix(addr string) (string, error) {
	i := strings.LastIndexByte(addr, '1')
	if i < 1 {
		return "", fmt.Errorf("cosmwasm identity %q is not a bech32 address: %w", addr, ErrInvalidSignedMessage)
	}
	return addr[:i], nil
}

// EthAddress returns the 20-byte address for a public key given either as
// an address already or as a compressed/uncompressed secp256k1 key.
func EthAddress(pubkey []byte) ([]byte, error) {
	if len(pubkey) == ethAddressSize {
		return pubkey, nil
	}
	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 key: %v: %w", err, ErrInvalidSignedMessage)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return h.Sum(nil)[12:], nil
}

// verifyRecoverable recovers the signer of keccak256(message) and checks it
// against addr, the way the secp256k1 precompile does.
func verifyRecoverable(addr, signature []byte, recoveryID uint8, message []byte) error {
	if len(signature) != secp256k1SignatureSize || recoveryID > 3 {
		return fmt.Errorf("bad signature or recovery id: %w", ErrInvalidSignedMessage)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(message)
	digest := h.Sum(nil)

	compact := make([]byte, 0, 65)
	compact = append(compact, 27+recoveryID)
	compact = append(compact, signature...)
	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return fmt.Errorf("recover signer: %v: %w", err, ErrInvalidSignedMessage)
	}
	recovered, err := EthAddress(pub.SerializeUncompressed())
	if err != nil {
		return err
	}
	if string(recovered) != string(addr) {
		return fmt.Errorf("signer does not match address: %w", ErrInvalidSignedMessage)
	}
	return nil
}
