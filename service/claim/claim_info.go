package claim

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// ClaimInfo identifies a claimant and the amount they are eligible for.
type ClaimInfo struct {
	Ecosystem Ecosystem `json:"ecosystem"`
	Identity  string    `json:"identity"`
	Amount    uint64    `json:"amount"`
}

// Serialize returns the borsh encoding hashed into merkle leaves:
// u8 ecosystem, u32 length-prefixed identity, u64 amount.
func (c ClaimInfo) Serialize() ([]byte, error) {
	if !c.Ecosystem.Valid() {
		return nil, fmt.Errorf("serialize claim info: %w", ErrUnknownEcosystem)
	}
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.WriteUint8(uint8(c.Ecosystem)); err != nil {
		return nil, err
	}
	if err := writeString(enc, c.Identity); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(c.Amount, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SignedMessage is a wallet signature over FullMessage.
// RecoveryID is set only for recoverable (secp256k1) schemes.
type SignedMessage struct {
	PublicKey   []byte `json:"public_key"`
	Signature   []byte `json:"signature"`
	RecoveryID  *uint8 `json:"recovery_id,omitempty"`
	FullMessage []byte `json:"full_message"`
}

// DiscordMessage is the byte string the dispenser guard signs to vouch that
// a Discord identity controls a claimant key.
func DiscordMessage(identity string, claimant solanago.PublicKey) ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := writeString(enc, identity); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(claimant[:], false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}
