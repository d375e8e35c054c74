package discord

import (
	"encoding/hex"
	"fmt"

	"github.com/brojonat/dispenser/service/claim"
	solanago "github.com/gagliardetto/solana-go"
)

// Signer vouches for Discord identities with the dispenser guard key.
type Signer struct {
	key solanago.PrivateKey
}

// NewSigner creates a Signer for the guard key.
func NewSigner(key solanago.PrivateKey) *Signer {
	return &Signer{key: key}
}

// PublicKey returns the guard public key the claim program trusts.
func (s *Signer) PublicKey() solanago.PublicKey {
	return s.key.PublicKey()
}

// SignedIdentity is a detached guard signature over FullMessage.
type SignedIdentity struct {
	Signature   []byte
	PublicKey   []byte
	FullMessage []byte
}

// Hex is the JSON form returned to claimants.
func (s *SignedIdentity) Hex() map[string]string {
	return map[string]string{
		"signature":   hex.EncodeToString(s.Signature),
		"publicKey":   hex.EncodeToString(s.PublicKey),
		"fullMessage": hex.EncodeToString(s.FullMessage),
	}
}

// SignedMessage converts to the claim builder's input.
func (s *SignedIdentity) SignedMessage() *claim.SignedMessage {
	return &claim.SignedMessage{
		PublicKey:   s.PublicKey,
		Signature:   s.Signature,
		FullMessage: s.FullMessage,
	}
}

// Sign binds a Discord username to the claimant key.
func (s *Signer) Sign(username string, claimant solanago.PublicKey) (*SignedIdentity, error) {
	if username == "" {
		return nil, fmt.Errorf("empty username")
	}
	msg, err := claim.DiscordMessage(username, claimant)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	sig, err := s.key.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	pub := s.key.PublicKey()
	return &SignedIdentity{
		Signature:   sig[:],
		PublicKey:   pub[:],
		FullMessage: msg,
	}, nil
}
