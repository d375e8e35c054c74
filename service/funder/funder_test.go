package funder

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) solanago.PrivateKey {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func claimTx(t *testing.T, funder, claimant solanago.PublicKey) *solanago.Transaction {
	t.Helper()
	program := solanago.MustPublicKeyFromBase58("WapFw9mSyHh8trDDRy7AAaHnkKGCFhcUU6VKHZCT1tA")
	ix := solanago.NewInstruction(program, solanago.AccountMetaSlice{
		solanago.NewAccountMeta(funder, true, true),
		solanago.NewAccountMeta(claimant, false, true),
	}, []byte{1})
	tx, err := solanago.NewTransaction([]solanago.Instruction{ix}, solanago.Hash{5}, solanago.TransactionPayer(funder))
	require.NoError(t, err)
	tx.Message.SetVersion(solanago.MessageVersionV0)
	return tx
}

func TestRegistry_SignPreservesClaimantSignature(t *testing.T) {
	funderKey := newKey(t)
	claimant := newKey(t)
	reg := NewRegistry([]solanago.PrivateKey{funderKey}, testLogger())

	tx := claimTx(t, funderKey.PublicKey(), claimant.PublicKey())
	require.NoError(t, solana.SignTransactionAs(tx, claimant))
	claimantSig := tx.Signatures[1]

	require.NoError(t, reg.Sign(tx, funderKey.PublicKey().String()))
	assert.Equal(t, claimantSig, tx.Signatures[1])
	assert.NoError(t, tx.VerifySignatures())
}

func TestRegistry_SignErrors(t *testing.T) {
	funderKey := newKey(t)
	other := newKey(t)
	claimant := newKey(t)
	reg := NewRegistry([]solanago.PrivateKey{funderKey, other}, testLogger())

	tx := claimTx(t, funderKey.PublicKey(), claimant.PublicKey())

	err := reg.Sign(tx, claimant.PublicKey().String())
	assert.True(t, errors.Is(err, ErrUnknownFunder))

	// known funder but not a signer of this transaction
	err = reg.Sign(tx, other.PublicKey().String())
	assert.True(t, errors.Is(err, solana.ErrNotRequiredSigner))
}

func TestRegistry_Lookup(t *testing.T) {
	a := newKey(t)
	b := newKey(t)
	reg := NewRegistry([]solanago.PrivateKey{a, b, a}, testLogger())

	assert.True(t, reg.Has(a.PublicKey().String()))
	assert.False(t, reg.Has("nobody"))
	assert.ElementsMatch(t, []solanago.PublicKey{a.PublicKey(), b.PublicKey()}, reg.Funders())
}

func TestLoadKey(t *testing.T) {
	key := newKey(t)

	t.Run("base58", func(t *testing.T) {
		got, err := LoadKey(key.String())
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), got.PublicKey())
	})

	t.Run("keygen file", func(t *testing.T) {
		raw := make([]int, len(key))
		for i, b := range key {
			raw[i] = int(b)
		}
		data, err := json.Marshal(raw)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "funder.json")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		got, err := LoadKey(path)
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), got.PublicKey())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := LoadKey("")
		assert.Error(t, err)
		_, err = LoadKey("not-a-key-0OIl")
		assert.Error(t, err)
		_, err = LoadKey(key.PublicKey().String())
		assert.Error(t, err)
	})

	t.Run("batch", func(t *testing.T) {
		keys, err := LoadKeys([]string{key.String(), newKey(t).String()})
		require.NoError(t, err)
		assert.Len(t, keys, 2)

		_, err = LoadKeys([]string{key.String(), "bad"})
		assert.Error(t, err)
	})
}
