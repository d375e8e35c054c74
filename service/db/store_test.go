package db

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/dispenser/service/claim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInfos() []claim.ClaimInfo {
	return []claim.ClaimInfo{
		{Ecosystem: claim.EcosystemSolana, Identity: "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2", Amount: 1000},
		{Ecosystem: claim.EcosystemDiscord, Identity: "pythian", Amount: 2000},
		{Ecosystem: claim.EcosystemEVM, Identity: "0xf3f9225a2166861e745742509ced164183a626d7", Amount: 3000},
	}
}

func TestImportTreeAndGetAmountAndProof(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()
	infos := testInfos()

	root, err := store.ImportTree(ctx, infos)
	require.NoError(t, err)

	n, err := store.CountClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(infos)), n)

	for _, info := range infos {
		t.Run(info.Ecosystem.String(), func(t *testing.T) {
			alloc, err := store.GetAmountAndProof(ctx, info.Ecosystem, info.Identity)
			require.NoError(t, err)
			assert.Equal(t, info, alloc.Info)
			assert.True(t, claim.VerifyProof(root, alloc.Info, alloc.Proof))
			assert.WithinDuration(t, time.Now(), alloc.CreatedAt, time.Minute)
		})
	}
}

func TestGetAmountAndProof_NotFound(t *testing.T) {
	store := NewTestStore(t)

	_, err := store.GetAmountAndProof(context.Background(), claim.EcosystemSui, "0xnobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertClaims_Overwrites(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()
	info := testInfos()[1]

	require.NoError(t, store.UpsertClaims(ctx, []Allocation{{Info: info, Proof: claim.Proof{{1}}}}))
	info.Amount = 9999
	require.NoError(t, store.UpsertClaims(ctx, []Allocation{{Info: info, Proof: claim.Proof{{2}, {3}}}}))

	alloc, err := store.GetAmountAndProof(ctx, info.Ecosystem, info.Identity)
	require.NoError(t, err)
	assert.Equal(t, uint64(9999), alloc.Info.Amount)
	assert.Equal(t, claim.Proof{{2}, {3}}, alloc.Proof)
}

func TestImportTree_ReplacesPreviousTree(t *testing.T) {
	store := NewTestStore(t)

	ctx := context.Background()
	old := testInfos()
	_, err := store.ImportTree(ctx, old)
	require.NoError(t, err)

	next := []claim.ClaimInfo{
		old[1],
		{Ecosystem: claim.EcosystemSui, Identity: "0x7d2a", Amount: 500},
	}
	root, err := store.ImportTree(ctx, next)
	require.NoError(t, err)

	n, err := store.CountClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(next)), n)

	// Entries left out of the new tree are gone.
	for _, info := range []claim.ClaimInfo{old[0], old[2]} {
		_, err := store.GetAmountAndProof(ctx, info.Ecosystem, info.Identity)
		assert.ErrorIs(t, err, ErrNotFound, info.Identity)
	}
	for _, info := range next {
		alloc, err := store.GetAmountAndProof(ctx, info.Ecosystem, info.Identity)
		require.NoError(t, err)
		assert.True(t, claim.VerifyProof(root, alloc.Info, alloc.Proof))
	}
}

func TestImportTree_RejectsDuplicateIdentity(t *testing.T) {
	infos := append(testInfos(), claim.ClaimInfo{Ecosystem: claim.EcosystemDiscord, Identity: "pythian", Amount: 1})

	// Rejected before any database access.
	_, err := (&Store{}).ImportTree(context.Background(), infos)
	require.ErrorIs(t, err, ErrDuplicateIdentity)
	assert.Contains(t, err.Error(), "entries 1 and 3")

	// Same identity in another ecosystem is a different claimant.
	infos[3].Ecosystem = claim.EcosystemSolana
	assert.NoError(t, checkUnique(infos))
}

func TestProofBytesRoundTrip(t *testing.T) {
	proof := claim.Proof{{1, 2, 3}, {4}}
	raw := proofToBytes(proof)
	require.Len(t, raw, 2)
	assert.Len(t, raw[0], claim.HashSize)

	back, err := proofFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, proof, back)

	_, err = proofFromBytes([][]byte{{1, 2}})
	assert.Error(t, err)
}
