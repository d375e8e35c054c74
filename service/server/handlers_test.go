package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/brojonat/dispenser/service/claim"
	"github.com/brojonat/dispenser/service/db"
	"github.com/brojonat/dispenser/service/discord"
	"github.com/brojonat/dispenser/service/funder"
	"github.com/brojonat/dispenser/service/metrics"
	"github.com/brojonat/dispenser/service/nats"
	"github.com/brojonat/dispenser/service/solana"
	"github.com/brojonat/dispenser/service/validator"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testProgram = solanago.MustPublicKeyFromBase58("WapFw9mSyHh8trDDRy7AAaHnkKGCFhcUU6VKHZCT1tA")
	testMint    = solanago.MustPublicKeyFromBase58("HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// staticLedger implements claim.LedgerReader with fixed answers.
type staticLedger struct{}

func (staticLedger) AccountExists(ctx context.Context, account solanago.PublicKey) (bool, error) {
	return true, nil
}

func (staticLedger) LatestBlockhash(ctx context.Context) (solanago.Hash, error) {
	return solanago.Hash{5}, nil
}

func newKey(t *testing.T) solanago.PrivateKey {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// claimTx builds a policy-compliant native claim transaction paid by payer.
func claimTx(t *testing.T, payer solanago.PublicKey) string {
	t.Helper()
	claimant := newKey(t)
	b := claim.NewBuilder(claim.Config{
		ProgramID:        testProgram,
		Mint:             testMint,
		ComputeUnitPrice: 5000,
	}, staticLedger{}, nil, testLogger())

	tx, err := b.BuildClaim(context.Background(), claim.ClaimRequest{
		Funder:   payer,
		Treasury: solanago.PublicKey{3},
		Claimant: claimant.PublicKey(),
		Info: claim.ClaimInfo{
			Ecosystem: claim.EcosystemSolana,
			Identity:  claimant.PublicKey().String(),
			Amount:    100,
		},
	})
	require.NoError(t, err)

	b64, err := solana.EncodeTransactionBase64(tx)
	require.NoError(t, err)
	return b64
}

// transferTx builds a transaction the policy must reject (no claim instruction).
func transferTx(t *testing.T, payer solanago.PublicKey) string {
	t.Helper()
	ix := solanago.NewInstruction(solana.SystemProgramID, solanago.AccountMetaSlice{
		solanago.NewAccountMeta(payer, true, true),
		solanago.NewAccountMeta(solanago.PublicKey{9}, true, false),
	}, []byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0})
	tx, err := solanago.NewTransaction([]solanago.Instruction{ix}, solanago.Hash{5}, solanago.TransactionPayer(payer))
	require.NoError(t, err)
	tx.Message.SetVersion(solanago.MessageVersionV0)

	b64, err := solana.EncodeTransactionBase64(tx)
	require.NoError(t, err)
	return b64
}

type fundingFixture struct {
	funder    solanago.PrivateKey
	publisher *nats.MockPublisher
	registry  *prometheus.Registry
	handler   http.Handler
}

func newFundingFixture(t *testing.T) *fundingFixture {
	t.Helper()
	logger := testLogger()
	key := newKey(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	pub := nats.NewMockPublisher()

	v := validator.New(validator.DefaultPolicy(testProgram), m, logger)
	funders := funder.NewRegistry([]solanago.PrivateKey{key}, logger)

	return &fundingFixture{
		funder:    key,
		publisher: pub,
		registry:  reg,
		handler:   handleFundTransaction(v, funders, pub, m, logger),
	}
}

func (f *fundingFixture) post(t *testing.T, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, "/fund_transaction", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestFundTransaction_Success(t *testing.T) {
	f := newFundingFixture(t)
	funderID := f.funder.PublicKey().String()

	reqs := []fundRequest{
		{Tx: claimTx(t, f.funder.PublicKey()), Funder: funderID},
		{Tx: claimTx(t, f.funder.PublicKey()), Funder: funderID},
	}
	w := f.post(t, reqs)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)

	for i, b64 := range out {
		original, err := solana.DecodeTransactionBase64(reqs[i].Tx)
		require.NoError(t, err)
		signed, err := solana.DecodeTransactionBase64(b64)
		require.NoError(t, err)

		// Message is untouched and the funder slot now carries a valid signature
		assert.Equal(t, original.Message.RecentBlockhash, signed.Message.RecentBlockhash)
		msg, err := signed.Message.MarshalBinary()
		require.NoError(t, err)
		assert.True(t, signed.Signatures[0].Verify(f.funder.PublicKey(), msg))
		// Claimant slot is left for the claimant
		assert.True(t, signed.Signatures[1].IsZero())
	}

	events := f.publisher.GetPublishedEventsForOutcome(nats.OutcomeFunded)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Transactions)
	assert.Len(t, events[0].Signatures, 2)
	assert.Equal(t, []string{funderID, funderID}, events[0].Funders)
}

func TestFundTransaction_RejectsWholeBatch(t *testing.T) {
	f := newFundingFixture(t)
	funderID := f.funder.PublicKey().String()

	w := f.post(t, []fundRequest{
		{Tx: claimTx(t, f.funder.PublicKey()), Funder: funderID},
		{Tx: transferTx(t, f.funder.PublicKey()), Funder: funderID},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "transaction 1")

	events := f.publisher.GetPublishedEventsForOutcome(nats.OutcomeRejected)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].FailedPredicates, validator.PredicateProgramAppears)
	assert.Empty(t, events[0].Signatures)
}

func TestFundTransaction_FunderErrors(t *testing.T) {
	f := newFundingFixture(t)
	stranger := newKey(t)

	t.Run("unknown funder", func(t *testing.T) {
		w := f.post(t, []fundRequest{
			{Tx: claimTx(t, stranger.PublicKey()), Funder: stranger.PublicKey().String()},
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "unknown funder")
	})

	t.Run("funder is not a required signer", func(t *testing.T) {
		w := f.post(t, []fundRequest{
			{Tx: claimTx(t, stranger.PublicKey()), Funder: f.funder.PublicKey().String()},
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "not a required signer")
	})
}

func TestFundTransaction_PathologicalInput(t *testing.T) {
	f := newFundingFixture(t)
	funderID := f.funder.PublicKey().String()
	valid := claimTx(t, f.funder.PublicKey())

	tooMany := make([]fundRequest, maxFundingBatch+1)
	for i := range tooMany {
		tooMany[i] = fundRequest{Tx: valid, Funder: funderID}
	}

	tests := []struct {
		name    string
		body    interface{}
		wantErr string
	}{
		{
			name:    "extremely large request body",
			body:    `[{"tx":"` + strings.Repeat("A", 2*maxRequestBodySize) + `"}]`,
			wantErr: "request body too large",
		},
		{
			name:    "malformed JSON",
			body:    `[{"tx":`,
			wantErr: "invalid request body",
		},
		{
			name:    "object instead of array",
			body:    `{"tx":"abc","funder":"def"}`,
			wantErr: "invalid request body",
		},
		{
			name:    "empty array",
			body:    `[]`,
			wantErr: "at least one transaction",
		},
		{
			name:    "too many transactions",
			body:    tooMany,
			wantErr: "too many transactions",
		},
		{
			name:    "invalid base64",
			body:    []fundRequest{{Tx: "not-base64!!", Funder: funderID}},
			wantErr: "transaction 0: invalid encoding",
		},
		{
			name:    "base64 of garbage",
			body:    []fundRequest{{Tx: valid, Funder: funderID}, {Tx: base64.StdEncoding.EncodeToString([]byte{0xff, 1}), Funder: funderID}},
			wantErr: "transaction 1: invalid encoding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.post(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], tt.wantErr)
		})
	}
}

func TestFundTransaction_PublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFundingFixture(t)
	f.publisher.SetPublishError(fmt.Errorf("nats down"))

	w := f.post(t, []fundRequest{
		{Tx: claimTx(t, f.funder.PublicKey()), Funder: f.funder.PublicKey().String()},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.publisher.GetPublishedEvents())
}

// mockExchanger implements discord.TokenExchanger for testing.
type mockExchanger struct {
	user *discord.User
	err  error

	tokens []string
}

func (m *mockExchanger) CurrentUser(ctx context.Context, token string) (*discord.User, error) {
	m.tokens = append(m.tokens, token)
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func TestDiscordSignedMessage(t *testing.T) {
	guard := newKey(t)
	signer := discord.NewSigner(guard)
	claimant := newKey(t).PublicKey()

	t.Run("signs username and claimant", func(t *testing.T) {
		exchanger := &mockExchanger{user: &discord.User{ID: "42", Username: "alice"}}
		handler := handleDiscordSignedMessage(exchanger, signer, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/discord_signed_message?publicKey="+claimant.String(), nil)
		req.Header.Set("Authorization", "Bearer tok-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, []string{"tok-123"}, exchanger.tokens)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

		pub, err := hex.DecodeString(resp["publicKey"])
		require.NoError(t, err)
		sig, err := hex.DecodeString(resp["signature"])
		require.NoError(t, err)
		msg, err := hex.DecodeString(resp["fullMessage"])
		require.NoError(t, err)

		assert.Equal(t, guard.PublicKey().Bytes(), pub)
		assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), msg, sig))

		want, err := claim.DiscordMessage("alice", claimant)
		require.NoError(t, err)
		assert.Equal(t, want, msg)
	})

	tests := []struct {
		name       string
		query      string
		auth       string
		exchanger  *mockExchanger
		wantStatus int
	}{
		{
			name:       "missing public key",
			query:      "",
			auth:       "Bearer tok",
			exchanger:  &mockExchanger{user: &discord.User{Username: "alice"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid public key",
			query:      "?publicKey=not-a-key",
			auth:       "Bearer tok",
			exchanger:  &mockExchanger{user: &discord.User{Username: "alice"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing authorization",
			query:      "?publicKey=" + claimant.String(),
			auth:       "",
			exchanger:  &mockExchanger{user: &discord.User{Username: "alice"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong scheme",
			query:      "?publicKey=" + claimant.String(),
			auth:       "Basic dXNlcjpwYXNz",
			exchanger:  &mockExchanger{user: &discord.User{Username: "alice"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "token rejected by discord",
			query:      "?publicKey=" + claimant.String(),
			auth:       "Bearer tok",
			exchanger:  &mockExchanger{err: discord.ErrUnauthorized},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "empty username",
			query:      "?publicKey=" + claimant.String(),
			auth:       "Bearer tok",
			exchanger:  &mockExchanger{user: &discord.User{ID: "1"}},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := handleDiscordSignedMessage(tt.exchanger, signer, testLogger())
			req := httptest.NewRequest(http.MethodGet, "/discord_signed_message"+tt.query, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

// mockProofStore implements ProofStore over a map.
type mockProofStore struct {
	allocations map[string]*db.Allocation
	err         error
}

func (m *mockProofStore) GetAmountAndProof(ctx context.Context, eco claim.Ecosystem, identity string) (*db.Allocation, error) {
	if m.err != nil {
		return nil, m.err
	}
	alloc, ok := m.allocations[eco.String()+"/"+identity]
	if !ok {
		return nil, db.ErrNotFound
	}
	return alloc, nil
}

func TestAmountAndProof(t *testing.T) {
	store := &mockProofStore{allocations: map[string]*db.Allocation{
		"discord/alice": {
			Info:  claim.ClaimInfo{Ecosystem: claim.EcosystemDiscord, Identity: "alice", Amount: 18446744073709551615},
			Proof: claim.Proof{{1, 2}, {3, 4}},
		},
	}}
	handler := handleAmountAndProof(store, testLogger())

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/amount_and_proof?ecosystem=discord&identity=alice", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Ecosystem string   `json:"ecosystem"`
			Identity  string   `json:"identity"`
			Amount    string   `json:"amount"`
			Proof     []string `json:"proof"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "discord", resp.Ecosystem)
		assert.Equal(t, "alice", resp.Identity)
		assert.Equal(t, "18446744073709551615", resp.Amount)
		require.Len(t, resp.Proof, 2)
		assert.Equal(t, "0102000000000000000000000000000000000000", resp.Proof[0])
	})

	tests := []struct {
		name       string
		query      string
		store      ProofStore
		wantStatus int
	}{
		{"unknown ecosystem", "?ecosystem=dogecoin&identity=alice", store, http.StatusBadRequest},
		{"missing identity", "?ecosystem=discord", store, http.StatusBadRequest},
		{"not eligible", "?ecosystem=discord&identity=bob", store, http.StatusNotFound},
		{"ecosystem scoped", "?ecosystem=evm&identity=alice", store, http.StatusNotFound},
		{"store failure", "?ecosystem=discord&identity=alice", &mockProofStore{err: fmt.Errorf("connection reset")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handleAmountAndProof(tt.store, testLogger())
			req := httptest.NewRequest(http.MethodGet, "/amount_and_proof"+tt.query, nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestServerRoutes(t *testing.T) {
	logger := testLogger()
	key := newKey(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	v := validator.New(validator.DefaultPolicy(testProgram), m, logger)
	funders := funder.NewRegistry([]solanago.PrivateKey{key}, logger)

	srv := New(":0", v, funders, nil, m, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+"/fund_transaction", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("fund_transaction wrong method", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/fund_transaction")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("optional endpoints disabled", func(t *testing.T) {
		for _, path := range []string{"/discord_signed_message", "/amount_and_proof"} {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServerShutdownClosesPublisher(t *testing.T) {
	logger := testLogger()
	pub := nats.NewMockPublisher()
	v := validator.New(validator.DefaultPolicy(testProgram), nil, logger)
	srv := New(":0", v, funder.NewRegistry(nil, logger), pub, nil, logger)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.True(t, pub.IsClosed())
}
