package broadcast

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/dispenser/service/metrics"
	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEndpoint implements StatusClient. statusFn decides what the n-th poll
// (1-based) returns. A non-zero stall holds every poll that long unless ctx
// ends first.
type mockEndpoint struct {
	name     string
	statusFn func(poll int) (solana.ConfirmationStatus, error)
	sendErr  error
	stall    time.Duration

	mu    sync.Mutex
	sends int
	polls int
}

func (m *mockEndpoint) Endpoint() string { return m.name }

func (m *mockEndpoint) SendRawTransaction(ctx context.Context, raw []byte) (solanago.Signature, error) {
	m.mu.Lock()
	m.sends++
	m.mu.Unlock()
	return solanago.Signature{}, m.sendErr
}

func (m *mockEndpoint) GetSignatureStatus(ctx context.Context, sig solanago.Signature) (solana.ConfirmationStatus, error) {
	m.mu.Lock()
	m.polls++
	n := m.polls
	m.mu.Unlock()
	if m.stall > 0 {
		select {
		case <-ctx.Done():
			return solana.StatusUnknown, ctx.Err()
		case <-time.After(m.stall):
		}
	}
	return m.statusFn(n)
}

func (m *mockEndpoint) pollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

func always(status solana.ConfirmationStatus) func(int) (solana.ConfirmationStatus, error) {
	return func(int) (solana.ConfirmationStatus, error) { return status, nil }
}

func confirmsOnPoll(n int) func(int) (solana.ConfirmationStatus, error) {
	return func(poll int) (solana.ConfirmationStatus, error) {
		if poll >= n {
			return solana.StatusConfirmed, nil
		}
		return solana.StatusUnknown, nil
	}
}

func newTestBroadcaster(cfg Config, endpoints ...*mockEndpoint) *Broadcaster {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clients := make([]StatusClient, len(endpoints))
	for i, e := range endpoints {
		clients[i] = e
	}
	return New(clients, cfg, metrics.NewMetrics(prometheus.NewRegistry()), logger)
}

func signedTx(t *testing.T) *solanago.Transaction {
	t.Helper()
	payer, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	ix := solanago.NewInstruction(solana.ComputeBudgetProgramID, solanago.AccountMetaSlice{}, []byte{3, 1, 0, 0, 0, 0, 0, 0, 0})
	tx, err := solanago.NewTransaction([]solanago.Instruction{ix}, solanago.Hash{1}, solanago.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)
	tx.Message.SetVersion(solanago.MessageVersionV0)
	require.NoError(t, solana.SignTransactionAs(tx, payer))
	return tx
}

func TestBroadcast_FirstConfirmationCancelsSiblings(t *testing.T) {
	backoff := 40 * time.Millisecond
	ep1 := &mockEndpoint{name: "rpc-1", statusFn: always(solana.StatusProcessed)}
	ep2 := &mockEndpoint{name: "rpc-2", statusFn: confirmsOnPoll(2)}
	ep3 := &mockEndpoint{name: "rpc-3", statusFn: always(solana.StatusUnknown)}
	b := newTestBroadcaster(Config{Timeout: 10 * time.Second, Backoff: backoff}, ep1, ep2, ep3)

	tx := signedTx(t)
	start := time.Now()
	res, err := b.Broadcast(context.Background(), tx)
	require.NoError(t, err)

	assert.True(t, res.Confirmed)
	assert.Equal(t, solana.StatusConfirmed, res.Status)
	assert.Equal(t, tx.Signatures[0], res.Signature)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 2, ep2.pollCount())

	polls1, polls3 := ep1.pollCount(), ep3.pollCount()
	assert.LessOrEqual(t, polls1, 2)
	assert.LessOrEqual(t, polls3, 2)

	// siblings have stopped: no further polls happen
	time.Sleep(5 * backoff)
	assert.Equal(t, polls1, ep1.pollCount())
	assert.Equal(t, polls3, ep3.pollCount())
}

func TestBroadcast_ProcessedIsNotConfirmed(t *testing.T) {
	ep := &mockEndpoint{name: "rpc-1", statusFn: always(solana.StatusProcessed)}
	b := newTestBroadcaster(Config{Timeout: 100 * time.Millisecond, Backoff: 10 * time.Millisecond}, ep)

	res, err := b.Broadcast(context.Background(), signedTx(t))
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Greater(t, ep.pollCount(), 1)
}

func TestBroadcast_TimeoutWhenAllEndpointsFail(t *testing.T) {
	failing := func(int) (solana.ConfirmationStatus, error) { return solana.StatusUnknown, assert.AnError }
	ep1 := &mockEndpoint{name: "rpc-1", statusFn: failing, sendErr: assert.AnError}
	ep2 := &mockEndpoint{name: "rpc-2", statusFn: failing, sendErr: assert.AnError}
	b := newTestBroadcaster(Config{Timeout: 80 * time.Millisecond, Backoff: 10 * time.Millisecond}, ep1, ep2)

	start := time.Now()
	res, err := b.Broadcast(context.Background(), signedTx(t))
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// submit errors are swallowed and retried each iteration
	ep1.mu.Lock()
	assert.Greater(t, ep1.sends, 1)
	ep1.mu.Unlock()
}

func TestBroadcast_StalledEndpointHonoursTimeout(t *testing.T) {
	stalled := &mockEndpoint{name: "rpc-slow", statusFn: always(solana.StatusConfirmed), stall: 3 * time.Second}
	b := newTestBroadcaster(Config{Timeout: 100 * time.Millisecond, Backoff: 10 * time.Millisecond}, stalled)

	start := time.Now()
	res, err := b.Broadcast(context.Background(), signedTx(t))
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBroadcast_StalledSiblingDoesNotHoldConfirmation(t *testing.T) {
	stalled := &mockEndpoint{name: "rpc-slow", statusFn: always(solana.StatusUnknown), stall: 3 * time.Second}
	fast := &mockEndpoint{name: "rpc-fast", statusFn: always(solana.StatusConfirmed)}
	b := newTestBroadcaster(Config{Timeout: 100 * time.Millisecond, Backoff: 10 * time.Millisecond}, stalled, fast)

	start := time.Now()
	res, err := b.Broadcast(context.Background(), signedTx(t))
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, fast.pollCount())
}

func TestBroadcast_FinalizedCounts(t *testing.T) {
	ep := &mockEndpoint{name: "rpc-1", statusFn: always(solana.StatusFinalized)}
	b := newTestBroadcaster(Config{Timeout: time.Second, Backoff: 10 * time.Millisecond}, ep)

	res, err := b.Broadcast(context.Background(), signedTx(t))
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, solana.StatusFinalized, res.Status)
	assert.Equal(t, 1, ep.pollCount())
}

func TestBroadcast_FailedOnChainStopsEndpoint(t *testing.T) {
	ep := &mockEndpoint{name: "rpc-1", statusFn: always(solana.StatusFailed)}
	b := newTestBroadcaster(Config{Timeout: time.Second, Backoff: 10 * time.Millisecond}, ep)

	res, err := b.Broadcast(context.Background(), signedTx(t))
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Equal(t, 1, ep.pollCount())
}

func TestBroadcast_ParentCancellation(t *testing.T) {
	ep := &mockEndpoint{name: "rpc-1", statusFn: always(solana.StatusUnknown)}
	b := newTestBroadcaster(Config{Timeout: 10 * time.Second, Backoff: 20 * time.Millisecond}, ep)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := b.Broadcast(ctx, signedTx(t))
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBroadcast_Unsigned(t *testing.T) {
	ep := &mockEndpoint{name: "rpc-1", statusFn: always(solana.StatusConfirmed)}
	b := newTestBroadcaster(Config{}, ep)

	tx := signedTx(t)
	tx.Signatures = nil
	_, err := b.Broadcast(context.Background(), tx)
	assert.ErrorIs(t, err, ErrUnsigned)

	_, err = b.Broadcast(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnsigned)
	assert.Equal(t, 0, ep.pollCount())
}

func TestBroadcast_NoEndpoints(t *testing.T) {
	b := newTestBroadcaster(Config{})
	_, err := b.Broadcast(context.Background(), signedTx(t))
	assert.Error(t, err)
}

func TestBroadcastAll_PreservesOrder(t *testing.T) {
	txs := []*solanago.Transaction{signedTx(t), signedTx(t), signedTx(t)}
	pending := txs[1].Signatures[0]

	// confirms everything except the middle transaction
	ep := &mockEndpoint{name: "rpc-1"}
	b := newTestBroadcaster(Config{Timeout: 60 * time.Millisecond, Backoff: 10 * time.Millisecond}, ep)
	b.endpoints[0] = &sigEndpoint{mockEndpoint: ep, pending: pending}

	results, err := b.BroadcastAll(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, tx := range txs {
		assert.Equal(t, tx.Signatures[0], results[i].Signature, "result %d", i)
	}
	assert.True(t, results[0].Confirmed)
	assert.False(t, results[1].Confirmed)
	assert.True(t, results[2].Confirmed)
}

func TestBroadcastAll_ReportsUnsendable(t *testing.T) {
	ep := &mockEndpoint{name: "rpc-1", statusFn: always(solana.StatusConfirmed)}
	b := newTestBroadcaster(Config{Backoff: 10 * time.Millisecond}, ep)

	bad := signedTx(t)
	bad.Signatures = nil
	results, err := b.BroadcastAll(context.Background(), []*solanago.Transaction{signedTx(t), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsigned)
	assert.True(t, results[0].Confirmed)
}

// sigEndpoint reports every signature confirmed except pending.
type sigEndpoint struct {
	*mockEndpoint
	pending solanago.Signature
}

func (s *sigEndpoint) GetSignatureStatus(ctx context.Context, sig solanago.Signature) (solana.ConfirmationStatus, error) {
	if sig == s.pending {
		return solana.StatusProcessed, nil
	}
	return solana.StatusConfirmed, nil
}
