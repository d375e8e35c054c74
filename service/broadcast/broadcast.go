package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/dispenser/service/metrics"
	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout is how long one endpoint keeps trying before giving up.
	DefaultTimeout = 35 * time.Second

	// DefaultBackoff is the pause between iterations of one endpoint's loop.
	DefaultBackoff = 1800 * time.Millisecond
)

// Attempt results, used as metric labels.
const (
	attemptConfirmed = "confirmed"
	attemptFailed    = "failed"
	attemptCancelled = "cancelled"
	attemptTimeout   = "timeout"
)

// ErrUnsigned is returned for transactions without a fee payer signature.
var ErrUnsigned = errors.New("transaction is not signed")

// StatusClient is one endpoint the broadcaster submits to and polls.
// *solana.Client satisfies it.
type StatusClient interface {
	Endpoint() string
	SendRawTransaction(ctx context.Context, raw []byte) (solanago.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solanago.Signature) (solana.ConfirmationStatus, error)
}

// Config tunes the per-endpoint loop.
type Config struct {
	Timeout time.Duration
	Backoff time.Duration
}

// Result is the outcome of broadcasting one transaction. It never says which
// endpoint failed or why.
type Result struct {
	Confirmed bool                      `json:"confirmed"`
	Status    solana.ConfirmationStatus `json:"status"`
	Signature solanago.Signature        `json:"signature"`
}

// Broadcaster drives signed transactions to confirmation across endpoints.
type Broadcaster struct {
	endpoints []StatusClient
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Broadcaster. Zero config values take the defaults.
// If m is nil, no metrics are recorded.
func New(endpoints []StatusClient, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Broadcaster {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Broadcaster{
		endpoints: endpoints,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With("component", "broadcaster"),
	}
}

// FromClients adapts solana clients to StatusClients.
func FromClients(clients []*solana.Client) []StatusClient {
	out := make([]StatusClient, len(clients))
	for i, c := range clients {
		out[i] = c
	}
	return out
}

// Broadcast sends tx to every endpoint concurrently until one reports it
// confirmed or finalized, then stops the others. If no endpoint confirms
// within the timeout the result is not confirmed and err is nil; errors are
// reserved for transactions that cannot be sent at all.
func (b *Broadcaster) Broadcast(ctx context.Context, tx *solanago.Transaction) (Result, error) {
	if tx == nil || len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		return Result{}, ErrUnsigned
	}
	raw, err := solana.EncodeTransaction(tx)
	if err != nil {
		return Result{}, err
	}
	return b.BroadcastRaw(ctx, raw, tx.Signatures[0])
}

// BroadcastRaw is Broadcast for an already serialized transaction.
func (b *Broadcaster) BroadcastRaw(ctx context.Context, raw []byte, sig solanago.Signature) (Result, error) {
	if len(b.endpoints) == 0 {
		return Result{}, fmt.Errorf("no endpoints configured")
	}
	start := time.Now()

	// fanout is cancelled by the first attempt to see confirmation.
	fanout, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once   sync.Once
		result = Result{Signature: sig}
		wg     sync.WaitGroup
	)
	for _, ep := range b.endpoints {
		wg.Add(1)
		go func(ep StatusClient) {
			defer wg.Done()
			status, ok := b.attempt(ctx, fanout, ep, raw, sig)
			if ok {
				once.Do(func() {
					result.Confirmed = true
					result.Status = status
				})
				cancel()
			}
		}(ep)
	}
	wg.Wait()

	outcome := "not_confirmed"
	if result.Confirmed {
		outcome = "confirmed"
	}
	if b.metrics != nil {
		b.metrics.RecordBroadcastOutcome(outcome, time.Since(start).Seconds())
	}
	b.logger.InfoContext(ctx, "broadcast finished",
		"signature", sig.String(),
		"outcome", outcome,
		"endpoints", len(b.endpoints),
		"duration", time.Since(start),
	)
	return result, nil
}

// attempt runs one endpoint's submit/poll loop. Network calls run on a
// per-attempt deadline derived from ctx, so a stalled endpoint gives up after
// the timeout while a sibling's success never interrupts a call in flight;
// fanout is checked between calls.
func (b *Broadcaster) attempt(ctx, fanout context.Context, ep StatusClient, raw []byte, sig solanago.Signature) (solana.ConfirmationStatus, bool) {
	logger := b.logger.With("endpoint", ep.Endpoint(), "signature", sig.String())

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var status solana.ConfirmationStatus
	for {
		if fanout.Err() != nil {
			b.recordAttempt(ep, attemptCancelled)
			return solana.StatusUnknown, false
		}

		if _, err := ep.SendRawTransaction(callCtx, raw); err != nil {
			logger.DebugContext(ctx, "submit failed", "error", err)
		}
		if fanout.Err() != nil {
			b.recordAttempt(ep, attemptCancelled)
			return solana.StatusUnknown, false
		}

		polled, err := ep.GetSignatureStatus(callCtx, sig)
		switch {
		case err != nil:
			logger.DebugContext(ctx, "status poll failed", "error", err)
		case polled.IsConfirmed():
			b.recordAttempt(ep, attemptConfirmed)
			return polled, true
		case polled == solana.StatusFailed:
			logger.WarnContext(ctx, "transaction failed on chain")
			b.recordAttempt(ep, attemptFailed)
			return polled, false
		default:
			status = polled
		}

		if callCtx.Err() != nil {
			return b.giveUp(ctx, fanout, ep, logger, status)
		}

		select {
		case <-fanout.Done():
			b.recordAttempt(ep, attemptCancelled)
			return solana.StatusUnknown, false
		case <-callCtx.Done():
			return b.giveUp(ctx, fanout, ep, logger, status)
		case <-time.After(b.cfg.Backoff):
		}
	}
}

// giveUp ends an attempt whose deadline passed. A deadline that fired because
// the parent or a sibling cancelled counts as cancelled.
func (b *Broadcaster) giveUp(ctx, fanout context.Context, ep StatusClient, logger *slog.Logger, status solana.ConfirmationStatus) (solana.ConfirmationStatus, bool) {
	if fanout.Err() != nil {
		b.recordAttempt(ep, attemptCancelled)
		return solana.StatusUnknown, false
	}
	logger.DebugContext(ctx, "giving up on endpoint", "last_status", string(status))
	b.recordAttempt(ep, attemptTimeout)
	return status, false
}

func (b *Broadcaster) recordAttempt(ep StatusClient, result string) {
	if b.metrics != nil {
		b.metrics.RecordBroadcastAttempt(ep.Endpoint(), result)
	}
}

// BroadcastAll broadcasts every transaction in parallel. Results are in
// input order. Transactions resolve independently; the returned error is the
// first transaction that could not be sent at all.
func (b *Broadcaster) BroadcastAll(ctx context.Context, txs []*solanago.Transaction) ([]Result, error) {
	results := make([]Result, len(txs))
	var g errgroup.Group
	for i, tx := range txs {
		g.Go(func() error {
			res, err := b.Broadcast(ctx, tx)
			if err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
