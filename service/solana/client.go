package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/dispenser/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	// GetAccountInfo returns (nil, nil) when the account does not exist.
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)

	GetLatestBlockhash(ctx context.Context) (*rpc.GetLatestBlockhashResult, error)
}

// Client wraps a single RPC endpoint with domain-specific operations.
// Every call is timed and recorded against the endpoint label.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling and logs.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger.With("endpoint", endpoint),
		metrics:  m,
		endpoint: endpoint,
	}
}

// NewClientsFromURLs builds one Client per RPC URL.
func NewClientsFromURLs(urls []string, m *metrics.Metrics, logger *slog.Logger) []*Client {
	clients := make([]*Client, 0, len(urls))
	for _, u := range urls {
		clients = append(clients, NewClient(NewRPCClient(u), EndpointLabel(u), m, logger))
	}
	return clients
}

// Endpoint returns the endpoint label this client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SendRawTransaction submits an already-signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendRawTransaction(ctx, raw)
	c.record("sendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// GetSignatureStatus returns the confirmation status of a single signature.
// An unseen signature yields StatusUnknown and no error.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, sig)
	c.record("getSignatureStatuses", start, err)
	if err != nil {
		return StatusUnknown, fmt.Errorf("get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 {
		return StatusUnknown, nil
	}
	return statusFromRPC(out.Value[0]), nil
}

// AccountExists reports whether the account has been created on chain.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, account)
	c.record("getAccountInfo", start, err)
	if err != nil {
		return false, fmt.Errorf("get account info for %s: %w", account, err)
	}
	return out != nil && out.Value != nil, nil
}

// LatestBlockhash fetches a recent blockhash to use as the transaction freshness token.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx)
	c.record("getLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: empty response")
	}
	return out.Value.Blockhash, nil
}

func (c *Client) record(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.logger.Debug("rpc call failed", "method", method, "error", err)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
	}
}
