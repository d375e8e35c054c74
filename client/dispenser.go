package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/dispenser/service/claim"
	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// ErrNotEligible is returned by AmountAndProof when the identity has no allocation.
var ErrNotEligible = errors.New("identity is not eligible")

// APIError is a non-success response from the dispenser service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// FundRequest asks the service to co-sign one transaction as Funder.
type FundRequest struct {
	Tx     string `json:"tx"`
	Funder string `json:"funder"`
}

// Allocation is an identity's claimable amount and its merkle proof.
type Allocation struct {
	Info  claim.ClaimInfo
	Proof claim.Proof
}

// Client is the HTTP client for the dispenser funding service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new dispenser service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// FundTransactions submits base64 transactions for co-signing and returns the
// signed transactions in the same order.
func (c *Client) FundTransactions(ctx context.Context, reqs []FundRequest) ([]string, error) {
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/fund_transaction", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var signed []string
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(signed) != len(reqs) {
		return nil, fmt.Errorf("expected %d signed transactions, got %d", len(reqs), len(signed))
	}

	c.logger.Debug("transactions funded", "count", len(signed))
	return signed, nil
}

// Fund co-signs every transaction with the same funder.
func (c *Client) Fund(ctx context.Context, funder solanago.PublicKey, txs ...*solanago.Transaction) ([]*solanago.Transaction, error) {
	reqs := make([]FundRequest, len(txs))
	for i, tx := range txs {
		b64, err := solana.EncodeTransactionBase64(tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		reqs[i] = FundRequest{Tx: b64, Funder: funder.String()}
	}

	signed, err := c.FundTransactions(ctx, reqs)
	if err != nil {
		return nil, err
	}

	out := make([]*solanago.Transaction, len(signed))
	for i, b64 := range signed {
		tx, err := solana.DecodeTransactionBase64(b64)
		if err != nil {
			return nil, fmt.Errorf("signed transaction %d: %w", i, err)
		}
		out[i] = tx
	}
	return out, nil
}

// DiscordSignedMessage exchanges a Discord OAuth access token for a guard
// signature over the caller's username and claimant key.
func (c *Client) DiscordSignedMessage(ctx context.Context, accessToken string, claimant solanago.PublicKey) (*claim.SignedMessage, error) {
	u := fmt.Sprintf("%s/discord_signed_message?publicKey=%s", c.baseURL, url.QueryEscape(claimant.String()))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var body struct {
		Signature   string `json:"signature"`
		PublicKey   string `json:"publicKey"`
		FullMessage string `json:"fullMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	msg := &claim.SignedMessage{}
	for _, f := range []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"signature", body.Signature, &msg.Signature},
		{"publicKey", body.PublicKey, &msg.PublicKey},
		{"fullMessage", body.FullMessage, &msg.FullMessage},
	} {
		b, err := hex.DecodeString(f.src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s in response: %w", f.name, err)
		}
		*f.dst = b
	}
	return msg, nil
}

// AmountAndProof looks up the allocation of identity in the given ecosystem.
func (c *Client) AmountAndProof(ctx context.Context, eco claim.Ecosystem, identity string) (*Allocation, error) {
	q := url.Values{}
	q.Set("ecosystem", eco.String())
	q.Set("identity", identity)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/amount_and_proof?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", eco, identity, ErrNotEligible)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var body struct {
		Identity string   `json:"identity"`
		Amount   string   `json:"amount"`
		Proof    []string `json:"proof"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	amount, err := strconv.ParseUint(body.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount in response: %w", err)
	}
	proof := make(claim.Proof, len(body.Proof))
	for i, s := range body.Proof {
		h, err := claim.ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("invalid proof node %d: %w", i, err)
		}
		proof[i] = h
	}

	return &Allocation{
		Info:  claim.ClaimInfo{Ecosystem: eco, Identity: body.Identity, Amount: amount},
		Proof: proof,
	}, nil
}

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
