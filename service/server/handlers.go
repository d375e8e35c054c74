package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brojonat/dispenser/service/claim"
	"github.com/brojonat/dispenser/service/db"
	"github.com/brojonat/dispenser/service/discord"
	"github.com/brojonat/dispenser/service/funder"
	"github.com/brojonat/dispenser/service/metrics"
	"github.com/brojonat/dispenser/service/nats"
	"github.com/brojonat/dispenser/service/solana"
	"github.com/brojonat/dispenser/service/validator"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	// maxRequestBodySize bounds request bodies (1MB)
	maxRequestBodySize = 1 << 20

	// maxFundingBatch is the most transactions one funding request may carry.
	maxFundingBatch = 10
)

// fundRequest is one entry of a /fund_transaction body.
type fundRequest struct {
	Tx     string `json:"tx"`
	Funder string `json:"funder"`
}

// handleFundTransaction returns a handler that co-signs a batch of claim transactions.
// POST /fund_transaction
//
// The whole batch is rejected if any member fails the policy or names a
// funder that cannot sign it. Nothing is signed until every check has passed.
func handleFundTransaction(v *validator.Validator, funders *funder.Registry, pub nats.Publisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var reqs []fundRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			logger.DebugContext(r.Context(), "failed to decode funding request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be a JSON array of {tx, funder}", http.StatusBadRequest)
			return
		}

		event := nats.NewFundingEvent(nats.OutcomeInvalid, len(reqs))
		for _, req := range reqs {
			event.Funders = append(event.Funders, req.Funder)
		}
		reject := func(status int, outcome, msg string) {
			event.Outcome = outcome
			event.Reason = msg
			publishFunding(r.Context(), pub, event, logger)
			if m != nil {
				m.RecordFundingRequest(outcome, 0)
			}
			writeError(w, msg, status)
		}

		if len(reqs) == 0 {
			reject(http.StatusBadRequest, nats.OutcomeInvalid, "at least one transaction is required")
			return
		}
		if len(reqs) > maxFundingBatch {
			reject(http.StatusBadRequest, nats.OutcomeInvalid,
				fmt.Sprintf("too many transactions: maximum is %d", maxFundingBatch))
			return
		}

		txs := make([]*solanago.Transaction, len(reqs))
		for i, req := range reqs {
			tx, err := solana.DecodeTransactionBase64(req.Tx)
			if err != nil {
				logger.DebugContext(r.Context(), "undecodable transaction", "index", i, "error", err)
				reject(http.StatusBadRequest, nats.OutcomeInvalid,
					fmt.Sprintf("transaction %d: invalid encoding", i))
				return
			}
			txs[i] = tx
		}

		if idx, err := v.CheckAll(txs); err != nil {
			event.FailedPredicates = validator.FailedPredicates(err)
			logger.InfoContext(r.Context(), "funding request rejected by policy",
				"request_id", event.RequestID,
				"index", idx,
				"failed_predicates", event.FailedPredicates,
			)
			reject(http.StatusForbidden, nats.OutcomeRejected,
				fmt.Sprintf("transaction %d is not an authorized claim", idx))
			return
		}

		for i, req := range reqs {
			if !funders.Has(req.Funder) {
				reject(http.StatusForbidden, nats.OutcomeRejected,
					fmt.Sprintf("transaction %d: unknown funder", i))
				return
			}
		}

		for i, req := range reqs {
			if err := funders.Sign(txs[i], req.Funder); err != nil {
				if errors.Is(err, solana.ErrNotRequiredSigner) || errors.Is(err, funder.ErrUnknownFunder) {
					reject(http.StatusForbidden, nats.OutcomeRejected,
						fmt.Sprintf("transaction %d: funder is not a required signer", i))
					return
				}
				logger.ErrorContext(r.Context(), "failed to sign transaction", "index", i, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		out := make([]string, len(txs))
		for i, tx := range txs {
			b64, err := solana.EncodeTransactionBase64(tx)
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to encode signed transaction", "index", i, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			out[i] = b64
			event.Signatures = append(event.Signatures, tx.Signatures[0].String())
		}

		event.Outcome = nats.OutcomeFunded
		publishFunding(r.Context(), pub, event, logger)
		if m != nil {
			m.RecordFundingRequest(nats.OutcomeFunded, len(txs))
		}

		logger.InfoContext(r.Context(), "funded transactions",
			"request_id", event.RequestID,
			"count", len(txs),
		)
		writeJSON(w, out, http.StatusOK)
	})
}

// publishFunding emits the event without letting a publish failure reach the caller.
func publishFunding(ctx context.Context, pub nats.Publisher, event *nats.FundingEvent, logger *slog.Logger) {
	if err := pub.PublishFunding(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to publish funding event",
			"request_id", event.RequestID,
			"outcome", event.Outcome,
			"error", err,
		)
	}
}

// handleDiscordSignedMessage returns a handler that signs the caller's Discord
// username together with their claimant key.
// GET /discord_signed_message?publicKey=BASE58 with Authorization: Bearer TOKEN
func handleDiscordSignedMessage(exchanger discord.TokenExchanger, signer *discord.Signer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("publicKey")
		if raw == "" {
			writeError(w, "publicKey query parameter is required", http.StatusBadRequest)
			return
		}
		claimant, err := solanago.PublicKeyFromBase58(raw)
		if err != nil {
			logger.DebugContext(r.Context(), "invalid claimant key", "public_key", raw, "error", err)
			writeError(w, "invalid publicKey: must be a base58 Solana address", http.StatusBadRequest)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, "missing bearer token", http.StatusBadRequest)
			return
		}

		user, err := exchanger.CurrentUser(r.Context(), token)
		if err != nil {
			logger.WarnContext(r.Context(), "discord token exchange failed", "error", err)
			writeError(w, "failed to resolve discord identity", http.StatusInternalServerError)
			return
		}

		signed, err := signer.Sign(user.Username, claimant)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to sign discord identity", "user_id", user.ID, "error", err)
			writeError(w, "failed to sign identity", http.StatusInternalServerError)
			return
		}

		logger.DebugContext(r.Context(), "signed discord identity",
			"user_id", user.ID,
			"claimant", claimant.String(),
		)
		writeJSON(w, signed.Hex(), http.StatusOK)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// amountAndProofResponse is the JSON response format for an allocation.
type amountAndProofResponse struct {
	Ecosystem string   `json:"ecosystem"`
	Identity  string   `json:"identity"`
	Amount    uint64   `json:"amount,string"`
	Proof     []string `json:"proof"`
}

// handleAmountAndProof returns a handler that looks up an identity's allocation.
// GET /amount_and_proof?ecosystem=ECOSYSTEM&identity=IDENTITY
func handleAmountAndProof(store ProofStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		eco, err := claim.ParseEcosystem(query.Get("ecosystem"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		identity := query.Get("identity")
		if identity == "" {
			writeError(w, "identity query parameter is required", http.StatusBadRequest)
			return
		}

		alloc, err := store.GetAmountAndProof(r.Context(), eco, identity)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "identity is not eligible", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to look up allocation",
				"ecosystem", eco.String(),
				"identity", identity,
				"error", err,
			)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		proof := make([]string, len(alloc.Proof))
		for i, h := range alloc.Proof {
			proof[i] = h.String()
		}
		writeJSON(w, amountAndProofResponse{
			Ecosystem: alloc.Info.Ecosystem.String(),
			Identity:  alloc.Info.Identity,
			Amount:    alloc.Info.Amount,
			Proof:     proof,
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, map[string]string{
		"error": message,
	}, status)
}
