package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/dispenser/client"
	"github.com/brojonat/dispenser/service/broadcast"
	"github.com/brojonat/dispenser/service/claim"
	"github.com/brojonat/dispenser/service/funder"
	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func claimFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "funder",
			Usage:    "Funder public key that pays fees",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "treasury",
			Usage:   "Treasury token account the claim draws from",
			EnvVars: []string{"TREASURY_ADDRESS"},
		},
		&cli.StringFlag{
			Name:  "claimant",
			Usage: "Claimant public key (defaults to the --claimant-key public key)",
		},
		&cli.StringFlag{
			Name:  "ecosystem",
			Usage: "Ecosystem of the identity (" + fmt.Sprint(claim.Ecosystems()) + ")",
			Value: "solana",
		},
		&cli.StringFlag{
			Name:  "identity",
			Usage: "Identity in the ecosystem (defaults to the claimant for solana)",
		},
		&cli.Uint64Flag{
			Name:  "amount",
			Usage: "Allocated amount (looked up on the server with --fetch-proof)",
		},
		&cli.StringSliceFlag{
			Name:  "proof",
			Usage: "Hex merkle proof node, leaf to root (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "fetch-proof",
			Usage: "Look up amount and proof on the dispenser server",
		},
		&cli.StringFlag{
			Name:    "merkle-root",
			Usage:   "Hex merkle root to check the proof against before building",
			EnvVars: []string{"MERKLE_ROOT"},
		},
		&cli.StringFlag{
			Name:    "discord-token",
			Usage:   "Discord OAuth access token, exchanged on the server for a signed identity",
			EnvVars: []string{"DISCORD_ACCESS_TOKEN"},
		},
		&cli.StringFlag{
			Name:  "signer-pubkey",
			Usage: "Hex public key (or 20-byte address for evm/injective) that signed --message",
		},
		&cli.StringFlag{
			Name:  "signature",
			Usage: "Hex signature over --message",
		},
		&cli.StringFlag{
			Name:  "message",
			Usage: "Hex message signed in the identity's ecosystem",
		},
		&cli.IntFlag{
			Name:  "recovery-id",
			Usage: "Recovery ID for secp256k1 signatures (-1 when not applicable)",
			Value: -1,
		},
		&cli.Uint64Flag{
			Name:    "compute-unit-price",
			Usage:   "Priority fee in micro-lamports per compute unit",
			EnvVars: []string{"COMPUTE_UNIT_PRICE"},
			Value:   100_000,
		},
		&cli.StringFlag{
			Name:    "claim-costs",
			Usage:   "TOML compute cost table",
			EnvVars: []string{"CLAIM_COSTS_FILE"},
		},
	}
}

// signedMessageFromFlags returns the off-chain signature backing the identity,
// or nil when none was given.
func signedMessageFromFlags(ctx context.Context, c *cli.Context, cl *client.Client, claimant solanago.PublicKey) (*claim.SignedMessage, error) {
	if token := c.String("discord-token"); token != "" {
		return cl.DiscordSignedMessage(ctx, token, claimant)
	}
	if c.String("signature") == "" {
		return nil, nil
	}

	msg := &claim.SignedMessage{}
	for _, f := range []struct {
		flag string
		dst  *[]byte
	}{
		{"signer-pubkey", &msg.PublicKey},
		{"signature", &msg.Signature},
		{"message", &msg.FullMessage},
	} {
		b, err := hex.DecodeString(trimHex(c.String(f.flag)))
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", f.flag, err)
		}
		*f.dst = b
	}
	if rid := c.Int("recovery-id"); rid >= 0 {
		if rid > 3 {
			return nil, fmt.Errorf("invalid --recovery-id %d: must be 0-3", rid)
		}
		v := uint8(rid)
		msg.RecoveryID = &v
	}
	return msg, nil
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// claimKey loads --claimant-key, if given.
func claimKey(c *cli.Context) (solanago.PrivateKey, bool, error) {
	raw := c.String("claimant-key")
	if raw == "" {
		return nil, false, nil
	}
	key, err := funder.LoadKey(raw)
	if err != nil {
		return nil, false, fmt.Errorf("invalid --claimant-key: %w", err)
	}
	return key, true, nil
}

// buildClaimFromFlags assembles an unsigned claim transaction.
func buildClaimFromFlags(ctx context.Context, c *cli.Context, logger *slog.Logger) (*solanago.Transaction, error) {
	program, err := requirePublicKey(c, "claim-program")
	if err != nil {
		return nil, err
	}
	mint, err := requirePublicKey(c, "mint")
	if err != nil {
		return nil, err
	}
	funderKey, err := requirePublicKey(c, "funder")
	if err != nil {
		return nil, err
	}
	treasury, err := requirePublicKey(c, "treasury")
	if err != nil {
		return nil, err
	}

	var claimant solanago.PublicKey
	if c.String("claimant") != "" {
		if claimant, err = requirePublicKey(c, "claimant"); err != nil {
			return nil, err
		}
	} else if key, ok, err := claimKey(c); err != nil {
		return nil, err
	} else if ok {
		claimant = key.PublicKey()
	} else {
		return nil, fmt.Errorf("--claimant or --claimant-key is required")
	}

	eco, err := claim.ParseEcosystem(c.String("ecosystem"))
	if err != nil {
		return nil, err
	}
	identity := c.String("identity")
	if identity == "" && eco == claim.EcosystemSolana {
		identity = claimant.String()
	}
	if identity == "" {
		return nil, fmt.Errorf("--identity is required for %s", eco)
	}

	cl := client.NewClient(c.String("server-url"), nil, logger)

	info := claim.ClaimInfo{Ecosystem: eco, Identity: identity, Amount: c.Uint64("amount")}
	proof, err := parseProof(c.StringSlice("proof"))
	if err != nil {
		return nil, err
	}
	if c.Bool("fetch-proof") {
		alloc, err := cl.AmountAndProof(ctx, eco, identity)
		if err != nil {
			return nil, err
		}
		info, proof = alloc.Info, alloc.Proof
	}
	if info.Amount == 0 {
		return nil, fmt.Errorf("--amount or --fetch-proof is required")
	}

	signed, err := signedMessageFromFlags(ctx, c, cl, claimant)
	if err != nil {
		return nil, err
	}

	cfg := claim.Config{
		ProgramID:        program,
		Mint:             mint,
		ComputeUnitPrice: c.Uint64("compute-unit-price"),
	}
	if path := c.String("claim-costs"); path != "" {
		if cfg.Costs, err = claim.LoadCostModel(path); err != nil {
			return nil, err
		}
	}
	if root := c.String("merkle-root"); root != "" {
		h, err := claim.ParseHash(root)
		if err != nil {
			return nil, fmt.Errorf("invalid --merkle-root: %w", err)
		}
		cfg.MerkleRoot = &h
	}

	endpoint, err := solana.SelectRandomEndpoint(c.StringSlice("rpc-url"))
	if err != nil {
		return nil, err
	}
	ledger := solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), nil, logger)

	return claim.NewBuilder(cfg, ledger, nil, logger).BuildClaim(ctx, claim.ClaimRequest{
		Funder:        funderKey,
		Treasury:      treasury,
		Claimant:      claimant,
		Info:          info,
		Proof:         proof,
		SignedMessage: signed,
	})
}

func buildClaimCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Build an unsigned claim transaction and print it as base64",
		Flags: append(claimFlags(), &cli.StringFlag{
			Name:  "claimant-key",
			Usage: "Claimant key (keygen file or base58), used only for its public key",
		}),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			tx, err := buildClaimFromFlags(ctx, c, newLogger(c))
			if err != nil {
				return fmt.Errorf("failed to build claim: %w", err)
			}
			b64, err := solana.EncodeTransactionBase64(tx)
			if err != nil {
				return err
			}

			if jsonOutput(c) {
				return outputJSON(c, map[string]interface{}{
					"tx":          b64,
					"transaction": decodeTransaction(tx),
				})
			}
			fmt.Fprintln(c.App.Writer, b64)
			return nil
		},
	}
}

func submitClaimCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Build, sign, fund and broadcast a claim",
		Flags: append(claimFlags(),
			&cli.StringFlag{
				Name:     "claimant-key",
				Usage:    "Claimant key (keygen file or base58)",
				EnvVars:  []string{"CLAIMANT_KEY"},
				Required: true,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Per-endpoint confirmation timeout",
				EnvVars: []string{"BROADCAST_TIMEOUT"},
				Value:   broadcast.DefaultTimeout,
			},
			&cli.DurationFlag{
				Name:    "backoff",
				Usage:   "Pause between submit and poll rounds",
				EnvVars: []string{"BROADCAST_BACKOFF"},
				Value:   broadcast.DefaultBackoff,
			},
		),
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			ctx := context.Background()

			key, _, err := claimKey(c)
			if err != nil {
				return err
			}

			buildCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			tx, err := buildClaimFromFlags(buildCtx, c, logger)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to build claim: %w", err)
			}

			funderKey, err := requirePublicKey(c, "funder")
			if err != nil {
				return err
			}
			cl := client.NewClient(c.String("server-url"), nil, logger)
			funded, err := cl.Fund(ctx, funderKey, tx)
			if err != nil {
				return fmt.Errorf("funding rejected: %w", err)
			}
			if err := solana.SignTransactionAs(funded[0], key); err != nil {
				return fmt.Errorf("failed to sign as claimant: %w", err)
			}

			return broadcastAndReport(ctx, c, logger, funded)
		},
	}
}

// broadcastAndReport drives txs to confirmation and prints one result per tx.
func broadcastAndReport(ctx context.Context, c *cli.Context, logger *slog.Logger, txs []*solanago.Transaction) error {
	urls := c.StringSlice("rpc-url")
	if len(urls) == 0 {
		return fmt.Errorf("rpc-url is required (set SOLANA_RPC_URLS env var or use --rpc-url)")
	}
	b := broadcast.New(
		broadcast.FromClients(solana.NewClientsFromURLs(urls, nil, logger)),
		broadcast.Config{Timeout: c.Duration("timeout"), Backoff: c.Duration("backoff")},
		nil, logger,
	)

	results, err := b.BroadcastAll(ctx, txs)
	if err != nil {
		return fmt.Errorf("broadcast failed: %w", err)
	}

	if jsonOutput(c) {
		if err := outputJSON(c, results); err != nil {
			return err
		}
	} else {
		for i, r := range results {
			mark := "✗"
			if r.Confirmed {
				mark = "✓"
			}
			fmt.Fprintf(c.App.Writer, "%s %d %s (%s)\n", mark, i, r.Signature, r.Status)
		}
	}

	for _, r := range results {
		if !r.Confirmed {
			return fmt.Errorf("at least one transaction was not confirmed")
		}
	}
	return nil
}
