package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/brojonat/dispenser/client"
	"github.com/brojonat/dispenser/service/claim"
	"github.com/brojonat/dispenser/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

// proofOutput is the printable form of an allocation.
type proofOutput struct {
	Ecosystem string   `json:"ecosystem"`
	Identity  string   `json:"identity"`
	Amount    uint64   `json:"amount"`
	Proof     []string `json:"proof"`
	Leaf      string   `json:"leaf"`
	Root      string   `json:"root"`
}

func newProofOutput(info claim.ClaimInfo, proof claim.Proof) (proofOutput, error) {
	leaf, err := claim.LeafHash(info)
	if err != nil {
		return proofOutput{}, err
	}
	nodes := make([]string, len(proof))
	for i, h := range proof {
		nodes[i] = h.String()
	}
	return proofOutput{
		Ecosystem: info.Ecosystem.String(),
		Identity:  info.Identity,
		Amount:    info.Amount,
		Proof:     nodes,
		Leaf:      leaf.String(),
		Root:      claim.RootFromProof(leaf, proof).String(),
	}, nil
}

func getProofCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "Look up an identity's allocation and merkle proof on the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "ecosystem",
				Usage:    "Ecosystem of the identity",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "identity",
				Usage:    "Identity in the ecosystem",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			eco, err := claim.ParseEcosystem(c.String("ecosystem"))
			if err != nil {
				return err
			}

			cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
			alloc, err := cl.AmountAndProof(context.Background(), eco, c.String("identity"))
			if err != nil {
				return err
			}

			out, err := newProofOutput(alloc.Info, alloc.Proof)
			if err != nil {
				return err
			}
			if jsonOutput(c) {
				return outputJSON(c, out)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Ecosystem: %s\n", out.Ecosystem)
			fmt.Fprintf(w, "Identity:  %s\n", out.Identity)
			fmt.Fprintf(w, "Amount:    %d\n", out.Amount)
			fmt.Fprintf(w, "Root:      %s\n", out.Root)
			for i, node := range out.Proof {
				fmt.Fprintf(w, "  proof[%d]: %s\n", i, node)
			}
			return nil
		},
	}
}

// readAllocations parses a JSON array of {ecosystem, identity, amount}.
func readAllocations(r io.Reader) ([]claim.ClaimInfo, error) {
	var infos []claim.ClaimInfo
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&infos); err != nil {
		return nil, fmt.Errorf("failed to parse allocations: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("allocations file is empty")
	}
	seen := make(map[string]bool, len(infos))
	for i, info := range infos {
		if info.Identity == "" {
			return nil, fmt.Errorf("allocation %d: identity is required", i)
		}
		key := info.Ecosystem.String() + "/" + info.Identity
		if seen[key] {
			return nil, fmt.Errorf("allocation %d: duplicate identity %s", i, key)
		}
		seen[key] = true
	}
	return infos, nil
}

func importProofCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Build the merkle tree over an allocations file and store every proof",
		ArgsUsage: "ALLOCATIONS_JSON | -",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only compute and print the root",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: allocations file")
			}

			var r io.Reader = c.App.Reader
			if path := c.Args().First(); path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open allocations: %w", err)
				}
				defer f.Close()
				r = f
			}
			infos, err := readAllocations(r)
			if err != nil {
				return err
			}

			var root claim.Hash
			if c.Bool("dry-run") {
				tree, err := claim.NewTree(infos)
				if err != nil {
					return err
				}
				root = tree.Root()
			} else {
				store, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()

				ctx := context.Background()
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
				if root, err = store.ImportTree(ctx, infos); err != nil {
					return fmt.Errorf("failed to import allocations: %w", err)
				}
			}

			if jsonOutput(c) {
				return outputJSON(c, map[string]interface{}{
					"root":        root.String(),
					"allocations": len(infos),
					"stored":      !c.Bool("dry-run"),
				})
			}
			fmt.Fprintf(c.App.Writer, "Root:        %s\n", root)
			fmt.Fprintf(c.App.Writer, "Allocations: %d\n", len(infos))
			return nil
		},
	}
}

// getStore connects to the database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}
