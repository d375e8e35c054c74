package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dispenser",
		Usage: "Token dispenser funding service CLI",
		Description: `A command-line tool for building, checking, funding and broadcasting claim transactions.

Use this CLI to debug transactions against the funding policy, assemble claims,
look up merkle allocations and drive signed transactions to confirmation.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "tx",
				Usage: "Inspect transactions and check them against the funding policy",
				Subcommands: []*cli.Command{
					validateCommand(),
					decodeCommand(),
				},
			},
			{
				Name:  "claim",
				Usage: "Build and submit claim transactions",
				Subcommands: []*cli.Command{
					buildClaimCommand(),
					submitClaimCommand(),
				},
			},
			{
				Name:  "broadcast",
				Usage: "Broadcast signed transactions to every RPC endpoint",
				Subcommands: []*cli.Command{
					sendCommand(),
				},
			},
			{
				Name:  "proof",
				Usage: "Merkle allocation commands",
				Subcommands: []*cli.Command{
					getProofCommand(),
					importProofCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Dispenser server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint (repeatable)",
				EnvVars: []string{"SOLANA_RPC_URLS"},
			},
			&cli.StringFlag{
				Name:    "claim-program",
				Usage:   "Token dispenser program ID",
				EnvVars: []string{"CLAIM_PROGRAM_ID"},
			},
			&cli.StringFlag{
				Name:    "mint",
				Usage:   "Dispensed token mint",
				EnvVars: []string{"MINT_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for stderr diagnostics",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to JSON output (implies --json)",
			},
		},
	}
}
