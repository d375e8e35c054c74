package main

import (
	"context"
	"fmt"

	"github.com/brojonat/dispenser/service/broadcast"
	"github.com/brojonat/dispenser/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Submit fully signed base64 transactions and wait for confirmation",
		ArgsUsage: "TX_BASE64... | -",
		Flags: []cli.Flag{
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
		},
		Action: func(c *cli.Context) error {
			raw, err := readTransactions(c)
			if err != nil {
				return err
			}
			txs := make([]*solanago.Transaction, len(raw))
			for i, b64 := range raw {
				if txs[i], err = solana.DecodeTransactionBase64(b64); err != nil {
					return fmt.Errorf("transaction %d: %w", i, err)
				}
			}
			return broadcastAndReport(context.Background(), c, newLogger(c), txs)
		},
	}
}
