package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/brojonat/dispenser/service/claim"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// jsonOutput reports whether the command should print JSON.
func jsonOutput(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

// outputJSON prints v as indented JSON, or the results of --jq applied to it.
func outputJSON(c *cli.Context, v interface{}) error {
	w := c.App.Writer
	filter := c.String("jq")
	if filter == "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	results, err := applyJQ(filter, v)
	if err != nil {
		return err
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}

// applyJQ runs a jq filter over the JSON form of v.
func applyJQ(filter string, v interface{}) ([]interface{}, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// gojq only understands plain JSON values
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}

	var out []interface{}
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// newLogger builds the stderr logger for CLI diagnostics.
func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	switch c.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// requirePublicKey parses a base58 flag value.
func requirePublicKey(c *cli.Context, name string) (solanago.PublicKey, error) {
	raw := c.String(name)
	if raw == "" {
		return solanago.PublicKey{}, fmt.Errorf("--%s is required", name)
	}
	pk, err := solanago.PublicKeyFromBase58(raw)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return pk, nil
}

// readTransactions collects base64 transactions from args, or from stdin
// (one per line) when the only arg is "-".
func readTransactions(c *cli.Context) ([]string, error) {
	args := c.Args().Slice()
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		args = strings.Fields(string(data))
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one base64 transaction is required")
	}
	return args, nil
}

// parseProof decodes hex proof nodes.
func parseProof(nodes []string) (claim.Proof, error) {
	proof := make(claim.Proof, 0, len(nodes))
	for i, s := range nodes {
		h, err := claim.ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("proof node %d: %w", i, err)
		}
		proof = append(proof, h)
	}
	return proof, nil
}
