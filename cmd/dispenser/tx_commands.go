package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brojonat/dispenser/service/solana"
	"github.com/brojonat/dispenser/service/validator"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// validationReport is the per-transaction output of tx validate.
type validationReport struct {
	Index            int      `json:"index"`
	Valid            bool     `json:"valid"`
	FailedPredicates []string `json:"failed_predicates,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// policyFromFlags assembles the policy tx validate checks against.
func policyFromFlags(c *cli.Context) (validator.Policy, error) {
	program, err := requirePublicKey(c, "claim-program")
	if err != nil {
		return validator.Policy{}, err
	}
	policy := validator.DefaultPolicy(program)
	if c.String("mint") != "" {
		if policy.Mint, err = requirePublicKey(c, "mint"); err != nil {
			return validator.Policy{}, err
		}
	}

	var extra []solanago.PublicKey
	for _, s := range c.StringSlice("allow-program") {
		pk, err := solanago.PublicKeyFromBase58(s)
		if err != nil {
			return validator.Policy{}, fmt.Errorf("invalid --allow-program %q: %w", s, err)
		}
		extra = append(extra, pk)
	}
	policy.Whitelist = policy.Whitelist.Union(validator.NewWhitelist(extra...))
	policy.MaxComputeUnitPrice = c.Uint64("max-compute-unit-price")
	policy.MaxSignatures = c.Int("max-signatures")
	return policy, nil
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check base64 transactions against the funding policy",
		ArgsUsage: "TX_BASE64... | -",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "allow-program",
				Usage: "Additional whitelisted program (repeatable)",
			},
			&cli.Uint64Flag{
				Name:  "max-compute-unit-price",
				Usage: "Exclusive ceiling on the priority fee (micro-lamports per CU)",
				Value: validator.DefaultMaxComputeUnitPrice,
			},
			&cli.IntFlag{
				Name:  "max-signatures",
				Usage: "Maximum signatures including precompile verifications",
				Value: validator.DefaultMaxSignatures,
			},
		},
		Action: func(c *cli.Context) error {
			policy, err := policyFromFlags(c)
			if err != nil {
				return err
			}
			raw, err := readTransactions(c)
			if err != nil {
				return err
			}

			v := validator.New(policy, nil, newLogger(c))
			reports := make([]validationReport, len(raw))
			allValid := true
			for i, b64 := range raw {
				reports[i].Index = i
				tx, err := solana.DecodeTransactionBase64(b64)
				if err != nil {
					reports[i].Error = err.Error()
					allValid = false
					continue
				}
				if err := v.Check(tx); err != nil {
					reports[i].FailedPredicates = validator.FailedPredicates(err)
					allValid = false
					continue
				}
				reports[i].Valid = true
			}

			if jsonOutput(c) {
				if err := outputJSON(c, reports); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "INDEX\tVALID\tDETAIL")
				for _, r := range reports {
					detail := r.Error
					if len(r.FailedPredicates) > 0 {
						detail = fmt.Sprintf("%v", r.FailedPredicates)
					}
					fmt.Fprintf(w, "%d\t%t\t%s\n", r.Index, r.Valid, detail)
				}
				w.Flush()
			}

			if !allValid {
				return fmt.Errorf("batch rejected: at least one transaction violates the policy")
			}
			return nil
		},
	}
}

// decodedInstruction is one instruction in tx decode output.
type decodedInstruction struct {
	Program     string `json:"program"`
	Accounts    int    `json:"accounts"`
	DataLen     int    `json:"data_len"`
	BudgetKind  string `json:"compute_budget,omitempty"`
	BudgetValue uint64 `json:"compute_budget_value,omitempty"`
}

// decodedTransaction is the output of tx decode.
type decodedTransaction struct {
	Versioned      bool                 `json:"versioned"`
	FeePayer       string               `json:"fee_payer"`
	Signers        []string             `json:"signers"`
	Signed         []bool               `json:"signed"`
	SignatureCount int                  `json:"signature_count"`
	Blockhash      string               `json:"recent_blockhash"`
	Instructions   []decodedInstruction `json:"instructions"`
}

func decodeTransaction(tx *solanago.Transaction) decodedTransaction {
	out := decodedTransaction{
		Versioned: tx.Message.IsVersioned(),
		Blockhash: tx.Message.RecentBlockhash.String(),
	}
	n := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < n && i < len(tx.Message.AccountKeys); i++ {
		out.Signers = append(out.Signers, tx.Message.AccountKeys[i].String())
		out.Signed = append(out.Signed, i < len(tx.Signatures) && !tx.Signatures[i].IsZero())
	}
	if len(out.Signers) > 0 {
		out.FeePayer = out.Signers[0]
	}
	out.SignatureCount, _ = validator.CountSignatures(tx)

	dec := validator.ComputeBudgetDecoder{}
	for _, ix := range tx.Message.Instructions {
		d := decodedInstruction{Accounts: len(ix.Accounts), DataLen: len(ix.Data)}
		program, ok := solana.ProgramIDAt(tx, ix)
		if !ok {
			d.Program = "(invalid index)"
			out.Instructions = append(out.Instructions, d)
			continue
		}
		d.Program = program.String()
		if budget, err := dec.Decode(program, ix.Data); err == nil {
			d.BudgetKind = budget.Kind.String()
			switch budget.Kind {
			case validator.KindSetComputeUnitPrice:
				d.BudgetValue = budget.MicroLamports
			default:
				d.BudgetValue = uint64(budget.Units)
			}
		}
		out.Instructions = append(out.Instructions, d)
	}
	return out
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Print the signers and instructions of a base64 transaction",
		ArgsUsage: "TX_BASE64",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: base64 transaction")
			}
			tx, err := solana.DecodeTransactionBase64(c.Args().First())
			if err != nil {
				return err
			}
			decoded := decodeTransaction(tx)

			if jsonOutput(c) {
				return outputJSON(c, decoded)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Versioned:       %t\n", decoded.Versioned)
			fmt.Fprintf(w, "Fee payer:       %s\n", decoded.FeePayer)
			fmt.Fprintf(w, "Blockhash:       %s\n", decoded.Blockhash)
			fmt.Fprintf(w, "Signature count: %d\n", decoded.SignatureCount)
			for i, s := range decoded.Signers {
				fmt.Fprintf(w, "  signer %d: %s (signed: %t)\n", i, s, decoded.Signed[i])
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "\n#\tPROGRAM\tACCOUNTS\tDATA\tCOMPUTE BUDGET")
			for i, ix := range decoded.Instructions {
				budget := ""
				if ix.BudgetKind != "" {
					budget = fmt.Sprintf("%s=%d", ix.BudgetKind, ix.BudgetValue)
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", i, ix.Program, ix.Accounts, ix.DataLen, budget)
			}
			tw.Flush()
			if decoded.SignatureCount == 0 {
				fmt.Fprintln(os.Stderr, "warning: could not count signatures, a precompile instruction is malformed")
			}
			return nil
		},
	}
}
