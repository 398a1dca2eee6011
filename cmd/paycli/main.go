package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/config"
	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/ledger"
	"github.com/alicehelio/paygate/internal/verifier"
	"github.com/alicehelio/paygate/internal/x402"
)

var Version = "dev"

// Replaced in tests.
var (
	loadConfig = config.Load
	openLedger = func(cfg *config.Config, reg *currency.Registry) (ledger.Querier, error) {
		return ledger.Open(cfg.LedgerOptions(reg))
	}
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paycli",
		Short:         "paycli - operator tools for the x402 payment gate",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(encodeProofCmd())
	root.AddCommand(challengeCmd())
	root.AddCommand(txCmd())
	root.AddCommand(verifyCmd())
	return root
}

func encodeProofCmd() *cobra.Command {
	var (
		signature string
		amount    string
		token     string
	)
	cmd := &cobra.Command{
		Use:   "encode-proof",
		Short: "Encode an X-PAYMENT header value",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			header, err := x402.EncodeProof(x402.Proof{Signature: signature, Amount: amt, Token: token})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), header)
			return nil
		},
	}
	cmd.Flags().StringVarP(&signature, "signature", "s", "", "Transaction reference (signature or hash)")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Claimed amount in whole tokens")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Token symbol")
	cmd.MarkFlagRequired("signature") //nolint:errcheck
	cmd.MarkFlagRequired("amount")    //nolint:errcheck
	cmd.MarkFlagRequired("token")     //nolint:errcheck
	return cmd
}

func challengeCmd() *cobra.Command {
	var (
		amount      string
		symbol      string
		description string
	)
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Print the 402 challenge body for a price",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			cur, err := reg.Lookup(symbol)
			if err != nil {
				return err
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			ch, err := x402.NewBuilder(cfg.Payment.Network, cfg.Payment.PayTo, cfg.Payment.MaxTimeoutSec).
				Build(amt, cur, description)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ch)
		},
	}
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Price in whole tokens")
	cmd.Flags().StringVarP(&symbol, "currency", "c", "ALICE", "Currency symbol")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Resource description")
	cmd.MarkFlagRequired("amount")      //nolint:errcheck
	cmd.MarkFlagRequired("description") //nolint:errcheck
	return cmd
}

func txCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx [reference]",
		Short: "Look up a transaction with the configured ledger backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			q, err := openLedger(cfg, reg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tx, err := q.QueryTransaction(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [x-payment-header]",
		Short: "Verify a payment proof once and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			q, err := openLedger(cfg, reg)
			if err != nil {
				return err
			}
			v := verifier.New(q, verifier.NewMemoryCache(1, 0), reg, zap.NewNop())
			verdict := v.Verify(cmd.Context(), args[0])
			if err := printJSON(cmd.OutOrStdout(), verdict); err != nil {
				return err
			}
			if !verdict.Valid {
				return fmt.Errorf("payment invalid: %s", verdict.Reason)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
