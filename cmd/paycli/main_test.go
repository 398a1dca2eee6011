package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/alicehelio/paygate/internal/config"
	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/ledger"
	"github.com/alicehelio/paygate/internal/verifier"
	"github.com/alicehelio/paygate/internal/x402"
)

const testMint = "ALiCEmint1111111111111111111111111111111111"

type fakeLedger map[string]*ledger.Transaction

func (f fakeLedger) QueryTransaction(_ context.Context, ref string) (*ledger.Transaction, error) {
	if ref == "boom" {
		return nil, errors.New("rpc unavailable")
	}
	if tx, ok := f[ref]; ok {
		return tx, nil
	}
	return &ledger.Transaction{Reference: ref}, nil
}

// stub swaps the config and ledger hooks for the duration of the test.
func stub(t *testing.T, q ledger.Querier) {
	t.Helper()
	prevLoad, prevOpen := loadConfig, openLedger
	t.Cleanup(func() { loadConfig, openLedger = prevLoad, prevOpen })

	loadConfig = func() (*config.Config, error) {
		return &config.Config{
			Payment: config.PaymentConfig{Network: "solana-mainnet", PayTo: "merchant", MaxTimeoutSec: 300},
			Currencies: map[string]config.CurrencyConfig{
				"alice": {Asset: testMint, Decimals: 9, PriceUSD: "0.10", PerTransactionLimit: "100", PerWindowLimit: "1000"},
			},
		}, nil
	}
	openLedger = func(*config.Config, *currency.Registry) (ledger.Querier, error) { return q, nil }
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEncodeProof(t *testing.T) {
	out, err := run(t, "encode-proof", "-s", "sig-1", "-a", "0.1", "-t", "ALICE")
	if err != nil {
		t.Fatalf("encode-proof: %v", err)
	}
	p, err := x402.DecodeProof(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Signature != "sig-1" || p.Token != "ALICE" || p.Amount.String() != "0.1" {
		t.Errorf("proof = %+v", p)
	}
}

func TestEncodeProof_BadAmount(t *testing.T) {
	if _, err := run(t, "encode-proof", "-s", "sig-1", "-a", "lots", "-t", "ALICE"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}

func TestChallenge(t *testing.T) {
	stub(t, fakeLedger{})
	out, err := run(t, "challenge", "-a", "0.1", "-d", "Premium search API access")
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	var ch x402.PaymentRequired
	if err := json.Unmarshal([]byte(out), &ch); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if len(ch.Accepts) != 1 {
		t.Fatalf("accepts = %d", len(ch.Accepts))
	}
	a := ch.Accepts[0]
	if a.MaxAmountRequired != "100000000" || a.Asset != testMint || a.PayTo != "merchant" {
		t.Errorf("requirement = %+v", a)
	}
}

func TestChallenge_UnknownCurrency(t *testing.T) {
	stub(t, fakeLedger{})
	if _, err := run(t, "challenge", "-a", "1", "-c", "DOGE", "-d", "x"); !errors.Is(err, currency.ErrUnknownCurrency) {
		t.Errorf("err = %v, want ErrUnknownCurrency", err)
	}
}

func TestTx(t *testing.T) {
	stub(t, fakeLedger{"sig-paid": {Reference: "sig-paid", Found: true, Succeeded: true, Asset: testMint, Amount: big.NewInt(5)}})

	out, err := run(t, "tx", "sig-paid")
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	var tx ledger.Transaction
	json.Unmarshal([]byte(out), &tx) //nolint:errcheck
	if !tx.Found || tx.Amount.Int64() != 5 {
		t.Errorf("tx = %+v", tx)
	}

	if _, err := run(t, "tx", "boom"); err == nil {
		t.Error("expected ledger error to surface")
	}
}

func TestVerify(t *testing.T) {
	stub(t, fakeLedger{"sig-paid": {Reference: "sig-paid", Found: true, Succeeded: true, Asset: testMint, Amount: big.NewInt(100_000_000)}})

	header, _ := x402.EncodeProof(x402.Proof{Signature: "sig-paid", Token: "ALICE"})
	out, err := run(t, "verify", header)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	var v verifier.Verdict
	json.Unmarshal([]byte(out), &v) //nolint:errcheck
	if !v.Valid || v.Amount != "100000000" || v.Currency != "ALICE" {
		t.Errorf("verdict = %+v", v)
	}

	header, _ = x402.EncodeProof(x402.Proof{Signature: "sig-missing", Token: "ALICE"})
	out, err = run(t, "verify", header)
	if err == nil || !strings.Contains(out, string(x402.ReasonNotFound)) {
		t.Errorf("missing tx: err=%v out=%s", err, out)
	}
}
