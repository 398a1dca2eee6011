package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var testUSDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

type fakeSolanaRPC struct {
	res   *rpc.GetTransactionResult
	err   error
	calls int
	opts  *rpc.GetTransactionOpts
}

func (f *fakeSolanaRPC) GetTransaction(_ context.Context, _ solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	f.calls++
	f.opts = opts
	return f.res, f.err
}

func testSignature() string {
	var sig solana.Signature
	for i := range sig {
		sig[i] = byte(i + 1)
	}
	return sig.String()
}

func tokenBal(idx uint16, owner solana.PublicKey, mint solana.PublicKey, amount string) rpc.TokenBalance {
	o := owner
	return rpc.TokenBalance{
		AccountIndex:  idx,
		Owner:         &o,
		Mint:          mint,
		UiTokenAmount: &rpc.UiTokenAmount{Amount: amount, Decimals: 6},
	}
}

func newTestSolana(t *testing.T, f *fakeSolanaRPC) (*Solana, solana.PublicKey) {
	t.Helper()
	payee := solana.NewWallet().PublicKey()
	s, err := newSolana(f, payee.String(), []string{testUSDCMint.String()}, 0)
	if err != nil {
		t.Fatalf("newSolana: %v", err)
	}
	return s, payee
}

// ── QueryTransaction ──────────────────────────────────────────────────────────

func TestSolana_NotFound(t *testing.T) {
	f := &fakeSolanaRPC{err: rpc.ErrNotFound}
	s, _ := newTestSolana(t, f)

	tx, err := s.QueryTransaction(context.Background(), testSignature())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Found {
		t.Error("expected Found=false")
	}
	if f.opts == nil || f.opts.Commitment != rpc.CommitmentConfirmed {
		t.Errorf("commitment: got %+v", f.opts)
	}
	if f.opts.MaxSupportedTransactionVersion == nil || *f.opts.MaxSupportedTransactionVersion != 0 {
		t.Error("maxSupportedTransactionVersion must be 0")
	}
}

func TestSolana_Failed(t *testing.T) {
	f := &fakeSolanaRPC{res: &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{Err: map[string]any{"InstructionError": []any{0, "Custom"}}},
	}}
	s, _ := newTestSolana(t, f)

	tx, err := s.QueryTransaction(context.Background(), testSignature())
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Found || tx.Succeeded {
		t.Errorf("got Found=%v Succeeded=%v, want true/false", tx.Found, tx.Succeeded)
	}
}

func TestSolana_SucceededCreditsPayee(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	f := &fakeSolanaRPC{}
	s, payee := newTestSolana(t, f)
	f.res = &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBal(1, payer, testUSDCMint, "9000000"),
			tokenBal(2, payee, testUSDCMint, "1000000"),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBal(1, payer, testUSDCMint, "4000000"),
			tokenBal(2, payee, testUSDCMint, "6000000"),
		},
	}}

	tx, err := s.QueryTransaction(context.Background(), testSignature())
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Found || !tx.Succeeded {
		t.Fatalf("got %+v", tx)
	}
	if tx.Asset != testUSDCMint.String() {
		t.Errorf("asset: got %q", tx.Asset)
	}
	if tx.Amount == nil || tx.Amount.Int64() != 5_000_000 {
		t.Errorf("amount: got %v want 5000000", tx.Amount)
	}
}

func TestSolana_NewPayeeAccountCountsFromZero(t *testing.T) {
	f := &fakeSolanaRPC{}
	s, payee := newTestSolana(t, f)
	f.res = &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{
		PostTokenBalances: []rpc.TokenBalance{tokenBal(3, payee, testUSDCMint, "250")},
	}}

	tx, err := s.QueryTransaction(context.Background(), testSignature())
	if err != nil {
		t.Fatal(err)
	}
	if tx.Amount == nil || tx.Amount.Int64() != 250 {
		t.Errorf("amount: got %v want 250", tx.Amount)
	}
}

func TestSolana_IgnoresOtherMintsAndOwners(t *testing.T) {
	other := solana.NewWallet().PublicKey()
	otherMint := solana.NewWallet().PublicKey()
	f := &fakeSolanaRPC{}
	s, payee := newTestSolana(t, f)
	f.res = &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{
		PostTokenBalances: []rpc.TokenBalance{
			tokenBal(1, other, testUSDCMint, "100"),
			tokenBal(2, payee, otherMint, "100"),
		},
	}}

	tx, err := s.QueryTransaction(context.Background(), testSignature())
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Succeeded {
		t.Fatal("expected success")
	}
	if tx.Amount != nil || tx.Asset != "" {
		t.Errorf("expected no credited amount, got %v %q", tx.Amount, tx.Asset)
	}
}

func TestSolana_RPCError(t *testing.T) {
	f := &fakeSolanaRPC{err: errors.New("connection refused")}
	s, _ := newTestSolana(t, f)
	if _, err := s.QueryTransaction(context.Background(), testSignature()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSolana_InvalidReference(t *testing.T) {
	f := &fakeSolanaRPC{}
	s, _ := newTestSolana(t, f)
	_, err := s.QueryTransaction(context.Background(), "not-a-signature!")
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("got %v, want ErrInvalidReference", err)
	}
	if f.calls != 0 {
		t.Error("rpc must not be called for an invalid reference")
	}
}

func TestNewSolana_InvalidConfig(t *testing.T) {
	if _, err := newSolana(&fakeSolanaRPC{}, "bad payee", nil, 0); err == nil {
		t.Error("expected payee parse error")
	}
	if _, err := newSolana(&fakeSolanaRPC{}, solana.NewWallet().PublicKey().String(), []string{"0x00"}, 0); err == nil {
		t.Error("expected mint parse error")
	}
}
