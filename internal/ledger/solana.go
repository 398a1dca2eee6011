package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// transactionFetcher is the subset of *rpc.Client used here.
type transactionFetcher interface {
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// Solana confirms SPL token payments to a fixed payee.
type Solana struct {
	rpc     transactionFetcher
	payee   solana.PublicKey
	mints   map[solana.PublicKey]bool
	timeout time.Duration
}

// NewSolana dials nothing; rpc.New is lazy. mints lists the accepted token
// mints (base58); transfers of any other mint are ignored.
func NewSolana(rpcURL, payee string, mints []string, timeout time.Duration) (*Solana, error) {
	return newSolana(rpc.New(rpcURL), payee, mints, timeout)
}

func newSolana(client transactionFetcher, payee string, mints []string, timeout time.Duration) (*Solana, error) {
	payeeKey, err := solana.PublicKeyFromBase58(payee)
	if err != nil {
		return nil, fmt.Errorf("parse payee %q: %w", payee, err)
	}
	accepted := make(map[solana.PublicKey]bool, len(mints))
	for _, m := range mints {
		key, err := solana.PublicKeyFromBase58(m)
		if err != nil {
			return nil, fmt.Errorf("parse mint %q: %w", m, err)
		}
		accepted[key] = true
	}
	return &Solana{rpc: client, payee: payeeKey, mints: accepted, timeout: timeout}, nil
}

func (s *Solana) QueryTransaction(ctx context.Context, reference string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	maxVersion := uint64(0)
	res, err := s.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return notFound(reference), nil
		}
		return nil, fmt.Errorf("getTransaction %s: %w", reference, err)
	}
	if res == nil || res.Meta == nil {
		return notFound(reference), nil
	}

	tx := &Transaction{
		Reference: reference,
		Found:     true,
		Succeeded: res.Meta.Err == nil,
		Payee:     s.payee.String(),
	}
	if !tx.Succeeded {
		return tx, nil
	}
	if mint, amount, ok := s.credited(res.Meta); ok {
		tx.Asset = mint.String()
		tx.Amount = amount
	}
	return tx, nil
}

// credited finds the first accepted mint whose payee-owned balance grew.
func (s *Solana) credited(meta *rpc.TransactionMeta) (solana.PublicKey, *big.Int, bool) {
	pre := make(map[uint16]*big.Int, len(meta.PreTokenBalances))
	for _, b := range meta.PreTokenBalances {
		if amt, ok := tokenAmount(b); ok {
			pre[b.AccountIndex] = amt
		}
	}
	for _, b := range meta.PostTokenBalances {
		if b.Owner == nil || !b.Owner.Equals(s.payee) || !s.mints[b.Mint] {
			continue
		}
		post, ok := tokenAmount(b)
		if !ok {
			continue
		}
		before := pre[b.AccountIndex]
		if before == nil {
			before = new(big.Int) // account created by this transaction
		}
		delta := new(big.Int).Sub(post, before)
		if delta.Sign() > 0 {
			return b.Mint, delta, true
		}
	}
	return solana.PublicKey{}, nil, false
}

func tokenAmount(b rpc.TokenBalance) (*big.Int, bool) {
	if b.UiTokenAmount == nil {
		return nil, false
	}
	return new(big.Int).SetString(b.UiTokenAmount.Amount, 10)
}
