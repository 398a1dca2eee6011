// Package ledger queries the system of record for payment transactions.
//
// A Querier answers one question: does this transaction exist, did it
// succeed, and what did it credit to the payee. Backends exist for Solana
// (the default), EVM chains, and a remote HTTP indexer.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ErrInvalidReference is returned when a reference can never name a
// transaction on the backend's ledger (bad encoding, wrong length).
var ErrInvalidReference = errors.New("invalid transaction reference")

// DefaultTimeout bounds a single ledger query.
const DefaultTimeout = 10 * time.Second

// Transaction is the ledger's view of a payment.
type Transaction struct {
	Reference string   `json:"reference"`
	Found     bool     `json:"found"`
	Succeeded bool     `json:"succeeded"`
	Asset     string   `json:"asset,omitempty"`  // token credited to the payee
	Amount    *big.Int `json:"amount,omitempty"` // smallest units credited to the payee
	Payee     string   `json:"payee,omitempty"`
}

// Querier is the ledger query collaborator consumed by the verifier.
type Querier interface {
	QueryTransaction(ctx context.Context, reference string) (*Transaction, error)
}

func notFound(ref string) *Transaction {
	return &Transaction{Reference: ref}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
