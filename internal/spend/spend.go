// Package spend enforces per-transaction and per-window spending ceilings.
//
// Each currency has an accumulator for the current window. TryReserve checks
// both ceilings and increments the accumulator as one indivisible step, so
// concurrent reservations can never jointly push a currency past its window
// ceiling. Accumulators only move up until Rollover resets them.
package spend

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/x402"
)

// ErrNotApplied marks TryReserve errors raised before anything was written.
// Errors without it leave the reservation state unknown.
var ErrNotApplied = errors.New("reservation not applied")

var ErrNonPositiveAmount = fmt.Errorf("%w: amount must be positive", ErrNotApplied)

// Limits are the ceilings for one currency, in smallest units.
type Limits struct {
	PerTransaction *big.Int
	PerWindow      *big.Int
}

// NewLimits scales decimal ceilings to cur's smallest unit. Ceilings that are
// not exact at cur's precision are rejected.
func NewLimits(cur currency.Currency, perTransaction, perWindow decimal.Decimal) (Limits, error) {
	tx, err := cur.ToSmallest(perTransaction)
	if err != nil {
		return Limits{}, fmt.Errorf("%s per-transaction limit: %w", cur.Symbol, err)
	}
	win, err := cur.ToSmallest(perWindow)
	if err != nil {
		return Limits{}, fmt.Errorf("%s per-window limit: %w", cur.Symbol, err)
	}
	return Limits{PerTransaction: tx, PerWindow: win}, nil
}

// Decision is the result of a reservation attempt. Spent is the window
// accumulator after the attempt.
type Decision struct {
	Approved bool
	Reason   x402.Reason
	Spent    *big.Int
}

// Status is one currency's line in a spend snapshot.
type Status struct {
	Currency       string   `json:"currency"`
	Spent          *big.Int `json:"spent"`
	PerTransaction *big.Int `json:"per_transaction_limit"`
	PerWindow      *big.Int `json:"per_window_limit"`
	WindowStart    int64    `json:"window_start"` // unix seconds, 0 before the first window opens
}

// Ledger is implemented by MemoryLedger and RedisLedger.
type Ledger interface {
	TryReserve(ctx context.Context, currency string, amount *big.Int) (Decision, error)
	Rollover(ctx context.Context) error
	Snapshot(ctx context.Context) ([]Status, error)
}

// policy holds the configured ceilings shared by both backends.
type policy map[string]Limits

func newPolicy(limits map[string]Limits) (policy, error) {
	p := make(policy, len(limits))
	for sym, l := range limits {
		if l.PerTransaction == nil || l.PerTransaction.Sign() <= 0 {
			return nil, fmt.Errorf("%s: per-transaction limit must be positive", sym)
		}
		if l.PerWindow == nil || l.PerWindow.Sign() <= 0 {
			return nil, fmt.Errorf("%s: per-window limit must be positive", sym)
		}
		p[strings.ToUpper(sym)] = l
	}
	return p, nil
}

// check returns the denial reason for reserving amount on top of spent, or
// ReasonNone. The per-transaction ceiling is checked first so that an
// oversized request is always reported as such regardless of window state.
func check(l Limits, spent, amount *big.Int) x402.Reason {
	if amount.Cmp(l.PerTransaction) > 0 {
		return x402.ReasonExceedsPerTransactionLimit
	}
	if new(big.Int).Add(spent, amount).Cmp(l.PerWindow) > 0 {
		return x402.ReasonExceedsWindowLimit
	}
	return x402.ReasonNone
}

func (p policy) symbols() []string {
	out := make([]string, 0, len(p))
	for s := range p {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	return nil
}

func denied(reason x402.Reason, spent *big.Int) Decision {
	return Decision{Reason: reason, Spent: spent}
}
