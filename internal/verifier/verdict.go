package verifier

import (
	"math/big"

	"github.com/alicehelio/paygate/internal/x402"
)

// Verdict is the outcome of verifying one payment proof. Amount, Currency
// and Asset come from the ledger record, never from the client's claim.
type Verdict struct {
	Valid     bool        `json:"valid"`
	Reference string      `json:"reference"`
	Amount    string      `json:"amount,omitempty"` // smallest units
	Currency  string      `json:"currency,omitempty"`
	Asset     string      `json:"asset,omitempty"`
	Reason    x402.Reason `json:"reason,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// AmountInt parses Amount. It returns nil when the verdict carries no amount.
func (v Verdict) AmountInt() *big.Int {
	if v.Amount == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(v.Amount, 10)
	if !ok {
		return nil
	}
	return n
}

// Terminal reports whether the verdict is final for its reference and may be
// cached. Transient failures and verdicts without a reference are not.
func (v Verdict) Terminal() bool {
	if v.Reference == "" {
		return false
	}
	switch v.Reason {
	case x402.ReasonNone, x402.ReasonNotFound, x402.ReasonTransactionFailed:
		return true
	}
	return false
}

func invalid(reference string, reason x402.Reason, detail string) Verdict {
	return Verdict{Reference: reference, Reason: reason, Error: detail}
}
