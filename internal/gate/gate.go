// Package gate decides whether a request to a paid route may proceed.
//
// With no proof the caller gets a payment challenge. With a proof the gate
// verifies it, enforces the exact price, claims the transaction reference so
// it can be redeemed only once, and reserves the amount against the spend
// ceilings. The gate keeps no state of its own.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/metrics"
	"github.com/alicehelio/paygate/internal/spend"
	"github.com/alicehelio/paygate/internal/verifier"
	"github.com/alicehelio/paygate/internal/x402"
)

// PaymentVerifier is implemented by *verifier.Verifier.
type PaymentVerifier interface {
	Verify(ctx context.Context, header string) verifier.Verdict
}

// SpendReserver is implemented by spend.MemoryLedger and spend.RedisLedger.
type SpendReserver interface {
	TryReserve(ctx context.Context, currency string, amount *big.Int) (spend.Decision, error)
}

// Route is the static price of a protected operation.
type Route struct {
	Amount      decimal.Decimal
	Currency    currency.Currency
	Description string

	required *big.Int
}

// NewRoute validates the price once so that Admit never has to.
func NewRoute(amount decimal.Decimal, cur currency.Currency, description string) (Route, error) {
	if strings.TrimSpace(description) == "" {
		return Route{}, errors.New("route description required")
	}
	units, err := cur.ToSmallest(amount)
	if err != nil {
		return Route{}, fmt.Errorf("route %q: %w", description, err)
	}
	return Route{Amount: amount, Currency: cur, Description: description, required: units}, nil
}

// Required returns the price in smallest units.
func (r Route) Required() *big.Int { return new(big.Int).Set(r.required) }

// ── Outcome ───────────────────────────────────────────────────────────────────

type Kind int

const (
	KindChallenge Kind = iota
	KindAdmitted
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindChallenge:
		return metrics.OutcomeChallenge
	case KindAdmitted:
		return metrics.OutcomeAdmitted
	case KindRejected:
		return metrics.OutcomeRejected
	default:
		return "unknown"
	}
}

// Outcome is the result of Admit. Challenge is set for KindChallenge,
// AdmissionID for KindAdmitted, Reason and Detail for KindRejected. Verdict
// is set whenever a proof was verified.
type Outcome struct {
	Kind        Kind                  `json:"-"`
	Challenge   *x402.PaymentRequired `json:"-"`
	Verdict     verifier.Verdict      `json:"verdict"`
	Reason      x402.Reason           `json:"reason,omitempty"`
	Detail      string                `json:"-"`
	AdmissionID string                `json:"admission_id,omitempty"`
}

// ── Gate ──────────────────────────────────────────────────────────────────────

type Gate struct {
	builder     *x402.Builder
	verifier    PaymentVerifier
	spend       SpendReserver
	redemptions Redemptions
	log         *zap.Logger
}

func New(builder *x402.Builder, v PaymentVerifier, s SpendReserver, r Redemptions, log *zap.Logger) *Gate {
	return &Gate{builder: builder, verifier: v, spend: s, redemptions: r, log: log}
}

// Builder returns the challenge builder.
func (g *Gate) Builder() *x402.Builder { return g.builder }

// Admit decides one request. It never fails; every non-admitted result
// carries a Reason.
func (g *Gate) Admit(ctx context.Context, route Route, proof string) Outcome {
	out := g.admit(ctx, route, proof)
	metrics.GateOutcomes.WithLabelValues(out.Kind.String(), string(out.Reason)).Inc()
	return out
}

func (g *Gate) admit(ctx context.Context, route Route, proof string) Outcome {
	if strings.TrimSpace(proof) == "" {
		ch, err := g.builder.Build(route.Amount, route.Currency, route.Description)
		if err != nil {
			g.log.Error("build challenge", zap.String("route", route.Description), zap.Error(err))
			return reject(verifier.Verdict{}, x402.ReasonInternalError, "challenge unavailable")
		}
		return Outcome{Kind: KindChallenge, Challenge: ch}
	}

	v := g.verifier.Verify(ctx, proof)
	if !v.Valid {
		return reject(v, v.Reason, v.Error)
	}

	paid := v.AmountInt()
	if paid == nil || paid.Sign() <= 0 {
		return reject(v, x402.ReasonAmountMismatch, "no payment to payee")
	}

	// exact scheme: the confirmed payment must be this route's price in this
	// route's currency
	if !strings.EqualFold(v.Currency, route.Currency.Symbol) {
		return reject(v, x402.ReasonCurrencyMismatch,
			fmt.Sprintf("paid in %q, route requires %s", v.Currency, route.Currency.Symbol))
	}
	if paid.Cmp(route.required) != 0 {
		return reject(v, x402.ReasonAmountMismatch,
			fmt.Sprintf("paid %s, route requires %s", v.Amount, route.required))
	}

	claimed, err := g.redemptions.Claim(ctx, v.Reference)
	if err != nil {
		g.log.Error("claim redemption", zap.String("reference", v.Reference), zap.Error(err))
		return reject(v, x402.ReasonInternalError, "redemption store unavailable")
	}
	if !claimed {
		return reject(v, x402.ReasonProofAlreadyRedeemed, "payment already used")
	}

	dec, err := g.spend.TryReserve(ctx, route.Currency.Symbol, paid)
	if err != nil {
		if errors.Is(err, spend.ErrNotApplied) {
			// nothing was spent, so the proof stays redeemable
			if rerr := g.redemptions.Release(ctx, v.Reference); rerr != nil {
				g.log.Error("release redemption", zap.String("reference", v.Reference), zap.Error(rerr))
			}
		} else {
			// the spend may have landed; keep the claim so it cannot be charged twice
			g.log.Error("spend reservation outcome unknown, redemption kept",
				zap.String("reference", v.Reference), zap.String("currency", route.Currency.Symbol))
		}
		g.log.Error("reserve spend", zap.String("reference", v.Reference), zap.Error(err))
		return reject(v, x402.ReasonInternalError, "spend ledger unavailable")
	}
	if !dec.Approved {
		// The payment is real but policy forbids it. The claim is kept; any
		// refund happens out of band.
		g.log.Warn("verified payment denied by spend policy",
			zap.String("reference", v.Reference),
			zap.String("currency", route.Currency.Symbol),
			zap.String("amount", v.Amount),
			zap.String("reason", string(dec.Reason)),
		)
		return reject(v, dec.Reason, fmt.Sprintf("window spent %s", dec.Spent))
	}

	id := uuid.NewString()
	g.log.Info("payment admitted",
		zap.String("reference", v.Reference),
		zap.String("currency", route.Currency.Symbol),
		zap.String("amount", v.Amount),
		zap.String("admission_id", id),
	)
	return Outcome{Kind: KindAdmitted, Verdict: v, AdmissionID: id}
}

func reject(v verifier.Verdict, reason x402.Reason, detail string) Outcome {
	return Outcome{Kind: KindRejected, Verdict: v, Reason: reason, Detail: detail}
}
