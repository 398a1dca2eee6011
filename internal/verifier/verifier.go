// Package verifier turns an X-PAYMENT header into a Verdict.
//
// Verification is idempotent per transaction reference: the first terminal
// verdict (found and succeeded, not found, failed) is cached and every later
// call for that reference returns it without touching the ledger. Transient
// ledger errors produce VERIFICATION_ERROR and are never cached.
package verifier

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/ledger"
	"github.com/alicehelio/paygate/internal/metrics"
	"github.com/alicehelio/paygate/internal/x402"
)

type Verifier struct {
	ledger     ledger.Querier
	cache      Cache
	currencies *currency.Registry
	inflight   singleflight.Group
	log        *zap.Logger
}

func New(q ledger.Querier, cache Cache, currencies *currency.Registry, log *zap.Logger) *Verifier {
	return &Verifier{ledger: q, cache: cache, currencies: currencies, log: log}
}

// Verify decodes header and verifies the referenced transaction. It never
// returns an error; every failure is expressed as an invalid Verdict.
func (v *Verifier) Verify(ctx context.Context, header string) Verdict {
	proof, err := x402.DecodeProof(header)
	if err != nil {
		return invalid("", x402.ReasonMalformedProof, err.Error())
	}
	return v.VerifyReference(ctx, proof.Signature)
}

// VerifyReference verifies a transaction reference directly.
func (v *Verifier) VerifyReference(ctx context.Context, reference string) Verdict {
	if cached, ok := v.lookup(ctx, reference); ok {
		return cached
	}

	// One ledger query per reference at a time. The query is detached from
	// the first caller's cancellation so joiners are not failed by it.
	ch := v.inflight.DoChan(reference, func() (any, error) {
		qctx := context.WithoutCancel(ctx)
		if cached, ok := v.lookup(qctx, reference); ok {
			return cached, nil
		}
		verdict := v.query(qctx, reference)
		if !verdict.Terminal() {
			return verdict, nil
		}
		stored, err := v.cache.Put(qctx, verdict)
		if err != nil {
			v.log.Warn("verdict cache write failed", zap.String("reference", reference), zap.Error(err))
			return verdict, nil
		}
		return stored, nil
	})

	select {
	case res := <-ch:
		return res.Val.(Verdict)
	case <-ctx.Done():
		return invalid(reference, x402.ReasonVerificationError, ctx.Err().Error())
	}
}

func (v *Verifier) lookup(ctx context.Context, reference string) (Verdict, bool) {
	cached, ok, err := v.cache.Get(ctx, reference)
	if err != nil {
		v.log.Warn("verdict cache read failed", zap.String("reference", reference), zap.Error(err))
		return Verdict{}, false
	}
	if ok {
		metrics.VerdictCacheHits.Inc()
	}
	return cached, ok
}

func (v *Verifier) query(ctx context.Context, reference string) Verdict {
	tx, err := v.ledger.QueryTransaction(ctx, reference)
	switch {
	case errors.Is(err, ledger.ErrInvalidReference):
		return invalid(reference, x402.ReasonMalformedProof, err.Error())
	case err != nil:
		metrics.LedgerQueries.WithLabelValues(metrics.LedgerError).Inc()
		v.log.Warn("ledger query failed", zap.String("reference", reference), zap.Error(err))
		return invalid(reference, x402.ReasonVerificationError, err.Error())
	case !tx.Found:
		metrics.LedgerQueries.WithLabelValues(metrics.LedgerNotFound).Inc()
		return invalid(reference, x402.ReasonNotFound, "transaction not found")
	case !tx.Succeeded:
		metrics.LedgerQueries.WithLabelValues(metrics.LedgerFailed).Inc()
		return invalid(reference, x402.ReasonTransactionFailed, "transaction failed")
	}
	metrics.LedgerQueries.WithLabelValues(metrics.LedgerFound).Inc()

	verdict := Verdict{Valid: true, Reference: reference, Asset: tx.Asset, Amount: "0"}
	if tx.Amount != nil {
		verdict.Amount = tx.Amount.String()
	}
	if v.currencies != nil {
		if cur, ok := v.currencies.ByAsset(tx.Asset); ok {
			verdict.Currency = cur.Symbol
		}
	}
	return verdict
}
