package x402

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alicehelio/paygate/internal/currency"
)

const (
	DefaultMimeType          = "application/json"
	DefaultMaxTimeoutSeconds = 300
)

// Builder produces payment challenges for a fixed network and payee.
type Builder struct {
	network           string
	payTo             string
	mimeType          string
	maxTimeoutSeconds int
}

func NewBuilder(network, payTo string, maxTimeoutSeconds int) *Builder {
	if maxTimeoutSeconds <= 0 {
		maxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}
	return &Builder{
		network:           network,
		payTo:             payTo,
		mimeType:          DefaultMimeType,
		maxTimeoutSeconds: maxTimeoutSeconds,
	}
}

// Network returns the ledger network the builder advertises.
func (b *Builder) Network() string { return b.network }

// PayTo returns the payee address.
func (b *Builder) PayTo() string { return b.payTo }

// Build returns a "payment required" descriptor. The amount must be exactly
// representable at the currency's precision (see currency.ErrInexactAmount).
func (b *Builder) Build(amount decimal.Decimal, cur currency.Currency, description string) (*PaymentRequired, error) {
	if strings.TrimSpace(description) == "" {
		return nil, errors.New("build challenge: description required")
	}
	units, err := cur.ToSmallest(amount)
	if err != nil {
		return nil, fmt.Errorf("build challenge: %w", err)
	}
	return &PaymentRequired{
		X402Version: Version,
		Accepts: []PaymentRequirements{{
			Scheme:            SchemeExact,
			Network:           b.network,
			MaxAmountRequired: units.String(),
			Resource:          description,
			Description:       description,
			MimeType:          b.mimeType,
			PayTo:             b.payTo,
			MaxTimeoutSeconds: b.maxTimeoutSeconds,
			Asset:             cur.Asset,
			Token:             cur.Symbol,
		}},
	}, nil
}
