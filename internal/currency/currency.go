package currency

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	// ErrInexactAmount is returned when an amount has more fractional digits
	// than the currency's precision. Amounts are never truncated or rounded.
	ErrInexactAmount = errors.New("amount not representable at currency precision")
	ErrNonPositive   = errors.New("amount must be positive")
)

// Currency is a token accepted for payment.
type Currency struct {
	Symbol   string          // e.g. "USDC"
	Asset    string          // mint / token contract on the ledger
	Decimals int32           // smallest-unit scaling, fixed at construction
	PriceUSD decimal.Decimal // advisory reference price
}

// ToSmallest scales a positive decimal amount to smallest units.
func (c Currency) ToSmallest(amount decimal.Decimal) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s %s: %w", amount.String(), c.Symbol, ErrNonPositive)
	}
	scaled := amount.Shift(c.Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%s %s (%d decimals): %w", amount.String(), c.Symbol, c.Decimals, ErrInexactAmount)
	}
	return scaled.BigInt(), nil
}

// ParseSmallest parses a decimal string and scales it to smallest units.
func (c Currency) ParseSmallest(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return c.ToSmallest(d)
}

// FromSmallest converts smallest units back to a decimal amount.
func (c Currency) FromSmallest(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -c.Decimals)
}

// ValueUSD returns the advisory USD value of an amount in smallest units.
func (c Currency) ValueUSD(units *big.Int) decimal.Decimal {
	return c.FromSmallest(units).Mul(c.PriceUSD)
}

// Registry indexes currencies by symbol and by ledger asset.
type Registry struct {
	bySymbol map[string]Currency
	byAsset  map[string]Currency
}

func NewRegistry(currencies ...Currency) (*Registry, error) {
	r := &Registry{
		bySymbol: make(map[string]Currency, len(currencies)),
		byAsset:  make(map[string]Currency, len(currencies)),
	}
	for _, c := range currencies {
		c.Symbol = strings.ToUpper(c.Symbol)
		if c.Symbol == "" {
			return nil, errors.New("currency symbol required")
		}
		if c.Asset == "" {
			return nil, fmt.Errorf("currency %s: asset required", c.Symbol)
		}
		if c.Decimals < 0 || c.Decimals > 36 {
			return nil, fmt.Errorf("currency %s: decimals out of range: %d", c.Symbol, c.Decimals)
		}
		if _, dup := r.bySymbol[c.Symbol]; dup {
			return nil, fmt.Errorf("currency %s: duplicate symbol", c.Symbol)
		}
		if other, dup := r.byAsset[c.Asset]; dup {
			return nil, fmt.Errorf("currency %s: asset already registered for %s", c.Symbol, other.Symbol)
		}
		r.bySymbol[c.Symbol] = c
		r.byAsset[c.Asset] = c
	}
	return r, nil
}

// Lookup finds a currency by symbol (case-insensitive).
func (r *Registry) Lookup(symbol string) (Currency, error) {
	c, ok := r.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return Currency{}, fmt.Errorf("%s: %w", symbol, ErrUnknownCurrency)
	}
	return c, nil
}

// ByAsset finds a currency by its ledger asset identifier.
func (r *Registry) ByAsset(asset string) (Currency, bool) {
	c, ok := r.byAsset[asset]
	return c, ok
}

// All returns the registered currencies sorted by symbol.
func (r *Registry) All() []Currency {
	out := make([]Currency, 0, len(r.bySymbol))
	for _, c := range r.bySymbol {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Assets returns every registered asset identifier.
func (r *Registry) Assets() []string {
	out := make([]string, 0, len(r.byAsset))
	for a := range r.byAsset {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
