package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrMalformedProof = errors.New("malformed payment proof")

// Proof is the decoded X-PAYMENT header. Amount and Token are the client's
// claim and are informational only.
type Proof struct {
	Signature string          `json:"signature"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token"`
}

// wireProof accepts both the flat {signature, amount, token} shape and the
// x402 envelope that nests the same fields under "payload".
type wireProof struct {
	Signature string          `json:"signature"`
	Amount    json.RawMessage `json:"amount"`
	Token     string          `json:"token"`
	Payload   *wireProof      `json:"payload"`
}

// DecodeProof decodes a base64 JSON payment header.
func DecodeProof(header string) (Proof, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Proof{}, fmt.Errorf("%w: empty header", ErrMalformedProof)
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		// tolerate unpadded / url-safe encodings from browser clients
		if raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(header, "=")); err != nil {
			return Proof{}, fmt.Errorf("%w: invalid base64", ErrMalformedProof)
		}
	}

	var w wireProof
	if err := json.Unmarshal(raw, &w); err != nil {
		return Proof{}, fmt.Errorf("%w: invalid JSON", ErrMalformedProof)
	}
	if w.Payload != nil && w.Signature == "" {
		w = *w.Payload
	}

	if strings.TrimSpace(w.Signature) == "" {
		return Proof{}, fmt.Errorf("%w: missing signature", ErrMalformedProof)
	}
	if strings.TrimSpace(w.Token) == "" {
		return Proof{}, fmt.Errorf("%w: missing token", ErrMalformedProof)
	}
	amount, err := parseClaimedAmount(w.Amount)
	if err != nil {
		return Proof{}, err
	}
	return Proof{
		Signature: strings.TrimSpace(w.Signature),
		Amount:    amount,
		Token:     strings.ToUpper(strings.TrimSpace(w.Token)),
	}, nil
}

// amount may arrive as a JSON number or a string
func parseClaimedAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, fmt.Errorf("%w: missing amount", ErrMalformedProof)
	}
	s := strings.Trim(string(raw), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid amount %q", ErrMalformedProof, s)
	}
	return d, nil
}

// EncodeProof produces the X-PAYMENT header value for a proof.
func EncodeProof(p Proof) (string, error) {
	raw, err := json.Marshal(struct {
		Signature string `json:"signature"`
		Amount    string `json:"amount"`
		Token     string `json:"token"`
	}{p.Signature, p.Amount.String(), p.Token})
	if err != nil {
		return "", fmt.Errorf("marshal proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
