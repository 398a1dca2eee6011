package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Receipt is returned to an admitted client in the X-PAYMENT-RESPONSE header.
type Receipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	AdmissionID string `json:"admissionId"`
}

func EncodeReceipt(r Receipt) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeReceipt(header string) (Receipt, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return r, nil
}
