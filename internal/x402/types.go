package x402

// Version is the x402 protocol version emitted in challenges.
const Version = 1

// SchemeExact requires the payment to match the amount exactly.
const SchemeExact = "exact"

// HTTP headers carrying the proof and the settlement receipt.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// PaymentRequirements is one accepted payment method in a challenge.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"`
	Token             string `json:"token"`
}

// PaymentRequired is the 402 response body.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       *string               `json:"error"`
}
