package x402

// Reason is the machine-readable cause attached to every non-admitted outcome.
type Reason string

const (
	ReasonNone Reason = ""

	// Verification
	ReasonMalformedProof    Reason = "MALFORMED_PROOF"
	ReasonNotFound          Reason = "NOT_FOUND"
	ReasonTransactionFailed Reason = "TRANSACTION_FAILED"
	ReasonVerificationError Reason = "VERIFICATION_ERROR"

	// Spend policy
	ReasonExceedsPerTransactionLimit Reason = "EXCEEDS_PER_TRANSACTION_LIMIT"
	ReasonExceedsWindowLimit         Reason = "EXCEEDS_WINDOW_LIMIT"
	ReasonUnsupportedCurrency        Reason = "UNSUPPORTED_CURRENCY"

	// Gate
	ReasonCurrencyMismatch     Reason = "CURRENCY_MISMATCH"
	ReasonAmountMismatch       Reason = "AMOUNT_MISMATCH"
	ReasonProofAlreadyRedeemed Reason = "PROOF_ALREADY_REDEEMED"
	ReasonInternalError        Reason = "INTERNAL_ERROR"
)

// Retryable reports whether the same proof may succeed on a later attempt.
// Only transient ledger or store failures qualify; everything else is terminal
// for the transaction reference.
func (r Reason) Retryable() bool {
	return r == ReasonVerificationError || r == ReasonInternalError
}

func (r Reason) String() string {
	if r == ReasonNone {
		return "NONE"
	}
	return string(r)
}
