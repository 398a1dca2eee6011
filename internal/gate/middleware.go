package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/x402"
)

// ContextKey is where an admitted Outcome is stored on the gin context.
const ContextKey = "payment"

// Middleware returns a Gin handler that charges route for every request.
//
//	no X-PAYMENT header   → 402 with the challenge body
//	rejected proof        → 400 {"error": "Invalid payment", "reason", "details"}
//	INTERNAL_ERROR        → 503, the same proof may be retried
//	admitted              → X-PAYMENT-RESPONSE receipt, outcome in c.Get("payment")
func Middleware(g *Gate, route Route, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := g.Admit(c.Request.Context(), route, c.GetHeader(x402.HeaderPayment))

		switch out.Kind {
		case KindChallenge:
			c.AbortWithStatusJSON(http.StatusPaymentRequired, out.Challenge)
			return

		case KindRejected:
			if out.Reason == x402.ReasonInternalError {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":     "payment service unavailable",
					"reason":    out.Reason,
					"retryable": true,
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid payment",
				"reason":    out.Reason,
				"details":   out.Detail,
				"retryable": out.Reason.Retryable(),
			})
			return
		}

		receipt, err := x402.EncodeReceipt(x402.Receipt{
			Success:     true,
			Transaction: out.Verdict.Reference,
			Network:     g.Builder().Network(),
			Amount:      out.Verdict.Amount,
			Token:       out.Verdict.Currency,
			AdmissionID: out.AdmissionID,
		})
		if err != nil {
			log.Warn("encode payment receipt", zap.Error(err))
		} else {
			c.Header(x402.HeaderPaymentResponse, receipt)
		}
		c.Set(ContextKey, out)
		c.Next()
	}
}

// OutcomeFrom returns the admitted Outcome stored by Middleware.
func OutcomeFrom(c *gin.Context) (Outcome, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return Outcome{}, false
	}
	out, ok := v.(Outcome)
	return out, ok
}
