package gate

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/x402"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(g *Gate, route Route) *gin.Engine {
	r := gin.New()
	r.GET("/api/search/:query", Middleware(g, route, zap.NewNop()), func(c *gin.Context) {
		out, ok := OutcomeFrom(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no payment on context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"query": c.Param("query"), "payment": out})
	})
	return r
}

func doGet(r *gin.Engine, proof string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/search/shoes", nil)
	if proof != "" {
		req.Header.Set(x402.HeaderPayment, proof)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_NoProof402(t *testing.T) {
	h := newHarness(t)
	w := doGet(newTestRouter(h.gate, h.route), "")

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status: got %d want 402", w.Code)
	}
	var body struct {
		X402Version int `json:"x402Version"`
		Accepts     []struct {
			MaxAmountRequired string `json:"maxAmountRequired"`
			Network           string `json:"network"`
		} `json:"accepts"`
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.X402Version != 1 || len(body.Accepts) != 1 || body.Accepts[0].MaxAmountRequired != "100000000" {
		t.Errorf("body: %s", w.Body.String())
	}
	if body.Accepts[0].Network != "solana-mainnet" {
		t.Errorf("network: %q", body.Accepts[0].Network)
	}
}

func TestMiddleware_NotFound400(t *testing.T) {
	h := newHarness(t)
	w := doGet(newTestRouter(h.gate, h.route), proofFor("sig-missing"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body) //nolint:errcheck
	if body["error"] != "Invalid payment" || body["reason"] != "NOT_FOUND" {
		t.Errorf("body: %v", body)
	}
	if body["retryable"] != false {
		t.Errorf("NOT_FOUND must not be retryable: %v", body)
	}
}

func TestMiddleware_Admitted(t *testing.T) {
	h := newHarness(t)
	h.ledger.pay("sig-ok", aliceMint, 100_000_000)
	w := doGet(newTestRouter(h.gate, h.route), proofFor("sig-ok"))

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	receipt, err := x402.DecodeReceipt(w.Header().Get(x402.HeaderPaymentResponse))
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if !receipt.Success || receipt.Transaction != "sig-ok" || receipt.Amount != "100000000" || receipt.Token != "ALICE" {
		t.Errorf("receipt: %+v", receipt)
	}
	if receipt.AdmissionID == "" || receipt.Network != "solana-mainnet" {
		t.Errorf("receipt: %+v", receipt)
	}

	var body struct {
		Query   string  `json:"query"`
		Payment Outcome `json:"payment"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Query != "shoes" || body.Payment.AdmissionID != receipt.AdmissionID {
		t.Errorf("body: %s", w.Body.String())
	}
}

func TestMiddleware_InternalError503(t *testing.T) {
	h := newHarness(t)
	h.ledger.pay("sig-ok", aliceMint, 100_000_000)
	g := New(h.gate.builder, h.gate.verifier, failingSpend{err: errors.New("down")}, h.redemptions, zap.NewNop())

	w := doGet(newTestRouter(g, h.route), proofFor("sig-ok"))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d want 503", w.Code)
	}
	if w.Header().Get(x402.HeaderPaymentResponse) != "" {
		t.Error("receipt must not be sent on failure")
	}
}

func TestMiddleware_ReplayAfterAdmission400(t *testing.T) {
	h := newHarness(t)
	h.ledger.pay("sig-ok", aliceMint, 100_000_000)
	r := newTestRouter(h.gate, h.route)

	if w := doGet(r, proofFor("sig-ok")); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	w := doGet(r, proofFor("sig-ok"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay: got %d", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body) //nolint:errcheck
	if body["reason"] != string(x402.ReasonProofAlreadyRedeemed) {
		t.Errorf("body: %v", body)
	}
}
