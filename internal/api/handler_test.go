package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/gate"
	"github.com/alicehelio/paygate/internal/ledger"
	"github.com/alicehelio/paygate/internal/spend"
	"github.com/alicehelio/paygate/internal/verifier"
	"github.com/alicehelio/paygate/internal/x402"
)

func init() { gin.SetMode(gin.TestMode) }

const aliceMint = "ALiCEmint1111111111111111111111111111111111"

// ── fixtures ──────────────────────────────────────────────────────────────────

type staticLedger map[string]*ledger.Transaction

func (s staticLedger) QueryTransaction(_ context.Context, ref string) (*ledger.Transaction, error) {
	if tx, ok := s[ref]; ok {
		return tx, nil
	}
	return &ledger.Transaction{Reference: ref}, nil
}

type brokenSpend struct{}

func (brokenSpend) Snapshot(context.Context) ([]spend.Status, error) {
	return nil, errors.New("redis down")
}

func newTestEngine(t *testing.T, txs staticLedger, sp SpendReporter) (*gin.Engine, *spend.MemoryLedger) {
	t.Helper()
	alice := currency.Currency{Symbol: "ALICE", Asset: aliceMint, Decimals: 9, PriceUSD: decimal.RequireFromString("0.10")}
	reg, err := currency.NewRegistry(alice)
	if err != nil {
		t.Fatal(err)
	}
	lim, _ := spend.NewLimits(alice, decimal.NewFromInt(100), decimal.NewFromInt(1000))
	sl, err := spend.NewMemoryLedger(map[string]spend.Limits{"ALICE": lim}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if sp == nil {
		sp = sl
	}
	v := verifier.New(txs, verifier.NewMemoryCache(0, 0), reg, zap.NewNop())
	g := gate.New(x402.NewBuilder("solana-mainnet", "payee", 0), v, sl, gate.NewMemoryRedemptions(), zap.NewNop())

	route, err := gate.NewRoute(decimal.RequireFromString("0.1"), alice, "Premium search API access")
	if err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	NewHandler(g, sp, reg, []PaidRoute{{Method: http.MethodGet, Path: "/api/search/:query", Route: route}},
		Info{Network: "solana-mainnet", Ledger: "solana", Store: "memory"}, zap.NewNop()).Register(r)
	return r, sl
}

func get(r *gin.Engine, path, proof string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if proof != "" {
		req.Header.Set(x402.HeaderPayment, proof)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func proofFor(ref string) string {
	return base64.StdEncoding.EncodeToString([]byte(`{"signature":"` + ref + `","amount":0.1,"token":"ALICE"}`))
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	r, _ := newTestEngine(t, staticLedger{}, nil)
	w := get(r, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body) //nolint:errcheck
	if body["ok"] != true || body["ledger"] != "solana" || body["store"] != "memory" {
		t.Errorf("body: %v", body)
	}
}

func TestPaidRoute_ChallengeThenAdmit(t *testing.T) {
	txs := staticLedger{"sig-1": {Reference: "sig-1", Found: true, Succeeded: true, Asset: aliceMint, Amount: big.NewInt(100_000_000)}}
	r, _ := newTestEngine(t, txs, nil)

	if w := get(r, "/api/search/laptops", ""); w.Code != http.StatusPaymentRequired {
		t.Fatalf("no proof: status %d", w.Code)
	}

	w := get(r, "/api/search/laptops", proofFor("sig-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Resource string            `json:"resource"`
		Params   map[string]string `json:"params"`
		Payment  gate.Outcome      `json:"payment"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Resource != "Premium search API access" || body.Params["query"] != "laptops" {
		t.Errorf("body: %s", w.Body.String())
	}
	if !body.Payment.Verdict.Valid || body.Payment.AdmissionID == "" {
		t.Errorf("payment: %+v", body.Payment)
	}
}

func TestSpend_ReportsWindow(t *testing.T) {
	txs := staticLedger{"sig-1": {Reference: "sig-1", Found: true, Succeeded: true, Asset: aliceMint, Amount: big.NewInt(100_000_000)}}
	r, _ := newTestEngine(t, txs, nil)
	get(r, "/api/search/x", proofFor("sig-1"))

	w := get(r, "/api/spend", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Spend []spendLine `json:"spend"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Spend) != 1 {
		t.Fatalf("body: %s", w.Body.String())
	}
	s := body.Spend[0]
	if s.Currency != "ALICE" || s.Spent != "0.1" || s.SpentUnits != "100000000" || s.SpentUSD != "0.01" {
		t.Errorf("line: %+v", s)
	}
	if s.PerTransactionLimit != "100" || s.PerWindowLimit != "1000" {
		t.Errorf("limits: %+v", s)
	}
}

func TestSpend_BackendError(t *testing.T) {
	r, _ := newTestEngine(t, staticLedger{}, brokenSpend{})
	if w := get(r, "/api/spend", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status %d", w.Code)
	}
}

func TestCurrencies(t *testing.T) {
	r, _ := newTestEngine(t, staticLedger{}, nil)
	w := get(r, "/api/currencies", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"symbol":"ALICE"`) {
		t.Errorf("status %d body %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestEngine(t, staticLedger{}, nil)
	get(r, "/api/search/x", "") // records a challenge outcome
	w := get(r, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "paygate_gate_outcomes_total") {
		t.Error("gate outcome metric not exported")
	}
}
