package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/gate"
	"github.com/alicehelio/paygate/internal/spend"
)

// SpendReporter is satisfied by spend.MemoryLedger and spend.RedisLedger.
type SpendReporter interface {
	Snapshot(ctx context.Context) ([]spend.Status, error)
}

// PaidRoute binds an HTTP method and path to a price.
type PaidRoute struct {
	Method string
	Path   string
	Route  gate.Route
}

// Info is reported by /healthz.
type Info struct {
	Network string
	Ledger  string
	Store   string
}

// Handler wires the public routes onto a Gin engine.
type Handler struct {
	gate       *gate.Gate
	spend      SpendReporter
	currencies *currency.Registry
	routes     []PaidRoute
	info       Info
	log        *zap.Logger
}

func NewHandler(g *gate.Gate, sp SpendReporter, currencies *currency.Registry, routes []PaidRoute, info Info, log *zap.Logger) *Handler {
	return &Handler{gate: g, spend: sp, currencies: currencies, routes: routes, info: info, log: log}
}

// Register mounts all routes.
func (h *Handler) Register(r *gin.Engine) {
	// ── Operational ───────────────────────────────────────────────────────────
	r.GET("/healthz", h.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ── Free API ──────────────────────────────────────────────────────────────
	r.GET("/api/spend", h.handleSpend)
	r.GET("/api/currencies", h.handleCurrencies)

	// ── Paid routes ───────────────────────────────────────────────────────────
	for _, pr := range h.routes {
		r.Handle(pr.Method, pr.Path, gate.Middleware(h.gate, pr.Route, h.log), h.handlePaid(pr))
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"network": h.info.Network,
		"ledger":  h.info.Ledger,
		"store":   h.info.Store,
	})
}

// ── Spend ─────────────────────────────────────────────────────────────────────

type spendLine struct {
	Currency            string `json:"currency"`
	Spent               string `json:"spent"`
	SpentUnits          string `json:"spent_units"`
	SpentUSD            string `json:"spent_usd"`
	PerTransactionLimit string `json:"per_transaction_limit"`
	PerWindowLimit      string `json:"per_window_limit"`
	WindowStart         int64  `json:"window_start"`
}

func (h *Handler) handleSpend(c *gin.Context) {
	snap, err := h.spend.Snapshot(c.Request.Context())
	if err != nil {
		h.log.Error("spend snapshot", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "spend ledger unavailable"})
		return
	}
	lines := make([]spendLine, 0, len(snap))
	for _, s := range snap {
		cur, err := h.currencies.Lookup(s.Currency)
		if err != nil {
			continue
		}
		lines = append(lines, spendLine{
			Currency:            s.Currency,
			Spent:               cur.FromSmallest(s.Spent).String(),
			SpentUnits:          s.Spent.String(),
			SpentUSD:            cur.ValueUSD(s.Spent).StringFixed(2),
			PerTransactionLimit: cur.FromSmallest(s.PerTransaction).String(),
			PerWindowLimit:      cur.FromSmallest(s.PerWindow).String(),
			WindowStart:         s.WindowStart,
		})
	}
	c.JSON(http.StatusOK, gin.H{"spend": lines})
}

func (h *Handler) handleCurrencies(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, cur := range h.currencies.All() {
		out = append(out, gin.H{
			"symbol":    cur.Symbol,
			"asset":     cur.Asset,
			"decimals":  cur.Decimals,
			"price_usd": cur.PriceUSD.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"currencies": out})
}

// ── Paid ──────────────────────────────────────────────────────────────────────

func (h *Handler) handlePaid(pr PaidRoute) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, ok := gate.OutcomeFrom(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		params := make(map[string]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}
		c.JSON(http.StatusOK, gin.H{
			"resource": pr.Route.Description,
			"params":   params,
			"payment":  out,
		})
	}
}
