package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/api"
	"github.com/alicehelio/paygate/internal/config"
	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/gate"
	"github.com/alicehelio/paygate/internal/ledger"
	"github.com/alicehelio/paygate/internal/spend"
	"github.com/alicehelio/paygate/internal/verifier"
	"github.com/alicehelio/paygate/internal/x402"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis (only for the redis store backend) ──────────────────────────────
	var rdb *redis.Client
	if cfg.Store.Backend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
	}

	// ── Ledger query backend ──────────────────────────────────────────────────
	reg, err := cfg.Registry()
	if err != nil {
		log.Fatal("currency registry", zap.Error(err))
	}
	q, err := ledger.Open(cfg.LedgerOptions(reg))
	if err != nil {
		log.Fatal("ledger init failed", zap.Error(err))
	}

	// ── Core ──────────────────────────────────────────────────────────────────
	srv, err := newServer(cfg, reg, q, rdb, log)
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}

	// ── Goroutines ────────────────────────────────────────────────────────────
	go spend.RunRollover(ctx, srv.spend, time.Duration(cfg.Spend.WindowSec)*time.Second, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.engine,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("ledger", cfg.Ledger.Kind),
			zap.String("store", cfg.Store.Backend),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close() //nolint:errcheck
	}
	log.Info("shutdown complete")
}

type server struct {
	engine *gin.Engine
	spend  spend.Ledger
}

// newServer assembles the verifier, spend ledger, gate and routes. rdb may be
// nil for the memory backend.
func newServer(cfg *config.Config, reg *currency.Registry, q ledger.Querier, rdb *redis.Client, log *zap.Logger) (*server, error) {
	limits, err := spendLimits(cfg, reg)
	if err != nil {
		return nil, err
	}

	var (
		cache       verifier.Cache
		spendLedger spend.Ledger
		redemptions gate.Redemptions
	)
	cacheTTL := time.Duration(cfg.Cache.TTLSec) * time.Second
	switch cfg.Store.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis backend selected without a redis client")
		}
		cache = verifier.NewRedisCache(rdb, cacheTTL)
		if spendLedger, err = spend.NewRedisLedger(rdb, limits, log); err != nil {
			return nil, err
		}
		redemptions = gate.NewRedisRedemptions(rdb)
	default:
		cache = verifier.NewMemoryCache(cfg.Cache.MaxEntries, cacheTTL)
		if spendLedger, err = spend.NewMemoryLedger(limits, log); err != nil {
			return nil, err
		}
		redemptions = gate.NewMemoryRedemptions()
	}

	v := verifier.New(q, cache, reg, log)
	builder := x402.NewBuilder(cfg.Payment.Network, cfg.Payment.PayTo, cfg.Payment.MaxTimeoutSec)
	g := gate.New(builder, v, spendLedger, redemptions, log)

	routes := make([]api.PaidRoute, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		cur, err := reg.Lookup(rc.Currency)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(rc.Amount)
		if err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rc.Method, rc.Path, err)
		}
		route, err := gate.NewRoute(amount, cur, rc.Description)
		if err != nil {
			return nil, err
		}
		routes = append(routes, api.PaidRoute{Method: strings.ToUpper(rc.Method), Path: rc.Path, Route: route})
	}

	r := gin.New()
	r.Use(gin.Recovery())
	api.NewHandler(g, spendLedger, reg, routes, api.Info{
		Network: cfg.Payment.Network,
		Ledger:  cfg.Ledger.Kind,
		Store:   cfg.Store.Backend,
	}, log).Register(r)

	return &server{engine: r, spend: spendLedger}, nil
}

func spendLimits(cfg *config.Config, reg *currency.Registry) (map[string]spend.Limits, error) {
	out := make(map[string]spend.Limits, len(cfg.Currencies))
	for sym, cc := range cfg.Currencies {
		cur, err := reg.Lookup(sym)
		if err != nil {
			return nil, err
		}
		perTx, err := decimal.NewFromString(cc.PerTransactionLimit)
		if err != nil {
			return nil, fmt.Errorf("%s per_transaction_limit: %w", cur.Symbol, err)
		}
		perWindow, err := decimal.NewFromString(cc.PerWindowLimit)
		if err != nil {
			return nil, fmt.Errorf("%s per_window_limit: %w", cur.Symbol, err)
		}
		lim, err := spend.NewLimits(cur, perTx, perWindow)
		if err != nil {
			return nil, err
		}
		out[cur.Symbol] = lim
	}
	return out, nil
}
