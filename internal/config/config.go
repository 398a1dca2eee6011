package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/alicehelio/paygate/internal/currency"
	"github.com/alicehelio/paygate/internal/ledger"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Ledger kinds.
const (
	LedgerSolana  = ledger.KindSolana
	LedgerEVM     = ledger.KindEVM
	LedgerIndexer = ledger.KindIndexer
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Store      StoreConfig
	Ledger     LedgerConfig
	Payment    PaymentConfig
	Currencies map[string]CurrencyConfig
	Spend      SpendConfig
	Cache      CacheConfig
	Routes     []RouteConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type LedgerConfig struct {
	Kind          string `mapstructure:"kind"`
	SolanaRPCURL  string `mapstructure:"solana_rpc_url"`
	EVMRPCURL     string `mapstructure:"evm_rpc_url"`
	IndexerURL    string `mapstructure:"indexer_url"`
	IndexerAPIKey string `mapstructure:"indexer_api_key"`
	TimeoutSec    int64  `mapstructure:"timeout_sec"`
}

type PaymentConfig struct {
	Network       string `mapstructure:"network"`
	PayTo         string `mapstructure:"pay_to"`
	MaxTimeoutSec int    `mapstructure:"max_timeout_sec"`
}

// CurrencyConfig amounts are decimal strings in whole tokens.
type CurrencyConfig struct {
	Asset               string `mapstructure:"asset"`
	Decimals            int32  `mapstructure:"decimals"`
	PriceUSD            string `mapstructure:"price_usd"`
	PerTransactionLimit string `mapstructure:"per_transaction_limit"`
	PerWindowLimit      string `mapstructure:"per_window_limit"`
}

type SpendConfig struct {
	WindowSec int64 `mapstructure:"window_sec"`
}

type CacheConfig struct {
	TTLSec     int64 `mapstructure:"ttl_sec"`
	MaxEntries int   `mapstructure:"max_entries"`
}

// RouteConfig is one paid endpoint.
type RouteConfig struct {
	Method      string `mapstructure:"method"`
	Path        string `mapstructure:"path"`
	Amount      string `mapstructure:"amount"`
	Currency    string `mapstructure:"currency"`
	Description string `mapstructure:"description"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("ledger.kind", LedgerSolana)
	v.SetDefault("ledger.solana_rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("ledger.timeout_sec", 10)
	v.SetDefault("payment.network", "solana-mainnet")
	v.SetDefault("payment.max_timeout_sec", 300)
	v.SetDefault("currencies.alice.decimals", 9)
	v.SetDefault("currencies.alice.price_usd", "0.10")
	v.SetDefault("currencies.alice.per_transaction_limit", "100")
	v.SetDefault("currencies.alice.per_window_limit", "1000")
	v.SetDefault("currencies.usdc.asset", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	v.SetDefault("currencies.usdc.decimals", 6)
	v.SetDefault("currencies.usdc.price_usd", "1.00")
	v.SetDefault("currencies.usdc.per_transaction_limit", "500")
	v.SetDefault("currencies.usdc.per_window_limit", "2000")
	v.SetDefault("spend.window_sec", 86400)
	v.SetDefault("cache.ttl_sec", 86400)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("routes", []map[string]any{{
		"method":      "GET",
		"path":        "/api/search/:query",
		"amount":      "0.1",
		"currency":    "ALICE",
		"description": "Premium search API access",
	}})

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":             "PORT",
		"redis.addr":              "REDIS_ADDR",
		"redis.password":          "REDIS_PASSWORD",
		"store.backend":           "STORE_BACKEND",
		"ledger.kind":             "LEDGER_KIND",
		"ledger.solana_rpc_url":   "SOLANA_RPC_URL",
		"ledger.evm_rpc_url":      "EVM_RPC_URL",
		"ledger.indexer_url":      "LEDGER_INDEXER_URL",
		"ledger.indexer_api_key":  "LEDGER_INDEXER_API_KEY",
		"ledger.timeout_sec":      "LEDGER_TIMEOUT_SEC",
		"payment.network":         "X402_NETWORK",
		"payment.pay_to":          "MERCHANT_WALLET",
		"payment.max_timeout_sec": "X402_MAX_TIMEOUT_SEC",
		"currencies.alice.asset":  "ALICE_TOKEN_MINT",
		"currencies.usdc.asset":   "USDC_TOKEN_MINT",
		"spend.window_sec":        "SPEND_WINDOW_SEC",
		"cache.ttl_sec":           "VERDICT_CACHE_TTL_SEC",
		"cache.max_entries":       "VERDICT_CACHE_MAX_ENTRIES",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Payment.PayTo, "MERCHANT_WALLET"},
		{c.Payment.Network, "X402_NETWORK"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("required config missing: REDIS_ADDR")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q (want %s or %s)", c.Store.Backend, BackendMemory, BackendRedis)
	}

	switch c.Ledger.Kind {
	case LedgerSolana:
		if c.Ledger.SolanaRPCURL == "" {
			return fmt.Errorf("required config missing: SOLANA_RPC_URL")
		}
	case LedgerEVM:
		if c.Ledger.EVMRPCURL == "" {
			return fmt.Errorf("required config missing: EVM_RPC_URL")
		}
	case LedgerIndexer:
		if c.Ledger.IndexerURL == "" {
			return fmt.Errorf("required config missing: LEDGER_INDEXER_URL")
		}
	default:
		return fmt.Errorf("invalid LEDGER_KIND %q", c.Ledger.Kind)
	}

	if c.Spend.WindowSec <= 0 {
		return fmt.Errorf("SPEND_WINDOW_SEC must be positive")
	}

	if len(c.Currencies) == 0 {
		return fmt.Errorf("no currencies configured")
	}
	for sym, cur := range c.Currencies {
		if cur.Asset == "" {
			return fmt.Errorf("required config missing: %s_TOKEN_MINT", strings.ToUpper(sym))
		}
		for name, s := range map[string]string{
			"per_transaction_limit": cur.PerTransactionLimit,
			"per_window_limit":      cur.PerWindowLimit,
		} {
			d, err := decimal.NewFromString(s)
			if err != nil || !d.IsPositive() {
				return fmt.Errorf("currency %s: %s must be a positive decimal, got %q", sym, name, s)
			}
		}
	}

	for i, r := range c.Routes {
		if r.Method == "" || !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route %d: method and absolute path required", i)
		}
		if _, ok := c.Currencies[strings.ToLower(r.Currency)]; !ok {
			return fmt.Errorf("route %s %s: unknown currency %q", r.Method, r.Path, r.Currency)
		}
		if _, err := decimal.NewFromString(r.Amount); err != nil {
			return fmt.Errorf("route %s %s: invalid amount %q", r.Method, r.Path, r.Amount)
		}
	}
	return nil
}

// Registry builds the currency registry from the configured currencies.
func (c *Config) Registry() (*currency.Registry, error) {
	syms := make([]string, 0, len(c.Currencies))
	for sym := range c.Currencies {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	list := make([]currency.Currency, 0, len(syms))
	for _, sym := range syms {
		cc := c.Currencies[sym]
		price := decimal.Zero
		if cc.PriceUSD != "" {
			p, err := decimal.NewFromString(cc.PriceUSD)
			if err != nil {
				return nil, fmt.Errorf("currency %s: invalid price_usd %q", sym, cc.PriceUSD)
			}
			price = p
		}
		list = append(list, currency.Currency{
			Symbol:   strings.ToUpper(sym),
			Asset:    cc.Asset,
			Decimals: cc.Decimals,
			PriceUSD: price,
		})
	}
	return currency.NewRegistry(list...)
}

// LedgerOptions describes the configured ledger backend. The payee is the
// merchant wallet and the accepted assets are every configured currency's.
func (c *Config) LedgerOptions(reg *currency.Registry) ledger.Options {
	return ledger.Options{
		Kind:          c.Ledger.Kind,
		SolanaRPCURL:  c.Ledger.SolanaRPCURL,
		EVMRPCURL:     c.Ledger.EVMRPCURL,
		IndexerURL:    c.Ledger.IndexerURL,
		IndexerAPIKey: c.Ledger.IndexerAPIKey,
		Payee:         c.Payment.PayTo,
		Assets:        reg.Assets(),
		Timeout:       time.Duration(c.Ledger.TimeoutSec) * time.Second,
	}
}
