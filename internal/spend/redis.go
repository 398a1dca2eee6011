package spend

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/metrics"
	"github.com/alicehelio/paygate/internal/x402"
)

const (
	windowKeyPrefix = "spend:window:"
	windowStartKey  = "spend:window_start"

	// maxReserveAttempts bounds optimistic retries under contention.
	maxReserveAttempts = 50
)

// ErrContention is returned when a reservation keeps losing the optimistic
// transaction race. The reservation was not applied.
var ErrContention = fmt.Errorf("%w: too much contention", ErrNotApplied)

// RedisLedger keeps accumulators in Redis so every gateway instance shares
// one window. Values are decimal strings (spend:window:<SYMBOL>) so amounts
// of any size survive intact. Check-and-increment runs as a WATCH/MULTI/EXEC
// transaction and is retried when another writer touches the key first.
type RedisLedger struct {
	rdb    *redis.Client
	policy policy
	log    *zap.Logger
}

func NewRedisLedger(rdb *redis.Client, limits map[string]Limits, log *zap.Logger) (*RedisLedger, error) {
	p, err := newPolicy(limits)
	if err != nil {
		return nil, err
	}
	return &RedisLedger{rdb: rdb, policy: p, log: log}, nil
}

func windowKey(sym string) string { return windowKeyPrefix + sym }

func (r *RedisLedger) TryReserve(ctx context.Context, cur string, amount *big.Int) (Decision, error) {
	if err := validAmount(amount); err != nil {
		return Decision{}, err
	}
	sym := strings.ToUpper(cur)
	l, ok := r.policy[sym]
	if !ok {
		return denied(x402.ReasonUnsupportedCurrency, new(big.Int)), nil
	}
	key := windowKey(sym)

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		var (
			dec      Decision
			execSent bool
		)
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			spent, err := readAmount(ctx, tx, key)
			if err != nil {
				return err
			}
			if reason := check(l, spent, amount); reason != x402.ReasonNone {
				dec = denied(reason, spent)
				return nil
			}
			next := new(big.Int).Add(spent, amount)
			execSent = true
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next.String(), 0)
				pipe.SetNX(ctx, windowStartKey, time.Now().Unix(), 0)
				return nil
			})
			dec = Decision{Approved: true, Spent: next}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !execSent {
			return Decision{}, fmt.Errorf("reserve %s: %w: %w", sym, ErrNotApplied, err)
		}
		if err != nil {
			// EXEC went out but its reply did not come back; the increment
			// may have been applied.
			return Decision{}, fmt.Errorf("reserve %s: %w", sym, err)
		}
		if dec.Approved {
			metrics.SetWindowSpent(sym, dec.Spent)
		}
		return dec, nil
	}
	r.log.Warn("spend reservation gave up after retries", zap.String("currency", sym))
	return Decision{}, ErrContention
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readAmount(ctx context.Context, c getter, key string) (*big.Int, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt accumulator %s: %q", key, raw)
	}
	return n, nil
}

// Rollover deletes every accumulator and stamps a new window start. Any
// reservation watching an accumulator at that moment fails its EXEC and
// retries against the fresh window.
func (r *RedisLedger) Rollover(ctx context.Context) error {
	syms := r.policy.symbols()
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sym := range syms {
			pipe.Del(ctx, windowKey(sym))
		}
		pipe.Set(ctx, windowStartKey, time.Now().Unix(), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rollover: %w", err)
	}
	for _, sym := range syms {
		metrics.SetWindowSpent(sym, new(big.Int))
	}
	r.log.Info("spend window rolled over", zap.String("backend", "redis"))
	return nil
}

// Snapshot reads the shared accumulators and republishes them to the
// window gauge, so it also picks up other instances' reservations.
func (r *RedisLedger) Snapshot(ctx context.Context) ([]Status, error) {
	var windowStart int64
	raw, err := r.rdb.Get(ctx, windowStartKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("get window start: %w", err)
	default:
		windowStart, _ = strconv.ParseInt(raw, 10, 64)
	}

	out := make([]Status, 0, len(r.policy))
	for _, sym := range r.policy.symbols() {
		spent, err := readAmount(ctx, r.rdb, windowKey(sym))
		if err != nil {
			return nil, err
		}
		metrics.SetWindowSpent(sym, spent)
		l := r.policy[sym]
		out = append(out, Status{
			Currency:       sym,
			Spent:          spent,
			PerTransaction: new(big.Int).Set(l.PerTransaction),
			PerWindow:      new(big.Int).Set(l.PerWindow),
			WindowStart:    windowStart,
		})
	}
	return out, nil
}
