package spend

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alicehelio/paygate/internal/metrics"
	"github.com/alicehelio/paygate/internal/x402"
)

// MemoryLedger keeps accumulators in process memory. State lives as long as
// the process; use RedisLedger to share or persist it.
type MemoryLedger struct {
	mu          sync.Mutex
	policy      policy
	spent       map[string]*big.Int
	windowStart time.Time
	log         *zap.Logger
}

func NewMemoryLedger(limits map[string]Limits, log *zap.Logger) (*MemoryLedger, error) {
	p, err := newPolicy(limits)
	if err != nil {
		return nil, err
	}
	return &MemoryLedger{
		policy:      p,
		spent:       make(map[string]*big.Int, len(p)),
		windowStart: time.Now(),
		log:         log,
	}, nil
}

func (m *MemoryLedger) TryReserve(_ context.Context, cur string, amount *big.Int) (Decision, error) {
	if err := validAmount(amount); err != nil {
		return Decision{}, err
	}
	sym := strings.ToUpper(cur)
	l, ok := m.policy[sym]
	if !ok {
		return denied(x402.ReasonUnsupportedCurrency, new(big.Int)), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	spent := m.current(sym)
	if reason := check(l, spent, amount); reason != x402.ReasonNone {
		return denied(reason, new(big.Int).Set(spent)), nil
	}
	spent.Add(spent, amount)
	metrics.SetWindowSpent(sym, spent)
	return Decision{Approved: true, Spent: new(big.Int).Set(spent)}, nil
}

// current returns the live accumulator for sym. Caller holds m.mu.
func (m *MemoryLedger) current(sym string) *big.Int {
	s, ok := m.spent[sym]
	if !ok {
		s = new(big.Int)
		m.spent[sym] = s
	}
	return s
}

func (m *MemoryLedger) Rollover(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spent = make(map[string]*big.Int, len(m.policy))
	m.windowStart = time.Now()
	for _, sym := range m.policy.symbols() {
		metrics.SetWindowSpent(sym, new(big.Int))
	}
	m.log.Info("spend window rolled over", zap.String("backend", "memory"))
	return nil
}

func (m *MemoryLedger) Snapshot(_ context.Context) ([]Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.policy))
	for _, sym := range m.policy.symbols() {
		l := m.policy[sym]
		spent := new(big.Int)
		if s, ok := m.spent[sym]; ok {
			spent.Set(s)
		}
		out = append(out, Status{
			Currency:       sym,
			Spent:          spent,
			PerTransaction: new(big.Int).Set(l.PerTransaction),
			PerWindow:      new(big.Int).Set(l.PerWindow),
			WindowStart:    m.windowStart.Unix(),
		})
	}
	return out, nil
}
