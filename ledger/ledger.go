package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/holtzen/adaptrade/types"
)

// TradeLedger is the append-only fact log. QueryRecent feeds the Kelly
// multiplier; DailyRealizedLoss feeds the daily-loss circuit breaker.
// Persistence beyond the interface is a collaborator concern.
type TradeLedger interface {
	Append(ctx context.Context, r types.TradeRecord) error
	QueryRecent(ctx context.Context, n int) ([]types.TradeRecord, error)
	DailyRealizedLoss(ctx context.Context, day time.Time) (float64, error)
}

// MemoryLedger keeps everything in-process. Default backend; also the
// test double.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []types.TradeRecord
}

func NewMemory() *MemoryLedger { return &MemoryLedger{} }

func (m *MemoryLedger) Append(_ context.Context, r types.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryLedger) QueryRecent(_ context.Context, n int) ([]types.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n > len(m.records) {
		n = len(m.records)
	}
	out := make([]types.TradeRecord, n)
	copy(out, m.records[len(m.records)-n:])
	return out, nil
}

// DailyRealizedLoss returns the day's net realized loss as a positive
// number, zero when the day is net flat or positive.
func (m *MemoryLedger) DailyRealizedLoss(_ context.Context, day time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	y, mo, d := day.UTC().Date()
	net := 0.0
	for _, r := range m.records {
		ry, rmo, rd := r.Timestamp.UTC().Date()
		if ry == y && rmo == mo && rd == d {
			net += r.PnL
		}
	}
	if net >= 0 {
		return 0, nil
	}
	return -net, nil
}

// Len reports the number of appended records.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
