package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/holtzen/adaptrade/types"
)

const (
	tradesKey     = "adaptrade:trades"
	dailyPnLKey   = "adaptrade:pnl:" // + YYYY-MM-DD
	maxKeptTrades = 10_000
)

// RedisLedger stores trade records in a capped Redis list and keeps a
// per-day realized PnL accumulator for the circuit breaker.
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedis(addr, password string, db int) *RedisLedger {
	return &RedisLedger{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (l *RedisLedger) Append(ctx context.Context, r types.TradeRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ledger: marshal record: %w", err)
	}
	pipe := l.rdb.TxPipeline()
	pipe.LPush(ctx, tradesKey, b)
	pipe.LTrim(ctx, tradesKey, 0, maxKeptTrades-1)
	if r.PnL != 0 {
		pipe.IncrByFloat(ctx, dayKey(r.Timestamp), r.PnL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

func (l *RedisLedger) QueryRecent(ctx context.Context, n int) ([]types.TradeRecord, error) {
	raw, err := l.rdb.LRange(ctx, tradesKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: query recent: %w", err)
	}
	// LPUSH stores newest first; callers expect oldest first.
	out := make([]types.TradeRecord, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var r types.TradeRecord
		if err := json.Unmarshal([]byte(raw[i]), &r); err != nil {
			return nil, fmt.Errorf("ledger: decode record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (l *RedisLedger) DailyRealizedLoss(ctx context.Context, day time.Time) (float64, error) {
	net, err := l.rdb.Get(ctx, dayKey(day)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: daily pnl: %w", err)
	}
	if net >= 0 {
		return 0, nil
	}
	return -net, nil
}

func (l *RedisLedger) Close() error { return l.rdb.Close() }

func dayKey(t time.Time) string {
	return dailyPnLKey + t.UTC().Format("2006-01-02")
}
