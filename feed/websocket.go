package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/types"
)

// tickMessage is the wire format of one trade tick from the stream.
type tickMessage struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

// WSFeed aggregates a websocket trade stream into fixed-interval candles
// and keeps a bounded rolling window per symbol. It reconnects with
// capped exponential backoff until the context is cancelled.
type WSFeed struct {
	url      string
	symbols  []string
	interval time.Duration
	maxKeep  int
	log      logger.Logger

	mu      sync.RWMutex
	series  map[string][]types.Candle
	working map[string]*types.Candle
	last    map[string]float64
}

func NewWSFeed(url string, symbols []string, interval time.Duration, maxKeep int, log logger.Logger) *WSFeed {
	return &WSFeed{
		url:      url,
		symbols:  symbols,
		interval: interval,
		maxKeep:  maxKeep,
		log:      log,
		series:   make(map[string][]types.Candle),
		working:  make(map[string]*types.Candle),
		last:     make(map[string]float64),
	}
}

// Run drives the connect/read loop until ctx is done. It blocks; callers
// run it in a goroutine.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := f.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("feed_reconnecting",
				logger.Err(err), logger.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second
	}
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	sub := map[string]any{"op": "subscribe", "symbols": f.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.log.Info("feed_connected", logger.String("url", f.url))

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		var msg tickMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.log.Warn("feed_bad_message", logger.Err(err))
			continue
		}
		if msg.Symbol == "" || msg.Price <= 0 {
			continue
		}
		f.ingest(msg)
	}
}

// ingest folds one tick into the working candle, rolling it into the
// series when the interval boundary passes.
func (f *WSFeed) ingest(msg tickMessage) {
	ts := time.UnixMilli(msg.Timestamp).UTC()
	bucket := ts.Truncate(f.interval)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[msg.Symbol] = msg.Price

	w := f.working[msg.Symbol]
	if w == nil || !w.Timestamp.Equal(bucket) {
		if w != nil {
			f.appendLocked(msg.Symbol, *w)
		}
		f.working[msg.Symbol] = &types.Candle{
			Timestamp: bucket,
			Open:      msg.Price,
			High:      msg.Price,
			Low:       msg.Price,
			Close:     msg.Price,
			Volume:    msg.Volume,
		}
		return
	}
	if msg.Price > w.High {
		w.High = msg.Price
	}
	if msg.Price < w.Low {
		w.Low = msg.Price
	}
	w.Close = msg.Price
	w.Volume += msg.Volume
}

func (f *WSFeed) appendLocked(symbol string, c types.Candle) {
	s := append(f.series[symbol], c)
	if len(s) > f.maxKeep {
		s = s[len(s)-f.maxKeep:]
	}
	f.series[symbol] = s
}

func (f *WSFeed) Candles(_ context.Context, symbol string, limit int) ([]types.Candle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := f.series[symbol]
	if len(s) == 0 {
		return nil, ErrNoData
	}
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	out := make([]types.Candle, len(s))
	copy(out, s)
	return out, nil
}

func (f *WSFeed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.last[symbol]
	return p, ok
}
