package risk

import (
	"context"
	"testing"
	"time"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/ledger"
	"github.com/holtzen/adaptrade/types"
)

func newGate(mutate func(*config.RiskConfig)) (*Gate, *ledger.MemoryLedger) {
	cfg := config.Default("BTCUSDT").Risk
	if mutate != nil {
		mutate(&cfg)
	}
	led := ledger.NewMemory()
	return NewGate(cfg, led), led
}

func TestAdmitClean(t *testing.T) {
	g, _ := newGate(nil)
	v := g.Admit(context.Background(), "BTCUSDT", nil, 10_000, time.Now())
	if !v.Admitted {
		t.Fatalf("rejected: %s (%s)", v.Rule, v.Reason)
	}
}

func TestRejectDuplicateSymbol(t *testing.T) {
	g, _ := newGate(nil)
	v := g.Admit(context.Background(), "BTCUSDT", []string{"BTCUSDT"}, 10_000, time.Now())
	if v.Admitted || v.Rule != "duplicate" {
		t.Fatalf("verdict = %+v, want duplicate rejection", v)
	}
}

func TestRejectPositionCap(t *testing.T) {
	g, _ := newGate(nil)
	// Equity 1000 resolves to a cap of 2.
	v := g.Admit(context.Background(), "XRPUSDT", []string{"BTCUSDT", "ETHUSDT"}, 1_000, time.Now())
	if v.Admitted || v.Rule != "position_cap" {
		t.Fatalf("verdict = %+v, want position_cap rejection", v)
	}
	// Higher equity relaxes the cap for the same portfolio.
	v = g.Admit(context.Background(), "XRPUSDT", []string{"BTCUSDT", "ETHUSDT"}, 30_000, time.Now())
	if !v.Admitted {
		t.Fatalf("verdict = %+v, want admitted at relaxed cap", v)
	}
}

func TestRejectCorrelationGroup(t *testing.T) {
	g, _ := newGate(func(c *config.RiskConfig) {
		c.Groups = map[string][]string{"layer1": {"ETHUSDT", "SOLUSDT", "AVAXUSDT"}}
	})
	v := g.Admit(context.Background(), "SOLUSDT", []string{"ETHUSDT"}, 30_000, time.Now())
	if v.Admitted || v.Rule != "correlation" {
		t.Fatalf("verdict = %+v, want correlation rejection", v)
	}
	// A symbol outside the group is unaffected.
	v = g.Admit(context.Background(), "DOGEUSDT", []string{"ETHUSDT"}, 30_000, time.Now())
	if !v.Admitted {
		t.Fatalf("verdict = %+v, want admitted", v)
	}
}

func TestRejectAnchorCorrelatedCap(t *testing.T) {
	g, _ := newGate(func(c *config.RiskConfig) {
		c.AnchorCorrelated = []string{"ETHUSDT", "SOLUSDT", "LTCUSDT"}
		c.AnchorGroupLimit = 2
	})
	v := g.Admit(context.Background(), "LTCUSDT", []string{"ETHUSDT", "SOLUSDT"}, 50_000, time.Now())
	if v.Admitted || v.Rule != "anchor" {
		t.Fatalf("verdict = %+v, want anchor rejection", v)
	}
	// The anchor symbol itself counts against the cap.
	v = g.Admit(context.Background(), "BTCUSDT", []string{"ETHUSDT", "SOLUSDT"}, 50_000, time.Now())
	if v.Admitted || v.Rule != "anchor" {
		t.Fatalf("verdict = %+v, want anchor rejection for the anchor itself", v)
	}
}

func TestDailyLossBreaker(t *testing.T) {
	g, led := newGate(nil)
	now := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	_ = led.Append(context.Background(), types.TradeRecord{
		ID: "a", Symbol: "ETHUSDT", PnL: -350, Timestamp: now.Add(-time.Hour),
	})
	v := g.Admit(context.Background(), "BTCUSDT", nil, 50_000, now)
	if v.Admitted || v.Rule != "breaker" {
		t.Fatalf("verdict = %+v, want breaker rejection", v)
	}
}

func TestBreakerResetsNextDay(t *testing.T) {
	g, led := newGate(nil)
	yesterday := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	_ = led.Append(context.Background(), types.TradeRecord{
		ID: "a", Symbol: "ETHUSDT", PnL: -350, Timestamp: yesterday,
	})
	v := g.Admit(context.Background(), "BTCUSDT", nil, 50_000, yesterday.AddDate(0, 0, 1))
	if !v.Admitted {
		t.Fatalf("verdict = %+v, want admitted after UTC day rollover", v)
	}
}

func TestRuleOrderDuplicateBeforeBreaker(t *testing.T) {
	g, led := newGate(nil)
	now := time.Now().UTC()
	_ = led.Append(context.Background(), types.TradeRecord{ID: "a", PnL: -999, Timestamp: now})
	v := g.Admit(context.Background(), "BTCUSDT", []string{"BTCUSDT"}, 50_000, now)
	if v.Rule != "duplicate" {
		t.Fatalf("rule = %q, want duplicate checked before breaker", v.Rule)
	}
}
