package executor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/holtzen/adaptrade/types"
)

func TestPaperOpenAndClose(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExecutor(10_000, 10)
	p.MarkPrice("BTCUSDT", 100)

	fill, err := p.Open(ctx, "BTCUSDT", types.Buy, 1_000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fill.Qty != 10 || fill.AvgPrice != 100 || fill.Status != types.FillFilled {
		t.Fatalf("fill = %+v", fill)
	}
	if eq := p.Equity(); math.Abs(eq-10_000) > 1e-9 {
		t.Fatalf("equity = %f, want unchanged 10000 right after the fill", eq)
	}

	p.MarkPrice("BTCUSDT", 110)
	if eq := p.Equity(); math.Abs(eq-10_100) > 1e-9 {
		t.Fatalf("marked equity = %f, want 10100", eq)
	}

	closeFill, err := p.Close(ctx, "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closeFill.Side != types.Sell || closeFill.Qty != 10 {
		t.Fatalf("close fill = %+v", closeFill)
	}
	qty, _ := p.Position("BTCUSDT")
	if qty != 0 {
		t.Fatalf("qty = %f, want flat", qty)
	}
}

func TestPaperRejectsBadOrders(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExecutor(100, 10)

	if _, err := p.Open(ctx, "NOPRICE", types.Buy, 50); !errors.Is(err, ErrInvalidSymbol) {
		t.Fatalf("err = %v, want ErrInvalidSymbol", err)
	}
	p.MarkPrice("BTCUSDT", 100)
	if _, err := p.Open(ctx, "BTCUSDT", types.Buy, 5); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected below min notional", err)
	}
	if _, err := p.Open(ctx, "BTCUSDT", types.Buy, 500); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if _, err := p.Close(ctx, "BTCUSDT", 1); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected with no position", err)
	}
}

func TestPaperCloseClampsToHeld(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExecutor(1_000, 10)
	p.MarkPrice("ETHUSDT", 50)
	if _, err := p.Open(ctx, "ETHUSDT", types.Buy, 500); err != nil {
		t.Fatal(err)
	}
	fill, err := p.Close(ctx, "ETHUSDT", 999)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Qty != 10 {
		t.Fatalf("clamped qty = %f, want 10", fill.Qty)
	}
}

func TestPaperShortPosition(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExecutor(10_000, 10)
	p.MarkPrice("BTCUSDT", 100)
	if _, err := p.Open(ctx, "BTCUSDT", types.Short, 1_000); err != nil {
		t.Fatal(err)
	}
	qty, avg := p.Position("BTCUSDT")
	if qty != -10 || avg != 100 {
		t.Fatalf("position = %f @ %f, want -10 @ 100", qty, avg)
	}
	if eq := p.Equity(); math.Abs(eq-10_000) > 1e-9 {
		t.Fatalf("equity = %f, want unchanged 10000 right after the fill", eq)
	}

	// A short gains when the price falls: proceeds stay as cash, the
	// buy-back cost shrinks.
	p.MarkPrice("BTCUSDT", 90)
	if eq := p.Equity(); math.Abs(eq-10_100) > 1e-9 {
		t.Fatalf("marked equity = %f, want 10100 after a 10%% drop", eq)
	}

	fill, err := p.Close(ctx, "BTCUSDT", 10)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Side != types.Buy {
		t.Fatalf("covering side = %s, want BUY", fill.Side)
	}
	if eq := p.Equity(); math.Abs(eq-10_100) > 1e-9 {
		t.Fatalf("final equity = %f, want realized 10100", eq)
	}
	if qty, _ := p.Position("BTCUSDT"); qty != 0 {
		t.Fatalf("qty = %f, want flat", qty)
	}
}

func TestPaperShortLosesOnRally(t *testing.T) {
	ctx := context.Background()
	p := NewPaperExecutor(10_000, 10)
	p.MarkPrice("BTCUSDT", 100)
	if _, err := p.Open(ctx, "BTCUSDT", types.Short, 1_000); err != nil {
		t.Fatal(err)
	}
	p.MarkPrice("BTCUSDT", 110)
	if eq := p.Equity(); math.Abs(eq-9_900) > 1e-9 {
		t.Fatalf("marked equity = %f, want 9900 after a 10%% rally", eq)
	}
	if _, err := p.Close(ctx, "BTCUSDT", 10); err != nil {
		t.Fatal(err)
	}
	if eq := p.Equity(); math.Abs(eq-9_900) > 1e-9 {
		t.Fatalf("final equity = %f, want realized 9900", eq)
	}
}
