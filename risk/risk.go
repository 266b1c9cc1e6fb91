package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/ledger"
	"github.com/holtzen/adaptrade/metrics"
)

// Verdict is an admission-control outcome. Rejections are expected
// outcomes, not errors; Reason names the rule that fired.
type Verdict struct {
	Admitted bool
	Rule     string
	Reason   string
}

func admit() Verdict { return Verdict{Admitted: true} }

func reject(rule, reason string) Verdict {
	metrics.RiskRejections.WithLabelValues(rule).Inc()
	return Verdict{Rule: rule, Reason: reason}
}

// Gate evaluates the portfolio admission predicate before any entry.
type Gate struct {
	cfg    config.RiskConfig
	ledger ledger.TradeLedger
}

func NewGate(cfg config.RiskConfig, l ledger.TradeLedger) *Gate {
	return &Gate{cfg: cfg, ledger: l}
}

// Admit checks, in order: symbol uniqueness, the equity-stepped position
// cap, correlation-group conflicts, the anchor-asset correlation cap, and
// the daily-loss circuit breaker.
func (g *Gate) Admit(ctx context.Context, symbol string, openSymbols []string, equity float64, now time.Time) Verdict {
	for _, s := range openSymbols {
		if s == symbol {
			return reject("duplicate", fmt.Sprintf("position already open for %s", symbol))
		}
	}

	if maxPos := g.cfg.MaxPositionsFor(equity); len(openSymbols) >= maxPos {
		return reject("position_cap",
			fmt.Sprintf("%d positions open, cap %d at equity %.0f", len(openSymbols), maxPos, equity))
	}

	if group := g.cfg.GroupOf(symbol); group != "" {
		for _, s := range openSymbols {
			if g.cfg.GroupOf(s) == group {
				return reject("correlation",
					fmt.Sprintf("%s shares correlation group %q with open position %s", symbol, group, s))
			}
		}
	}

	if v := g.checkAnchor(symbol, openSymbols); !v.Admitted {
		return v
	}

	loss, err := g.ledger.DailyRealizedLoss(ctx, now)
	if err != nil {
		// A ledger outage must not open the floodgates.
		return reject("breaker", fmt.Sprintf("daily loss unavailable: %v", err))
	}
	if loss >= g.cfg.DailyLossLimit {
		metrics.BreakerActive.Set(1)
		return reject("breaker",
			fmt.Sprintf("daily realized loss %.2f at or above cap %.2f", loss, g.cfg.DailyLossLimit))
	}
	metrics.BreakerActive.Set(0)
	return admit()
}

// checkAnchor caps concurrently open positions correlated with the
// designated anchor asset, independent of group overlap.
func (g *Gate) checkAnchor(symbol string, openSymbols []string) Verdict {
	if !g.anchorCorrelated(symbol) {
		return admit()
	}
	n := 0
	for _, s := range openSymbols {
		if g.anchorCorrelated(s) {
			n++
		}
	}
	if n >= g.cfg.AnchorGroupLimit {
		return reject("anchor",
			fmt.Sprintf("%d positions already correlated with anchor %s (limit %d)",
				n, g.cfg.AnchorSymbol, g.cfg.AnchorGroupLimit))
	}
	return admit()
}

func (g *Gate) anchorCorrelated(symbol string) bool {
	if symbol == g.cfg.AnchorSymbol {
		return true
	}
	for _, s := range g.cfg.AnchorCorrelated {
		if s == symbol {
			return true
		}
	}
	return false
}
