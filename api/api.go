package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/holtzen/adaptrade/logger"
)

// Status is the engine snapshot served on /status.
type Status struct {
	Running       bool               `json:"running"`
	Symbols       []string           `json:"symbols"`
	OpenPositions []PositionStatus   `json:"open_positions"`
	Equity        float64            `json:"equity"`
	RealizedPnL   float64            `json:"realized_pnl"`
	MaxDrawdown   float64            `json:"max_drawdown"`
	TickInterval  string             `json:"tick_interval"`
	LastPrices    map[string]float64 `json:"last_prices,omitempty"`
}

// PositionStatus is the read-only view of one open position.
type PositionStatus struct {
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	AverageEntry float64   `json:"average_entry"`
	Quantity     float64   `json:"quantity"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	OpenedAt     time.Time `json:"opened_at"`
}

// StatusSource supplies the snapshot; the engine implements it.
type StatusSource interface {
	Status() Status
}

// Server is the operational HTTP surface: health, status and metrics.
type Server struct {
	echo *echo.Echo
	addr string
	log  logger.Logger
}

func NewServer(addr string, src StatusSource, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, src.Status())
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, addr: addr, log: log}
}

// Start serves until Shutdown. Blocks; callers run it in a goroutine.
func (s *Server) Start() error {
	s.log.Info("api_listening", logger.String("addr", s.addr))
	err := s.echo.Start(s.addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
