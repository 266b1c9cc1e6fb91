package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/holtzen/adaptrade/logger"
	_ "github.com/holtzen/adaptrade/metrics" // register the exposition
)

type stubSource struct{ st Status }

func (s stubSource) Status() Status { return s.st }

func serve(t *testing.T, src StatusSource, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(":0", src, logger.Nop())
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(t, stubSource{}, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	src := stubSource{st: Status{
		Running:      true,
		Symbols:      []string{"BTCUSDT"},
		Equity:       12_345,
		TickInterval: "10s",
		OpenPositions: []PositionStatus{
			{Symbol: "BTCUSDT", Side: "BUY", AverageEntry: 100, Quantity: 2},
		},
	}}
	rec := serve(t, src, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Running || got.Equity != 12_345 || len(got.OpenPositions) != 1 {
		t.Fatalf("status = %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(t, stubSource{}, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "adaptrade_") {
		t.Fatal("expected adaptrade metrics in the exposition")
	}
}
