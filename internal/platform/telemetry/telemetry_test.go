package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCountersAndGauges(t *testing.T) {
	p := NewProvider()

	p.Inc(MetricJoinFailures)
	p.Inc(MetricJoinFailures)
	p.Add(MetricBytesTransferred, 4096)
	p.SetGauge(MetricSubscriptionsOpen, 3)
	p.SetGauge(MetricSubscriptionsOpen, 1)

	if got := p.Counter(MetricJoinFailures); got != 2 {
		t.Errorf("expected counter 2, got %d", got)
	}
	if got := p.Counter(MetricBytesTransferred); got != 4096 {
		t.Errorf("expected counter 4096, got %d", got)
	}
	if got := p.Gauge(MetricSubscriptionsOpen); got != 1 {
		t.Errorf("expected gauge 1, got %d", got)
	}
	if got := p.Counter("never_touched"); got != 0 {
		t.Errorf("expected zero for unknown counter, got %d", got)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	p := NewProvider()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Inc(MetricStrategySwitches)
			}
		}()
	}
	wg.Wait()

	if got := p.Counter(MetricStrategySwitches); got != 5000 {
		t.Errorf("expected 5000, got %d", got)
	}
}

func TestExportFormat(t *testing.T) {
	p := NewProvider()
	p.Inc(MetricJoinFailures)
	p.SetGauge(MetricWebsocketClients, 2)

	out := p.Export()
	if !strings.Contains(out, "# TYPE billing_join_failures_total counter\nbilling_join_failures_total 1\n") {
		t.Errorf("missing counter line:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE websocket_clients gauge\nwebsocket_clients 2\n") {
		t.Errorf("missing gauge line:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	p := NewProvider()
	p.Inc(MetricHistoricalRecords)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := p.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sync_historical_records_total 1") {
		t.Errorf("unexpected body:\n%s", rec.Body.String())
	}
}
