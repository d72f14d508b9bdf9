// Package telemetry provides lightweight operational metrics for the record
// sync layer using only standard library constructs: counters and gauges with
// a Prometheus text exposition endpoint. The interesting numbers here are not
// request latencies but sync health: how many live subscriptions are open,
// how many bytes a historical load pulled, and how often billing joins fail.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

// Well-known metric names.
const (
	MetricSubscriptionsOpen  = "sync_subscriptions_open"
	MetricStrategySwitches   = "sync_strategy_switches_total"
	MetricBytesTransferred   = "sync_bytes_transferred_total"
	MetricHistoricalRecords  = "sync_historical_records_total"
	MetricJoinFailures       = "billing_join_failures_total"
	MetricWebsocketClients   = "websocket_clients"
	MetricStoreWriteFailures = "store_write_failures_total"
)

// ---------------------------------------------------------------------------
// Counter store: monotonically increasing, keyed by name.
// ---------------------------------------------------------------------------

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) add(key string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := delta
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// ---------------------------------------------------------------------------
// Gauge store: settable, keyed by name.
// ---------------------------------------------------------------------------

type gaugeStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newGaugeStore() *gaugeStore {
	return &gaugeStore{items: make(map[string]*int64)}
}

func (s *gaugeStore) set(name string, val int64) {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if ok {
		atomic.StoreInt64(p, val)
		return
	}
	s.mu.Lock()
	if p, ok = s.items[name]; ok {
		atomic.StoreInt64(p, val)
	} else {
		v := val
		s.items[name] = &v
	}
	s.mu.Unlock()
}

func (s *gaugeStore) get(name string) int64 {
	s.mu.RLock()
	p, ok := s.items[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *gaugeStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider aggregates the process's metrics. The zero value is not usable;
// call NewProvider.
type Provider struct {
	counters *counterStore
	gauges   *gaugeStore
}

func NewProvider() *Provider {
	return &Provider{
		counters: newCounterStore(),
		gauges:   newGaugeStore(),
	}
}

// Inc increments a counter by one.
func (p *Provider) Inc(name string) { p.counters.add(name, 1) }

// Add increments a counter by delta.
func (p *Provider) Add(name string, delta int64) { p.counters.add(name, delta) }

// SetGauge sets a gauge to val.
func (p *Provider) SetGauge(name string, val int64) { p.gauges.set(name, val) }

// Counter returns a counter's current value.
func (p *Provider) Counter(name string) int64 { return p.counters.get(name) }

// Gauge returns a gauge's current value.
func (p *Provider) Gauge(name string) int64 { return p.gauges.get(name) }

// Export renders every metric in Prometheus text exposition format, sorted
// by name for stable output.
func (p *Provider) Export() string {
	var b strings.Builder

	counters := p.counters.snapshot()
	names := make([]string, 0, len(counters))
	for n := range counters {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&b, "# TYPE %s counter\n%s %d\n", n, n, counters[n])
	}

	gauges := p.gauges.snapshot()
	names = names[:0]
	for n := range gauges {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&b, "# TYPE %s gauge\n%s %d\n", n, n, gauges[n])
	}
	return b.String()
}

// Handler serves the metrics endpoint.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.Export())
	}
}
