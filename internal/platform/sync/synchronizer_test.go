package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// instrStore wraps the memory store, counting live subscriptions, recording
// read paths, and injecting point-read failures.
type instrStore struct {
	*store.Memory

	mu                 gosync.Mutex
	live               int
	maxLive            int
	wasActive          bool
	sawZeroAfterActive bool
	reads              []string
	failReads          map[string]error
}

func newInstrStore() *instrStore {
	return &instrStore{Memory: store.NewMemory(), failReads: make(map[string]error)}
}

func (s *instrStore) Subscribe(ctx context.Context, path string, h store.Handlers) (store.CancelFunc, error) {
	cancel, err := s.Memory.Subscribe(ctx, path, h)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.live++
	if s.live > s.maxLive {
		s.maxLive = s.live
	}
	s.wasActive = true
	s.mu.Unlock()

	var once gosync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.live--
			if s.live == 0 && s.wasActive {
				s.sawZeroAfterActive = true
			}
			s.mu.Unlock()
		})
		cancel()
	}, nil
}

func (s *instrStore) PointRead(ctx context.Context, path string) (store.Value, bool, error) {
	s.mu.Lock()
	s.reads = append(s.reads, path)
	err := s.failReads[path]
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return s.Memory.PointRead(ctx, path)
}

func (s *instrStore) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func testSync(t *testing.T, st store.Client, cfg Config) *Synchronizer {
	t.Helper()
	if cfg.Collection == "" {
		cfg.Collection = "ipd"
	}
	if cfg.FullKeyLength == 0 {
		cfg.FullKeyLength = 6
	}
	return New(st, cfg, zerolog.Nop())
}

func seedToday(t *testing.T, st store.Client, uhid, subKey string, fields store.Value) {
	t.Helper()
	path := store.Join("ipd", store.TodayPartition(), uhid, subKey)
	if err := st.Write(context.Background(), path, fields, store.Set); err != nil {
		t.Fatalf("seed write: %v", err)
	}
}

func TestTodayFeedStreams(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha", "doctor": "Dr. Rao"})
	seedToday(t, st, "ABD999", "V1", store.Value{"name": "Ravi", "doctor": "Dr. Rao"})

	s := testSync(t, st, Config{DoctorField: "doctor"})
	defer s.Close()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if s.Projection().Len() != 2 {
		t.Fatalf("expected 2 records from snapshot, got %d", s.Projection().Len())
	}
	if s.Strategy() != StrategyToday {
		t.Errorf("expected today strategy")
	}

	// Live add.
	seedToday(t, st, "XYZ000", "V1", store.Value{"name": "Mina", "doctor": "Dr. Iyer"})
	if s.Projection().Len() != 3 {
		t.Fatalf("expected live add, got %d", s.Projection().Len())
	}

	// Live change.
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha K", "doctor": "Dr. Rao"})
	got, _ := s.Projection().Get(Key{UHID: "ABC123", SubKey: "V1"})
	if got.Fields.String("name") != "Asha K" {
		t.Errorf("expected live change, got %v", got.Fields)
	}

	// Derived aggregate follows the feed.
	if counts := s.Projection().DoctorCounts(); counts["Dr. Rao"] != 2 || counts["Dr. Iyer"] != 1 {
		t.Errorf("unexpected doctor counts: %v", counts)
	}

	// Live remove.
	if err := st.Delete(ctx, store.Join("ipd", store.TodayPartition(), "XYZ000")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Projection().Len() != 2 {
		t.Errorf("expected live removal, got %d", s.Projection().Len())
	}
}

func TestStrategySwitchTearsDownCleanly(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha"})
	// The same patient has an older admission in another partition.
	st.Write(ctx, "ipd/2024-01-10/ABC123/V0", store.Value{"name": "Asha"}, store.Set)

	s := testSync(t, st, Config{})
	defer s.Close()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.liveCount() != 1 {
		t.Fatalf("expected 1 feed subscription, got %d", st.liveCount())
	}

	// Full-length token: switch to the lookup strategy.
	if err := s.SetSearchToken(ctx, "ABC123"); err != nil {
		t.Fatalf("switch: %v", err)
	}

	st.mu.Lock()
	sawZero, maxLive := st.sawZeroAfterActive, st.maxLive
	st.mu.Unlock()
	if !sawZero {
		t.Error("expected all previous subscriptions cancelled before new ones registered")
	}
	if maxLive > 2 {
		t.Errorf("subscription count exceeded expected max: %d", maxLive)
	}

	if s.Strategy() != StrategyLookup {
		t.Errorf("expected lookup strategy")
	}
	if s.Projection().Len() != 2 {
		t.Errorf("expected both partitions' records, got %d", s.Projection().Len())
	}
	// One watch per (partition, uhid) hit.
	if s.Registry().Len() != 2 {
		t.Errorf("expected 2 key watches, got %d", s.Registry().Len())
	}

	// Clearing the token returns to the today feed.
	if err := s.ClearSearch(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s.Strategy() != StrategyToday {
		t.Errorf("expected today strategy after clear")
	}
	if s.Projection().Len() != 1 {
		t.Errorf("expected only today's record, got %d", s.Projection().Len())
	}
}

func TestPrefixSearchScoping(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha"})
	seedToday(t, st, "ABD999", "V1", store.Value{"name": "Ravi"})
	seedToday(t, st, "XYZ000", "V1", store.Value{"name": "Mina"})
	// A prefix match in another partition must never be consulted.
	st.Write(ctx, "ipd/2020-01-01/ABZZZZ/V1", store.Value{"name": "Old"}, store.Set)

	s := testSync(t, st, Config{})
	defer s.Close()

	st.mu.Lock()
	st.reads = nil
	st.mu.Unlock()

	if err := s.SetSearchToken(ctx, "AB"); err != nil {
		t.Fatalf("search: %v", err)
	}

	view := s.Projection().View(nil, nil)
	if len(view) != 2 {
		t.Fatalf("expected exactly ABC123 and ABD999, got %v", view)
	}
	for _, r := range view {
		if r.Key.UHID != "ABC123" && r.Key.UHID != "ABD999" {
			t.Errorf("unexpected record %v", r.Key)
		}
	}

	todayPath := store.Join("ipd", store.TodayPartition())
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, p := range st.reads {
		if p != todayPath {
			t.Errorf("prefix scan read outside today's partition: %s", p)
		}
	}
}

func TestPrefixMatchesSearchFields(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	seedToday(t, st, "UH0001", "V1", store.Value{"name": "Asha", "phone": "9876543210"})
	seedToday(t, st, "UH0002", "V1", store.Value{"name": "Ravi", "phone": "9123456789"})

	s := testSync(t, st, Config{SearchFields: []string{"name", "phone"}})
	defer s.Close()

	if err := s.SetSearchToken(ctx, "ash"); err != nil {
		t.Fatalf("search: %v", err)
	}
	view := s.Projection().View(nil, nil)
	if len(view) != 1 || view[0].Key.UHID != "UH0001" {
		t.Errorf("expected name-prefix match on UH0001, got %v", view)
	}

	if err := s.SetSearchToken(ctx, "912"); err != nil {
		t.Fatalf("search: %v", err)
	}
	view = s.Projection().View(nil, nil)
	if len(view) != 1 || view[0].Key.UHID != "UH0002" {
		t.Errorf("expected phone-prefix match on UH0002, got %v", view)
	}
}

func TestPrefixResultStaysLive(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha"})

	s := testSync(t, st, Config{})
	defer s.Close()
	if err := s.SetSearchToken(ctx, "ABC"); err != nil {
		t.Fatalf("search: %v", err)
	}

	// Matched keys are watched: a later change streams in.
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha K"})
	got, ok := s.Projection().Get(Key{UHID: "ABC123", SubKey: "V1"})
	if !ok || got.Fields.String("name") != "Asha K" {
		t.Errorf("expected watched key to stay live, got %v", got.Fields)
	}
}

func TestFailedScanLeavesLastGoodState(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha"})

	s := testSync(t, st, Config{})
	defer s.Close()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	todayPath := store.Join("ipd", store.TodayPartition())
	st.mu.Lock()
	st.failReads[todayPath] = fmt.Errorf("network down")
	st.mu.Unlock()

	if err := s.SetSearchToken(ctx, "AB"); err == nil {
		t.Fatal("expected error from failed one-shot read")
	}

	// Previous strategy and projection survive.
	if s.Strategy() != StrategyToday {
		t.Errorf("expected today strategy preserved, got %v", s.Strategy())
	}
	if s.Projection().Len() != 1 {
		t.Errorf("expected last-good projection, got %d records", s.Projection().Len())
	}
	if st.liveCount() != 1 {
		t.Errorf("expected feed still live, got %d", st.liveCount())
	}

	// And the feed still applies events.
	st.mu.Lock()
	delete(st.failReads, todayPath)
	st.mu.Unlock()
	seedToday(t, st, "ABD999", "V1", store.Value{"name": "Ravi"})
	if s.Projection().Len() != 2 {
		t.Errorf("expected feed to keep streaming after failed switch, got %d", s.Projection().Len())
	}
}

func TestFullLookupViaIndex(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	st.Write(ctx, "index/phone/9876543210", store.Value{"uhid": "ABC123"}, store.Set)
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha"})
	st.Write(ctx, "ipd/2024-01-10/ABC123/V0", store.Value{"name": "Asha"}, store.Set)

	s := testSync(t, st, Config{IndexCollection: "index/phone"})
	defer s.Close()

	if err := s.SetSearchToken(ctx, "9876543210"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if s.Projection().Len() != 2 {
		t.Errorf("expected records from all partitions, got %d", s.Projection().Len())
	}
}

func TestFullLookupUnknownTokenEmpties(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha"})

	s := testSync(t, st, Config{IndexCollection: "index/phone"})
	defer s.Close()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.SetSearchToken(ctx, "0000000000"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if s.Projection().Len() != 0 {
		t.Errorf("expected empty projection for unknown token, got %d", s.Projection().Len())
	}
	if s.Registry().Len() != 0 {
		t.Errorf("expected no watches, got %d", s.Registry().Len())
	}
}

func TestFullLookupLinearFallback(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	seedToday(t, st, "UH0001", "V1", store.Value{"name": "Asha", "phone": "9876543210"})
	st.Write(ctx, "ipd/2024-01-10/UH0001/V0", store.Value{"name": "Asha", "phone": "9876543210"}, store.Set)
	seedToday(t, st, "UH0002", "V1", store.Value{"name": "Ravi", "phone": "9123456789"})

	s := testSync(t, st, Config{SearchFields: []string{"phone"}})
	defer s.Close()

	// Full-length token, no index configured: linear scan on the phone field.
	if err := s.SetSearchToken(ctx, "9876543210"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	view := s.Projection().View(nil, nil)
	if len(view) != 2 {
		t.Fatalf("expected UH0001's two admissions, got %v", view)
	}
	for _, r := range view {
		if r.Key.UHID != "UH0001" {
			t.Errorf("unexpected record %v", r.Key)
		}
	}
}

func TestLoadHistorical(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()
	st.Write(ctx, "ipd/2024-05-01/P001/V1", store.Value{"name": "A", "dischargeAt": "2024-05-03T10:00:00Z"}, store.Set)
	st.Write(ctx, "ipd/2024-04-01/P002/V1", store.Value{"name": "B", "dischargeAt": "2024-04-02T10:00:00Z"}, store.Set)
	st.Write(ctx, "ipd/2024-03-01/P003/V1", store.Value{"name": "C"}, store.Set) // still admitted

	s := testSync(t, st, Config{})
	defer s.Close()

	if s.LoadState() != NotLoaded {
		t.Errorf("expected not-loaded initially")
	}

	discharged := func(r Record) bool { return r.Fields.String("dischargeAt") != "" }
	recs, stats, err := s.LoadHistorical(ctx, 10, discharged)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 discharged records, got %d", len(recs))
	}
	// Newest partition first.
	if recs[0].Partition != "2024-05-01" {
		t.Errorf("expected newest first, got %s", recs[0].Partition)
	}
	if stats.Records != 2 || stats.Bytes <= 0 {
		t.Errorf("expected transfer stats, got %+v", stats)
	}
	if s.LoadState() != Loaded {
		t.Errorf("expected loaded state")
	}

	// Page size bounds the result.
	recs, stats, err = s.LoadHistorical(ctx, 1, discharged)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 || stats.Records != 1 {
		t.Errorf("expected page size respected, got %d", len(recs))
	}
}

func TestLoadHistoricalFailure(t *testing.T) {
	st := newInstrStore()
	st.failReads["ipd"] = fmt.Errorf("network down")

	s := testSync(t, st, Config{})
	defer s.Close()

	if _, _, err := s.LoadHistorical(context.Background(), 10, nil); err == nil {
		t.Fatal("expected error")
	}
	if s.LoadState() != NotLoaded {
		t.Errorf("failed load must reset to not-loaded, got %v", s.LoadState())
	}
}

func TestDegradedOnSubscribeFailure(t *testing.T) {
	st := newInstrStore()
	st.Memory.Close()

	s := testSync(t, st, Config{})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected subscribe error")
	}
	if !s.Degraded() {
		t.Error("expected degraded flag after failed subscribe")
	}
}

type capturePub struct {
	mu     gosync.Mutex
	events []RecordEvent
}

func (p *capturePub) Publish(ev RecordEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func TestPublisherReceivesFeedEvents(t *testing.T) {
	st := newInstrStore()
	ctx := context.Background()

	s := testSync(t, st, Config{})
	defer s.Close()
	pub := &capturePub{}
	s.SetPublisher(pub)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha"})
	seedToday(t, st, "ABC123", "V1", store.Value{"name": "Asha K"})
	st.Delete(ctx, store.Join("ipd", store.TodayPartition(), "ABC123"))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(pub.events), pub.events)
	}
	if pub.events[0].Type != "added" || pub.events[1].Type != "changed" || pub.events[2].Type != "removed" {
		t.Errorf("unexpected event sequence: %v", pub.events)
	}
}
