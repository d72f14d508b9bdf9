package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	gosync "sync"

	"github.com/rs/zerolog"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// Config parameterizes a Synchronizer for one list view. The OPD and IPD
// lists run the same synchronizer with different configs.
type Config struct {
	// Collection is the partitioned collection, e.g. "ipd" or "opd".
	Collection string
	// FullKeyLength is the length of a complete UHID. Shorter search tokens
	// run the prefix strategy.
	FullKeyLength int
	// SearchFields are record fields prefix-matched by the prefix strategy
	// in addition to the UHID itself (e.g. name, phone).
	SearchFields []string
	// IndexCollection, when set, maps a full-length token to a UHID for the
	// lookup strategy (e.g. "index/phone"). Empty means linear scan.
	IndexCollection string
	// IndexField is the field in an index document holding the UHID.
	// Defaults to "uhid".
	IndexField string
	// DoctorField feeds the projection's doctor-count aggregate.
	DoctorField string
}

func (c Config) indexField() string {
	if c.IndexField == "" {
		return "uhid"
	}
	return c.IndexField
}

// RecordEvent is pushed to the optional Publisher on every live-feed change.
type RecordEvent struct {
	Type       string      `json:"type"` // added | changed | removed
	Collection string      `json:"collection"`
	Key        Key         `json:"key"`
	Fields     store.Value `json:"fields,omitempty"`
}

// Publisher receives live projection events, typically a websocket hub.
type Publisher interface {
	Publish(ev RecordEvent)
}

// Stats reports the cost of a bulk load for operator visibility.
type Stats struct {
	Records int   `json:"records"`
	Bytes   int64 `json:"bytes"`
}

// ErrLoadInProgress is returned when a historical load is already running.
var ErrLoadInProgress = errors.New("sync: historical load already in progress")

// Synchronizer keeps one list view's projection consistent with the remote
// store under strategy switches. Exactly one strategy is live at a time;
// switching tokens tears down every previous subscription before the new
// strategy registers any, and stale async results are discarded by a
// generation check captured at request time.
type Synchronizer struct {
	store  store.Client
	cfg    Config
	log    zerolog.Logger
	router Router
	reg    *Registry
	proj   *Projection
	pub    Publisher

	mu       gosync.Mutex
	gen      uint64
	strategy Strategy
	token    string
	state    LoadState
	degraded bool
}

// New builds a synchronizer in the default today-feed strategy. Call
// SetSearchToken (or Start) to begin streaming.
func New(c store.Client, cfg Config, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		store:  c,
		cfg:    cfg,
		log:    log.With().Str("collection", cfg.Collection).Logger(),
		router: Router{FullKeyLength: cfg.FullKeyLength},
		reg:    NewRegistry(),
		proj:   NewProjection(cfg.DoctorField),
	}
}

// SetPublisher attaches an optional live-event publisher.
func (s *Synchronizer) SetPublisher(p Publisher) { s.pub = p }

// Projection returns the live projection for the active strategy.
func (s *Synchronizer) Projection() *Projection { return s.proj }

// Registry exposes the subscription registry; used by tests and teardown.
func (s *Synchronizer) Registry() *Registry { return s.reg }

// Strategy returns the active strategy.
func (s *Synchronizer) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// LoadState returns the historical-load state.
func (s *Synchronizer) LoadState() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Degraded reports that a streaming subscription failed and the projection
// may be stale. The UI shows a disconnected indicator, not an empty list.
func (s *Synchronizer) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Start begins the default today feed.
func (s *Synchronizer) Start(ctx context.Context) error {
	return s.SetSearchToken(ctx, "")
}

// ClearSearch returns to the default today feed.
func (s *Synchronizer) ClearSearch(ctx context.Context) error {
	return s.SetSearchToken(ctx, "")
}

// Close cancels every live subscription. The projection keeps its last
// contents for inspection.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
	s.reg.CancelAll()
}

// SetSearchToken routes token to a strategy and switches to it. One-shot
// strategies evaluate their reads first: a failed read reports the error and
// leaves the projection in its last-good state. Only after a successful read
// are the old subscriptions cancelled, the projection cleared, and the new
// result applied.
func (s *Synchronizer) SetSearchToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	strat := s.router.Route(token)

	if strat == StrategyToday {
		s.mu.Lock()
		s.gen++
		myGen := s.gen
		s.token = token
		s.strategy = strat
		s.degraded = false
		s.mu.Unlock()

		s.reg.CancelAll()
		s.proj.Clear()
		return s.startTodayFeed(ctx, myGen)
	}

	// One-shot strategies read before any teardown. On failure the previous
	// strategy stays live and the projection keeps its last-good contents.
	s.mu.Lock()
	snapGen := s.gen
	s.mu.Unlock()

	var (
		recs    []Record
		watches []watchTarget
		err     error
	)
	if strat == StrategyPrefix {
		recs, watches, err = s.prefixScan(ctx, token)
	} else {
		recs, watches, err = s.fullLookup(ctx, token)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != snapGen {
		// Another switch won while the read was in flight; discard.
		s.mu.Unlock()
		return nil
	}
	s.gen++
	myGen := s.gen
	s.token = token
	s.strategy = strat
	s.degraded = false
	s.mu.Unlock()

	s.apply(ctx, myGen, recs, watches)
	return nil
}

// LoadHistorical runs the bulk strategy: a one-shot scan of all partitions,
// newest first, keeping at most pageSize records that match pred. It does
// not touch the live projection and reports the transfer cost. Billing
// enrichment is the caller's job (see Joiner).
func (s *Synchronizer) LoadHistorical(ctx context.Context, pageSize int, pred func(Record) bool) ([]Record, Stats, error) {
	s.mu.Lock()
	if s.state == Loading {
		s.mu.Unlock()
		return nil, Stats{}, ErrLoadInProgress
	}
	s.state = Loading
	s.mu.Unlock()

	root, found, err := s.store.PointRead(ctx, s.cfg.Collection)
	if err != nil {
		s.mu.Lock()
		s.state = NotLoaded
		s.mu.Unlock()
		return nil, Stats{}, fmt.Errorf("load historical: %w", err)
	}

	var (
		out   []Record
		stats Stats
	)
	if found {
		partitions := make([]string, 0, len(root))
		for p := range root {
			partitions = append(partitions, p)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(partitions)))

		for _, partition := range partitions {
			if pageSize > 0 && len(out) >= pageSize {
				break
			}
			for _, rec := range explodePartition(partition, root.Child(partition)) {
				if pred != nil && !pred(rec) {
					continue
				}
				stats.Bytes += approxSize(rec.Fields)
				out = append(out, rec)
				if pageSize > 0 && len(out) >= pageSize {
					break
				}
			}
		}
	}
	stats.Records = len(out)

	s.mu.Lock()
	s.state = Loaded
	s.mu.Unlock()

	s.log.Info().Int("records", stats.Records).Int64("bytes", stats.Bytes).Msg("historical load complete")
	return out, stats, nil
}

// apply installs a one-shot scan result: teardown, clear, insert, then
// re-subscribe per matched key. A stale generation drops the result.
func (s *Synchronizer) apply(ctx context.Context, gen uint64, recs []Record, watches []watchTarget) {
	if !s.isCurrent(gen) {
		return
	}
	s.reg.CancelAll()
	s.proj.Clear()
	for _, r := range recs {
		s.proj.Upsert(r)
	}
	for _, w := range watches {
		s.watchKey(ctx, gen, w.partition, w.uhid)
	}
}

type watchTarget struct {
	partition string
	uhid      string
}

// startTodayFeed opens the partition-level subscription for today.
func (s *Synchronizer) startTodayFeed(ctx context.Context, gen uint64) error {
	partition := store.TodayPartition()
	path := store.Join(s.cfg.Collection, partition)

	cancel, err := s.store.Subscribe(ctx, path, s.partitionHandlers(gen, partition))
	if err != nil {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", path, err)
	}
	if !s.isCurrent(gen) {
		cancel()
		return nil
	}
	s.reg.Register(path, cancel)
	return nil
}

// partitionHandlers handles child events where child = UHID and the value
// nests one document per sub-key.
func (s *Synchronizer) partitionHandlers(gen uint64, partition string) store.Handlers {
	upsert := func(kind string, uhid string, v store.Value) {
		if !s.isCurrent(gen) {
			return
		}
		s.applyPatientValue(kind, partition, uhid, v)
	}
	return store.Handlers{
		OnAdded:   func(uhid string, v store.Value) { upsert("added", uhid, v) },
		OnChanged: func(uhid string, v store.Value) { upsert("changed", uhid, v) },
		OnRemoved: func(uhid string) {
			if !s.isCurrent(gen) {
				return
			}
			s.proj.RemoveUHID(uhid)
			s.publish(RecordEvent{Type: "removed", Collection: s.cfg.Collection, Key: Key{UHID: uhid}})
		},
	}
}

// applyPatientValue reconciles every sub-key under one patient child value,
// removing projection entries for sub-keys no longer present.
func (s *Synchronizer) applyPatientValue(kind, partition, uhid string, v store.Value) {
	current := make(map[string]struct{}, len(v))
	for subKey, raw := range v {
		fields := toValue(raw)
		if fields == nil {
			continue
		}
		current[subKey] = struct{}{}
		key := Key{UHID: uhid, SubKey: subKey}
		s.proj.Upsert(Record{Key: key, Partition: partition, Fields: fields})
		s.publish(RecordEvent{Type: kind, Collection: s.cfg.Collection, Key: key, Fields: fields})
	}
	for _, rec := range s.proj.View(func(r Record) bool { return r.Key.UHID == uhid }, nil) {
		if _, ok := current[rec.Key.SubKey]; !ok {
			s.proj.Remove(rec.Key)
			s.publish(RecordEvent{Type: "removed", Collection: s.cfg.Collection, Key: rec.Key})
		}
	}
}

// watchKey opens a key-level subscription (child = sub-key, value = fields)
// and registers it under its canonical path.
func (s *Synchronizer) watchKey(ctx context.Context, gen uint64, partition, uhid string) {
	path := store.Join(s.cfg.Collection, partition, uhid)
	h := store.Handlers{
		OnAdded: func(subKey string, v store.Value) {
			if !s.isCurrent(gen) {
				return
			}
			key := Key{UHID: uhid, SubKey: subKey}
			s.proj.Upsert(Record{Key: key, Partition: partition, Fields: v})
			s.publish(RecordEvent{Type: "added", Collection: s.cfg.Collection, Key: key, Fields: v})
		},
		OnChanged: func(subKey string, v store.Value) {
			if !s.isCurrent(gen) {
				return
			}
			key := Key{UHID: uhid, SubKey: subKey}
			s.proj.Upsert(Record{Key: key, Partition: partition, Fields: v})
			s.publish(RecordEvent{Type: "changed", Collection: s.cfg.Collection, Key: key, Fields: v})
		},
		OnRemoved: func(subKey string) {
			if !s.isCurrent(gen) {
				return
			}
			key := Key{UHID: uhid, SubKey: subKey}
			s.proj.Remove(key)
			s.publish(RecordEvent{Type: "removed", Collection: s.cfg.Collection, Key: key})
		},
	}
	cancel, err := s.store.Subscribe(ctx, path, h)
	if err != nil {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("path", path).Msg("key watch failed")
		return
	}
	if !s.isCurrent(gen) {
		cancel()
		return
	}
	s.reg.Register(path, cancel)
}

// prefixScan one-shot reads today's partition and filters by UHID prefix or
// any configured search-field prefix. It never touches other partitions.
func (s *Synchronizer) prefixScan(ctx context.Context, token string) ([]Record, []watchTarget, error) {
	partition := store.TodayPartition()
	v, found, err := s.store.PointRead(ctx, store.Join(s.cfg.Collection, partition))
	if err != nil {
		return nil, nil, fmt.Errorf("prefix scan: %w", err)
	}
	if !found {
		return nil, nil, nil
	}

	var (
		recs    []Record
		watches []watchTarget
	)
	for uhid, raw := range v {
		pv := toValue(raw)
		if pv == nil {
			continue
		}
		if !s.matchesPrefix(token, uhid, pv) {
			continue
		}
		for subKey, fraw := range pv {
			fields := toValue(fraw)
			if fields == nil {
				continue
			}
			recs = append(recs, Record{
				Key:       Key{UHID: uhid, SubKey: subKey},
				Partition: partition,
				Fields:    fields,
			})
		}
		watches = append(watches, watchTarget{partition: partition, uhid: uhid})
	}
	return recs, watches, nil
}

func (s *Synchronizer) matchesPrefix(token, uhid string, patient store.Value) bool {
	if strings.HasPrefix(strings.ToUpper(uhid), strings.ToUpper(token)) {
		return true
	}
	lower := strings.ToLower(token)
	for _, raw := range patient {
		fields := toValue(raw)
		if fields == nil {
			continue
		}
		for _, f := range s.cfg.SearchFields {
			if strings.HasPrefix(strings.ToLower(fields.String(f)), lower) {
				return true
			}
		}
	}
	return false
}

// fullLookup resolves a full-length token to a UHID and collects that key's
// records from every date partition. With an index collection the token is
// resolved by one point read; without one it falls back to a linear scan
// matching the token against the UHID and the search fields exactly.
func (s *Synchronizer) fullLookup(ctx context.Context, token string) ([]Record, []watchTarget, error) {
	uhid := token
	indexed := s.cfg.IndexCollection != ""
	if indexed {
		v, found, err := s.store.PointRead(ctx, store.Join(s.cfg.IndexCollection, token))
		if err != nil {
			return nil, nil, fmt.Errorf("index lookup: %w", err)
		}
		if !found {
			return nil, nil, nil
		}
		uhid = v.String(s.cfg.indexField())
		if uhid == "" {
			return nil, nil, nil
		}
	}

	root, found, err := s.store.PointRead(ctx, s.cfg.Collection)
	if err != nil {
		return nil, nil, fmt.Errorf("full lookup: %w", err)
	}
	if !found {
		return nil, nil, nil
	}

	var (
		recs    []Record
		watches []watchTarget
	)
	for partition, praw := range root {
		pv := toValue(praw)
		if pv == nil {
			continue
		}
		if indexed || uhid == token {
			// Point pick by UHID within each partition.
			if cv := pv.Child(uhid); cv != nil {
				for _, rec := range explodePatient(partition, uhid, cv) {
					recs = append(recs, rec)
				}
				watches = append(watches, watchTarget{partition: partition, uhid: uhid})
				continue
			}
		}
		if !indexed {
			// Linear fallback: exact match on search fields.
			for cand, craw := range pv {
				cv := toValue(craw)
				if cv == nil || !s.matchesExact(token, cand, cv) {
					continue
				}
				for _, rec := range explodePatient(partition, cand, cv) {
					recs = append(recs, rec)
				}
				watches = append(watches, watchTarget{partition: partition, uhid: cand})
			}
		}
	}
	return recs, watches, nil
}

func (s *Synchronizer) matchesExact(token, uhid string, patient store.Value) bool {
	if strings.EqualFold(uhid, token) {
		return true
	}
	for _, raw := range patient {
		fields := toValue(raw)
		if fields == nil {
			continue
		}
		for _, f := range s.cfg.SearchFields {
			if strings.EqualFold(fields.String(f), token) {
				return true
			}
		}
	}
	return false
}

func (s *Synchronizer) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Synchronizer) publish(ev RecordEvent) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}

// explodePartition flattens a partition value into records.
func explodePartition(partition string, pv store.Value) []Record {
	var out []Record
	for uhid, raw := range pv {
		cv := toValue(raw)
		if cv == nil {
			continue
		}
		out = append(out, explodePatient(partition, uhid, cv)...)
	}
	return out
}

// explodePatient flattens one patient's sub-key map into records.
func explodePatient(partition, uhid string, pv store.Value) []Record {
	var out []Record
	for subKey, raw := range pv {
		fields := toValue(raw)
		if fields == nil {
			continue
		}
		out = append(out, Record{
			Key:       Key{UHID: uhid, SubKey: subKey},
			Partition: partition,
			Fields:    fields,
		})
	}
	return out
}

func toValue(raw interface{}) store.Value {
	switch v := raw.(type) {
	case store.Value:
		return v
	case map[string]interface{}:
		return store.Value(v)
	}
	return nil
}

func approxSize(v store.Value) int64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}
