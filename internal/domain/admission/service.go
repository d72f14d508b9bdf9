package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infisparks/medfordhrms-sub002/internal/domain/bed"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
)

var (
	// ErrWrongPassword gates undo-discharge. No write happens when it fires.
	ErrWrongPassword = errors.New("admission: wrong undo password")
	// ErrNoAdmitDate means the record's partition cannot be derived, so the
	// index entry cannot be rebuilt. No write happens.
	ErrNoAdmitDate = errors.New("admission: record has no parseable admit date")
	// ErrNotFound means the admission is not where the operation expects it
	// (active index for discharge, discharged list for undo).
	ErrNotFound = errors.New("admission: not found")
)

// Options tunes the admission service.
type Options struct {
	// UHIDLength is the full patient-ID length; shorter search tokens run
	// the prefix strategy.
	UHIDLength int
	// UndoPassword is the shared secret gating undo-discharge.
	UndoPassword string
	// JoinFanout caps concurrent billing reads during a discharged-list load.
	JoinFanout int
	// HistoryPageSize caps records returned by a discharged-list load.
	HistoryPageSize int
}

// Service owns the IPD lifecycle. Live list views come from an embedded
// synchronizer; discharge and undo-discharge order their writes so a failure
// mid-sequence leaves the system in a recoverable, never-corrupt state.
type Service struct {
	store  store.Client
	sync   *sync.Synchronizer
	beds   *bed.Service
	join   sync.JoinFunc
	joiner sync.Joiner
	opts   Options
	log    zerolog.Logger

	history *historyCache
}

// NewService wires the admission service. beds and join may be nil; bed
// tracking and billing enrichment are then skipped.
func NewService(c store.Client, beds *bed.Service, join sync.JoinFunc, opts Options, log zerolog.Logger) *Service {
	if opts.UHIDLength <= 0 {
		opts.UHIDLength = 6
	}
	syn := sync.New(c, sync.Config{
		Collection:    Collection,
		FullKeyLength: opts.UHIDLength,
		SearchFields:  []string{FieldName, FieldPhone},
		DoctorField:   FieldDoctor,
	}, log)
	return &Service{
		store:   c,
		sync:    syn,
		beds:    beds,
		join:    join,
		joiner:  sync.Joiner{Limit: opts.JoinFanout},
		opts:    opts,
		log:     log.With().Str("component", "admission").Logger(),
		history: newHistoryCache(),
	}
}

// SetPublisher forwards live-feed events, typically to the websocket hub.
func (s *Service) SetPublisher(p sync.Publisher) { s.sync.SetPublisher(p) }

// Start begins the default today feed.
func (s *Service) Start(ctx context.Context) error { return s.sync.Start(ctx) }

// Close tears down every live subscription.
func (s *Service) Close() { s.sync.Close() }

// SetSearchToken switches the live list to the strategy the token routes to.
func (s *Service) SetSearchToken(ctx context.Context, token string) error {
	return s.sync.SetSearchToken(ctx, token)
}

// ClearSearch returns the live list to the today feed.
func (s *Service) ClearSearch(ctx context.Context) error { return s.sync.ClearSearch(ctx) }

// Strategy returns the live list's active strategy.
func (s *Service) Strategy() sync.Strategy { return s.sync.Strategy() }

// Degraded reports that the live feed lost a subscription.
func (s *Service) Degraded() bool { return s.sync.Degraded() }

// Subscriptions returns the number of open store subscriptions.
func (s *Service) Subscriptions() int { return s.sync.Registry().Len() }

// Admissions returns the live list, sorted by (UHID, admission ID).
func (s *Service) Admissions() []Admission {
	recs := s.sync.Projection().View(nil, nil)
	out := make([]Admission, 0, len(recs))
	for _, r := range recs {
		out = append(out, FromRecord(r))
	}
	return out
}

// DoctorCounts returns the per-doctor admission counts for the live list.
func (s *Service) DoctorCounts() map[string]int {
	return s.sync.Projection().DoctorCounts()
}

// Admit creates a new admission record and its active-index entry, then marks
// the bed occupied. Missing ID, admit date, and creation timestamp are filled
// in.
func (s *Service) Admit(ctx context.Context, a Admission) (Admission, error) {
	if a.UHID == "" {
		return Admission{}, fmt.Errorf("admission: uhid required")
	}
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt == "" {
		a.CreatedAt = now.Format(time.RFC3339)
	}
	if a.AdmitDate == "" {
		a.AdmitDate = now.Format(store.PartitionLayout)
	}
	partition, ok := PartitionOf(a.Fields())
	if !ok {
		return Admission{}, ErrNoAdmitDate
	}
	a.Partition = partition

	if err := s.store.Write(ctx, RecordPath(partition, a.UHID, a.ID), a.Fields(), store.Set); err != nil {
		return Admission{}, fmt.Errorf("write record: %w", err)
	}
	if err := s.store.Write(ctx, ActiveIndexPath(a.UHID, a.ID), indexValue(a.UHID, partition, a.Fields()), store.Set); err != nil {
		return Admission{}, fmt.Errorf("write active index: %w", err)
	}
	if s.beds != nil {
		if err := s.beds.Occupy(ctx, a.WardType, a.Bed); err != nil {
			return Admission{}, fmt.Errorf("occupy bed: %w", err)
		}
	}
	s.log.Info().Str("uhid", a.UHID).Str("id", a.ID).Str("partition", partition).Msg("admitted")
	return a, nil
}

// Discharge stamps the record, drops it from the active index, and releases
// the bed, strictly in that order. A failure stops the sequence: a stamped
// record with a live index entry is re-dischargeable, the reverse is not.
func (s *Service) Discharge(ctx context.Context, uhid, admissionID string) error {
	idx, found, err := s.store.PointRead(ctx, ActiveIndexPath(uhid, admissionID))
	if err != nil {
		return fmt.Errorf("read active index: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	partition := idx.String("partition")
	if partition == "" {
		return ErrNoAdmitDate
	}

	recPath := RecordPath(partition, uhid, admissionID)
	rec, found, err := s.store.PointRead(ctx, recPath)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if !found {
		return ErrNotFound
	}

	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := s.store.Write(ctx, recPath, store.Value{FieldDischargeAt: stamp}, store.Merge); err != nil {
		return fmt.Errorf("stamp discharge: %w", err)
	}
	if err := s.store.Delete(ctx, ActiveIndexPath(uhid, admissionID)); err != nil {
		return fmt.Errorf("drop active index: %w", err)
	}
	if s.beds != nil {
		if err := s.beds.Release(ctx, rec.String(FieldWardType), rec.String(FieldBed)); err != nil {
			return fmt.Errorf("release bed: %w", err)
		}
	}
	s.log.Info().Str("uhid", uhid).Str("id", admissionID).Msg("discharged")
	return nil
}

// LoadDischarged bulk-loads discharged records across every partition, newest
// first, enriches them with billing, and caches them for undo-discharge.
// Billing failures degrade to warnings with zero totals; the record itself is
// always returned.
func (s *Service) LoadDischarged(ctx context.Context, limit int) ([]Admission, sync.Stats, []sync.JoinWarning, error) {
	if limit <= 0 || (s.opts.HistoryPageSize > 0 && limit > s.opts.HistoryPageSize) {
		limit = s.opts.HistoryPageSize
	}
	recs, stats, err := s.sync.LoadHistorical(ctx, limit, func(r sync.Record) bool {
		return r.Fields.String(FieldDischargeAt) != ""
	})
	if err != nil {
		return nil, sync.Stats{}, nil, err
	}

	var warnings []sync.JoinWarning
	if s.join != nil {
		warnings = s.joiner.Join(ctx, recs, s.join)
		for _, w := range warnings {
			s.log.Warn().Err(w.Err).Str("uhid", w.Key.UHID).Msg("billing join failed")
		}
	}

	s.history.replace(recs)
	out := make([]Admission, 0, len(recs))
	for _, r := range recs {
		out = append(out, FromRecord(r))
	}
	return out, stats, warnings, nil
}

// UndoDischarge reverses a discharge from the loaded discharged list. The
// password gate and the partition derivation both run before any write; a
// failure there leaves the store untouched. The index re-add comes before the
// timestamp clear and there is no rollback: if the clear fails the record is
// indexed but still stamped, which a repeat undo fixes. The bed is marked
// occupied again without checking whether it was reassigned in the meantime.
func (s *Service) UndoDischarge(ctx context.Context, uhid, admissionID, password string) error {
	if s.opts.UndoPassword == "" || password != s.opts.UndoPassword {
		return ErrWrongPassword
	}
	rec, ok := s.history.get(uhid, admissionID)
	if !ok {
		return ErrNotFound
	}
	partition, ok := PartitionOf(rec.Fields)
	if !ok {
		return ErrNoAdmitDate
	}

	if err := s.store.Write(ctx, ActiveIndexPath(uhid, admissionID), indexValue(uhid, partition, rec.Fields), store.Set); err != nil {
		return fmt.Errorf("restore active index: %w", err)
	}
	clear := store.Value{FieldDischargeAt: nil}
	if err := s.store.Write(ctx, RecordPath(partition, uhid, admissionID), clear, store.Merge); err != nil {
		return fmt.Errorf("clear discharge stamp: %w", err)
	}
	if s.beds != nil {
		if err := s.beds.Occupy(ctx, rec.Fields.String(FieldWardType), rec.Fields.String(FieldBed)); err != nil {
			return fmt.Errorf("reoccupy bed: %w", err)
		}
	}
	s.history.remove(uhid, admissionID)
	s.log.Info().Str("uhid", uhid).Str("id", admissionID).Msg("discharge undone")
	return nil
}

// indexValue builds the denormalized active-index entry from the record's
// current field snapshot, so "who occupies which bed" is answerable without
// a second partition read.
func indexValue(uhid, partition string, fields store.Value) store.Value {
	return store.Value{
		"uhid":        uhid,
		"partition":   partition,
		FieldName:     fields.String(FieldName),
		FieldPhone:    fields.String(FieldPhone),
		FieldWardType: fields.String(FieldWardType),
		FieldBed:      fields.String(FieldBed),
		FieldDeposit:  fields.Float(FieldDeposit),
	}
}
