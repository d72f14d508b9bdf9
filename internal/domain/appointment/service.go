package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
)

// ErrNotFound means the appointment does not exist in the store.
var ErrNotFound = errors.New("appointment: not found")

// Options tunes the appointment service.
type Options struct {
	// UHIDLength is the full patient-ID length for strategy routing. Full
	// phone numbers are longer than a UHID and also route to lookup.
	UHIDLength int
}

// Service owns the OPD appointment book. The live list runs the same
// synchronizer as admissions, with the phone index enabling lookup by a
// full phone number.
type Service struct {
	store store.Client
	sync  *sync.Synchronizer
	log   zerolog.Logger
}

func NewService(c store.Client, opts Options, log zerolog.Logger) *Service {
	if opts.UHIDLength <= 0 {
		opts.UHIDLength = 6
	}
	syn := sync.New(c, sync.Config{
		Collection:      Collection,
		FullKeyLength:   opts.UHIDLength,
		SearchFields:    []string{FieldName, FieldPhone},
		IndexCollection: PhoneIndex,
		IndexField:      "uhid",
		DoctorField:     FieldDoctor,
	}, log)
	return &Service{
		store: c,
		sync:  syn,
		log:   log.With().Str("component", "appointment").Logger(),
	}
}

// SetPublisher forwards live-feed events, typically to the websocket hub.
func (s *Service) SetPublisher(p sync.Publisher) { s.sync.SetPublisher(p) }

// Start begins the default today feed.
func (s *Service) Start(ctx context.Context) error { return s.sync.Start(ctx) }

// Close tears down every live subscription.
func (s *Service) Close() { s.sync.Close() }

// SetSearchToken switches the live list to the strategy the token routes to.
// A full-length token hits the phone index first; an unknown token empties
// the list rather than erroring.
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

// Appointments returns the live list, sorted by (UHID, appointment ID).
func (s *Service) Appointments() []Appointment {
	recs := s.sync.Projection().View(nil, nil)
	out := make([]Appointment, 0, len(recs))
	for _, r := range recs {
		out = append(out, FromRecord(r))
	}
	return out
}

// DoctorCounts returns per-doctor appointment counts for the live list.
func (s *Service) DoctorCounts() map[string]int {
	return s.sync.Projection().DoctorCounts()
}

// Register books an appointment under today's partition and upserts the
// phone index entry. The index write follows the record write; a failure in
// between leaves a bookable record without phone lookup, which the next
// registration from the same phone repairs.
func (s *Service) Register(ctx context.Context, a Appointment) (Appointment, error) {
	if a.UHID == "" {
		return Appointment{}, fmt.Errorf("appointment: uhid required")
	}
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt == "" {
		a.CreatedAt = now.Format(time.RFC3339)
	}
	if a.Partition == "" {
		a.Partition = now.Format(store.PartitionLayout)
	}

	if err := s.store.Write(ctx, RecordPath(a.Partition, a.UHID, a.ID), a.Fields(), store.Set); err != nil {
		return Appointment{}, fmt.Errorf("write appointment: %w", err)
	}
	if a.Phone != "" {
		idx := store.Value{"uhid": a.UHID}
		if err := s.store.Write(ctx, PhoneIndexPath(a.Phone), idx, store.Set); err != nil {
			return Appointment{}, fmt.Errorf("write phone index: %w", err)
		}
	}
	s.log.Info().Str("uhid", a.UHID).Str("id", a.ID).Str("partition", a.Partition).Msg("appointment registered")
	return a, nil
}

// Cancel physically deletes an appointment. The phone index entry stays; it
// maps the phone to the patient, not to this appointment.
func (s *Service) Cancel(ctx context.Context, partition, uhid, apptID string) error {
	path := RecordPath(partition, uhid, apptID)
	_, found, err := s.store.PointRead(ctx, path)
	if err != nil {
		return fmt.Errorf("read appointment: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	if err := s.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	s.log.Info().Str("uhid", uhid).Str("id", apptID).Msg("appointment cancelled")
	return nil
}
