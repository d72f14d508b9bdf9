package bed

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// Service reads and flips bed status. Status writes use merge semantics so a
// concurrent edit to the bed's other fields is never clobbered.
type Service struct {
	store store.Client
	log   zerolog.Logger
}

func NewService(c store.Client, log zerolog.Logger) *Service {
	return &Service{store: c, log: log.With().Str("component", "bed").Logger()}
}

// Get returns a bed by ward and ID. The second return is false when the bed
// does not exist.
func (s *Service) Get(ctx context.Context, wardType, bedID string) (Bed, bool, error) {
	v, found, err := s.store.PointRead(ctx, PathFor(wardType, bedID))
	if err != nil || !found {
		return Bed{}, false, err
	}
	return FromValue(wardType, bedID, v), true, nil
}

// SetStatus flips a bed's status field, leaving the rest of the document
// untouched.
func (s *Service) SetStatus(ctx context.Context, wardType, bedID, status string) error {
	err := s.store.Write(ctx, PathFor(wardType, bedID), store.Value{"status": status}, store.Merge)
	if err != nil {
		return err
	}
	s.log.Debug().Str("ward", wardType).Str("bed", bedID).Str("status", status).Msg("bed status updated")
	return nil
}

// Release marks a bed available again. A blank ward or bed is a no-op, since
// older admission records may predate bed tracking.
func (s *Service) Release(ctx context.Context, wardType, bedID string) error {
	if wardType == "" || bedID == "" {
		return nil
	}
	return s.SetStatus(ctx, wardType, bedID, StatusAvailable)
}

// Occupy marks a bed taken.
func (s *Service) Occupy(ctx context.Context, wardType, bedID string) error {
	if wardType == "" || bedID == "" {
		return nil
	}
	return s.SetStatus(ctx, wardType, bedID, StatusOccupied)
}

// ListWard returns every bed in a ward, sorted by bed ID.
func (s *Service) ListWard(ctx context.Context, wardType string) ([]Bed, error) {
	v, found, err := s.store.PointRead(ctx, store.Join(Collection, wardType))
	if err != nil || !found {
		return nil, err
	}
	beds := make([]Bed, 0, len(v))
	for bedID := range v {
		bv := v.Child(bedID)
		if bv == nil {
			continue
		}
		beds = append(beds, FromValue(wardType, bedID, bv))
	}
	sort.Slice(beds, func(i, j int) bool { return beds[i].ID < beds[j].ID })
	return beds, nil
}
