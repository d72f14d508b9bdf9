// Package sandbox generates synthetic front-desk data for demo environments
// and developer on-boarding: beds, admissions with billing documents, and
// appointments with phone index entries. Generation is reproducible from a
// fixed seed.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/infisparks/medfordhrms-sub002/internal/domain/admission"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/appointment"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/bed"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/billing"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	AdmissionCount   int   `json:"admissionCount"`
	AppointmentCount int   `json:"appointmentCount"`
	BedsPerWard      int   `json:"bedsPerWard"`
	DaysOfHistory    int   `json:"daysOfHistory"`
	Seed             int64 `json:"seed"`
}

// DefaultSeedConfig returns a SeedConfig with sensible demo defaults.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		AdmissionCount:   40,
		AppointmentCount: 60,
		BedsPerWard:      10,
		DaysOfHistory:    7,
		Seed:             1,
	}
}

var (
	wards     = []string{"general", "icu", "maternity"}
	doctors   = []string{"Dr. Rao", "Dr. Iyer", "Dr. Khan", "Dr. Mehta", "Dr. Das"}
	firstName = []string{"Asha", "Ravi", "Meena", "Arjun", "Sita", "Vikram", "Priya", "Nikhil", "Farah", "Dev"}
	lastName  = []string{"Verma", "Sharma", "Patel", "Khan", "Iyer", "Das", "Reddy", "Singh", "Bose", "Nair"}
)

// Seeder writes synthetic documents through the store client so live feeds
// observe seeded data exactly as they would real writes.
type Seeder struct {
	store store.Client
	cfg   SeedConfig
	rng   *rand.Rand
	log   zerolog.Logger
}

func NewSeeder(c store.Client, cfg SeedConfig, log zerolog.Logger) *Seeder {
	return &Seeder{
		store: c,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		log:   log.With().Str("component", "sandbox").Logger(),
	}
}

// Run generates the full data set. Partitions spread over the configured
// history window, with roughly a third of admissions landing on today so
// the default feed is never empty.
func (s *Seeder) Run(ctx context.Context) error {
	if err := s.seedBeds(ctx); err != nil {
		return err
	}
	if err := s.seedAdmissions(ctx); err != nil {
		return err
	}
	if err := s.seedAppointments(ctx); err != nil {
		return err
	}
	s.log.Info().
		Int("admissions", s.cfg.AdmissionCount).
		Int("appointments", s.cfg.AppointmentCount).
		Msg("seed complete")
	return nil
}

func (s *Seeder) seedBeds(ctx context.Context) error {
	for _, ward := range wards {
		for i := 1; i <= s.cfg.BedsPerWard; i++ {
			b := bed.Bed{
				ID:       fmt.Sprintf("B%02d", i),
				WardType: ward,
				Number:   fmt.Sprintf("%s-%02d", ward, i),
				Status:   bed.StatusAvailable,
			}
			if err := s.store.Write(ctx, bed.PathFor(ward, b.ID), b.Value(), store.Set); err != nil {
				return fmt.Errorf("seed bed %s/%s: %w", ward, b.ID, err)
			}
		}
	}
	return nil
}

func (s *Seeder) seedAdmissions(ctx context.Context) error {
	for i := 0; i < s.cfg.AdmissionCount; i++ {
		uhid := fmt.Sprintf("UH%04d", i+1)
		id := fmt.Sprintf("ADM%04d", i+1)
		partition := s.partition(i)
		ward := wards[s.rng.Intn(len(wards))]
		bedID := fmt.Sprintf("B%02d", s.rng.Intn(s.cfg.BedsPerWard)+1)

		a := admission.Admission{
			UHID:      uhid,
			ID:        id,
			Name:      s.name(),
			Phone:     s.phone(),
			WardType:  ward,
			Bed:       bedID,
			Doctor:    doctors[s.rng.Intn(len(doctors))],
			AdmitDate: partition,
			CreatedAt: partition + "T08:00:00Z",
			Deposit:   float64(s.rng.Intn(10)) * 500,
		}

		discharged := partition != store.TodayPartition() && s.rng.Intn(2) == 0
		if discharged {
			a.DischargeAt = partition + "T18:00:00Z"
		}

		if err := s.store.Write(ctx, admission.RecordPath(partition, uhid, id), a.Fields(), store.Set); err != nil {
			return fmt.Errorf("seed admission %s: %w", uhid, err)
		}
		if !discharged {
			idx := store.Value{
				"uhid":                  uhid,
				"partition":             partition,
				admission.FieldName:     a.Name,
				admission.FieldPhone:    a.Phone,
				admission.FieldWardType: a.WardType,
				admission.FieldBed:      a.Bed,
				admission.FieldDeposit:  a.Deposit,
			}
			if err := s.store.Write(ctx, admission.ActiveIndexPath(uhid, id), idx, store.Set); err != nil {
				return fmt.Errorf("seed admission index %s: %w", uhid, err)
			}
			if err := s.store.Write(ctx, bed.PathFor(ward, bedID), store.Value{"status": bed.StatusOccupied}, store.Merge); err != nil {
				return fmt.Errorf("seed bed status: %w", err)
			}
		}
		if err := s.seedBilling(ctx, partition, uhid, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) seedBilling(ctx context.Context, partition, uhid, id string) error {
	// Leave some admissions without a billing document; consumers must
	// tolerate absence.
	if s.rng.Intn(4) == 0 {
		return nil
	}
	day, _ := time.Parse(store.PartitionLayout, partition)
	agg := billing.Aggregate{
		UHID:        uhid,
		AdmissionID: id,
		Partition:   partition,
	}
	for i := 0; i < 1+s.rng.Intn(3); i++ {
		agg.Payments = append(agg.Payments, billing.Payment{
			Amount: float64(1+s.rng.Intn(8)) * 250,
			Method: []string{"cash", "card", "upi"}[s.rng.Intn(3)],
			Date:   day.Add(time.Duration(9+i) * time.Hour),
		})
	}
	for i := 0; i < 1+s.rng.Intn(4); i++ {
		agg.Items = append(agg.Items, billing.LineItem{
			Description: []string{"Room rent", "Pharmacy", "Lab tests", "Consultation"}[s.rng.Intn(4)],
			Amount:      float64(1+s.rng.Intn(10)) * 200,
		})
	}
	path := billing.PathFor(partition, uhid, id)
	if err := s.store.Write(ctx, path, agg.Value(), store.Set); err != nil {
		return fmt.Errorf("seed billing %s: %w", uhid, err)
	}
	return nil
}

func (s *Seeder) seedAppointments(ctx context.Context) error {
	for i := 0; i < s.cfg.AppointmentCount; i++ {
		uhid := fmt.Sprintf("UH%04d", s.rng.Intn(s.cfg.AdmissionCount*2)+1)
		id := fmt.Sprintf("APT%04d", i+1)
		partition := s.partition(i)
		phone := s.phone()

		a := appointment.Appointment{
			UHID:      uhid,
			ID:        id,
			Partition: partition,
			Name:      s.name(),
			Phone:     phone,
			Doctor:    doctors[s.rng.Intn(len(doctors))],
			Slot:      fmt.Sprintf("%02d:%02d", 9+s.rng.Intn(8), []int{0, 15, 30, 45}[s.rng.Intn(4)]),
			CreatedAt: partition + "T07:30:00Z",
		}
		if err := s.store.Write(ctx, appointment.RecordPath(partition, uhid, id), a.Fields(), store.Set); err != nil {
			return fmt.Errorf("seed appointment %s: %w", id, err)
		}
		idx := store.Value{"uhid": uhid}
		if err := s.store.Write(ctx, appointment.PhoneIndexPath(phone), idx, store.Set); err != nil {
			return fmt.Errorf("seed phone index %s: %w", phone, err)
		}
	}
	return nil
}

// partition returns today for every third record, otherwise a day within the
// history window.
func (s *Seeder) partition(i int) string {
	if i%3 == 0 || s.cfg.DaysOfHistory <= 1 {
		return store.TodayPartition()
	}
	back := s.rng.Intn(s.cfg.DaysOfHistory)
	return time.Now().UTC().AddDate(0, 0, -back).Format(store.PartitionLayout)
}

func (s *Seeder) name() string {
	return firstName[s.rng.Intn(len(firstName))] + " " + lastName[s.rng.Intn(len(lastName))]
}

func (s *Seeder) phone() string {
	return fmt.Sprintf("98%08d", s.rng.Intn(100000000))
}
