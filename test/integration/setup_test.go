package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/infisparks/medfordhrms-sub002/internal/domain/admission"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/appointment"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/bed"
	"github.com/infisparks/medfordhrms-sub002/internal/domain/billing"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// env holds the full service wiring against an in-memory store, matching
// what cmd/hrms-server assembles in production minus the HTTP layer.
type env struct {
	Store *store.Memory
	Beds  *bed.Service
	Adm   *admission.Service
	Appt  *appointment.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	m := store.NewMemory()
	t.Cleanup(m.Close)

	log := zerolog.Nop()
	beds := bed.NewService(m, log)
	adm := admission.NewService(m, beds, billing.JoinFunc(m), admission.Options{
		UHIDLength:      6,
		UndoPassword:    "letmein",
		JoinFanout:      4,
		HistoryPageSize: 100,
	}, log)
	t.Cleanup(adm.Close)

	appt := appointment.NewService(m, appointment.Options{UHIDLength: 6}, log)
	t.Cleanup(appt.Close)

	return &env{Store: m, Beds: beds, Adm: adm, Appt: appt}
}

func seedBed(t *testing.T, e *env, wardType, bedID string) {
	t.Helper()
	b := bed.Bed{ID: bedID, WardType: wardType, Number: bedID, Status: bed.StatusAvailable}
	if err := e.Store.Write(context.Background(), store.Join(bed.Collection, wardType, bedID), b.Value(), store.Set); err != nil {
		t.Fatalf("seed bed: %v", err)
	}
}
