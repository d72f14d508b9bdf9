package admission

import (
	"context"
	"errors"
	gosync "sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/infisparks/medfordhrms-sub002/internal/domain/bed"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
)

// countingStore wraps the memory store to count mutations and inject write
// failures per path.
type countingStore struct {
	*store.Memory

	mu        gosync.Mutex
	writes    int
	deletes   int
	failWrite map[string]error
}

func newCountingStore() *countingStore {
	return &countingStore{Memory: store.NewMemory(), failWrite: make(map[string]error)}
}

func (c *countingStore) Write(ctx context.Context, path string, v store.Value, mode store.WriteMode) error {
	c.mu.Lock()
	if err, ok := c.failWrite[path]; ok {
		c.mu.Unlock()
		return err
	}
	c.writes++
	c.mu.Unlock()
	return c.Memory.Write(ctx, path, v, mode)
}

func (c *countingStore) Delete(ctx context.Context, path string) error {
	c.mu.Lock()
	c.deletes++
	c.mu.Unlock()
	return c.Memory.Delete(ctx, path)
}

func (c *countingStore) reset() {
	c.mu.Lock()
	c.writes, c.deletes = 0, 0
	c.mu.Unlock()
}

func (c *countingStore) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes, c.deletes
}

func testService(t *testing.T, cs *countingStore, beds *bed.Service, join sync.JoinFunc) *Service {
	t.Helper()
	svc := NewService(cs, beds, join, Options{
		UHIDLength:      6,
		UndoPassword:    "override",
		HistoryPageSize: 100,
	}, zerolog.Nop())
	t.Cleanup(svc.Close)
	return svc
}

func seedAdmitted(t *testing.T, cs *countingStore, partition, uhid, id string, extra store.Value) {
	t.Helper()
	ctx := context.Background()
	fields := store.Value{
		FieldName:      "Asha Verma",
		FieldPhone:     "9876500001",
		FieldWardType:  "icu",
		FieldBed:       "B1",
		FieldDoctor:    "Dr. Rao",
		FieldAdmitDate: partition,
		FieldCreatedAt: partition + "T08:00:00Z",
	}
	for k, v := range extra {
		fields[k] = v
	}
	if err := cs.Memory.Write(ctx, RecordPath(partition, uhid, id), fields, store.Set); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	if err := cs.Memory.Write(ctx, ActiveIndexPath(uhid, id), indexValue(uhid, partition, fields), store.Set); err != nil {
		t.Fatalf("seed index: %v", err)
	}
}

func TestAdmitWritesRecordIndexAndBed(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	ctx := context.Background()
	cs.Memory.Write(ctx, bed.PathFor("icu", "B1"), store.Value{"number": "101", "status": bed.StatusAvailable}, store.Set)

	beds := bed.NewService(cs, zerolog.Nop())
	svc := testService(t, cs, beds, nil)

	out, err := svc.Admit(ctx, Admission{
		UHID: "P00001", Name: "Asha Verma", WardType: "icu", Bed: "B1",
		Doctor: "Dr. Rao", AdmitDate: "2024-05-01",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID == "" || out.Partition != "2024-05-01" {
		t.Fatalf("unexpected admission: %+v", out)
	}

	rec, found, _ := cs.PointRead(ctx, RecordPath("2024-05-01", "P00001", out.ID))
	if !found || rec.String(FieldName) != "Asha Verma" {
		t.Errorf("record not written: found=%v %+v", found, rec)
	}
	idx, found, _ := cs.PointRead(ctx, ActiveIndexPath("P00001", out.ID))
	if !found || idx.String("partition") != "2024-05-01" {
		t.Errorf("index not written: found=%v %+v", found, idx)
	}
	b, _, _ := beds.Get(ctx, "icu", "B1")
	if b.Available() {
		t.Error("expected bed occupied after admit")
	}
}

func TestAdmitRequiresUHID(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	svc := testService(t, cs, nil, nil)

	if _, err := svc.Admit(context.Background(), Admission{Name: "X"}); err == nil {
		t.Fatal("expected error for missing uhid")
	}
	if w, _ := cs.counts(); w != 0 {
		t.Errorf("expected zero writes, got %d", w)
	}
}

func TestDischarge(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	ctx := context.Background()
	cs.Memory.Write(ctx, bed.PathFor("icu", "B1"), store.Value{"number": "101", "status": bed.StatusOccupied}, store.Set)
	seedAdmitted(t, cs, "2024-05-01", "P00001", "A1", nil)

	beds := bed.NewService(cs, zerolog.Nop())
	svc := testService(t, cs, beds, nil)

	if err := svc.Discharge(ctx, "P00001", "A1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _, _ := cs.PointRead(ctx, RecordPath("2024-05-01", "P00001", "A1"))
	if rec.String(FieldDischargeAt) == "" {
		t.Error("expected discharge stamp on record")
	}
	if _, found, _ := cs.PointRead(ctx, ActiveIndexPath("P00001", "A1")); found {
		t.Error("expected active index entry removed")
	}
	b, _, _ := beds.Get(ctx, "icu", "B1")
	if !b.Available() {
		t.Error("expected bed released")
	}
}

func TestDischargeNotFound(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	svc := testService(t, cs, nil, nil)

	if err := svc.Discharge(context.Background(), "P9", "A9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDischargeStopsAtFirstFailure(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	ctx := context.Background()
	seedAdmitted(t, cs, "2024-05-01", "P00001", "A1", nil)
	cs.failWrite[RecordPath("2024-05-01", "P00001", "A1")] = errors.New("backend down")

	svc := testService(t, cs, nil, nil)

	if err := svc.Discharge(ctx, "P00001", "A1"); err == nil {
		t.Fatal("expected error")
	}
	// The stamp write failed, so the index delete must not have run.
	if _, found, _ := cs.PointRead(ctx, ActiveIndexPath("P00001", "A1")); !found {
		t.Error("index entry must survive a failed stamp write")
	}
	if _, d := cs.counts(); d != 0 {
		t.Errorf("expected zero deletes, got %d", d)
	}
}

func TestUndoWrongPasswordZeroWrites(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	svc := testService(t, cs, nil, nil)

	err := svc.UndoDischarge(context.Background(), "P00001", "A1", "guess")
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if w, d := cs.counts(); w != 0 || d != 0 {
		t.Errorf("expected zero mutations, got writes=%d deletes=%d", w, d)
	}
}

func TestUndoUnknownRecord(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	svc := testService(t, cs, nil, nil)

	err := svc.UndoDischarge(context.Background(), "P00001", "A1", "override")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUndoMissingDateZeroWrites(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	ctx := context.Background()
	// Discharged record with no parseable date fields.
	cs.Memory.Write(ctx, RecordPath("2024-05-01", "P00002", "A2"), store.Value{
		FieldName:        "No Dates",
		FieldDischargeAt: "2024-05-02T10:00:00Z",
	}, store.Set)

	svc := testService(t, cs, nil, nil)
	if _, _, _, err := svc.LoadDischarged(ctx, 0); err != nil {
		t.Fatalf("load: %v", err)
	}

	err := svc.UndoDischarge(ctx, "P00002", "A2", "override")
	if !errors.Is(err, ErrNoAdmitDate) {
		t.Fatalf("expected ErrNoAdmitDate, got %v", err)
	}
	if w, d := cs.counts(); w != 0 || d != 0 {
		t.Errorf("expected zero mutations, got writes=%d deletes=%d", w, d)
	}
}

func TestDischargeThenUndoThreeWrites(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	ctx := context.Background()
	seedAdmitted(t, cs, "2024-05-01", "P00001", "A1", nil)
	cs.reset()

	svc := testService(t, cs, nil, nil)

	if err := svc.Discharge(ctx, "P00001", "A1"); err != nil {
		t.Fatalf("discharge: %v", err)
	}
	if _, _, _, err := svc.LoadDischarged(ctx, 0); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := svc.UndoDischarge(ctx, "P00001", "A1", "override"); err != nil {
		t.Fatalf("undo: %v", err)
	}

	// One stamp write for the discharge, index re-add plus stamp clear for
	// the undo. The index drop is a delete, not a write.
	w, d := cs.counts()
	if w != 3 || d != 1 {
		t.Errorf("expected 3 writes and 1 delete, got writes=%d deletes=%d", w, d)
	}

	rec, _, _ := cs.PointRead(ctx, RecordPath("2024-05-01", "P00001", "A1"))
	if rec.String(FieldDischargeAt) != "" {
		t.Error("expected discharge stamp cleared")
	}
	idx, found, _ := cs.PointRead(ctx, ActiveIndexPath("P00001", "A1"))
	if !found || idx.String("partition") != "2024-05-01" {
		t.Errorf("expected active index restored, found=%v %+v", found, idx)
	}
	// The entry is rebuilt from the record snapshot, not a bare key pair.
	if idx.String(FieldName) != "Asha Verma" || idx.String(FieldBed) != "B1" {
		t.Errorf("expected denormalized snapshot in restored index, got %+v", idx)
	}
}

func TestAdmitIndexCarriesSnapshot(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	ctx := context.Background()
	svc := testService(t, cs, nil, nil)

	a, err := svc.Admit(ctx, Admission{
		UHID:      "P00009",
		Name:      "Meena Pillai",
		Phone:     "9876500009",
		WardType:  "general",
		Bed:       "B7",
		AdmitDate: "2024-06-01",
		Deposit:   1500,
	})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	idx, found, _ := cs.PointRead(ctx, ActiveIndexPath("P00009", a.ID))
	if !found {
		t.Fatal("expected active index entry")
	}
	if idx.String(FieldName) != "Meena Pillai" || idx.String(FieldPhone) != "9876500009" {
		t.Errorf("expected identity snapshot in index, got %+v", idx)
	}
	if idx.String(FieldWardType) != "general" || idx.String(FieldBed) != "B7" {
		t.Errorf("expected bed snapshot in index, got %+v", idx)
	}
	if idx.Float(FieldDeposit) != 1500 {
		t.Errorf("expected deposit snapshot 1500, got %v", idx.Float(FieldDeposit))
	}
}

func TestLoadDischargedEnrichesAndWarns(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	ctx := context.Background()
	seedAdmitted(t, cs, "2024-05-01", "P00001", "A1", store.Value{FieldDischargeAt: "2024-05-02T10:00:00Z"})
	seedAdmitted(t, cs, "2024-05-01", "P00002", "A2", store.Value{FieldDischargeAt: "2024-05-03T10:00:00Z"})
	seedAdmitted(t, cs, "2024-05-01", "P00003", "A3", nil) // still admitted

	join := func(ctx context.Context, rec *sync.Record) error {
		if rec.Key.UHID == "P00002" {
			return errors.New("billing backend down")
		}
		rec.Billing = sync.BillingTotals{Paid: 750, Charges: 800, Due: 50, Deposit: 750, Payments: 2}
		rec.Enriched = true
		return nil
	}

	svc := testService(t, cs, nil, join)
	recs, stats, warnings, err := svc.LoadDischarged(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 || stats.Records != 2 {
		t.Fatalf("expected 2 discharged records, got %d (stats %+v)", len(recs), stats)
	}
	if len(warnings) != 1 || warnings[0].Key.UHID != "P00002" {
		t.Fatalf("expected one warning for P00002, got %+v", warnings)
	}
	for _, a := range recs {
		switch a.UHID {
		case "P00001":
			if !a.Enriched || a.Billing.Paid != 750 {
				t.Errorf("expected enriched record, got %+v", a)
			}
		case "P00002":
			if a.Enriched || a.Billing != (sync.BillingTotals{}) {
				t.Errorf("failed join must leave zero billing, got %+v", a)
			}
		}
	}
}

func TestLoadDischargedRespectsLimit(t *testing.T) {
	cs := newCountingStore()
	t.Cleanup(cs.Close)
	for _, uhid := range []string{"P00001", "P00002", "P00003"} {
		seedAdmitted(t, cs, "2024-05-01", uhid, "A1", store.Value{FieldDischargeAt: "2024-05-02T10:00:00Z"})
	}

	svc := testService(t, cs, nil, nil)
	recs, _, _, err := svc.LoadDischarged(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected limit applied, got %d records", len(recs))
	}
}
