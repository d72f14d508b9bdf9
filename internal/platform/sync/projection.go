package sync

import (
	"sort"
	gosync "sync"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// Key identifies a composite record: a patient (UHID) plus one visit or
// admission under that patient.
type Key struct {
	UHID   string
	SubKey string
}

// BillingTotals carries the joined billing aggregate for a record. Records
// that were never enriched (the live today feed, or a failed join) keep the
// zero value.
type BillingTotals struct {
	Deposit  float64 `json:"deposit"`
	Charges  float64 `json:"charges"`
	Paid     float64 `json:"paid"`
	Due      float64 `json:"due"`
	Payments int     `json:"payments"`
}

// Record is one composite entry in a projection.
type Record struct {
	Key       Key           `json:"key"`
	Partition string        `json:"partition"`
	Fields    store.Value   `json:"fields"`
	Billing   BillingTotals `json:"billing"`
	Enriched  bool          `json:"enriched"`
}

// Projection is the authoritative in-memory list of composite records for
// the active query strategy. It is rebuilt from scratch on every strategy
// switch and mutated only by change events. Reads return copies; callers
// never see projection-owned maps.
type Projection struct {
	mu           gosync.RWMutex
	records      map[Key]*Record
	doctorField  string
	doctorCounts map[string]int
}

// NewProjection returns an empty projection. doctorField names the record
// field the doctor-count aggregate groups by; empty disables the aggregate.
func NewProjection(doctorField string) *Projection {
	return &Projection{
		records:      make(map[Key]*Record),
		doctorField:  doctorField,
		doctorCounts: make(map[string]int),
	}
}

// Upsert inserts or replaces the record for rec.Key. A duplicate add and a
// change are deliberately the same operation, which makes replayed added
// events harmless.
func (p *Projection) Upsert(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := rec
	p.records[rec.Key] = &r
	p.recountLocked()
}

// Remove deletes the record for key, if present.
func (p *Projection) Remove(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, key)
	p.recountLocked()
}

// RemoveUHID deletes every record belonging to the patient. Partition-level
// feeds remove whole patients, not single visits.
func (p *Projection) RemoveUHID(uhid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.records {
		if k.UHID == uhid {
			delete(p.records, k)
		}
	}
	p.recountLocked()
}

// Clear empties the projection.
func (p *Projection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = make(map[Key]*Record)
	p.doctorCounts = make(map[string]int)
}

// Get returns a copy of the record for key.
func (p *Projection) Get(key Key) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.records[key]
	if !ok {
		return Record{}, false
	}
	return copyRecord(r), true
}

// Len returns the number of records.
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// View returns the records matching pred, ordered by less. Nil pred keeps
// everything; nil less sorts by (UHID, SubKey). The result is a fresh slice
// of copies, recomputed on every call.
func (p *Projection) View(pred func(Record) bool, less func(a, b Record) bool) []Record {
	p.mu.RLock()
	out := make([]Record, 0, len(p.records))
	for _, r := range p.records {
		if pred == nil || pred(*r) {
			out = append(out, copyRecord(r))
		}
	}
	p.mu.RUnlock()

	if less == nil {
		less = func(a, b Record) bool {
			if a.Key.UHID != b.Key.UHID {
				return a.Key.UHID < b.Key.UHID
			}
			return a.Key.SubKey < b.Key.SubKey
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// DoctorCounts returns the derived doctor -> record count index.
func (p *Projection) DoctorCounts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.doctorCounts))
	for k, v := range p.doctorCounts {
		out[k] = v
	}
	return out
}

func copyRecord(r *Record) Record {
	out := *r
	out.Fields = r.Fields.Clone()
	return out
}

// recountLocked rebuilds the doctor aggregate from the full record set.
// O(n) per event; record counts are hundreds, not millions.
func (p *Projection) recountLocked() {
	if p.doctorField == "" {
		return
	}
	counts := make(map[string]int)
	for _, r := range p.records {
		if doc := r.Fields.String(p.doctorField); doc != "" {
			counts[doc]++
		}
	}
	p.doctorCounts = counts
}
