// Package admission implements the IPD (in-patient) record lifecycle: admit,
// live list views, discharge, and undo-discharge. Records live under dated
// partitions (ipd/<date>/<uhid>/<admissionID>) with a flat active index
// (active-ipd/<uhid>/<admissionID>) so the currently-admitted set is readable
// without touching partitions.
package admission

import (
	"time"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
)

const (
	// Collection is the dated IPD record collection.
	Collection = "ipd"
	// ActiveIndex maps (uhid, admissionID) to the record's partition for
	// every not-yet-discharged admission.
	ActiveIndex = "active-ipd"
)

// Record field names shared between the store documents and the API surface.
const (
	FieldName        = "name"
	FieldPhone       = "phone"
	FieldWardType    = "wardType"
	FieldBed         = "bed"
	FieldDoctor      = "doctor"
	FieldAdmitDate   = "admitDate"
	FieldCreatedAt   = "createdAt"
	FieldDischargeAt = "dischargeAt"
	FieldDeposit     = "depositAmount"
)

// RecordPath returns the canonical document path for an admission record.
func RecordPath(partition, uhid, admissionID string) string {
	return store.Join(Collection, partition, uhid, admissionID)
}

// ActiveIndexPath returns the active-index entry path for an admission.
func ActiveIndexPath(uhid, admissionID string) string {
	return store.Join(ActiveIndex, uhid, admissionID)
}

// Admission is the parsed IPD record.
type Admission struct {
	UHID        string  `json:"uhid"`
	ID          string  `json:"id"`
	Partition   string  `json:"partition"`
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	WardType    string  `json:"wardType"`
	Bed         string  `json:"bed"`
	Doctor      string  `json:"doctor"`
	AdmitDate   string  `json:"admitDate"`
	CreatedAt   string  `json:"createdAt"`
	DischargeAt string  `json:"dischargeAt,omitempty"`
	Deposit     float64 `json:"depositAmount"`

	Billing  sync.BillingTotals `json:"billing"`
	Enriched bool               `json:"billingEnriched"`
}

// Discharged reports whether the record carries a discharge timestamp.
func (a Admission) Discharged() bool { return a.DischargeAt != "" }

// FromRecord converts a projection record.
func FromRecord(rec sync.Record) Admission {
	a := FromValue(rec.Partition, rec.Key.UHID, rec.Key.SubKey, rec.Fields)
	a.Billing = rec.Billing
	a.Enriched = rec.Enriched
	return a
}

// FromValue parses a stored record document.
func FromValue(partition, uhid, admissionID string, v store.Value) Admission {
	return Admission{
		UHID:        uhid,
		ID:          admissionID,
		Partition:   partition,
		Name:        v.String(FieldName),
		Phone:       v.String(FieldPhone),
		WardType:    v.String(FieldWardType),
		Bed:         v.String(FieldBed),
		Doctor:      v.String(FieldDoctor),
		AdmitDate:   v.String(FieldAdmitDate),
		CreatedAt:   v.String(FieldCreatedAt),
		DischargeAt: v.String(FieldDischargeAt),
		Deposit:     v.Float(FieldDeposit),
	}
}

// Fields serialises the admission into its store document. The discharge
// timestamp is only present when set.
func (a Admission) Fields() store.Value {
	v := store.Value{
		FieldName:      a.Name,
		FieldPhone:     a.Phone,
		FieldWardType:  a.WardType,
		FieldBed:       a.Bed,
		FieldDoctor:    a.Doctor,
		FieldAdmitDate: a.AdmitDate,
		FieldCreatedAt: a.CreatedAt,
	}
	if a.Deposit != 0 {
		v[FieldDeposit] = a.Deposit
	}
	if a.DischargeAt != "" {
		v[FieldDischargeAt] = a.DischargeAt
	}
	return v
}

// PartitionOf derives the record's date partition from its admit date, with
// the creation timestamp as fallback. The second return is false when
// neither field yields a date.
func PartitionOf(v store.Value) (string, bool) {
	if p, ok := parseDate(v.String(FieldAdmitDate)); ok {
		return p, true
	}
	if p, ok := parseDate(v.String(FieldCreatedAt)); ok {
		return p, true
	}
	return "", false
}

func parseDate(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	if _, err := time.Parse(store.PartitionLayout, s); err == nil {
		return s, true
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.Format(store.PartitionLayout), true
	}
	return "", false
}
