// Package appointment implements the OPD (out-patient) appointment book.
// Appointments share the dated-partition layout with admissions but have a
// simpler lifecycle: register and cancel, no discharge. A flat phone index
// (index/phone/<phone>) resolves full-length phone numbers to a UHID for the
// lookup strategy.
package appointment

import (
	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
)

const (
	// Collection is the dated OPD appointment collection.
	Collection = "opd"
	// PhoneIndex maps a phone number to the UHID that registered with it.
	PhoneIndex = "index/phone"
)

const (
	FieldName      = "name"
	FieldPhone     = "phone"
	FieldDoctor    = "doctor"
	FieldSlot      = "slot"
	FieldCreatedAt = "createdAt"
)

// RecordPath returns the canonical document path for an appointment.
func RecordPath(partition, uhid, apptID string) string {
	return store.Join(Collection, partition, uhid, apptID)
}

// PhoneIndexPath returns the index entry path for a phone number.
func PhoneIndexPath(phone string) string {
	return store.Join(PhoneIndex, phone)
}

// Appointment is the parsed OPD record.
type Appointment struct {
	UHID      string `json:"uhid"`
	ID        string `json:"id"`
	Partition string `json:"partition"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Doctor    string `json:"doctor"`
	Slot      string `json:"slot"`
	CreatedAt string `json:"createdAt"`
}

// FromRecord converts a projection record.
func FromRecord(rec sync.Record) Appointment {
	return FromValue(rec.Partition, rec.Key.UHID, rec.Key.SubKey, rec.Fields)
}

// FromValue parses a stored appointment document.
func FromValue(partition, uhid, apptID string, v store.Value) Appointment {
	return Appointment{
		UHID:      uhid,
		ID:        apptID,
		Partition: partition,
		Name:      v.String(FieldName),
		Phone:     v.String(FieldPhone),
		Doctor:    v.String(FieldDoctor),
		Slot:      v.String(FieldSlot),
		CreatedAt: v.String(FieldCreatedAt),
	}
}

// Fields serialises the appointment into its store document.
func (a Appointment) Fields() store.Value {
	return store.Value{
		FieldName:      a.Name,
		FieldPhone:     a.Phone,
		FieldDoctor:    a.Doctor,
		FieldSlot:      a.Slot,
		FieldCreatedAt: a.CreatedAt,
	}
}
