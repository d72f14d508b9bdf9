// Package bed tracks ward bed occupancy. Beds live outside the dated
// admission partitions, under a flat beds/<wardType>/<bedID> layout, because
// a bed's lifetime spans many admissions.
package bed

import (
	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// Collection is the bed collection root.
const Collection = "beds"

// Bed statuses. The store holds the raw string; anything unrecognised is
// treated as occupied so a corrupt record never hands out a bed twice.
const (
	StatusAvailable = "Available"
	StatusOccupied  = "Occupied"
)

// PathFor returns the document path for a bed.
func PathFor(wardType, bedID string) string {
	return store.Join(Collection, wardType, bedID)
}

// Bed is one physical bed in a ward.
type Bed struct {
	ID       string `json:"id"`
	WardType string `json:"wardType"`
	Number   string `json:"number"`
	Status   string `json:"status"`
}

// Available reports whether the bed can be assigned.
func (b Bed) Available() bool {
	return b.Status == StatusAvailable
}

// FromValue parses a bed document.
func FromValue(wardType, bedID string, v store.Value) Bed {
	b := Bed{
		ID:       bedID,
		WardType: wardType,
		Number:   v.String("number"),
		Status:   v.String("status"),
	}
	if b.Status == "" {
		b.Status = StatusOccupied
	}
	return b
}

// Value serialises the bed for storage.
func (b Bed) Value() store.Value {
	return store.Value{
		"number": b.Number,
		"status": b.Status,
	}
}
