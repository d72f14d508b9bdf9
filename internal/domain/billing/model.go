// Package billing holds the billing/aggregate record that rides alongside an
// admission: payments received and charge line-items, keyed by the same
// (partition, uhid, admission) triple as the core record but stored under its
// own collection. A billing document may not exist yet for a fresh admission;
// every consumer tolerates absence.
package billing

import (
	"time"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
)

// Collection is the billing collection root.
const Collection = "billing"

// PathFor returns the billing document path for an admission. The partition
// key is shared with the core record; changing it after billing exists would
// orphan this join, which is why the partition is immutable once billing has
// been written.
func PathFor(partition, uhid, admissionID string) string {
	return store.Join(Collection, partition, uhid, admissionID)
}

// Payment is one received payment.
type Payment struct {
	Amount float64   `json:"amount"`
	Method string    `json:"method"`
	Date   time.Time `json:"date"`
}

// LineItem is one posted charge.
type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Aggregate is the parsed billing document.
type Aggregate struct {
	UHID        string
	AdmissionID string
	Partition   string
	Payments    []Payment
	Items       []LineItem
	Discount    float64
}

// FromValue parses a billing document. Unparseable entries are skipped
// rather than failing the whole record.
func FromValue(partition, uhid, admissionID string, v store.Value) *Aggregate {
	a := &Aggregate{
		UHID:        uhid,
		AdmissionID: admissionID,
		Partition:   partition,
		Discount:    v.Float("discount"),
	}
	if payments := v.Child("payments"); payments != nil {
		for _, raw := range payments {
			pv, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			val := store.Value(pv)
			p := Payment{
				Amount: val.Float("amount"),
				Method: val.String("method"),
			}
			if ts, err := time.Parse(time.RFC3339, val.String("date")); err == nil {
				p.Date = ts
			}
			a.Payments = append(a.Payments, p)
		}
	}
	if items := v.Child("services"); items != nil {
		for _, raw := range items {
			iv, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			val := store.Value(iv)
			a.Items = append(a.Items, LineItem{
				Description: val.String("description"),
				Amount:      val.Float("amount"),
			})
		}
	}
	return a
}

// Value serialises the aggregate back into a store document.
func (a *Aggregate) Value() store.Value {
	payments := make(store.Value, len(a.Payments))
	for i, p := range a.Payments {
		payments[paymentKey(i)] = map[string]interface{}{
			"amount": p.Amount,
			"method": p.Method,
			"date":   p.Date.UTC().Format(time.RFC3339),
		}
	}
	services := make(store.Value, len(a.Items))
	for i, it := range a.Items {
		services[paymentKey(i)] = map[string]interface{}{
			"description": it.Description,
			"amount":      it.Amount,
		}
	}
	v := store.Value{
		"payments": map[string]interface{}(payments),
		"services": map[string]interface{}(services),
	}
	if a.Discount != 0 {
		v["discount"] = a.Discount
	}
	return v
}

func paymentKey(i int) string {
	// Stable, sortable child keys.
	const digits = "0123456789"
	if i < 10 {
		return "p0" + string(digits[i])
	}
	return "p" + string(digits[i/10]) + string(digits[i%10])
}

// TotalPaid sums all payments.
func (a *Aggregate) TotalPaid() float64 {
	var sum float64
	for _, p := range a.Payments {
		sum += p.Amount
	}
	return sum
}

// TotalCharges sums all line items, net of discount.
func (a *Aggregate) TotalCharges() float64 {
	var sum float64
	for _, it := range a.Items {
		sum += it.Amount
	}
	sum -= a.Discount
	if sum < 0 {
		sum = 0
	}
	return sum
}
