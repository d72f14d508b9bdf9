package billing

import (
	"context"
	"fmt"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/store"
	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
)

// depositField is the core-record override for the admitted deposit. An
// explicit value on the admission record wins over the computed payment
// total; both win over the zero default.
const depositField = "depositAmount"

// JoinFunc returns the enrichment function the synchronizer's Joiner runs
// over bulk scan results. A missing billing document leaves the record with
// zero-valued billing fields and is not an error.
func JoinFunc(c store.Client) sync.JoinFunc {
	return func(ctx context.Context, rec *sync.Record) error {
		path := PathFor(rec.Partition, rec.Key.UHID, rec.Key.SubKey)
		v, found, err := c.PointRead(ctx, path)
		if err != nil {
			return fmt.Errorf("billing read %s: %w", path, err)
		}
		if !found {
			rec.Billing = Merge(rec.Fields, nil)
			rec.Enriched = true
			return nil
		}
		agg := FromValue(rec.Partition, rec.Key.UHID, rec.Key.SubKey, v)
		rec.Billing = Merge(rec.Fields, agg)
		rec.Enriched = true
		return nil
	}
}

// Merge combines the core record's explicit override fields with the billing
// aggregate's computed totals. Precedence: core override > computed total >
// zero default.
func Merge(core store.Value, agg *Aggregate) sync.BillingTotals {
	var t sync.BillingTotals
	if agg != nil {
		t.Paid = agg.TotalPaid()
		t.Charges = agg.TotalCharges()
		t.Payments = len(agg.Payments)
		t.Deposit = t.Paid
	}
	if override := core.Float(depositField); override > 0 {
		t.Deposit = override
	}
	t.Due = t.Charges - t.Paid
	if t.Due < 0 {
		t.Due = 0
	}
	return t
}
