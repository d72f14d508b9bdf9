package sync

import (
	"context"
	gosync "sync"

	"golang.org/x/sync/errgroup"
)

// JoinFunc enriches a single record with its billing aggregate, writing into
// rec.Billing and setting rec.Enriched. A missing billing document is not an
// error; the func leaves the zero totals in place.
type JoinFunc func(ctx context.Context, rec *Record) error

// JoinWarning reports one failed join. Sibling joins are unaffected.
type JoinWarning struct {
	Key Key
	Err error
}

func (w JoinWarning) Error() string {
	return "join " + w.Key.UHID + "/" + w.Key.SubKey + ": " + w.Err.Error()
}

// Joiner runs billing enrichment over a bulk scan result with bounded
// concurrency. Billing joins are a one-shot enrichment for bulk/historical
// views only; the streaming today feed never joins.
type Joiner struct {
	// Limit caps concurrent join reads. Zero or negative means 4.
	Limit int
}

// Join enriches every record in recs in place and returns the records that
// could not be enriched as warnings. A failed join leaves that record with
// zero-valued billing fields; it never drops the record or aborts siblings.
func (j Joiner) Join(ctx context.Context, recs []Record, fn JoinFunc) []JoinWarning {
	limit := j.Limit
	if limit <= 0 {
		limit = 4
	}

	var (
		mu       gosync.Mutex
		warnings []JoinWarning
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range recs {
		rec := &recs[i]
		g.Go(func() error {
			if err := fn(gctx, rec); err != nil {
				mu.Lock()
				warnings = append(warnings, JoinWarning{Key: rec.Key, Err: err})
				mu.Unlock()
				rec.Billing = BillingTotals{}
				rec.Enriched = false
			}
			return nil
		})
	}
	_ = g.Wait()
	return warnings
}
