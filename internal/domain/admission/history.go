package admission

import (
	gosync "sync"

	"github.com/infisparks/medfordhrms-sub002/internal/platform/sync"
)

// historyCache holds the last discharged-list load, keyed by (UHID,
// admission ID). Undo-discharge reads record fields from here instead of
// re-scanning every partition.
type historyCache struct {
	mu   gosync.RWMutex
	recs map[sync.Key]sync.Record
}

func newHistoryCache() *historyCache {
	return &historyCache{recs: make(map[sync.Key]sync.Record)}
}

func (h *historyCache) replace(recs []sync.Record) {
	next := make(map[sync.Key]sync.Record, len(recs))
	for _, r := range recs {
		next[r.Key] = r
	}
	h.mu.Lock()
	h.recs = next
	h.mu.Unlock()
}

func (h *historyCache) get(uhid, admissionID string) (sync.Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.recs[sync.Key{UHID: uhid, SubKey: admissionID}]
	return r, ok
}

func (h *historyCache) remove(uhid, admissionID string) {
	h.mu.Lock()
	delete(h.recs, sync.Key{UHID: uhid, SubKey: admissionID})
	h.mu.Unlock()
}
