package store

import (
	"fmt"
	"strings"
	"time"
)

// Records are sharded by admission/visit date:
//
//	<collection>/<date-partition>/<uhid>/<sub-key>
//
// "Today" is the hot partition; every streaming feed starts there.

// PartitionLayout is the date format used for partition keys.
const PartitionLayout = "2006-01-02"

// Join builds a path from segments, rejecting empty segments by omission.
func Join(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}

// Split returns the segments of a path.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// PartitionKey derives the date partition for t in the store's local day.
func PartitionKey(t time.Time) string {
	return t.Format(PartitionLayout)
}

// TodayPartition returns the partition key for the current day.
func TodayPartition() string {
	return PartitionKey(time.Now())
}

// ParsePartitionKey validates and parses a partition key.
func ParsePartitionKey(s string) (time.Time, error) {
	t, err := time.Parse(PartitionLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse partition key %q: %w", s, err)
	}
	return t, nil
}

// childOf returns the direct child segment of leaf relative to parent, and
// whether leaf is under parent at all. parent "" matches every leaf.
func childOf(parent, leaf string) (string, bool) {
	if parent == "" {
		seg := Split(leaf)
		if len(seg) == 0 {
			return "", false
		}
		return seg[0], true
	}
	if leaf == parent {
		return "", false
	}
	prefix := parent + "/"
	if !strings.HasPrefix(leaf, prefix) {
		return "", false
	}
	rest := leaf[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}
