// Package dedup suppresses re-persistence of detection entries that were
// already stored by a recent run. Keys are "ip|source" pairs.
package dedup

import "github.com/blacktide/blacktide/internal/intel"

// Interface is satisfied by the memory and redis variants.
type Interface interface {
	// Seen marks the key and reports whether it was already marked.
	Seen(key string) bool
}

// FilterNew returns the entries not seen before by d.
func FilterNew(d Interface, entries []intel.DetectionEntry) []intel.DetectionEntry {
	if d == nil {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if !d.Seen(e.Key()) {
			out = append(out, e)
		}
	}
	return out
}
