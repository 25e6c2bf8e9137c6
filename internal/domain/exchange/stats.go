package exchange

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known counters. Phases may add their own keys.
const (
	StatCreated        = "created"
	StatUpdated        = "updated"
	StatSkipped        = "skipped"
	StatErrors         = "errors"
	StatBrandFallbacks = "brand_fallbacks"
)

// ImportStats is a bag of named counters produced by a phase and merged by the runner
type ImportStats map[string]int

// NewImportStats returns stats with the well-known counters zeroed
func NewImportStats() ImportStats {
	return ImportStats{
		StatCreated:        0,
		StatUpdated:        0,
		StatSkipped:        0,
		StatErrors:         0,
		StatBrandFallbacks: 0,
	}
}

// Inc adds n to a counter
func (s ImportStats) Inc(key string, n int) {
	s[key] += n
}

// Get returns a counter value, zero when absent
func (s ImportStats) Get(key string) int {
	return s[key]
}

// Merge returns a new value holding the sum of both operands
func (s ImportStats) Merge(other ImportStats) ImportStats {
	out := s.Clone()
	for k, v := range other {
		out[k] += v
	}
	return out
}

// Clone copies the counters
func (s ImportStats) Clone() ImportStats {
	out := make(ImportStats, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Summary renders the counters as "k=v" pairs in key order
func (s ImportStats) Summary() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s[k]))
	}
	return strings.Join(parts, " ")
}
