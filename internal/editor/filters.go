package editor

import (
	"strings"

	"github.com/gridsync/gridsync/internal/gateway"
)

// FilterSet is an ordered list of (column, value) predicates. Insertion order is
// display order. Several entries may name the same column; all are sent.
// FilterSet is not safe for concurrent use; SessionState guards its copy.
type FilterSet struct {
	entries []gateway.Filter
}

// NewFilterSet returns an empty set.
func NewFilterSet() *FilterSet {
	return &FilterSet{}
}

// Add appends a predicate. Blank columns or values are rejected.
func (fs *FilterSet) Add(column, value string) error {
	if strings.TrimSpace(column) == "" {
		return invalid("column", "filter column is required")
	}
	if strings.TrimSpace(value) == "" {
		return invalid("value", "filter value is required")
	}
	fs.entries = append(fs.entries, gateway.Filter{Column: column, Value: value})
	return nil
}

// RemoveAt drops the entry at index i.
func (fs *FilterSet) RemoveAt(i int) error {
	if i < 0 || i >= len(fs.entries) {
		return invalid("index", "no filter at position %d", i)
	}
	fs.entries = append(fs.entries[:i:i], fs.entries[i+1:]...)
	return nil
}

func (fs *FilterSet) Clear() {
	fs.entries = nil
}

func (fs *FilterSet) Len() int {
	return len(fs.entries)
}

// Entries returns a copy of the predicates in order. It is never nil.
func (fs *FilterSet) Entries() []gateway.Filter {
	out := make([]gateway.Filter, len(fs.entries))
	copy(out, fs.entries)
	return out
}
