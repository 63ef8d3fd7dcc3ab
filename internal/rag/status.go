package rag

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// indexStatusTracker records the outcome of payload index creation so that
// readiness probes can report it instead of the failure being swallowed.
type indexStatusTracker struct {
	mu     sync.Mutex
	fields map[string]IndexStatus
}

// record stores the result for field. A nil err marks the index ready.
func (t *indexStatusTracker) record(field string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fields == nil {
		t.fields = make(map[string]IndexStatus)
	}
	st := IndexStatus{Field: field, Ready: err == nil, CheckedAt: time.Now()}
	if err != nil {
		st.Error = err.Error()
	}
	t.fields[field] = st
}

// snapshot returns the recorded statuses sorted by field name.
func (t *indexStatusTracker) snapshot() []IndexStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]IndexStatus, 0, len(t.fields))
	for _, st := range t.fields {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b IndexStatus) int { return strings.Compare(a.Field, b.Field) })
	return out
}
