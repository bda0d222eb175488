package dataset

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Recorder = (*MemoryRecorder)(nil)

// MemoryRecorder keeps records in memory. Setting Fail makes every Append
// return a StorageError, which is how tests simulate an unavailable store.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
	Fail    error
}

// NewMemoryRecorder creates an empty in-memory sink.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Append implements Recorder.
func (m *MemoryRecorder) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return &StorageError{Op: "append", Err: m.Fail}
	}
	m.records = append(m.records, NewRecord(e))
	return nil
}

// Records returns a copy of everything appended so far.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
