// Package dataset persists one labeled record per probe attempt in an
// append-only store. The label is the ground truth later used to retrain
// the scoring models, so it is derived by its own fixed rule and is never
// unified with the operator-facing severity.
package dataset

import (
	"context"
	"time"
)

// Label is the dataset ground-truth category.
type Label string

const (
	Safe       Label = "safe"
	Suspicious Label = "suspicious"
	Malicious  Label = "malicious"
)

// Labels lists every label in a stable order.
var Labels = []Label{Malicious, Suspicious, Safe}

// LabelFor applies the labeling rule:
// status >= 500 or an error marker is malicious, otherwise an alert marker
// is suspicious, otherwise safe.
func LabelFor(status int, alertDetected, errorDetected bool) Label {
	switch {
	case status >= 500 || errorDetected:
		return Malicious
	case alertDetected:
		return Suspicious
	default:
		return Safe
	}
}

// Entry is what a caller hands to Append.
type Entry struct {
	Payload              string
	ResponseCode         int
	AlertDetected        bool
	ErrorDetected        bool
	BodyWordCountChanged bool
	// Timestamp defaults to time.Now when zero.
	Timestamp time.Time
}

// Record is a persisted row.
type Record struct {
	Label                Label     `json:"label"`
	Payload              string    `json:"payload"`
	ResponseCode         int       `json:"response_code"`
	AlertDetected        bool      `json:"alert_detected"`
	ErrorDetected        bool      `json:"error_detected"`
	BodyWordCountChanged bool      `json:"body_word_count_changed"`
	Timestamp            time.Time `json:"timestamp"`
}

// NewRecord labels e and fills in a missing timestamp.
func NewRecord(e Entry) Record {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Record{
		Label:                LabelFor(e.ResponseCode, e.AlertDetected, e.ErrorDetected),
		Payload:              e.Payload,
		ResponseCode:         e.ResponseCode,
		AlertDetected:        e.AlertDetected,
		ErrorDetected:        e.ErrorDetected,
		BodyWordCountChanged: e.BodyWordCountChanged,
		Timestamp:            ts,
	}
}

// Recorder is an append-only sink. Records are never mutated or deleted.
type Recorder interface {
	// Append persists one record. Failures are *StorageError values.
	Append(ctx context.Context, e Entry) error
}

// LabelCounts tallies records by label. Every label is present in the map.
func LabelCounts(records []Record) map[Label]int {
	counts := make(map[Label]int, len(Labels))
	for _, l := range Labels {
		counts[l] = 0
	}
	for _, r := range records {
		counts[r.Label]++
	}
	return counts
}
