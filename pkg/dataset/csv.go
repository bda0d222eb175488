package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/waftester/webfuzzer/pkg/defaults"
)

// Compile-time interface check.
var _ Recorder = (*CSVRecorder)(nil)

// CSVRecorder appends records to a CSV file.
//
// The header is written once, when the file is first initialized. Each
// Append opens the file in append mode, so an external reset (truncating
// or deleting the file) is picked up and the header rewritten.
type CSVRecorder struct {
	mu   sync.Mutex
	path string
}

// NewCSVRecorder initializes the dataset file at path, writing the header
// if the file does not exist or is empty.
func NewCSVRecorder(path string) (*CSVRecorder, error) {
	if path == "" {
		path = defaults.DatasetFile
	}
	r := &CSVRecorder{path: path}

	f, err := r.open()
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, &StorageError{Op: "close", Path: path, Err: err}
	}
	return r, nil
}

// Path returns the dataset file path.
func (r *CSVRecorder) Path() string { return r.path }

// Append implements Recorder.
func (r *CSVRecorder) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "append", Path: r.path, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.open()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(encodeRow(NewRecord(e))); err != nil {
		f.Close()
		return &StorageError{Op: "write", Path: r.path, Err: err}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return &StorageError{Op: "write", Path: r.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Op: "close", Path: r.path, Err: err}
	}
	return nil
}

// open opens the file for appending and writes the header into an empty file.
// Caller must hold r.mu or be the constructor.
func (r *CSVRecorder) open() (*os.File, error) {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: r.path, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &StorageError{Op: "stat", Path: r.path, Err: err}
	}
	if info.Size() > 0 {
		return f, nil
	}

	w := csv.NewWriter(f)
	if err := w.Write(defaults.DatasetHeader); err != nil {
		f.Close()
		return nil, &StorageError{Op: "write header", Path: r.path, Err: err}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, &StorageError{Op: "write header", Path: r.path, Err: err}
	}
	return f, nil
}

// ReadFile reads every record from a dataset file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	return ReadAll(f)
}

// ReadAll parses dataset CSV. The first row must be the header.
func ReadAll(src io.Reader) ([]Record, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = len(defaults.DatasetHeader)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if header[0] != defaults.DatasetHeader[0] {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrMalformed, strings.Join(header, ","))
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		rec, err := decodeRow(row)
		if err != nil {
			return records, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeRow(rec Record) []string {
	return []string{
		string(rec.Label),
		rec.Payload,
		strconv.Itoa(rec.ResponseCode),
		formatBool(rec.AlertDetected),
		formatBool(rec.ErrorDetected),
		formatBool(rec.BodyWordCountChanged),
		strconv.FormatFloat(float64(rec.Timestamp.UnixMicro())/1e6, 'f', 6, 64),
	}
}

func decodeRow(row []string) (Record, error) {
	code, err := strconv.Atoi(row[2])
	if err != nil {
		return Record{}, fmt.Errorf("response_code: %v", err)
	}
	alert, err := parseBool(row[3])
	if err != nil {
		return Record{}, fmt.Errorf("alert_detected: %v", err)
	}
	errDetected, err := parseBool(row[4])
	if err != nil {
		return Record{}, fmt.Errorf("error_detected: %v", err)
	}
	changed, err := parseBool(row[5])
	if err != nil {
		return Record{}, fmt.Errorf("body_word_count_changed: %v", err)
	}
	secs, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp: %v", err)
	}

	return Record{
		Label:                Label(row[0]),
		Payload:              row[1],
		ResponseCode:         code,
		AlertDetected:        alert,
		ErrorDetected:        errDetected,
		BodyWordCountChanged: changed,
		Timestamp:            time.UnixMicro(int64(secs * 1e6)),
	}, nil
}

// Booleans use the capitalized spelling already present in existing
// datasets; reads accept any case.
func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
}
