// Package jsonutil wraps github.com/go-json-experiment/json for the control
// plane, the MCP tools and the JSON report.
//
// Usage:
//
//	data, err := jsonutil.Marshal(results)
//	err = jsonutil.NewStreamDecoder(r.Body).Decode(&req)
package jsonutil

import (
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Unmarshal parses the JSON-encoded data and stores the result in v.
// Member names match case-insensitively so hand-written clients work.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v, json.MatchCaseInsensitiveNames(true))
}

// Marshal returns the JSON encoding of v. Nil slices encode as [].
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent returns the indented JSON encoding of v.
func MarshalIndent(v any, indent string) ([]byte, error) {
	return json.Marshal(v, jsontext.WithIndent(indent))
}

// Encoder writes one JSON value per Encode call, newline terminated.
type Encoder struct {
	w      io.Writer
	indent string
}

// NewStreamEncoder creates an encoder that writes to w.
func NewStreamEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes the JSON encoding of v to the stream, followed by a newline.
func (e *Encoder) Encode(v any) error {
	var err error
	if e.indent != "" {
		err = json.MarshalWrite(e.w, v, jsontext.WithIndent(e.indent))
	} else {
		err = json.MarshalWrite(e.w, v)
	}
	if err != nil {
		return err
	}
	_, err = e.w.Write([]byte{'\n'})
	return err
}

// SetIndent formats each subsequent value with the given indentation.
func (e *Encoder) SetIndent(indent string) {
	e.indent = indent
}

// Decoder reads a single JSON value from a stream.
type Decoder struct {
	r io.Reader
}

// NewStreamDecoder creates a decoder that reads from r.
func NewStreamDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the JSON value from the stream and stores it in v.
// Trailing data after the value is an error.
func (d *Decoder) Decode(v any) error {
	return json.UnmarshalRead(d.r, v, json.MatchCaseInsensitiveNames(true))
}
