package report

import (
	"fmt"
	"io"

	"github.com/waftester/webfuzzer/pkg/jsonutil"
)

// WriteJSON renders s as indented JSON.
func WriteJSON(w io.Writer, s *Summary) error {
	enc := jsonutil.NewStreamEncoder(w)
	enc.SetIndent("  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}
