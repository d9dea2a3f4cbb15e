package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/example/evmscan/internal/decoder"
)

// csvFile wraps an opened CSV file with its writer and cached headers.
// All writes must respect the header order to keep column consistency.
type csvFile struct {
	file    *os.File
	writer  *csv.Writer
	headers []string
}

// CSVSink persists decoded events into per-event CSV files. It creates one
// file per unique event name in the configured output directory. The first
// time an event is seen the sink writes a header row containing the fixed
// metadata columns plus every arg name present (sorted alphabetically for
// determinism), and appends every subsequent row in the same column order.
type CSVSink struct {
	outputDir string
	mu        sync.Mutex
	files     map[string]*csvFile // keyed by event name
}

// NewCSVSink initialises a sink that writes CSV files under the given
// directory, creating the directory tree if it doesn't already exist.
func NewCSVSink(outputDir string) (*CSVSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create csv output directory: %w", err)
	}
	return &CSVSink{
		outputDir: outputDir,
		files:     make(map[string]*csvFile),
	}, nil
}

// row flattens a decoder.Event into the string map used for CSV columns.
func row(evt decoder.Event) map[string]string {
	r := map[string]string{
		"block_number": fmt.Sprint(evt.BlockNumber),
		"tx_hash":      evt.TxHash.Hex(),
		"address":      evt.Address.Hex(),
		"log_index":    fmt.Sprint(evt.LogIndex),
		"event_name":   evt.Name,
	}
	for k, v := range evt.Args {
		r[k] = fmt.Sprint(v)
	}
	return r
}

// Write appends the provided event as a CSV row. It lazily creates the file
// associated with the event name (or "unknown" when missing).
func (s *CSVSink) Write(evt decoder.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := evt.Name
	if name == "" {
		name = "unknown"
	}
	fields := row(evt)

	cf, ok := s.files[name]
	if !ok {
		fp := filepath.Join(s.outputDir, fmt.Sprintf("%s.csv", name))

		_, statErr := os.Stat(fp)
		exists := !os.IsNotExist(statErr)

		f, err := os.OpenFile(fp, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open csv file %s: %w", fp, err)
		}

		w := csv.NewWriter(f)
		headers := extractHeaders(fields)

		if !exists {
			if err := w.Write(headers); err != nil {
				f.Close()
				return fmt.Errorf("failed to write csv header for %s: %w", fp, err)
			}
			w.Flush()
			if err := w.Error(); err != nil {
				f.Close()
				return fmt.Errorf("failed to flush csv header for %s: %w", fp, err)
			}
		}

		cf = &csvFile{file: f, writer: w, headers: headers}
		s.files[name] = cf
	}

	out := make([]string, len(cf.headers))
	for i, key := range cf.headers {
		out[i] = fields[key]
	}

	if err := cf.writer.Write(out); err != nil {
		return err
	}
	cf.writer.Flush()
	return cf.writer.Error()
}

// extractHeaders returns a deterministic, alphabetically-sorted slice of map
// keys which will be used as CSV columns.
func extractHeaders(fields map[string]string) []string {
	headers := make([]string, 0, len(fields))
	for k := range fields {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}
