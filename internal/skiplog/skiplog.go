// Package skiplog writes rows the transformer rejected to a CSV file, one
// line per row, with the reason and the raw cells. It is optional; the
// pipeline drops rows silently when no log is configured.
package skiplog

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"epcloader/internal/domain"
	"epcloader/internal/transformer"
)

// Header is the first line of every skip log.
var Header = []string{"reason", "lmk_key", "raw_row"}

// Log is safe for concurrent use by the transform workers.
type Log struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	reasons map[string]int
}

// New creates path (and its parent directories) and writes the header.
func New(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("skiplog: create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("skiplog: open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("skiplog: write header: %w", err)
	}
	return &Log{f: f, w: w, reasons: make(map[string]int)}, nil
}

// Add records a rejected row. The reason names the missing columns.
func (l *Log) Add(row domain.RawRow) {
	reason := "missing " + strings.Join(transformer.MissingColumns(row), "|")

	l.mu.Lock()
	defer l.mu.Unlock()
	l.reasons[reason]++
	_ = l.w.Write([]string{reason, row[transformer.ColLMKKey], encodeRow(row)})
}

// Reasons returns a copy of the per-reason counts.
func (l *Log) Reasons() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.reasons))
	for k, v := range l.reasons {
		out[k] = v
	}
	return out
}

// Close flushes the file, logs a one-line summary and closes it.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	werr := l.w.Error()
	cerr := l.f.Close()

	total := 0
	keys := make([]string, 0, len(l.reasons))
	for k, v := range l.reasons {
		total += v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, l.reasons[k]))
	}
	log.Printf("skiplog: file=%s skipped=%d reasons=[%s]", l.f.Name(), total, strings.Join(parts, ", "))

	if werr != nil {
		return fmt.Errorf("skiplog: flush: %w", werr)
	}
	return cerr
}

// encodeRow renders row as sorted key=value pairs.
func encodeRow(row domain.RawRow) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(row[k])
	}
	return b.String()
}
