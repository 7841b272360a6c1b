// Package feed reads CSV market data snapshots into rows.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rewired-gh/scanalert/internal/fields"
)

// headerAlphaRatio is the share of first-row cells that must contain a letter for the row
// to be taken as a header.
const headerAlphaRatio = 0.7

// Snapshot is one parsed CSV file.
type Snapshot struct {
	Path    string
	Headers []string
	Rows    []fields.Row
	Size    int64
	ModTime time.Time
}

// Stamp identifies a version of a file on disk.
func (s *Snapshot) Stamp() Stamp {
	return Stamp{Size: s.Size, ModTime: s.ModTime}
}

// Parse reads a CSV document. When known headers are given they are used as is and a
// matching first line is skipped; otherwise the first line is detected as either a header or
// data. Short lines are padded with empty values and every value is trimmed.
func Parse(r io.Reader, known []string) ([]string, []fields.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}
	records = dropBlank(records)
	if len(records) == 0 {
		return known, nil, nil
	}
	records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")

	headers := known
	data := records
	switch {
	case len(known) > 0:
		if sameHeaders(known, records[0]) {
			data = records[1:]
		}
	case looksLikeHeader(records[0]):
		headers = make([]string, len(records[0]))
		for i, h := range records[0] {
			h = strings.TrimSpace(h)
			if h == "" {
				h = fmt.Sprintf("col_%d", i)
			}
			headers[i] = h
		}
		data = records[1:]
	default:
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("col_%d", i)
		}
	}

	rows := make([]fields.Row, 0, len(data))
	for _, rec := range data {
		kv := make([]string, 0, len(headers)*2)
		for i, h := range headers {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			kv = append(kv, h, v)
		}
		rows = append(rows, fields.NewRow(kv...))
	}
	return headers, rows, nil
}

func looksLikeHeader(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	var alpha int
	for _, c := range cells {
		if strings.IndexFunc(c, unicode.IsLetter) >= 0 {
			alpha++
		}
	}
	return float64(alpha)/float64(len(cells)) >= headerAlphaRatio
}

func sameHeaders(known, first []string) bool {
	if len(known) != len(first) {
		return false
	}
	for i := range known {
		if fields.Normalize(known[i]) != fields.Normalize(first[i]) {
			return false
		}
	}
	return true
}

func dropBlank(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		for _, c := range rec {
			if strings.TrimSpace(c) != "" {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// LoadFile parses the CSV file at path.
func LoadFile(path string, known []string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	headers, rows, err := Parse(f, known)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Snapshot{
		Path:    path,
		Headers: headers,
		Rows:    rows,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Stamp is the size and modification time of a file.
type Stamp struct {
	Size    int64
	ModTime time.Time
}

// ErrUnchanged is returned by Tracker.Load when the file has not changed since it was last
// committed.
var ErrUnchanged = errors.New("snapshot unchanged")

// Tracker remembers which version of each file was last processed.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]Stamp
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]Stamp)}
}

// Load parses path unless the file on disk still matches the last committed stamp.
func (t *Tracker) Load(path string, known []string) (*Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	t.mu.Lock()
	last, ok := t.seen[path]
	t.mu.Unlock()
	if ok && last.Size == info.Size() && last.ModTime.Equal(info.ModTime()) {
		return nil, ErrUnchanged
	}
	return LoadFile(path, known)
}

// Commit records a snapshot as processed.
func (t *Tracker) Commit(s *Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[s.Path] = s.Stamp()
}
