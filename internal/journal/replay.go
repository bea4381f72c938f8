package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
)

// StaticReader serves a fixed, in-memory sequence of records. It backs the
// replay backend and doubles as the canonical fake in pipeline tests.
type StaticReader struct {
	volume    string
	journalID string
	records   []Record
	counters  Counters
	closed    bool
}

// NewStaticReader builds a reader over pre-built records. Records are
// sorted by USN; records with USN 0 are assigned sequential USNs first.
func NewStaticReader(volume string, records []Record) *StaticReader {
	next := uint64(1)
	for i := range records {
		if records[i].USN == 0 {
			records[i].USN = next
		}
		if records[i].Volume == "" {
			records[i].Volume = volume
		}
		if records[i].USN >= next {
			next = records[i].USN + 1
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].USN < records[j].USN })
	return &StaticReader{
		volume:    volume,
		journalID: uuid.NewString(),
		records:   records,
	}
}

// NewReplayReader loads raw records from a JSONL file recorded by an
// offline collector, one Record per line. Malformed lines are skipped and
// counted.
func NewReplayReader(volume, path string) (*StaticReader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrJournalNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrAccessDenied, path)
		}
		return nil, fmt.Errorf("journal: open replay file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []Record
	r := NewStaticReader(volume, nil)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			r.counters.AddError()
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan replay file: %w", err)
	}

	loaded := NewStaticReader(volume, records)
	loaded.counters.errors.Store(r.counters.errors.Load())
	return loaded, nil
}

func (r *StaticReader) Volume() string      { return r.volume }
func (r *StaticReader) Counters() *Counters { return &r.counters }

func (r *StaticReader) Metadata(_ context.Context) (Metadata, error) {
	md := Metadata{JournalID: r.journalID, FirstUSN: 1, NextUSN: 1}
	if n := len(r.records); n > 0 {
		md.FirstUSN = r.records[0].USN
		md.NextUSN = r.records[n-1].USN + 1
	}
	return md, nil
}

func (r *StaticReader) Read(_ context.Context, nextUSN uint64, max int) ([]Record, uint64, error) {
	if r.closed {
		return nil, nextUSN, fmt.Errorf("journal: reader closed")
	}
	i := sort.Search(len(r.records), func(i int) bool { return r.records[i].USN >= nextUSN })
	out := make([]Record, 0, max)
	for ; i < len(r.records) && len(out) < max; i++ {
		out = append(out, r.records[i])
	}
	resume := nextUSN
	if n := len(out); n > 0 {
		resume = out[n-1].USN + 1
	}
	return out, resume, nil
}

// Append adds records after construction. Test hook for multi-cycle
// scenarios; not used by production code.
func (r *StaticReader) Append(records ...Record) {
	base := uint64(1)
	if n := len(r.records); n > 0 {
		base = r.records[n-1].USN + 1
	}
	for i := range records {
		if records[i].USN == 0 {
			records[i].USN = base
			base++
		}
		if records[i].Volume == "" {
			records[i].Volume = r.volume
		}
	}
	r.records = append(r.records, records...)
}

func (r *StaticReader) Close() error {
	r.closed = true
	return nil
}
