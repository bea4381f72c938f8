package jsonl

import (
	"bufio"
	"fmt"
	"os"

	"github.com/ubc-systopia/indaleko/internal/types"
)

// ReadResult reports a bulk load: parsed activities plus per-line error
// accounting. Malformed lines never fail the file.
type ReadResult struct {
	Activities []*types.Activity
	Skipped    int
	LineErrors []error
}

// maxLineErrors bounds how many per-line errors are retained for
// diagnostics; skipping is still counted past the cap.
const maxLineErrors = 100

// ReadFile loads a line-delimited activity file emitted by an offline
// collector. Blank lines are ignored; malformed lines and naive
// timestamps are skipped and counted.
func ReadFile(path string) (*ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	res := &ReadResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		a, err := UnmarshalActivity(line)
		if err != nil {
			res.Skipped++
			if len(res.LineErrors) < maxLineErrors {
				res.LineErrors = append(res.LineErrors, fmt.Errorf("line %d: %w", lineNo, err))
			}
			continue
		}
		res.Activities = append(res.Activities, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl: scan %s: %w", path, err)
	}
	return res, nil
}
