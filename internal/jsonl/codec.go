// Package jsonl provides the activity line codec, rotating backup writer,
// and bulk-file reader for the pipeline's on-disk interchange format.
//
// One activity per line; timestamps are UTC ISO-8601 with a trailing Z.
// Naive timestamps (no zone designator) are rejected at ingress.
package jsonl

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ubc-systopia/indaleko/internal/types"
)

// wireActivity shadows types.Activity with a string timestamp so that the
// codec can enforce timezone awareness instead of letting encoding/json
// guess.
type wireActivity struct {
	ActivityID      string             `json:"activity_id"`
	EntityID        string             `json:"entity_id,omitempty"`
	Timestamp       string             `json:"timestamp"`
	ActivityType    types.ActivityType `json:"activity_type"`
	FilePath        string             `json:"file_path"`
	FileName        string             `json:"file_name"`
	IsDirectory     bool               `json:"is_directory,omitempty"`
	FileSize        *int64             `json:"file_size,omitempty"`
	Volume          string             `json:"volume"`
	Attributes      map[string]string  `json:"attributes,omitempty"`
	ImportanceScore float64            `json:"importance_score"`
	TierMembership  types.Tier         `json:"tier_membership,omitempty"`
	AccessCount     int64              `json:"access_count,omitempty"`
	SearchHits      int64              `json:"search_hits,omitempty"`
}

// MarshalActivity renders one activity as a JSONL line (no trailing
// newline). The timestamp is normalized to UTC with a trailing Z.
func MarshalActivity(a *types.Activity) ([]byte, error) {
	if a.Timestamp.IsZero() {
		return nil, fmt.Errorf("jsonl: activity %s has zero timestamp", a.ActivityID)
	}
	w := wireActivity{
		ActivityID:      a.ActivityID,
		EntityID:        a.EntityID,
		Timestamp:       a.Timestamp.UTC().Format(time.RFC3339Nano),
		ActivityType:    a.ActivityType,
		FilePath:        a.FilePath,
		FileName:        a.FileName,
		IsDirectory:     a.IsDirectory,
		FileSize:        a.FileSize,
		Volume:          a.Volume,
		Attributes:      a.Attributes,
		ImportanceScore: a.ImportanceScore,
		TierMembership:  a.TierMembership,
		AccessCount:     a.AccessCount,
		SearchHits:      a.SearchHits,
	}
	return json.Marshal(w)
}

// UnmarshalActivity parses one JSONL line. A timestamp without a zone
// designator is a data error; the caller skips the line and counts it.
func UnmarshalActivity(line []byte) (*types.Activity, error) {
	var w wireActivity
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("jsonl: malformed line: %w", err)
	}
	ts, err := parseAwareTimestamp(w.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("jsonl: activity %s: %w", w.ActivityID, err)
	}
	a := &types.Activity{
		ActivityID:      w.ActivityID,
		EntityID:        w.EntityID,
		Timestamp:       ts,
		ActivityType:    w.ActivityType,
		FilePath:        w.FilePath,
		FileName:        w.FileName,
		IsDirectory:     w.IsDirectory,
		FileSize:        w.FileSize,
		Volume:          w.Volume,
		Attributes:      w.Attributes,
		ImportanceScore: w.ImportanceScore,
		TierMembership:  w.TierMembership,
		AccessCount:     w.AccessCount,
		SearchHits:      w.SearchHits,
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	return a, nil
}

// parseAwareTimestamp accepts RFC3339 with an explicit zone. RFC3339
// requires a designator, so a naive "2024-01-02T10:00:00" fails to parse;
// the explicit check gives a clearer error for the common case.
func parseAwareTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if !strings.HasSuffix(s, "Z") && !hasZoneOffset(s) {
		return time.Time{}, fmt.Errorf("naive timestamp %q: zone designator required", s)
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return ts, nil
}

// hasZoneOffset reports whether the tail of an RFC3339 string carries a
// ±HH:MM offset. The date part's dashes live before the 'T', so scanning
// after it is safe.
func hasZoneOffset(s string) bool {
	t := strings.IndexByte(s, 'T')
	if t < 0 {
		return false
	}
	rest := s[t:]
	return strings.ContainsAny(rest, "+") || strings.LastIndexByte(rest, '-') > 0
}
