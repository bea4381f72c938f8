// Package types defines core data structures for the Indaleko activity pipeline.
package types

import (
	"fmt"
	"time"
)

// ActivityType classifies what happened to a file.
type ActivityType string

const (
	ActivityCreate         ActivityType = "create"
	ActivityDelete         ActivityType = "delete"
	ActivityRename         ActivityType = "rename"
	ActivityModify         ActivityType = "modify"
	ActivitySecurityChange ActivityType = "security_change"
	ActivityRead           ActivityType = "read"
	ActivityClose          ActivityType = "close"
	ActivityInfoChange     ActivityType = "info_change"
	ActivityUnknown        ActivityType = "unknown"
)

// ValidActivityTypes lists every accepted activity type, used for validation
// on ingest paths (JSONL bulk load accepts whatever the offline collector wrote).
var ValidActivityTypes = map[ActivityType]bool{
	ActivityCreate:         true,
	ActivityDelete:         true,
	ActivityRename:         true,
	ActivityModify:         true,
	ActivitySecurityChange: true,
	ActivityRead:           true,
	ActivityClose:          true,
	ActivityInfoChange:     true,
	ActivityUnknown:        true,
}

// Tier identifies which retention tier a record lives in.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Next returns the tier a record is promoted into, or "" for cold.
func (t Tier) Next() Tier {
	switch t {
	case TierHot:
		return TierWarm
	case TierWarm:
		return TierCold
	}
	return ""
}

// Activity is one normalized change event for one file at one instant.
//
// Timestamp must always be timezone-aware; the jsonl codec rejects naive
// strings at ingress and Validate rejects zero timestamps.
type Activity struct {
	ActivityID      string            `json:"activity_id"`
	EntityID        string            `json:"entity_id,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	ActivityType    ActivityType      `json:"activity_type"`
	FilePath        string            `json:"file_path"`
	FileName        string            `json:"file_name"`
	IsDirectory     bool              `json:"is_directory,omitempty"`
	FileSize        *int64            `json:"file_size,omitempty"`
	Volume          string            `json:"volume"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	ImportanceScore float64           `json:"importance_score"`
	TierMembership  Tier              `json:"tier_membership,omitempty"`
	AccessCount     int64             `json:"access_count,omitempty"`
	SearchHits      int64             `json:"search_hits,omitempty"`
}

// Attribute keys used by the collector and resolver. Attributes is a free
// key→value map for source-specific flags; these are the keys the core
// itself reads back.
const (
	AttrReasonMask    = "reason_mask"
	AttrOldName       = "old_name"
	AttrNewName       = "new_name"
	AttrFileReference = "file_reference"
	AttrRenameOf      = "probable_rename_of"
)

// Validate checks structural invariants before an activity enters the hot tier.
func (a *Activity) Validate() error {
	if a.ActivityID == "" {
		return fmt.Errorf("activity missing activity_id")
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("activity %s: zero timestamp", a.ActivityID)
	}
	if !ValidActivityTypes[a.ActivityType] {
		return fmt.Errorf("activity %s: invalid activity_type %q", a.ActivityID, a.ActivityType)
	}
	if a.ImportanceScore < 0 || a.ImportanceScore > 1 {
		return fmt.Errorf("activity %s: importance_score %.3f out of [0,1]", a.ActivityID, a.ImportanceScore)
	}
	return nil
}

// Clone returns a deep copy. Batches hand ownership from the collector to
// the recorder; the consolidator clones before mutating summaries.
func (a *Activity) Clone() *Activity {
	dup := *a
	if a.Attributes != nil {
		dup.Attributes = make(map[string]string, len(a.Attributes))
		for k, v := range a.Attributes {
			dup.Attributes[k] = v
		}
	}
	if a.FileSize != nil {
		size := *a.FileSize
		dup.FileSize = &size
	}
	return &dup
}

// HasReason reports whether the raw reason mask recorded in Attributes
// includes the given reason name (comma-separated list, e.g.
// "FILE_CREATE,CLOSE").
func (a *Activity) HasReason(reason string) bool {
	mask, ok := a.Attributes[AttrReasonMask]
	if !ok {
		return false
	}
	for start := 0; start < len(mask); {
		end := start
		for end < len(mask) && mask[end] != ',' {
			end++
		}
		if mask[start:end] == reason {
			return true
		}
		start = end + 1
	}
	return false
}

// TierRecord wraps an Activity with storage bookkeeping. The hot tier
// recorder owns hot records; the consolidator owns warm and cold.
type TierRecord struct {
	Activity   *Activity  `json:"activity"`
	Tier       Tier       `json:"tier"`
	Version    int64      `json:"version"`
	InsertedAt time.Time  `json:"inserted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	// BackRefs lists the activity_ids consolidated into this record.
	// Non-empty only for warm/cold summaries.
	BackRefs []string `json:"back_refs,omitempty"`
}

// Expired reports whether the record's TTL has fired at the given instant.
// Cold records never expire.
func (r *TierRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// PathSpan records one historical path of an entity and when it was live.
type PathSpan struct {
	Path string    `json:"path"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Entity is the logical file identity preserved across renames.
// Entities are created on first sighting and never destroyed.
type Entity struct {
	EntityID      string     `json:"entity_id"`
	Volume        string     `json:"volume"`
	FileReference uint64     `json:"file_reference"`
	Path          string     `json:"path"`
	PriorPaths    []PathSpan `json:"prior_paths,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Cursor is the per-volume journal resume position.
type Cursor struct {
	Volume    string `json:"volume"`
	JournalID string `json:"journal_id"`
	NextUSN   uint64 `json:"next_usn"`
}

// Batch is one collection cycle's worth of activities, owned by exactly one
// component at a time (collector → recorder).
type Batch struct {
	Volume     string
	CycleStart time.Time
	Activities []*Activity
}

// Empty reports whether the batch carries no activities.
func (b *Batch) Empty() bool { return b == nil || len(b.Activities) == 0 }

// Statistics summarizes one tier collection, as returned by GetStatistics.
type Statistics struct {
	TotalCount   int64                  `json:"total_count"`
	ByType       map[ActivityType]int64 `json:"by_type"`
	ByImportance [10]int64              `json:"by_importance"` // bucket i covers [i/10, (i+1)/10)
	ByDay        map[string]int64       `json:"by_time"`       // YYYY-MM-DD → count
	ErrorCount   int64                  `json:"error_count"`
}

// ImportanceBucket maps a score in [0,1] to its histogram bucket index.
func ImportanceBucket(score float64) int {
	if score >= 1.0 {
		return 9
	}
	if score < 0 {
		return 0
	}
	return int(score * 10)
}
