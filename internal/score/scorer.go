// Package score computes cognitive importance for file-system activities.
//
// Scoring is pure and deterministic: the same activity and reference time
// always produce the same score. The scorer also owns the derived policy
// functions (decay, retention, consolidation thresholds) so that every
// tiering decision flows through one table of knobs.
package score

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ubc-systopia/indaleko/internal/types"
)

// Config holds the sub-score weights and decay knobs. Weights must sum
// to 1.0; Validate enforces it.
type Config struct {
	ExtensionWeight float64 `mapstructure:"extension_weight"`
	ActivityWeight  float64 `mapstructure:"activity_weight"`
	PathWeight      float64 `mapstructure:"path_weight"`
	RecencyWeight   float64 `mapstructure:"recency_weight"`
	MetadataWeight  float64 `mapstructure:"metadata_weight"`
	DecayRate       float64 `mapstructure:"decay_rate"`
}

// DefaultConfig returns the standard weighting.
func DefaultConfig() Config {
	return Config{
		ExtensionWeight: 0.25,
		ActivityWeight:  0.30,
		PathWeight:      0.20,
		RecencyWeight:   0.15,
		MetadataWeight:  0.10,
		DecayRate:       0.05,
	}
}

// Validate checks the weights sum to 1.0 within floating-point tolerance.
func (c Config) Validate() error {
	sum := c.ExtensionWeight + c.ActivityWeight + c.PathWeight + c.RecencyWeight + c.MetadataWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("score: weights sum to %.6f, want 1.0", sum)
	}
	if c.DecayRate <= 0 {
		return fmt.Errorf("score: decay_rate must be positive, got %g", c.DecayRate)
	}
	return nil
}

// Extension classification. Lookup is by lowercased extension without the
// dot; unknown extensions score 0.4 and directories 0.7.
var extensionScores = map[string]float64{
	// documents and source
	"doc": 0.8, "docx": 0.8, "pdf": 0.8, "txt": 0.8, "md": 0.8, "tex": 0.8,
	"odt": 0.8, "rtf": 0.8, "ppt": 0.8, "pptx": 0.8,
	"go": 0.8, "py": 0.8, "js": 0.8, "ts": 0.8, "c": 0.8, "cpp": 0.8,
	"h": 0.8, "java": 0.8, "rs": 0.8, "rb": 0.8, "sh": 0.8, "sql": 0.8,
	"html": 0.8, "css": 0.8,
	// data
	"csv": 0.7, "json": 0.7, "jsonl": 0.7, "xml": 0.7, "yaml": 0.7,
	"yml": 0.7, "xlsx": 0.7, "xls": 0.7, "parquet": 0.7, "db": 0.7,
	"sqlite": 0.7,
	// media
	"jpg": 0.6, "jpeg": 0.6, "png": 0.6, "gif": 0.6, "svg": 0.6,
	"heic": 0.6, "mp4": 0.6, "mov": 0.6, "mkv": 0.6, "mp3": 0.6,
	"wav": 0.6, "flac": 0.6,
	// archives
	"zip": 0.5, "tar": 0.5, "gz": 0.5, "7z": 0.5, "rar": 0.5, "bz2": 0.5,
	// system
	"dll": 0.4, "exe": 0.4, "sys": 0.4, "ini": 0.4, "msi": 0.4, "lnk": 0.4,
	"so": 0.4, "dylib": 0.4,
	// temp and scratch
	"tmp": 0.2, "temp": 0.2, "swp": 0.2, "cache": 0.2,
	"bak": 0.3, "log": 0.3, "old": 0.3, "part": 0.2, "crdownload": 0.2,
}

var activityScores = map[types.ActivityType]float64{
	types.ActivityCreate:         0.8,
	types.ActivityDelete:         0.7,
	types.ActivityRename:         0.7,
	types.ActivityModify:         0.6,
	types.ActivitySecurityChange: 0.6,
	types.ActivityRead:           0.4,
	types.ActivityClose:          0.3,
	types.ActivityInfoChange:     0.3,
	types.ActivityUnknown:        0.2,
}

type pathRule struct {
	re    *regexp.Regexp
	score float64
	temp  bool
}

// Ordered: the first matching rule wins. The temp/cache rule must come
// before the AppData and system rules so AppData\Local\Temp and
// C:\Windows\Temp both classify as temp noise.
var pathRules = []pathRule{
	{regexp.MustCompile(`(?i)[\\/](Documents|Desktop|Projects)[\\/]`), 0.9, false},
	{regexp.MustCompile(`(?i)[\\/](src|source|repos?|code|dev|workspace)[\\/]`), 0.8, false},
	{regexp.MustCompile(`(?i)[\\/](Temp|tmp|Cache|Caches)[\\/]`), 0.2, true},
	{regexp.MustCompile(`(?i)[\\/](AppData|Library)[\\/]`), 0.5, false},
	{regexp.MustCompile(`(?i)[\\/](Windows|System32|Program Files( \(x86\))?|ProgramData)[\\/]`), 0.3, false},
	{regexp.MustCompile(`(?i)^/(usr|etc|var|opt|proc|sys)[\\/]`), 0.3, false},
	{regexp.MustCompile(`(?i)[\\/]Downloads[\\/]`), 0.4, false},
}

const defaultPathScore = 0.5

// tempDamp halves the combined score for temp/cache noise so that scratch
// churn stays below the hot→warm consolidation threshold regardless of how
// favorable the other sub-scores are.
const tempDamp = 0.5

// Scorer computes importance scores. Safe for concurrent use; it holds no
// mutable state.
type Scorer struct {
	cfg Config
}

// New builds a scorer, falling back to defaults on an invalid config.
func New(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// NewDefault returns a scorer with the standard weights.
func NewDefault() *Scorer {
	s, err := New(DefaultConfig())
	if err != nil {
		panic(err) // defaults always validate
	}
	return s
}

// Score combines the five sub-scores, clamped to [0.1, 1.0]. The reference
// time feeds the recency sub-score only.
func (s *Scorer) Score(a *types.Activity, now time.Time) float64 {
	ext := s.ExtensionScore(a)
	act := s.ActivityScore(a)
	path, isTemp := s.pathScore(a)
	rec := s.RecencyScore(a.Timestamp, now)
	meta := s.MetadataScore(a)

	combined := s.cfg.ExtensionWeight*ext +
		s.cfg.ActivityWeight*act +
		s.cfg.PathWeight*path +
		s.cfg.RecencyWeight*rec +
		s.cfg.MetadataWeight*meta

	if isTemp {
		combined *= tempDamp
	}
	return clamp(combined, 0.1, 1.0)
}

// Boost folds an external importance boost b ∈ [0,1] into a score:
// s' = s + b·(1-s). Monotonic and bounded.
func Boost(score, b float64) float64 {
	b = clamp(b, 0, 1)
	return clamp(score+b*(1-score), 0.1, 1.0)
}

// ExtensionScore looks up the lowercased file extension.
func (s *Scorer) ExtensionScore(a *types.Activity) float64 {
	if a.IsDirectory {
		return 0.7
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(a.FileName), "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(a.FilePath), "."))
	}
	if score, ok := extensionScores[ext]; ok {
		return score
	}
	return 0.4
}

// ActivityScore looks up the activity type, with raw-reason overrides:
// a record carrying both DATA_EXTEND and DATA_OVERWRITE scores 0.9, and
// one carrying FILE_CREATE scores 0.85.
func (s *Scorer) ActivityScore(a *types.Activity) float64 {
	if a.HasReason("DATA_EXTEND") && a.HasReason("DATA_OVERWRITE") {
		return 0.9
	}
	if a.HasReason("FILE_CREATE") {
		return 0.85
	}
	if score, ok := activityScores[a.ActivityType]; ok {
		return score
	}
	return activityScores[types.ActivityUnknown]
}

// PathScore exposes the ordered-rule path sub-score.
func (s *Scorer) PathScore(a *types.Activity) float64 {
	score, _ := s.pathScore(a)
	return score
}

func (s *Scorer) pathScore(a *types.Activity) (float64, bool) {
	score := defaultPathScore
	isTemp := false
	for _, rule := range pathRules {
		if rule.re.MatchString(a.FilePath) {
			score = rule.score
			isTemp = rule.temp
			break
		}
	}
	if a.IsDirectory && pathDepth(a.FilePath) <= 2 && score < 0.8 {
		score = 0.8
	}
	return score, isTemp
}

// pathDepth counts separators below the volume root.
func pathDepth(path string) int {
	trimmed := strings.TrimRight(path, `\/`)
	depth := 0
	for _, r := range trimmed {
		if r == '\\' || r == '/' {
			depth++
		}
	}
	// "C:\Users" and "/home" are both depth 1.
	if strings.HasPrefix(trimmed, "/") {
		depth--
	}
	if depth < 0 {
		depth = 0
	}
	return depth
}

// RecencyScore is exp(-decay_rate · age_days), clamped to [0.1, 1.0].
func (s *Scorer) RecencyScore(timestamp, now time.Time) float64 {
	ageDays := now.Sub(timestamp).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return clamp(math.Exp(-s.cfg.DecayRate*ageDays), 0.1, 1.0)
}

// MetadataScore starts at 0.5 and accrues bounded bonuses from search
// hits, file size, and rename markers. Capped at 1.0.
func (s *Scorer) MetadataScore(a *types.Activity) float64 {
	score := 0.5
	score += math.Min(0.3, float64(a.SearchHits)*0.03)
	if a.FileSize != nil && *a.FileSize > 0 {
		kb := float64(*a.FileSize) / 1024
		if kb < 1 {
			kb = 1
		}
		score += math.Min(0.2, math.Log10(kb)*0.05)
	}
	if a.HasReason("RENAME_NEW_NAME") || a.Attributes[types.AttrNewName] != "" {
		score += 0.1
	}
	if a.HasReason("SECURITY_CHANGE") || a.HasReason("HARD_LINK_CHANGE") {
		score += 0.05
	}
	return math.Min(score, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
