package score

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubc-systopia/indaleko/internal/types"
)

func activityAt(path, name string, typ types.ActivityType, ts time.Time) *types.Activity {
	return &types.Activity{
		ActivityID:   "a-1",
		Timestamp:    ts,
		ActivityType: typ,
		FilePath:     path,
		FileName:     name,
		Volume:       "C:",
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.PathWeight = 0.5
	require.Error(t, bad.Validate())

	noDecay := DefaultConfig()
	noDecay.DecayRate = 0
	require.Error(t, noDecay.Validate())
}

func TestExtensionScore(t *testing.T) {
	s := NewDefault()
	now := time.Now()

	tests := []struct {
		name string
		file string
		dir  bool
		want float64
	}{
		{"document", "report.docx", false, 0.8},
		{"source", "main.go", false, 0.8},
		{"data", "events.jsonl", false, 0.7},
		{"media", "photo.JPG", false, 0.6},
		{"temp", "scratch.tmp", false, 0.2},
		{"unknown extension", "blob.xyz", false, 0.4},
		{"no extension", "Makefile2", false, 0.4},
		{"directory", "Projects", true, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := activityAt(`C:\data\`+tt.file, tt.file, types.ActivityModify, now)
			a.IsDirectory = tt.dir
			assert.InDelta(t, tt.want, s.ExtensionScore(a), 1e-9)
		})
	}
}

func TestActivityScoreOverrides(t *testing.T) {
	s := NewDefault()
	now := time.Now()

	a := activityAt(`C:\data\f.txt`, "f.txt", types.ActivityModify, now)
	assert.InDelta(t, 0.6, s.ActivityScore(a), 1e-9)

	a.Attributes = map[string]string{types.AttrReasonMask: "DATA_EXTEND,DATA_OVERWRITE,CLOSE"}
	assert.InDelta(t, 0.9, s.ActivityScore(a), 1e-9)

	a.Attributes[types.AttrReasonMask] = "FILE_CREATE,CLOSE"
	assert.InDelta(t, 0.85, s.ActivityScore(a), 1e-9)
}

func TestPathScoreOrdering(t *testing.T) {
	s := NewDefault()
	now := time.Now()

	tests := []struct {
		name string
		path string
		want float64
	}{
		{"documents", `C:\Users\alice\Documents\notes.txt`, 0.9},
		{"source tree", `/home/alice/src/indaleko/main.go`, 0.8},
		{"appdata temp beats appdata", `C:\Users\alice\AppData\Local\Temp\x.tmp`, 0.2},
		{"appdata", `C:\Users\alice\AppData\Roaming\app\settings.dat`, 0.5},
		{"windows system", `C:\Windows\System32\drivers\etc\hosts`, 0.3},
		{"unix system", `/etc/passwd.d/x`, 0.3},
		{"downloads", `C:\Users\alice\Downloads\setup.exe`, 0.4},
		{"default", `D:\stuff\thing.bin`, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := activityAt(tt.path, "", types.ActivityModify, now)
			assert.InDelta(t, tt.want, s.PathScore(a), 1e-9)
		})
	}
}

func TestShallowDirectoryFloor(t *testing.T) {
	s := NewDefault()
	now := time.Now()

	a := activityAt(`C:\Users`, "Users", types.ActivityCreate, now)
	a.IsDirectory = true
	assert.InDelta(t, 0.8, s.PathScore(a), 1e-9)

	deep := activityAt(`C:\a\b\c\d\e`, "e", types.ActivityCreate, now)
	deep.IsDirectory = true
	assert.InDelta(t, 0.5, s.PathScore(deep), 1e-9)
}

func TestRecencyScore(t *testing.T) {
	s := NewDefault()
	now := time.Now()

	assert.InDelta(t, 1.0, s.RecencyScore(now, now), 1e-9)
	// Future timestamps clamp to "now", not above 1.0.
	assert.InDelta(t, 1.0, s.RecencyScore(now.Add(time.Hour), now), 1e-9)

	tenDays := s.RecencyScore(now.AddDate(0, 0, -10), now)
	assert.InDelta(t, math.Exp(-0.5), tenDays, 1e-6)

	ancient := s.RecencyScore(now.AddDate(-5, 0, 0), now)
	assert.InDelta(t, 0.1, ancient, 1e-9)
}

func TestScoreBounds(t *testing.T) {
	s := NewDefault()
	now := time.Now()

	best := activityAt(`C:\Users\alice\Documents\thesis.pdf`, "thesis.pdf", types.ActivityCreate, now)
	best.SearchHits = 100
	score := s.Score(best, now)
	assert.LessOrEqual(t, score, 1.0)
	assert.Greater(t, score, 0.7)

	worst := activityAt(`C:\Windows\Temp\~lock.tmp`, "~lock.tmp", types.ActivityClose, now.AddDate(0, 0, -30))
	score = s.Score(worst, now)
	assert.GreaterOrEqual(t, score, 0.1)
	assert.Less(t, score, 0.3)
}

// Temp churn must stay below the hot→warm floor even when the raw reason
// mask is favorable, so scratch files age out instead of consolidating.
func TestTempChurnNotConsolidated(t *testing.T) {
	s := NewDefault()
	now := time.Now()

	a := activityAt(`C:\Users\alice\AppData\Local\Temp\install.tmp`, "install.tmp", types.ActivityCreate, now)
	a.Attributes = map[string]string{types.AttrReasonMask: "FILE_CREATE"}
	score := s.Score(a, now)
	assert.Less(t, score, 0.4)

	tr, ok := TransitionFor(TierSensory)
	require.True(t, ok)
	assert.False(t, s.ShouldConsolidate(score, tr.MinAge*2, TierSensory))
}

// Scoring is pure: identical inputs always produce the identical score,
// no matter how often or in what order they are scored.
func TestScoreDeterministic(t *testing.T) {
	s := NewDefault()
	now := time.Now()

	a := activityAt(`C:\Users\alice\Documents\notes.txt`, "notes.txt", types.ActivityModify, now.Add(-6*time.Hour))
	a.Attributes = map[string]string{types.AttrReasonMask: "DATA_EXTEND,CLOSE"}
	b := activityAt(a.FilePath, a.FileName, a.ActivityType, a.Timestamp)
	b.ActivityID = "a-2"
	b.Attributes = map[string]string{types.AttrReasonMask: "DATA_EXTEND,CLOSE"}

	first := s.Score(a, now)
	assert.Equal(t, first, s.Score(b, now))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Score(a, now))
	}
}

func TestBoost(t *testing.T) {
	assert.InDelta(t, 0.75, Boost(0.5, 0.5), 1e-9)
	assert.InDelta(t, 1.0, Boost(0.9, 1.0), 1e-9)
	// Boost never lowers a score.
	assert.InDelta(t, 0.5, Boost(0.5, 0), 1e-9)
}
