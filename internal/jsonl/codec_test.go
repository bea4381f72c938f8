package jsonl

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubc-systopia/indaleko/internal/types"
)

func sampleActivity() *types.Activity {
	return &types.Activity{
		ActivityID:      "11111111-1111-1111-1111-111111111111",
		Timestamp:       time.Date(2026, 8, 25, 9, 30, 0, 123456789, time.FixedZone("PST", -8*3600)),
		ActivityType:    types.ActivityCreate,
		FilePath:        `C:\Users\alice\Documents\notes.txt`,
		FileName:        "notes.txt",
		Volume:          "C:",
		ImportanceScore: 0.72,
		Attributes:      map[string]string{types.AttrReasonMask: "FILE_CREATE,CLOSE"},
	}
}

func TestMarshalNormalizesToUTC(t *testing.T) {
	line, err := MarshalActivity(sampleActivity())
	require.NoError(t, err)

	s := string(line)
	assert.Contains(t, s, `"timestamp":"2026-08-25T17:30:00.123456789Z"`)
	assert.NotContains(t, s, "\n")
}

func TestRoundTrip(t *testing.T) {
	orig := sampleActivity()
	line, err := MarshalActivity(orig)
	require.NoError(t, err)

	got, err := UnmarshalActivity(line)
	require.NoError(t, err)
	assert.Equal(t, orig.ActivityID, got.ActivityID)
	assert.Equal(t, orig.ActivityType, got.ActivityType)
	assert.True(t, orig.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "FILE_CREATE,CLOSE", got.Attributes[types.AttrReasonMask])
}

func TestUnmarshalRejectsNaiveTimestamp(t *testing.T) {
	line := `{"activity_id":"a","timestamp":"2026-08-25T09:30:00","activity_type":"create","file_path":"x","file_name":"x","volume":"C:","importance_score":0.5}`
	_, err := UnmarshalActivity([]byte(line))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "naive timestamp")
}

func TestUnmarshalAcceptsOffsetTimestamp(t *testing.T) {
	line := `{"activity_id":"a","timestamp":"2026-08-25T09:30:00-08:00","activity_type":"create","file_path":"x","file_name":"x","volume":"C:","importance_score":0.5}`
	a, err := UnmarshalActivity([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, 17, a.Timestamp.UTC().Hour())
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"malformed json": `{"activity_id":`,
		"missing time":   `{"activity_id":"a","activity_type":"create","importance_score":0.5}`,
		"bad type":       `{"activity_id":"a","timestamp":"2026-08-25T09:30:00Z","activity_type":"vaporized","importance_score":0.5}`,
		"score range":    `{"activity_id":"a","timestamp":"2026-08-25T09:30:00Z","activity_type":"create","importance_score":1.5}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalActivity([]byte(line))
			assert.Error(t, err)
		})
	}
}

func TestMarshalZeroTimestamp(t *testing.T) {
	a := sampleActivity()
	a.Timestamp = time.Time{}
	_, err := MarshalActivity(a)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "zero timestamp"))
}
