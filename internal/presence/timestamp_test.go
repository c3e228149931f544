package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{name: "rfc3339 utc", input: "2026-03-01T09:00:05Z"},
		{name: "rfc3339 offset", input: "2026-03-01T10:00:05+01:00"},
		{name: "zoneless treated as utc", input: "2026-03-01T09:00:05"},
		{name: "zoneless with space", input: "2026-03-01 09:00:05"},
		{name: "unix millis", input: "1772355605000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.input)
			require.NoError(t, err)
			require.True(t, want.Equal(got), "got %s", got)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	_, err := ParseTime("yesterday")
	require.Error(t, err)

	_, err = ParseTime("  ")
	require.Error(t, err)
}

func TestTimestampUnmarshalJSON(t *testing.T) {
	var payload struct {
		At Timestamp `json:"at"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"at":"2026-03-01T09:00:05"}`), &payload))
	require.Equal(t, time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC), payload.At.Time)

	require.NoError(t, json.Unmarshal([]byte(`{"at":1772355605000}`), &payload))
	require.Equal(t, time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC), payload.At.Time)

	require.NoError(t, json.Unmarshal([]byte(`{"at":null}`), &payload))
	require.True(t, payload.At.IsZero())

	require.Error(t, json.Unmarshal([]byte(`{"at":"not a time"}`), &payload))
}
