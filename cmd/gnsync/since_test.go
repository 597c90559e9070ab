package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"empty", "", time.Time{}},
		{"duration", "36h", now.Add(-36 * time.Hour)},
		{"negative duration", "-2h", now.Add(-2 * time.Hour)},
		{"date", "2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"rfc3339", "2024-05-01T08:30:00Z", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSince(tt.value, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestParseSinceNatural(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

	got, err := parseSince("yesterday", now)
	require.NoError(t, err)
	assert.True(t, got.Before(now))
	assert.Equal(t, 9, got.Day())
}

func TestParseSinceInvalid(t *testing.T) {
	_, err := parseSince("zzqx qqzz", time.Now())
	assert.Error(t, err)
}
