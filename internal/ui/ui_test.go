package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderWithoutColor(t *testing.T) {
	SetColor(false)
	t.Cleanup(func() { SetColor(true) })

	assert.Equal(t, "ok", RenderPass("ok"))
	assert.Equal(t, "warn", RenderWarn("warn"))
	assert.Equal(t, "x", RenderFail("x"))
	assert.Equal(t, "m", RenderMuted("m"))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 bytes"},
		{1023, "1023 bytes"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.size))
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "-"},
		{"now", now, "now"},
		{"seconds", now.Add(-30 * time.Second), "30s ago"},
		{"minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"hours", now.Add(-3 * time.Hour), "3h ago"},
		{"days", now.Add(-50 * time.Hour), "2d ago"},
		{"future", now.Add(4 * time.Second), "in 4s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAge(tt.t, now))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 5))
	assert.Equal(t, "hel…", Truncate("hello", 4))
	assert.Equal(t, "…", Truncate("hello", 1))
	assert.Equal(t, "héllo", Truncate("héllo", 0))
}

func TestTableContainsCells(t *testing.T) {
	SetColor(false)
	t.Cleanup(func() { SetColor(true) })

	out := Table([]string{"ID", "TITLE"}, [][]string{{"n1", "First"}, {"n2", "Second"}})
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Second")
	assert.Equal(t, 6, len(strings.Split(strings.TrimSpace(out), "\n")), out)
}
