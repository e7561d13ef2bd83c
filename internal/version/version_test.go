package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	tests := []struct {
		name     string
		info     BuildInfo
		expected string
	}{
		{
			name:     "release with commit",
			info:     BuildInfo{Version: "v1.2.3", GitCommit: "0123456789abcdef"},
			expected: "v1.2.3 (0123456)",
		},
		{
			name:     "dev with commit",
			info:     BuildInfo{Version: "dev", GitCommit: "0123456789abcdef"},
			expected: "dev-0123456",
		},
		{
			name:     "dirty dev build",
			info:     BuildInfo{Version: "dev", GitCommit: "0123456789abcdef", Dirty: true},
			expected: "dev-0123456-dirty",
		},
		{
			name:     "no commit info",
			info:     BuildInfo{Version: "v2.0.0", GitCommit: "unknown"},
			expected: "v2.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.info.Short())
		})
	}
}

func TestDetailed(t *testing.T) {
	info := BuildInfo{
		Version:   "v1.0.0",
		GitCommit: "abc1234",
		BuildTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		GoVersion: "go1.24.4",
		Platform:  "linux/amd64",
	}

	out := info.Detailed()
	assert.Contains(t, out, "Version: v1.0.0")
	assert.Contains(t, out, "Commit: abc1234")
	assert.Contains(t, out, "Built: 2026-03-01T12:00:00Z")
	assert.Contains(t, out, "Platform: linux/amd64")
}

func TestIsRelease(t *testing.T) {
	assert.True(t, (&BuildInfo{Version: "v1.0.0"}).IsRelease())
	assert.False(t, (&BuildInfo{Version: "dev"}).IsRelease())
	assert.False(t, (&BuildInfo{Version: "dev-abc1234"}).IsRelease())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestParseBuildTime(t *testing.T) {
	assert.True(t, parseBuildTime("unknown").IsZero())
	assert.True(t, parseBuildTime("").IsZero())
	assert.True(t, parseBuildTime("not a time").IsZero())

	parsed := parseBuildTime("2026-03-01T12:00:00Z")
	assert.Equal(t, 2026, parsed.Year())

	parsed = parseBuildTime("2026-03-01 12:00:00")
	assert.Equal(t, time.March, parsed.Month())
}
