package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/teamsync"
)

func TestFormatRelativeTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{time.Minute, "1m ago"},
		{45 * time.Minute, "45m ago"},
		{time.Hour, "1h ago"},
		{5 * time.Hour, "5h ago"},
		{24 * time.Hour, "1d ago"},
		{72 * time.Hour, "3d ago"},
	}
	for _, tt := range tests {
		if got := formatRelativeTime(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("formatRelativeTime(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestFormatStatus(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	st := &teamsync.Status{
		Online:         true,
		Syncing:        true,
		PendingChanges: 2,
		LastSyncedAt:   now.Add(-2 * time.Hour),
		Collections: map[string]time.Time{
			"tasks":     now.Add(-2 * time.Hour),
			"top3Items": now.Add(-3 * time.Hour),
		},
	}

	out := formatStatus(st, now)
	for _, want := range []string{
		"Connection:      online",
		"Sync:            running",
		"Pending changes: 2",
		"2025-03-10 10:00:00 UTC (2h ago)",
		"tasks",
		"3h ago",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatStatus() missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "tasks") > strings.Index(out, "top3Items") {
		t.Error("collections should be sorted by name")
	}
}
