package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/teamsync"
)

// handleSync handles the teamsync_sync tool call.
func (s *Server) handleSync(ctx context.Context, _ map[string]any) (*ToolResult, error) {
	res, err := s.client.ForceSync(ctx)
	switch {
	case errors.Is(err, teamsync.ErrNotConfigured):
		return &ToolResult{
			Content: "Sync unavailable: no remote store configured (offline mode). Changes stay queued locally.",
			IsError: true,
		}, nil
	case errors.Is(err, teamsync.ErrOffline):
		return &ToolResult{
			Content: "Sync unavailable: the remote store is unreachable. Changes stay queued and sync on reconnect.",
			IsError: true,
		}, nil
	case err != nil:
		return errorResult("sync failed: %v", err), nil
	}

	if res.Skipped {
		return &ToolResult{Content: "Sync skipped: went offline before the pass started."}, nil
	}
	if res.Attempted == 0 {
		return &ToolResult{Content: "Nothing to sync."}, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Synced %d of %d changes", res.Delivered, res.Attempted)
	if res.Failed > 0 {
		fmt.Fprintf(&sb, ", %d failed and will be retried", res.Failed)
	}
	if res.Discarded > 0 {
		fmt.Fprintf(&sb, ", %d discarded after too many attempts", res.Discarded)
	}
	sb.WriteString(".")
	return &ToolResult{Content: sb.String()}, nil
}

// handleStatus handles the teamsync_status tool call.
func (s *Server) handleStatus(ctx context.Context, _ map[string]any) (*ToolResult, error) {
	st, err := s.client.Status(ctx)
	if err != nil {
		return errorResult("status failed: %v", err), nil
	}
	return &ToolResult{Content: formatStatus(st, time.Now())}, nil
}

func formatStatus(st *teamsync.Status, now time.Time) string {
	var sb strings.Builder

	conn := "offline"
	if st.Online {
		conn = "online"
	}
	fmt.Fprintf(&sb, "Connection:      %s\n", conn)
	if st.Syncing {
		sb.WriteString("Sync:            running\n")
	}
	fmt.Fprintf(&sb, "Pending changes: %d\n", st.PendingChanges)
	if st.LastSyncedAt.IsZero() {
		sb.WriteString("Last sync:       never\n")
	} else {
		fmt.Fprintf(&sb, "Last sync:       %s (%s)\n", formatTimestamp(st.LastSyncedAt), formatRelativeTime(st.LastSyncedAt, now))
	}

	if len(st.Collections) > 0 {
		names := make([]string, 0, len(st.Collections))
		for name := range st.Collections {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("\nCollections:\n")
		for _, name := range names {
			fmt.Fprintf(&sb, "  %-16s %s\n", name, formatRelativeTime(st.Collections[name], now))
		}
	}
	return sb.String()
}

// formatRelativeTime formats t relative to now (e.g. "2h ago").
func formatRelativeTime(t, now time.Time) string {
	duration := now.Sub(t)
	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		mins := int(duration.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	default:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
