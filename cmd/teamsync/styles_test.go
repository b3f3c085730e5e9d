package main

import (
	"strings"
	"testing"
)

// setMockTTY forces TTY detection for the duration of the test.
func setMockTTY(t *testing.T, value bool) {
	t.Helper()
	testIsTTYMutex.Lock()
	testIsTTYOverride = &value
	testIsTTYMutex.Unlock()
	t.Cleanup(func() {
		testIsTTYMutex.Lock()
		testIsTTYOverride = nil
		testIsTTYMutex.Unlock()
	})
}

const borderChars = "─│╭╮╰╯├┼┤┬┴"

func TestRenderTable_TTY_WithHeaders(t *testing.T) {
	setMockTTY(t, true)

	result := renderTable([]string{"ID", "STATUS"}, [][]string{{"a1", "TODO"}, {"b2", "DONE"}})

	for _, want := range []string{"ID", "STATUS", "a1", "DONE"} {
		if !strings.Contains(result, want) {
			t.Errorf("result should contain %q", want)
		}
	}
	if !strings.ContainsAny(result, borderChars) {
		t.Error("TTY output should contain border characters")
	}
}

func TestRenderTable_NonTTY_PlainText(t *testing.T) {
	setMockTTY(t, false)

	result := renderTable([]string{"ID", "STATUS"}, [][]string{{"a1", "TODO"}, {"bbbb2", "DONE"}})

	if strings.ContainsAny(result, borderChars) {
		t.Error("non-TTY output should NOT contain border characters")
	}
	lines := strings.Split(result, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), result)
	}
	if strings.Index(lines[1], "TODO") != strings.Index(lines[2], "DONE") {
		t.Errorf("columns should be aligned:\n%s", result)
	}
}

func TestRenderTable_RowsLongerThanHeaders(t *testing.T) {
	setMockTTY(t, false)

	result := renderTable([]string{"COL1"}, [][]string{{"a", "extra"}})
	if strings.Contains(result, "extra") {
		t.Error("cells beyond the headers should be dropped")
	}
}

func TestRenderPanel(t *testing.T) {
	t.Run("tty", func(t *testing.T) {
		setMockTTY(t, true)
		result := renderPanel("Sync Status", "Pending changes: 2")
		if !strings.Contains(result, "Sync Status") || !strings.Contains(result, "Pending changes: 2") {
			t.Errorf("panel missing content:\n%s", result)
		}
		if !strings.ContainsAny(result, "─│╭╮╰╯") {
			t.Error("TTY panel should have border characters")
		}
	})
	t.Run("plain", func(t *testing.T) {
		setMockTTY(t, false)
		result := renderPanel("Sync Status", "Pending changes: 2\n")
		if result != "Sync Status\n-----------\nPending changes: 2" {
			t.Errorf("plain panel = %q", result)
		}
	})
	t.Run("no title", func(t *testing.T) {
		setMockTTY(t, false)
		if got := renderPanel("", "body"); got != "body" {
			t.Errorf("renderPanel without title = %q", got)
		}
	})
}

func TestRenderErrorPanel(t *testing.T) {
	setMockTTY(t, false)

	result := renderErrorPanel("sync failed", "server unreachable", "check --remote-url")
	for _, want := range []string{"Error: sync failed", "server unreachable", "Try: check --remote-url"} {
		if !strings.Contains(result, want) {
			t.Errorf("error panel should contain %q:\n%s", want, result)
		}
	}
}

func TestRenderKV_Aligned(t *testing.T) {
	setMockTTY(t, false)

	got := renderKV([][2]string{{"a", "1"}, {"long", "2"}})
	want := "a:    1\nlong: 2"
	if got != want {
		t.Errorf("renderKV = %q, want %q", got, want)
	}
}
