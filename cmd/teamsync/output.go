package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/teamsync"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

// outputAsJSON writes any value as formatted JSON to the command's stdout.
func outputAsJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError prints an error to stderr, ensuring no API keys are leaked.
func outputError(w io.Writer, err error) {
	msg := scrubSensitiveData(err.Error())
	fmt.Fprintln(w, renderErrorPanel(msg, "", ""))
}

// scrubSensitiveData redacts the configured API key from msg.
func scrubSensitiveData(msg string) string {
	if cfgAPIKey != "" && strings.Contains(msg, cfgAPIKey) {
		msg = strings.ReplaceAll(msg, cfgAPIKey, "[REDACTED]")
	}
	return msg
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// outputTask prints a single task.
func outputTask(cmd *cobra.Command, verb string, task *teamsync.Task) error {
	if outputJSON {
		return outputAsJSON(cmd, task)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "%s task %s", verb, shortID(task.ID))
	pairs := [][2]string{
		{"Title", task.Title},
		{"Quadrant", string(task.Quadrant)},
		{"Status", string(task.Status)},
		{"Version", fmt.Sprint(task.Version)},
	}
	if task.DueDate != nil {
		pairs = append(pairs, [2]string{"Due", task.DueDate.Format(dateLayout)})
	}
	fmt.Fprintln(out, renderKV(pairs))
	return nil
}

// outputTasks prints tasks as a table ordered by creation time.
func outputTasks(cmd *cobra.Command, tasks []teamsync.Task) error {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	if outputJSON {
		if tasks == nil {
			tasks = []teamsync.Task{}
		}
		return outputAsJSON(cmd, tasks)
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		printMuted(out, "No tasks found.")
		return nil
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = t.DueDate.Format(dateLayout)
		}
		rows = append(rows, []string{shortID(t.ID), string(t.Quadrant), string(t.Status), t.Title, due})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "QUADRANT", "STATUS", "TITLE", "DUE"}, rows))
	return nil
}

// outputTop3 prints a day's priorities.
func outputTop3(cmd *cobra.Command, day time.Time, items []teamsync.Top3Item) error {
	if outputJSON {
		if items == nil {
			items = []teamsync.Top3Item{}
		}
		return outputAsJSON(cmd, items)
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		printMuted(out, "No priorities for %s.", day.Format(dateLayout))
		return nil
	}
	var sb strings.Builder
	for _, it := range items {
		mark := " "
		if it.IsCompleted {
			mark = iconSuccess
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n", it.Order, mark, it.Content)
	}
	fmt.Fprintln(out, renderPanel("Top 3 for "+day.Format(dateLayout), sb.String()))
	return nil
}

// outputStatus prints the aggregate sync state and local store statistics.
func outputStatus(cmd *cobra.Command, st *teamsync.Status, stats *teamsync.StoreStats) error {
	if outputJSON {
		return outputAsJSON(cmd, struct {
			*teamsync.Status
			Store *teamsync.StoreStats `json:"store"`
		}{st, stats})
	}

	conn := "offline"
	if st.Online {
		conn = "online"
	}
	lastSync := "never"
	if !st.LastSyncedAt.IsZero() {
		lastSync = fmt.Sprintf("%s (%s ago)", st.LastSyncedAt.UTC().Format(time.RFC3339),
			time.Since(st.LastSyncedAt).Round(time.Minute))
	}
	pairs := [][2]string{
		{"Connection", conn},
		{"Syncing", fmt.Sprint(st.Syncing)},
		{"Pending changes", fmt.Sprint(st.PendingChanges)},
		{"Last sync", lastSync},
	}
	if stats != nil {
		pairs = append(pairs,
			[2]string{"Deleted records", fmt.Sprint(stats.Deleted)},
			[2]string{"Schema version", stats.SchemaVersion},
		)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderPanel("Sync Status", renderKV(pairs)))

	if stats != nil && len(stats.Documents) > 0 {
		names := make([]string, 0, len(stats.Documents))
		for name := range stats.Documents {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			synced := "never"
			if t, ok := st.Collections[name]; ok {
				synced = t.UTC().Format(time.RFC3339)
			}
			rows = append(rows, []string{name, fmt.Sprint(stats.Documents[name]), synced})
		}
		fmt.Fprintln(out, renderTable([]string{"COLLECTION", "DOCUMENTS", "LAST SYNC"}, rows))
	}
	return nil
}

// outputDrainResult prints the outcome of a sync pass.
func outputDrainResult(cmd *cobra.Command, res teamsync.DrainResult, took time.Duration) error {
	if outputJSON {
		return outputAsJSON(cmd, struct {
			teamsync.DrainResult
			DurationMs int64 `json:"duration_ms"`
		}{res, took.Milliseconds()})
	}

	out := cmd.OutOrStdout()
	switch {
	case res.Skipped:
		printWarning(out, "Sync skipped: offline")
	case res.Attempted == 0:
		printSuccess(out, "Nothing to sync (took %s)", took.Round(time.Millisecond))
	default:
		printSuccess(out, "Delivered %d of %d changes (took %s)", res.Delivered, res.Attempted, took.Round(time.Millisecond))
		if res.Failed > 0 {
			printWarning(out, "%d failed and stay queued", res.Failed)
		}
		if res.Discarded > 0 {
			printWarning(out, "%d discarded after too many attempts", res.Discarded)
		}
	}
	return nil
}
