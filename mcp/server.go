// Package mcp exposes a teamsync client as MCP (Model Context Protocol)
// tools so agents can manage tasks and daily priorities.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/teamsync"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const dateLayout = "2006-01-02"

// Server wraps the MCP server with teamsync tools.
type Server struct {
	client    *teamsync.Client
	mcpServer *server.MCPServer
	session   *Session
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolInfo represents a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a new MCP server with teamsync tools registered.
func NewServer(client *teamsync.Client) *Server {
	s := &Server{
		client:  client,
		session: NewSession(),
	}

	s.mcpServer = server.NewMCPServer(
		"teamsync",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// Run serves MCP over stdin/stdout.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
// This is primarily for testing the MCP protocol layer.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// Session returns the server's ref tracker.
func (s *Server) Session() *Session { return s.session }

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "teamsync_task_create", Description: "Create a task; it is saved locally and synced in the background"},
		{Name: "teamsync_task_list", Description: "List your tasks with session refs (T1, T2, ...)"},
		{Name: "teamsync_task_update", Description: "Update a task's title, description, status or quadrant"},
		{Name: "teamsync_task_delete", Description: "Delete a task"},
		{Name: "teamsync_top3_add", Description: "Add one of today's three priorities"},
		{Name: "teamsync_top3_list", Description: "List the priorities for a day"},
		{Name: "teamsync_sync", Description: "Deliver queued changes to the remote store now"},
		{Name: "teamsync_status", Description: "Show connectivity, pending changes and last sync time"},
	}
}

// CallTool executes a tool by name with the given arguments.
// This is used for testing and direct invocation.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "teamsync_task_create":
		return s.handleTaskCreate(ctx, args)
	case "teamsync_task_list":
		return s.handleTaskList(ctx, args)
	case "teamsync_task_update":
		return s.handleTaskUpdate(ctx, args)
	case "teamsync_task_delete":
		return s.handleTaskDelete(ctx, args)
	case "teamsync_top3_add":
		return s.handleTop3Add(ctx, args)
	case "teamsync_top3_list":
		return s.handleTop3List(ctx, args)
	case "teamsync_sync":
		return s.handleSync(ctx, args)
	case "teamsync_status":
		return s.handleStatus(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

var (
	quadrants = []string{"UI", "UNI", "NUI", "NUNI"}
	statuses  = []string{"TODO", "IN_PROGRESS", "DONE", "ARCHIVED"}
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("teamsync_task_create",
		mcp.WithDescription("Create a task. The task is saved locally first and delivered to the team store in the background, so this works offline."),
		mcp.WithString("title",
			mcp.Description("Task title"),
			mcp.Required(),
		),
		mcp.WithString("description",
			mcp.Description("Longer description"),
		),
		mcp.WithString("quadrant",
			mcp.Description("Urgent/important quadrant: UI, UNI, NUI, NUNI (default: NUI)"),
			mcp.Enum(quadrants...),
		),
		mcp.WithString("topic_id",
			mcp.Description("Topic to file the task under"),
		),
		mcp.WithString("due_date",
			mcp.Description("Due date as YYYY-MM-DD"),
		),
	), s.wrap(s.handleTaskCreate))

	s.mcpServer.AddTool(mcp.NewTool("teamsync_task_list",
		mcp.WithDescription("List your tasks. Each task gets a session ref (T1, T2, ...) usable in teamsync_task_update and teamsync_task_delete."),
		mcp.WithString("status",
			mcp.Description("Only tasks with this status"),
			mcp.Enum(statuses...),
		),
		mcp.WithString("quadrant",
			mcp.Description("Only tasks in this quadrant"),
			mcp.Enum(quadrants...),
		),
	), s.wrap(s.handleTaskList))

	s.mcpServer.AddTool(mcp.NewTool("teamsync_task_update",
		mcp.WithDescription("Update a task. Only the given fields change."),
		mcp.WithString("task",
			mcp.Description("Session ref (T1) or task id"),
			mcp.Required(),
		),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status",
			mcp.Description("New status"),
			mcp.Enum(statuses...),
		),
		mcp.WithString("quadrant",
			mcp.Description("New quadrant"),
			mcp.Enum(quadrants...),
		),
	), s.wrap(s.handleTaskUpdate))

	s.mcpServer.AddTool(mcp.NewTool("teamsync_task_delete",
		mcp.WithDescription("Delete a task."),
		mcp.WithString("task",
			mcp.Description("Session ref (T1) or task id"),
			mcp.Required(),
		),
	), s.wrap(s.handleTaskDelete))

	s.mcpServer.AddTool(mcp.NewTool("teamsync_top3_add",
		mcp.WithDescription("Add a daily priority. At most 3 priorities per day."),
		mcp.WithString("content",
			mcp.Description("What to get done"),
			mcp.Required(),
		),
		mcp.WithString("task",
			mcp.Description("Session ref (T1) or id of a linked task"),
		),
		mcp.WithString("date",
			mcp.Description("Day as YYYY-MM-DD (default: today, UTC)"),
		),
	), s.wrap(s.handleTop3Add))

	s.mcpServer.AddTool(mcp.NewTool("teamsync_top3_list",
		mcp.WithDescription("List the daily priorities for a day."),
		mcp.WithString("date",
			mcp.Description("Day as YYYY-MM-DD (default: today, UTC)"),
		),
	), s.wrap(s.handleTop3List))

	s.mcpServer.AddTool(mcp.NewTool("teamsync_sync",
		mcp.WithDescription("Deliver queued local changes to the team store now. Requires a configured remote and connectivity."),
	), s.wrap(s.handleSync))

	s.mcpServer.AddTool(mcp.NewTool("teamsync_status",
		mcp.WithDescription("Show connectivity, whether a sync is running, pending changes and the last sync time."),
	), s.wrap(s.handleStatus))
}

type toolHandler func(ctx context.Context, args map[string]any) (*ToolResult, error)

func (s *Server) wrap(h toolHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h(ctx, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return toMCPResult(result), nil
	}
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
	}
	if r.IsError {
		result.IsError = true
	}
	return result
}

func errorResult(format string, args ...any) *ToolResult {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Task handlers

func (s *Server) handleTaskCreate(ctx context.Context, args map[string]any) (*ToolResult, error) {
	title := stringArg(args, "title")
	if title == "" {
		return errorResult("title is required"), nil
	}

	in := teamsync.TaskInput{
		Title:       title,
		Description: stringArg(args, "description"),
		Quadrant:    teamsync.Quadrant(strings.ToUpper(stringArg(args, "quadrant"))),
		TopicID:     stringArg(args, "topic_id"),
	}
	if due := stringArg(args, "due_date"); due != "" {
		d, err := time.Parse(dateLayout, due)
		if err != nil {
			return errorResult("invalid due_date %q: use YYYY-MM-DD", due), nil
		}
		in.DueDate = &d
	}

	task, err := s.client.AddTask(ctx, in)
	if err != nil {
		return errorResult("create task failed: %v", err), nil
	}
	ref := s.session.Track(teamsync.CollectionTasks, task.ID)
	return &ToolResult{Content: fmt.Sprintf("Created task [%s] %s (%s, %s)", ref, task.Title, task.Quadrant, task.Status)}, nil
}

func (s *Server) handleTaskList(ctx context.Context, args map[string]any) (*ToolResult, error) {
	tasks, err := s.client.LoadTasks(ctx)
	if err != nil {
		return errorResult("list tasks failed: %v", err), nil
	}

	status := teamsync.TaskStatus(strings.ToUpper(stringArg(args, "status")))
	quadrant := teamsync.Quadrant(strings.ToUpper(stringArg(args, "quadrant")))
	filtered := tasks[:0]
	for _, t := range tasks {
		if status != "" && t.Status != status {
			continue
		}
		if quadrant != "" && t.Quadrant != quadrant {
			continue
		}
		filtered = append(filtered, t)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.Before(filtered[j].CreatedAt) })

	if len(filtered) == 0 {
		return &ToolResult{Content: "No tasks found."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d tasks:\n\n", len(filtered))
	for _, t := range filtered {
		ref := s.session.Track(teamsync.CollectionTasks, t.ID)
		fmt.Fprintf(&sb, "[%s] %s\n", ref, t.Title)
		fmt.Fprintf(&sb, "    %s | %s", t.Quadrant, t.Status)
		if t.DueDate != nil {
			fmt.Fprintf(&sb, " | due %s", t.DueDate.Format(dateLayout))
		}
		sb.WriteString("\n")
		if t.Description != "" {
			fmt.Fprintf(&sb, "    %s\n", truncate(t.Description, 100))
		}
	}
	sb.WriteString("\nUse the refs (T1, T2, ...) with teamsync_task_update or teamsync_task_delete.")
	return &ToolResult{Content: sb.String()}, nil
}

func (s *Server) handleTaskUpdate(ctx context.Context, args map[string]any) (*ToolResult, error) {
	ref := stringArg(args, "task")
	if ref == "" {
		return errorResult("task is required"), nil
	}
	id := s.session.ResolveID(teamsync.CollectionTasks, ref)

	patch := teamsync.Patch{}
	if v, ok := args["title"].(string); ok && v != "" {
		patch["title"] = v
	}
	if v, ok := args["description"].(string); ok {
		patch["description"] = v
	}
	if v := stringArg(args, "status"); v != "" {
		st := teamsync.TaskStatus(strings.ToUpper(v))
		if !st.IsValid() {
			return errorResult("invalid status: %s", v), nil
		}
		patch["status"] = st
	}
	if v := stringArg(args, "quadrant"); v != "" {
		q := teamsync.Quadrant(strings.ToUpper(v))
		if !q.IsValid() {
			return errorResult("invalid quadrant: %s", v), nil
		}
		patch["quadrant"] = q
	}
	if len(patch) == 0 {
		return errorResult("nothing to update: give title, description, status or quadrant"), nil
	}

	task, err := s.client.Tasks.Update(ctx, id, patch)
	if err != nil {
		return errorResult("update task failed: %v", err), nil
	}
	if task == nil || task.IsDeleted {
		return errorResult("task not found: %s", ref), nil
	}
	return &ToolResult{Content: fmt.Sprintf("Updated task [%s] %s (%s, %s, version %d)",
		s.session.Track(teamsync.CollectionTasks, task.ID), task.Title, task.Quadrant, task.Status, task.Version)}, nil
}

func (s *Server) handleTaskDelete(ctx context.Context, args map[string]any) (*ToolResult, error) {
	ref := stringArg(args, "task")
	if ref == "" {
		return errorResult("task is required"), nil
	}
	id := s.session.ResolveID(teamsync.CollectionTasks, ref)

	existing, err := s.client.Tasks.GetByID(ctx, id)
	if err != nil {
		return errorResult("delete task failed: %v", err), nil
	}
	if existing == nil {
		return errorResult("task not found: %s", ref), nil
	}
	if _, err := s.client.Tasks.Delete(ctx, id); err != nil {
		return errorResult("delete task failed: %v", err), nil
	}
	return &ToolResult{Content: fmt.Sprintf("Deleted task %s", existing.Title)}, nil
}

// Top3 handlers

func (s *Server) handleTop3Add(ctx context.Context, args map[string]any) (*ToolResult, error) {
	content := stringArg(args, "content")
	if content == "" {
		return errorResult("content is required"), nil
	}
	day, err := dateArg(args, "date")
	if err != nil {
		return errorResult("%v", err), nil
	}

	in := teamsync.Top3Input{Content: content, Date: day}
	if ref := stringArg(args, "task"); ref != "" {
		in.LinkedTaskID = s.session.ResolveID(teamsync.CollectionTasks, ref)
	}

	item, err := s.client.AddTop3(ctx, in)
	if err != nil {
		return errorResult("add priority failed: %v", err), nil
	}
	ref := s.session.Track(teamsync.CollectionTop3Items, item.ID)
	return &ToolResult{Content: fmt.Sprintf("Added priority #%d [%s] for %s: %s",
		item.Order, ref, item.Date.Format(dateLayout), item.Content)}, nil
}

func (s *Server) handleTop3List(ctx context.Context, args map[string]any) (*ToolResult, error) {
	day, err := dateArg(args, "date")
	if err != nil {
		return errorResult("%v", err), nil
	}
	items, err := s.client.Top3ForDay(ctx, s.client.Config().UserID, day)
	if err != nil {
		return errorResult("list priorities failed: %v", err), nil
	}
	if len(items) == 0 {
		return &ToolResult{Content: fmt.Sprintf("No priorities for %s.", day.Format(dateLayout))}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Priorities for %s:\n", day.Format(dateLayout))
	for _, it := range items {
		mark := " "
		if it.IsCompleted {
			mark = "x"
		}
		fmt.Fprintf(&sb, "  %d. [%s] %s (%s)\n", it.Order, mark, it.Content, s.session.Track(teamsync.CollectionTop3Items, it.ID))
	}
	return &ToolResult{Content: sb.String()}, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// dateArg parses a YYYY-MM-DD argument, defaulting to today in UTC.
func dateArg(args map[string]any, key string) (time.Time, error) {
	v := stringArg(args, key)
	if v == "" {
		return teamsync.DayStart(time.Now()), nil
	}
	d, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: use YYYY-MM-DD", key, v)
	}
	return d, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
