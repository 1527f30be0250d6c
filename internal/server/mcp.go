package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cortex-mcp/cortex/internal/tools"
)

// mcpToolDefs declares every wire method as an MCP tool, parameters
// included, so clients on the MCP surface can discover the argument
// shapes. The schemas mirror the params each handler decodes.
func mcpToolDefs() map[string]mcp.Tool {
	return map[string]mcp.Tool{
		"start_session": mcp.NewTool("start_session",
			mcp.WithDescription("Start a new work session with a name, optional objective and metadata."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Session name")),
			mcp.WithString("objective", mcp.Description("What the session is trying to achieve")),
			mcp.WithString("description", mcp.Description("Free-form session description")),
			mcp.WithObject("metadata", mcp.Description("Key/value annotations stored with the session")),
		),
		"end_session": mcp.NewTool("end_session",
			mcp.WithDescription("End a session with a final status (completed, paused, archived)."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to end")),
			mcp.WithString("status", mcp.Description("Final status, completed by default")),
			mcp.WithString("summary", mcp.Description("Closing summary, stored as session metadata")),
		),
		"list_sessions": mcp.NewTool("list_sessions",
			mcp.WithDescription("List sessions with pagination, status filter and ordering."),
			mcp.WithNumber("limit", mcp.Description("Page size, 10 by default")),
			mcp.WithNumber("offset", mcp.Description("Rows to skip")),
			mcp.WithString("status", mcp.Description("Filter by session status")),
			mcp.WithString("order_by", mcp.Description("Sort column, updated_at by default")),
			mcp.WithString("order_dir", mcp.Description("asc or desc")),
		),
		"record_message": mcp.NewTool("record_message",
			mcp.WithDescription("Append a message to a session's conversation ledger."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session; must be active")),
			mcp.WithString("role", mcp.Required(), mcp.Description("system, user, assistant, tool or function")),
			mcp.WithString("content", mcp.Description("Message text")),
			mcp.WithString("name", mcp.Description("Speaker name for tool/function messages")),
			mcp.WithArray("tools", mcp.Description("Available tools, Cursor/OpenAI shape")),
			mcp.WithArray("tool_calls", mcp.Description("Tool calls, Cursor/OpenAI shape")),
			mcp.WithObject("function_call", mcp.Description("Function call, Cursor/OpenAI shape")),
			mcp.WithNumber("token_count", mcp.Description("Token count of the message")),
		),
		"get_context": mcp.NewTool("get_context",
			mcp.WithDescription("Retrieve the most recent messages of a session in chronological order."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to read")),
			mcp.WithNumber("limit", mcp.Description("Window size, 20 by default")),
			mcp.WithNumber("offset", mcp.Description("Messages to skip, counted from the newest")),
			mcp.WithString("format", mcp.Description("cursor (default), dict or raw")),
		),
		"summarize_conversation": mcp.NewTool("summarize_conversation",
			mcp.WithDescription("Summarize a session's conversation (not available yet)."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to summarize")),
			mcp.WithNumber("max_tokens", mcp.Description("Summary length budget")),
		),
		"create_task": mcp.NewTool("create_task",
			mcp.WithDescription("Create a task at a hierarchy level (phase, stage, task, activity)."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
			mcp.WithString("level", mcp.Description("phase, stage, task (default) or activity")),
			mcp.WithString("description", mcp.Description("Task description")),
			mcp.WithString("parent_id", mcp.Description("Parent task id")),
			mcp.WithString("session_id", mcp.Description("Owning session id")),
			mcp.WithNumber("priority", mcp.Description("Higher sorts first")),
			mcp.WithString("due_date", mcp.Description("Due date, free-form text")),
			mcp.WithBoolean("propagate_status", mcp.Description("Whether status changes push down to children")),
		),
		"get_task": mcp.NewTool("get_task",
			mcp.WithDescription("Retrieve a task, optionally with its nested subtree."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to read")),
			mcp.WithBoolean("include_children", mcp.Description("Return the full subtree nested")),
		),
		"update_task": mcp.NewTool("update_task",
			mcp.WithDescription("Update task fields, including re-parenting within the hierarchy."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to update")),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("description", mcp.Description("New description")),
			mcp.WithNumber("priority", mcp.Description("New priority")),
			mcp.WithNumber("progress", mcp.Description("New progress in [0.0, 1.0]")),
			mcp.WithString("due_date", mcp.Description("New due date")),
			mcp.WithBoolean("propagate_status", mcp.Description("New propagation flag")),
			mcp.WithString("parent_id", mcp.Description("New parent id; null detaches the task")),
		),
		"update_task_status": mcp.NewTool("update_task_status",
			mcp.WithDescription("Set a task's status, propagating it down the subtree by default."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to update")),
			mcp.WithString("status", mcp.Required(), mcp.Description("todo, doing, blocked, review, done or cancelled")),
			mcp.WithNumber("progress", mcp.Description("Explicit progress in [0.0, 1.0]")),
			mcp.WithBoolean("propagate", mcp.Description("Push the status down, true by default")),
		),
		"recompute_task_status": mcp.NewTool("recompute_task_status",
			mcp.WithDescription("Derive a task's status from its children and apply it."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to recompute")),
		),
		"task_progress": mcp.NewTool("task_progress",
			mcp.WithDescription("Compute a task's aggregated progress across its subtree."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to measure")),
		),
		"task_path": mcp.NewTool("task_path",
			mcp.WithDescription("Return the chain of tasks from the root down to a task."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to locate")),
		),
		"list_tasks": mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks filtered by session, parent, status or level."),
			mcp.WithString("session_id", mcp.Description("Filter by owning session")),
			mcp.WithString("parent_id", mcp.Description("Filter by parent task")),
			mcp.WithBoolean("roots_only", mcp.Description("Only tasks without a parent")),
			mcp.WithString("status", mcp.Description("Filter by task status")),
			mcp.WithString("level", mcp.Description("Filter by hierarchy level")),
			mcp.WithNumber("limit", mcp.Description("Page size, 100 by default")),
		),
		"delete_task": mcp.NewTool("delete_task",
			mcp.WithDescription("Delete a task and its entire subtree."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to delete")),
		),
		"scan_markers": mcp.NewTool("scan_markers",
			mcp.WithDescription("Scan a source tree for TODO/FIXME style markers."),
			mcp.WithString("path", mcp.Description("Directory to scan, . by default")),
			mcp.WithString("include_pattern", mcp.Description("Comma-separated glob patterns to include")),
			mcp.WithString("exclude_pattern", mcp.Description("Comma-separated glob patterns to exclude")),
			mcp.WithArray("marker_types", mcp.Description("Marker types to search for, all by default")),
			mcp.WithArray("ignore_dirs", mcp.Description("Extra directory names to skip")),
			mcp.WithNumber("max_results", mcp.Description("Cap on findings, 100 by default")),
			mcp.WithString("session_id", mcp.Description("Persist findings as open markers on this session")),
		),
		"list_markers": mcp.NewTool("list_markers",
			mcp.WithDescription("List persisted code markers with filters."),
			mcp.WithString("session_id", mcp.Description("Filter by session")),
			mcp.WithString("task_id", mcp.Description("Filter by task")),
			mcp.WithString("status", mcp.Description("Filter by marker status")),
			mcp.WithString("type", mcp.Description("Filter by marker type")),
			mcp.WithString("file_path", mcp.Description("Filter by file path")),
			mcp.WithNumber("limit", mcp.Description("Page size, 100 by default")),
		),
		"resolve_marker": mcp.NewTool("resolve_marker",
			mcp.WithDescription("Move a persisted marker to a resolution status."),
			mcp.WithString("marker_id", mcp.Required(), mcp.Description("Marker to resolve")),
			mcp.WithString("status", mcp.Description("open, in_progress, resolved (default) or wont_fix")),
		),
	}
}

// NewMCP exposes every wire method as an MCP tool on a stdio server. Each
// tool call is marshaled back into raw params and dispatched through the
// same handler the line protocol uses, so both surfaces share behavior
// exactly.
func NewMCP(h *tools.Handlers, version string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(
		"cortex",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	defs := mcpToolDefs()
	for name, handler := range h.Routes() {
		tool, ok := defs[name]
		if !ok {
			tool = mcp.NewTool(name)
		}
		s.AddTool(tool, bridgeHandler(handler))
	}

	return s
}

// ServeMCPStdio runs the MCP server over stdio until the client
// disconnects.
func ServeMCPStdio(s *mcpserver.MCPServer) error {
	return mcpserver.ServeStdio(s)
}

// bridgeHandler adapts a wire handler to the MCP tool contract: the tool
// arguments become the params object and the result payload is returned
// as JSON text.
func bridgeHandler(handler tools.HandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		result := handler(params)
		data, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to serialize result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
