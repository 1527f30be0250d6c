// Package tools implements the request handlers behind the wire methods.
//
// Handlers decode their params, call into the store or scanner, and build
// the result payload. Domain failures never surface as Go errors: they are
// classified into an error code and returned as a structured
// {success: false, error, message} payload, so the protocol layer only
// deals in transport concerns.
package tools

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/cortex-mcp/cortex/internal/store"
)

// Error codes carried in failure payloads.
const (
	codeValidation     = "validation_error"
	codeNotFound       = "not_found"
	codeState          = "state_error"
	codeCycle          = "cycle_error"
	codeStorage        = "storage_error"
	codeNotImplemented = "not_implemented"
)

// HandlerFunc consumes raw request params and produces a result payload.
type HandlerFunc func(params json.RawMessage) any

// Defaults are request-level fallbacks applied when params omit a value.
// Zero fields mean the built-in defaults of the store and scanner apply.
type Defaults struct {
	ContextLimit   int
	ScanMaxResults int
	ScanIgnoreDirs []string
}

// Handlers bundles the state every wire method needs.
type Handlers struct {
	store *store.Store
	log   *slog.Logger

	// Defaults may be set before serving to apply configured fallbacks.
	Defaults Defaults
}

// New builds the handler set over an open store.
func New(st *store.Store, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{store: st, log: log}
}

// Routes maps every wire method name to its handler.
func (h *Handlers) Routes() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"start_session":          h.StartSession,
		"end_session":            h.EndSession,
		"list_sessions":          h.ListSessions,
		"record_message":         h.RecordMessage,
		"get_context":            h.GetContext,
		"summarize_conversation": h.SummarizeConversation,
		"create_task":            h.CreateTask,
		"get_task":               h.GetTask,
		"update_task":            h.UpdateTask,
		"update_task_status":     h.UpdateTaskStatus,
		"recompute_task_status":  h.RecomputeTaskStatus,
		"task_progress":          h.TaskProgress,
		"task_path":              h.TaskPath,
		"list_tasks":             h.ListTasks,
		"delete_task":            h.DeleteTask,
		"scan_markers":           h.ScanMarkers,
		"list_markers":           h.ListMarkers,
		"resolve_marker":         h.ResolveMarker,
	}
}

// failure classifies err into an error code and builds the failure
// payload. Unclassified errors are storage-level.
func (h *Handlers) failure(err error) map[string]any {
	code := codeStorage
	switch {
	case errors.Is(err, store.ErrValidation):
		code = codeValidation
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		code = codeNotFound
	case errors.Is(err, store.ErrState):
		code = codeState
	case errors.Is(err, store.ErrCycle):
		code = codeCycle
	}
	if code == codeStorage {
		h.log.Error("operation failed", "error", err)
	}
	return map[string]any{
		"success": false,
		"error":   code,
		"message": err.Error(),
	}
}

// badParams is the failure for params that don't decode.
func (h *Handlers) badParams(err error) map[string]any {
	return map[string]any{
		"success": false,
		"error":   codeValidation,
		"message": "invalid params: " + err.Error(),
	}
}

// decode unmarshals params into v, treating empty params as an empty
// object.
func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}
