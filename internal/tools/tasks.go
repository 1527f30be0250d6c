package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cortex-mcp/cortex/internal/store"
)

// CreateTask creates a task, optionally attached to a session and parent.
func (h *Handlers) CreateTask(params json.RawMessage) any {
	var p store.CreateTaskParams
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	task, err := h.store.CreateTask(p)
	if err != nil {
		return h.failure(err)
	}

	h.log.Info("task created", "task_id", task.ID, "title", task.Title, "level", task.Level)
	return map[string]any{
		"success": true,
		"task":    task,
		"message": fmt.Sprintf("task %q created with id %s", task.Title, task.ID),
	}
}

// GetTask retrieves a task, optionally with its full subtree nested.
// Without the subtree only the direct children count comes along.
func (h *Handlers) GetTask(params json.RawMessage) any {
	var p struct {
		TaskID          string `json:"task_id"`
		IncludeChildren bool   `json:"include_children"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	if p.IncludeChildren {
		tree, err := h.store.GetSubtree(p.TaskID)
		if err != nil {
			return h.failure(err)
		}
		return map[string]any{"success": true, "task": tree}
	}

	task, err := h.store.GetTask(p.TaskID)
	if err != nil {
		return h.failure(err)
	}
	count, err := h.store.CountChildren(task.ID)
	if err != nil {
		return h.failure(err)
	}
	return map[string]any{
		"success":        true,
		"task":           task,
		"children_count": count,
	}
}

// UpdateTask applies field-level changes. parent_id distinguishes three
// cases: absent leaves the parent alone, null detaches the task to the
// forest root, and a string re-parents it (with a cycle check).
func (h *Handlers) UpdateTask(params json.RawMessage) any {
	var p struct {
		TaskID          string          `json:"task_id"`
		Title           *string         `json:"title"`
		Description     *string         `json:"description"`
		Priority        *int            `json:"priority"`
		Progress        *float64        `json:"progress"`
		DueDate         *string         `json:"due_date"`
		PropagateStatus *bool           `json:"propagate_status"`
		ParentID        json.RawMessage `json:"parent_id"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	fields := store.UpdateTaskFields{
		Title:           p.Title,
		Description:     p.Description,
		Priority:        p.Priority,
		Progress:        p.Progress,
		DueDate:         p.DueDate,
		PropagateStatus: p.PropagateStatus,
	}
	switch {
	case len(p.ParentID) == 0:
		// absent: no change
	case bytes.Equal(p.ParentID, []byte("null")):
		fields.ClearParent = true
	default:
		var parent string
		if err := json.Unmarshal(p.ParentID, &parent); err != nil {
			return h.badParams(fmt.Errorf("parent_id must be a string or null: %w", err))
		}
		fields.ParentID = &parent
	}

	task, err := h.store.UpdateTask(p.TaskID, fields)
	if err != nil {
		return h.failure(err)
	}

	h.log.Info("task updated", "task_id", task.ID)
	return map[string]any{
		"success": true,
		"task":    task,
		"message": fmt.Sprintf("task %q updated", task.Title),
	}
}

// UpdateTaskStatus sets a task's status, by default propagating it down
// the subtree.
func (h *Handlers) UpdateTaskStatus(params json.RawMessage) any {
	var p struct {
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		Progress  *float64 `json:"progress"`
		Propagate *bool    `json:"propagate"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	propagate := true
	if p.Propagate != nil {
		propagate = *p.Propagate
	}

	task, touched, err := h.store.UpdateTaskStatus(p.TaskID, store.TaskStatus(p.Status), p.Progress, propagate)
	if err != nil {
		return h.failure(err)
	}

	h.log.Info("task status updated",
		"task_id", task.ID, "status", task.Status, "touched", touched, "propagated", propagate)
	return map[string]any{
		"success":       true,
		"task":          task,
		"updated_count": touched,
		"propagated":    propagate,
	}
}

// RecomputeTaskStatus derives the task's status from its children and
// applies it to the task only.
func (h *Handlers) RecomputeTaskStatus(params json.RawMessage) any {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	task, changed, err := h.store.RecomputeTaskStatus(p.TaskID)
	if err != nil {
		return h.failure(err)
	}

	return map[string]any{
		"success": true,
		"task":    task,
		"changed": changed,
	}
}

// TaskProgress returns a task's aggregated progress.
func (h *Handlers) TaskProgress(params json.RawMessage) any {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	progress, err := h.store.CalculateProgress(p.TaskID)
	if err != nil {
		return h.failure(err)
	}

	return map[string]any{
		"success":  true,
		"task_id":  p.TaskID,
		"progress": progress,
	}
}

// TaskPath returns the chain from the forest root down to the task.
func (h *Handlers) TaskPath(params json.RawMessage) any {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	chain, err := h.store.TaskPath(p.TaskID)
	if err != nil {
		return h.failure(err)
	}

	path := make([]map[string]any, 0, len(chain))
	titles := make([]string, 0, len(chain))
	for _, t := range chain {
		path = append(path, map[string]any{
			"id":     t.ID,
			"title":  t.Title,
			"level":  t.Level,
			"status": t.Status,
		})
		titles = append(titles, t.Title)
	}

	return map[string]any{
		"success": true,
		"task_id": p.TaskID,
		"path":    path,
		"display": strings.Join(titles, " > "),
		"depth":   len(path),
	}
}

// ListTasks returns tasks matching the filters.
func (h *Handlers) ListTasks(params json.RawMessage) any {
	var p struct {
		SessionID string `json:"session_id"`
		ParentID  string `json:"parent_id"`
		RootsOnly bool   `json:"roots_only"`
		Status    string `json:"status"`
		Level     string `json:"level"`
		Limit     int    `json:"limit"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	tasks, err := h.store.ListTasks(store.ListTasksOptions{
		SessionID: p.SessionID,
		ParentID:  p.ParentID,
		RootsOnly: p.RootsOnly,
		Status:    p.Status,
		Level:     p.Level,
		Limit:     p.Limit,
	})
	if err != nil {
		return h.failure(err)
	}

	return map[string]any{
		"success": true,
		"tasks":   tasks,
		"total":   len(tasks),
	}
}

// DeleteTask removes a task and its entire subtree.
func (h *Handlers) DeleteTask(params json.RawMessage) any {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	removed, err := h.store.DeleteTask(p.TaskID)
	if err != nil {
		return h.failure(err)
	}

	h.log.Info("task deleted", "task_id", p.TaskID, "removed", removed)
	return map[string]any{
		"success":       true,
		"deleted_count": removed,
		"message":       fmt.Sprintf("deleted %d task(s)", removed),
	}
}
