package tools

import (
	"encoding/json"
	"fmt"

	"github.com/cortex-mcp/cortex/internal/store"
)

// StartSession creates a new active session.
func (h *Handlers) StartSession(params json.RawMessage) any {
	var p store.CreateSessionParams
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	session, err := h.store.CreateSession(p)
	if err != nil {
		return h.failure(err)
	}

	h.log.Info("session started", "session_id", session.ID, "name", session.Name)
	return map[string]any{
		"success": true,
		"session": session,
		"message": fmt.Sprintf("session %q started with id %s", session.Name, session.ID),
	}
}

// EndSession closes a session with a final status, completed by default.
func (h *Handlers) EndSession(params json.RawMessage) any {
	var p struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		Summary   string `json:"summary"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}
	if p.Status == "" {
		p.Status = string(store.SessionCompleted)
	}

	session, err := h.store.EndSession(p.SessionID, store.SessionStatus(p.Status), p.Summary)
	if err != nil {
		return h.failure(err)
	}

	h.log.Info("session ended", "session_id", session.ID, "status", session.Status)
	return map[string]any{
		"success": true,
		"session": session,
		"message": fmt.Sprintf("session %q ended with status %s", session.Name, session.Status),
	}
}

// ListSessions returns one page of sessions.
func (h *Handlers) ListSessions(params json.RawMessage) any {
	var p struct {
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
		Status   string `json:"status"`
		OrderBy  string `json:"order_by"`
		OrderDir string `json:"order_dir"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	page, err := h.store.ListSessions(store.ListSessionsOptions{
		Limit:    p.Limit,
		Offset:   p.Offset,
		Status:   p.Status,
		OrderBy:  p.OrderBy,
		OrderDir: p.OrderDir,
	})
	if err != nil {
		return h.failure(err)
	}

	return map[string]any{
		"success":  true,
		"sessions": page.Sessions,
		"total":    page.Total,
		"limit":    page.Limit,
		"offset":   page.Offset,
		"has_more": page.HasMore,
	}
}
