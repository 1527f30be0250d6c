package tools

import (
	"encoding/json"

	"github.com/cortex-mcp/cortex/internal/store"
)

// RecordMessage appends a message to a session's ledger.
func (h *Handlers) RecordMessage(params json.RawMessage) any {
	var p store.RecordMessageParams
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	msg, err := h.store.RecordMessage(p)
	if err != nil {
		return h.failure(err)
	}

	h.log.Debug("message recorded",
		"session_id", msg.SessionID, "role", msg.Role, "sequence", msg.Sequence)
	return map[string]any{
		"success":    true,
		"message":    msg,
		"session_id": msg.SessionID,
	}
}

// GetContext returns a chronological window of a session's recent
// messages, shaped per the requested format: "cursor" (default, wire
// message shape with only the populated fields), "dict" (full records),
// or "raw" (id, role, content, sequence).
func (h *Handlers) GetContext(params json.RawMessage) any {
	var p struct {
		SessionID string `json:"session_id"`
		Limit     int    `json:"limit"`
		Offset    int    `json:"offset"`
		Format    string `json:"format"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}
	if p.Limit <= 0 {
		p.Limit = h.Defaults.ContextLimit
	}

	page, err := h.store.GetContext(p.SessionID, p.Limit, p.Offset)
	if err != nil {
		return h.failure(err)
	}

	var formatted []any
	switch p.Format {
	case "dict":
		for i := range page.Messages {
			formatted = append(formatted, page.Messages[i])
		}
	case "raw":
		for _, m := range page.Messages {
			formatted = append(formatted, map[string]any{
				"id":       m.ID,
				"role":     m.Role,
				"content":  m.Content,
				"sequence": m.Sequence,
			})
		}
	default: // cursor
		for _, m := range page.Messages {
			formatted = append(formatted, cursorMessage(m))
		}
	}
	if formatted == nil {
		formatted = []any{}
	}

	return map[string]any{
		"success":        true,
		"messages":       formatted,
		"session_id":     p.SessionID,
		"session_name":   page.SessionName,
		"total_messages": page.Total,
		"has_more":       page.HasMore,
	}
}

// cursorMessage renders a message in the Cursor/OpenAI wire shape,
// including only the fields that are set.
func cursorMessage(m store.Message) map[string]any {
	out := map[string]any{"role": m.Role}
	if m.Content != nil && *m.Content != "" {
		out["content"] = *m.Content
	}
	if m.Name != nil && *m.Name != "" {
		out["name"] = *m.Name
	}
	if len(m.Tools) > 0 {
		out["tools"] = m.Tools
	}
	if len(m.ToolCalls) > 0 {
		out["tool_calls"] = m.ToolCalls
	}
	if len(m.FunctionCall) > 0 {
		out["function_call"] = m.FunctionCall
	}
	return out
}

// SummarizeConversation is a placeholder: it validates the session but
// summary generation is not wired to a model yet.
func (h *Handlers) SummarizeConversation(params json.RawMessage) any {
	var p struct {
		SessionID string `json:"session_id"`
		MaxTokens int    `json:"max_tokens"`
	}
	if err := decode(params, &p); err != nil {
		return h.badParams(err)
	}

	session, err := h.store.GetSession(p.SessionID)
	if err != nil {
		return h.failure(err)
	}

	return map[string]any{
		"success":      false,
		"error":        codeNotImplemented,
		"message":      "automatic summarization is not available yet",
		"session_id":   session.ID,
		"session_name": session.Name,
	}
}
