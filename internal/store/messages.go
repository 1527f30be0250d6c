package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RecordMessageParams holds the input for appending a message to a
// session's ledger.
type RecordMessageParams struct {
	SessionID    string          `json:"session_id"`
	Role         MessageRole     `json:"role"`
	Content      string          `json:"content,omitempty"`
	Name         string          `json:"name,omitempty"`
	Tools        json.RawMessage `json:"tools,omitempty"`
	ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
	TokenCount   *int            `json:"token_count,omitempty"`
}

// ContextPage is a chronological window of a session's messages.
type ContextPage struct {
	Messages    []Message
	SessionName string
	Total       int
	HasMore     bool
}

// RecordMessage appends a message to a session's ledger. The session must
// exist and be active. The sequence is assigned as 1 + the session's
// current maximum (-1 when empty, so the first message gets 0), keeping
// the per-session order strictly increasing.
func (s *Store) RecordMessage(p RecordMessageParams) (*Message, error) {
	if !p.Role.Valid() {
		return nil, fmt.Errorf("role %q must be one of %v: %w", p.Role, MessageRoles, ErrValidation)
	}

	id := uuid.NewString()
	err := s.withTx(func(tx *sql.Tx) error {
		var name string
		var status SessionStatus
		err := tx.QueryRow(`SELECT name, status FROM sessions WHERE id = ?`, p.SessionID).Scan(&name, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %q: %w", p.SessionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup session: %w", err)
		}
		if status != SessionActive {
			return fmt.Errorf("session %q has status %q, messages require an active session: %w",
				name, status, ErrState)
		}

		var sequence int
		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(sequence), -1) + 1 FROM messages WHERE session_id = ?`, p.SessionID,
		).Scan(&sequence); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		if _, err := tx.Exec(
			`INSERT INTO messages (id, session_id, role, content, name, tools, tool_calls, function_call, token_count, sequence)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, p.SessionID, p.Role,
			nullableString(p.Content), nullableString(p.Name),
			nullableJSON(p.Tools), nullableJSON(p.ToolCalls), nullableJSON(p.FunctionCall),
			nullableInt(p.TokenCount), sequence,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		if _, err := tx.Exec(
			`UPDATE sessions SET updated_at = datetime('now') WHERE id = ?`, p.SessionID,
		); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetMessage(id)
}

// GetMessage retrieves a single message by ID.
func (s *Store) GetMessage(id string) (*Message, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, role, content, name, tools, tool_calls, function_call, token_count, sequence, created_at
		 FROM messages WHERE id = ?`, id,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// GetContext returns the `limit` most recent messages after skipping
// `offset` (counted from the newest), reversed into chronological order.
func (s *Store) GetContext(sessionID string, limit, offset int) (*ContextPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var name string
	err := s.db.QueryRow(`SELECT name FROM sessions WHERE id = ?`, sessionID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	var total int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, name, tools, tool_calls, function_call, token_count, sequence, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY sequence DESC LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &ContextPage{
		Messages:    messages,
		SessionName: name,
		Total:       total,
		HasMore:     offset+len(messages) < total,
	}, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var tools, toolCalls, functionCall *string
	if err := row.Scan(
		&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Name,
		&tools, &toolCalls, &functionCall,
		&m.TokenCount, &m.Sequence, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	if tools != nil {
		m.Tools = json.RawMessage(*tools)
	}
	if toolCalls != nil {
		m.ToolCalls = json.RawMessage(*toolCalls)
	}
	if functionCall != nil {
		m.FunctionCall = json.RawMessage(*functionCall)
	}
	return &m, nil
}
