package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// createdTimestampKey is the metadata key stamped on every new session to
// record creation time independently of the session row itself.
const createdTimestampKey = "cortex_created_timestamp"

// CreateSessionParams holds the input for starting a session.
type CreateSessionParams struct {
	Name        string         `json:"name"`
	Objective   string         `json:"objective,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ListSessionsOptions holds pagination, filter and ordering for ListSessions.
type ListSessionsOptions struct {
	Limit    int
	Offset   int
	Status   string
	OrderBy  string
	OrderDir string
}

// SessionPage is one page of sessions with the total count.
type SessionPage struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
	HasMore  bool      `json:"has_more"`
}

// sessionOrderColumns whitelists the fields ListSessions may sort by.
var sessionOrderColumns = map[string]string{
	"name":         "name",
	"status":       "status",
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"completed_at": "completed_at",
}

// CreateSession starts a new session with status active, persisting any
// caller metadata and stamping the internal creation-time marker. Metadata
// values that are maps or slices are stored as structured JSON; everything
// else is stored as text.
func (s *Store) CreateSession(p CreateSessionParams) (*Session, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("session name is required: %w", ErrValidation)
	}

	id := uuid.NewString()
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO sessions (id, name, description, objective, status) VALUES (?, ?, ?, ?, ?)`,
			id, p.Name, nullableString(p.Description), nullableString(p.Objective), SessionActive,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		for key, value := range p.Metadata {
			if err := insertMetadata(tx, id, key, value); err != nil {
				return err
			}
		}

		return insertMetadata(tx, id, createdTimestampKey, Now())
	})
	if err != nil {
		return nil, err
	}

	return s.GetSession(id)
}

// EndSession sets a session's final status. Only completed sets the
// completion timestamp; any other status clears it. A non-empty summary is
// appended as a metadata entry.
func (s *Store) EndSession(id string, status SessionStatus, summary string) (*Session, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("status %q must be one of %v: %w", status, SessionStatuses, ErrValidation)
	}

	err := s.withTx(func(tx *sql.Tx) error {
		var completedAt any
		if status == SessionCompleted {
			completedAt = Now()
		}

		res, err := tx.Exec(
			`UPDATE sessions SET status = ?, completed_at = ?, updated_at = datetime('now') WHERE id = ?`,
			status, completedAt, id,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %q: %w", id, ErrNotFound)
		}

		if summary != "" {
			return insertMetadata(tx, id, "summary", summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetSession(id)
}

// GetSession retrieves a session by ID, including message and task counts.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT s.id, s.name, s.description, s.objective, s.status,
		        s.created_at, s.updated_at, s.completed_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
		        (SELECT COUNT(*) FROM tasks t WHERE t.session_id = s.id)
		 FROM sessions s WHERE s.id = ?`, id,
	)

	var sess Session
	err := row.Scan(
		&sess.ID, &sess.Name, &sess.Description, &sess.Objective, &sess.Status,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.CompletedAt,
		&sess.MessageCount, &sess.TaskCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns one page of sessions. Ordering defaults to
// descending updated_at; order_by is validated against a column whitelist.
func (s *Store) ListSessions(opts ListSessionsOptions) (*SessionPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if opts.Status != "" {
		status := SessionStatus(opts.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("status %q must be one of %v: %w", opts.Status, SessionStatuses, ErrValidation)
		}
		where = " WHERE status = ?"
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sessions"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	column, ok := sessionOrderColumns[opts.OrderBy]
	if !ok {
		column = "updated_at"
	}
	dir := "DESC"
	if strings.EqualFold(opts.OrderDir, "asc") {
		dir = "ASC"
	}

	query := `SELECT s.id, s.name, s.description, s.objective, s.status,
	                 s.created_at, s.updated_at, s.completed_at,
	                 (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
	                 (SELECT COUNT(*) FROM tasks t WHERE t.session_id = s.id)
	          FROM sessions s` + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", column, dir)
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	page := &SessionPage{Sessions: []Session{}, Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(
			&sess.ID, &sess.Name, &sess.Description, &sess.Objective, &sess.Status,
			&sess.CreatedAt, &sess.UpdatedAt, &sess.CompletedAt,
			&sess.MessageCount, &sess.TaskCount,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		page.Sessions = append(page.Sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page.HasMore = offset+len(page.Sessions) < total
	return page, nil
}

// ─── Metadata ────────────────────────────────────────────────────────────────

// SessionMetadataList returns all metadata entries for a session in
// insertion order.
func (s *Store) SessionMetadataList(sessionID string) ([]SessionMetadata, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, key, value_text, value_json, created_at, updated_at
		 FROM session_metadata WHERE session_id = ? ORDER BY created_at, key`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	var result []SessionMetadata
	for rows.Next() {
		var m SessionMetadata
		var valueJSON *string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Key, &m.ValueText, &valueJSON, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		if valueJSON != nil {
			m.ValueJSON = json.RawMessage(*valueJSON)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// insertMetadata writes one metadata row, tagging the value as structured
// JSON or raw text based on its shape.
func insertMetadata(tx *sql.Tx, sessionID, key string, value any) error {
	var valueText, valueJSON any

	switch v := value.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal metadata %q: %w", key, err)
		}
		valueJSON = string(raw)
	case string:
		valueText = v
	default:
		valueText = fmt.Sprintf("%v", v)
	}

	if _, err := tx.Exec(
		`INSERT INTO session_metadata (id, session_id, key, value_text, value_json) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, key, valueText, valueJSON,
	); err != nil {
		return fmt.Errorf("insert metadata %q: %w", key, err)
	}
	return nil
}
