package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AddMarkerParams describes one code annotation to persist.
type AddMarkerParams struct {
	SessionID  string          `json:"session_id,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	Type       MarkerType      `json:"type"`
	FilePath   string          `json:"file_path"`
	LineNumber int             `json:"line_number"`
	Content    string          `json:"content"`
	FullLine   string          `json:"full_line,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ListMarkersOptions filters ListMarkers. Empty fields match everything.
type ListMarkersOptions struct {
	SessionID string
	TaskID    string
	Status    string
	Type      string
	FilePath  string
	Limit     int
}

// AddMarkers persists a batch of markers in one transaction, all with
// status open. Returns the stored markers in input order.
func (s *Store) AddMarkers(params []AddMarkerParams) ([]Marker, error) {
	for _, p := range params {
		if !p.Type.Valid() {
			return nil, fmt.Errorf("marker type %q is not recognized: %w", p.Type, ErrValidation)
		}
		if p.FilePath == "" {
			return nil, fmt.Errorf("marker file_path is required: %w", ErrValidation)
		}
	}

	ids := make([]string, len(params))
	err := s.withTx(func(tx *sql.Tx) error {
		for i, p := range params {
			ids[i] = uuid.NewString()
			if _, err := tx.Exec(
				`INSERT INTO markers (id, session_id, task_id, type, status, file_path, line_number, content, full_line, metadata)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ids[i], nullableString(p.SessionID), nullableString(p.TaskID),
				p.Type, MarkerOpen, p.FilePath, p.LineNumber, p.Content,
				nullableString(p.FullLine), nullableJSON(p.Metadata),
			); err != nil {
				return fmt.Errorf("insert marker: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	markers := make([]Marker, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMarker(id)
		if err != nil {
			return nil, err
		}
		markers = append(markers, *m)
	}
	return markers, nil
}

// GetMarker retrieves a single marker by ID.
func (s *Store) GetMarker(id string) (*Marker, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, task_id, type, status, file_path, line_number, content, full_line, metadata,
		        created_at, updated_at, resolved_at
		 FROM markers WHERE id = ?`, id,
	)
	m, err := scanMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("marker %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get marker: %w", err)
	}
	return m, nil
}

// ListMarkers returns markers matching the filters, newest first. The
// default page size is 100.
func (s *Store) ListMarkers(opts ListMarkersOptions) ([]Marker, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	where := " WHERE 1=1"
	args := []any{}
	if opts.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.TaskID != "" {
		where += " AND task_id = ?"
		args = append(args, opts.TaskID)
	}
	if opts.Status != "" {
		status := MarkerStatus(opts.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("marker status %q is not recognized: %w", opts.Status, ErrValidation)
		}
		where += " AND status = ?"
		args = append(args, status)
	}
	if opts.Type != "" {
		typ := MarkerType(opts.Type)
		if !typ.Valid() {
			return nil, fmt.Errorf("marker type %q is not recognized: %w", opts.Type, ErrValidation)
		}
		where += " AND type = ?"
		args = append(args, typ)
	}
	if opts.FilePath != "" {
		where += " AND file_path = ?"
		args = append(args, opts.FilePath)
	}

	args = append(args, limit)
	rows, err := s.db.Query(
		`SELECT id, session_id, task_id, type, status, file_path, line_number, content, full_line, metadata,
		        created_at, updated_at, resolved_at
		 FROM markers`+where+` ORDER BY created_at DESC, file_path, line_number LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()

	markers := []Marker{}
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		markers = append(markers, *m)
	}
	return markers, rows.Err()
}

// ResolveMarker moves a marker to a new resolution status. Only resolved
// stamps resolved_at; any other status clears it.
func (s *Store) ResolveMarker(id string, status MarkerStatus) (*Marker, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("marker status %q is not recognized: %w", status, ErrValidation)
	}

	var resolvedAt any
	if status == MarkerResolved {
		resolvedAt = Now()
	}

	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE markers SET status = ?, resolved_at = ?, updated_at = datetime('now') WHERE id = ?`,
			status, resolvedAt, id,
		)
		if err != nil {
			return fmt.Errorf("resolve marker: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("marker %q: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetMarker(id)
}

func scanMarker(row rowScanner) (*Marker, error) {
	var m Marker
	var metadata *string
	if err := row.Scan(
		&m.ID, &m.SessionID, &m.TaskID, &m.Type, &m.Status,
		&m.FilePath, &m.LineNumber, &m.Content, &m.FullLine, &metadata,
		&m.CreatedAt, &m.UpdatedAt, &m.ResolvedAt,
	); err != nil {
		return nil, err
	}
	if metadata != nil {
		m.Metadata = json.RawMessage(*metadata)
	}
	return &m, nil
}
