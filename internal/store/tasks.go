package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateTaskParams holds the input for creating a task.
type CreateTaskParams struct {
	SessionID       string     `json:"session_id,omitempty"`
	ParentID        string     `json:"parent_id,omitempty"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Level           TaskLevel  `json:"level,omitempty"`
	Status          TaskStatus `json:"status,omitempty"`
	Priority        int        `json:"priority,omitempty"`
	DueDate         string     `json:"due_date,omitempty"`
	PropagateStatus *bool      `json:"propagate_status,omitempty"`
}

// UpdateTaskFields holds the optional field changes for UpdateTask. Nil
// pointers leave the column untouched; ClearParent detaches the task to
// the root of the forest.
type UpdateTaskFields struct {
	Title           *string
	Description     *string
	Priority        *int
	Progress        *float64
	DueDate         *string
	PropagateStatus *bool
	ParentID        *string
	ClearParent     bool
}

// ListTasksOptions filters ListTasks. Empty fields match everything.
type ListTasksOptions struct {
	SessionID string
	ParentID  string
	RootsOnly bool
	Status    string
	Level     string
	Limit     int
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const taskColumns = `id, session_id, parent_id, title, description, level, status,
	priority, progress, propagate_status, created_at, updated_at, started_at, completed_at, due_date`

// CreateTask inserts a new task. The level defaults to "task" and the
// status to "todo"; the referenced session and parent must exist.
func (s *Store) CreateTask(p CreateTaskParams) (*Task, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("task title is required: %w", ErrValidation)
	}
	if p.Level == "" {
		p.Level = LevelTask
	}
	if !p.Level.Valid() {
		return nil, fmt.Errorf("level %q must be one of [phase stage task activity]: %w", p.Level, ErrValidation)
	}
	if p.Status == "" {
		p.Status = StatusTodo
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("status %q is not a recognized task status: %w", p.Status, ErrValidation)
	}

	propagate := true
	if p.PropagateStatus != nil {
		propagate = *p.PropagateStatus
	}

	id := uuid.NewString()
	err := s.withTx(func(tx *sql.Tx) error {
		if p.SessionID != "" {
			var one int
			err := tx.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, p.SessionID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("session %q: %w", p.SessionID, ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("lookup session: %w", err)
			}
		}
		if p.ParentID != "" {
			var one int
			err := tx.QueryRow(`SELECT 1 FROM tasks WHERE id = ?`, p.ParentID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("parent task %q: %w", p.ParentID, ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("lookup parent: %w", err)
			}
		}

		progress := 0.0
		var startedAt, completedAt any
		if p.Status == StatusDoing {
			startedAt = Now()
		}
		if p.Status == StatusDone {
			completedAt = Now()
			progress = 1.0
		}

		if _, err := tx.Exec(
			`INSERT INTO tasks (id, session_id, parent_id, title, description, level, status,
			                    priority, progress, propagate_status, started_at, completed_at, due_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, nullableString(p.SessionID), nullableString(p.ParentID),
			p.Title, nullableString(p.Description), p.Level, p.Status,
			p.Priority, progress, boolToInt(propagate),
			startedAt, completedAt, nullableString(p.DueDate),
		); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetTask(id)
}

// GetTask retrieves a single task by ID.
func (s *Store) GetTask(id string) (*Task, error) {
	return getTask(s.db, id)
}

func getTask(q querier, id string) (*Task, error) {
	row := q.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// CountChildren returns the number of direct children of a task.
func (s *Store) CountChildren(id string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE parent_id = ?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	return n, nil
}

// GetSubtree returns the task and all of its descendants nested as a tree.
func (s *Store) GetSubtree(id string) (*TaskTree, error) {
	tasks, err := loadSubtree(s.db, id)
	if err != nil {
		return nil, err
	}
	root := buildTree(tasks, id)
	if root == nil {
		return nil, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	sortChildren(root)
	return toTree(root), nil
}

// ListTasks returns tasks matching the filters, ordered by priority
// descending then creation time. The default page size is 100.
func (s *Store) ListTasks(opts ListTasksOptions) ([]Task, error) {
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
	switch {
	case opts.ParentID != "":
		where += " AND parent_id = ?"
		args = append(args, opts.ParentID)
	case opts.RootsOnly:
		where += " AND parent_id IS NULL"
	}
	if opts.Status != "" {
		status := TaskStatus(opts.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("status %q is not a recognized task status: %w", opts.Status, ErrValidation)
		}
		where += " AND status = ?"
		args = append(args, status)
	}
	if opts.Level != "" {
		level := TaskLevel(opts.Level)
		if !level.Valid() {
			return nil, fmt.Errorf("level %q must be one of [phase stage task activity]: %w", opts.Level, ErrValidation)
		}
		where += " AND level = ?"
		args = append(args, level)
	}

	args = append(args, limit)
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY priority DESC, created_at LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTask applies field-level changes to a task. Re-parenting walks the
// prospective ancestor chain and rejects any move that would make the task
// its own ancestor.
func (s *Store) UpdateTask(id string, fields UpdateTaskFields) (*Task, error) {
	err := s.withTx(func(tx *sql.Tx) error {
		t, err := getTask(tx, id)
		if err != nil {
			return err
		}

		if fields.Title != nil {
			if *fields.Title == "" {
				return fmt.Errorf("task title is required: %w", ErrValidation)
			}
			t.Title = *fields.Title
		}
		if fields.Description != nil {
			t.Description = fields.Description
		}
		if fields.Priority != nil {
			t.Priority = *fields.Priority
		}
		if fields.Progress != nil {
			if *fields.Progress < 0 || *fields.Progress > 1 {
				return fmt.Errorf("progress %v must be within [0.0, 1.0]: %w", *fields.Progress, ErrValidation)
			}
			t.Progress = *fields.Progress
		}
		if fields.DueDate != nil {
			t.DueDate = fields.DueDate
		}
		if fields.PropagateStatus != nil {
			t.PropagateStatus = *fields.PropagateStatus
		}
		switch {
		case fields.ClearParent:
			t.ParentID = nil
		case fields.ParentID != nil:
			if err := checkNoCycle(tx, id, *fields.ParentID); err != nil {
				return err
			}
			t.ParentID = fields.ParentID
		}

		if _, err := tx.Exec(
			`UPDATE tasks SET parent_id = ?, title = ?, description = ?, priority = ?,
			        progress = ?, propagate_status = ?, due_date = ?, updated_at = datetime('now')
			 WHERE id = ?`,
			nullablePtr(t.ParentID), t.Title, nullablePtr(t.Description), t.Priority,
			t.Progress, boolToInt(t.PropagateStatus), nullablePtr(t.DueDate), id,
		); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetTask(id)
}

// checkNoCycle verifies that newParentID is not the task itself or any of
// the task's descendants, by walking up from the new parent to the root.
// The visited set terminates the walk even on corrupt parent chains.
func checkNoCycle(tx *sql.Tx, taskID, newParentID string) error {
	if newParentID == taskID {
		return fmt.Errorf("task %q cannot be its own parent: %w", taskID, ErrCycle)
	}

	visited := map[string]bool{}
	current := newParentID
	for current != "" && !visited[current] {
		visited[current] = true

		var parent *string
		err := tx.QueryRow(`SELECT parent_id FROM tasks WHERE id = ?`, current).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("parent task %q: %w", current, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("walk ancestors: %w", err)
		}
		if parent == nil {
			return nil
		}
		if *parent == taskID {
			return fmt.Errorf("task %q is an ancestor of %q: %w", taskID, newParentID, ErrCycle)
		}
		current = *parent
	}
	return nil
}

// UpdateTaskStatus sets a task's status and, when propagate is true, pushes
// the status down through the subtree honoring each node's
// propagate_status flag. An explicit progress value applies to the task
// itself before the status rules run (done still forces 1.0). Returns the
// refreshed task and the number of tasks touched.
func (s *Store) UpdateTaskStatus(id string, status TaskStatus, progress *float64, propagate bool) (*Task, int, error) {
	if !status.Valid() {
		return nil, 0, fmt.Errorf("status %q is not a recognized task status: %w", status, ErrValidation)
	}
	if progress != nil && (*progress < 0 || *progress > 1) {
		return nil, 0, fmt.Errorf("progress %v must be within [0.0, 1.0]: %w", *progress, ErrValidation)
	}

	touched := 0
	err := s.withTx(func(tx *sql.Tx) error {
		tasks, err := loadSubtree(tx, id)
		if err != nil {
			return err
		}
		root := buildTree(tasks, id)
		if root == nil {
			return fmt.Errorf("task %q: %w", id, ErrNotFound)
		}

		now := Now()
		if progress != nil {
			root.task.Progress = *progress
		}

		var updated []*Task
		if propagate {
			updated = propagateStatus(root, status, now)
		} else {
			setStatus(root.task, status, now)
			updated = []*Task{root.task}
		}

		for _, t := range updated {
			if err := saveTaskStatus(tx, t); err != nil {
				return err
			}
		}
		touched = len(updated)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	t, err := s.GetTask(id)
	if err != nil {
		return nil, 0, err
	}
	return t, touched, nil
}

// RecomputeTaskStatus derives the task's status from its direct children
// and applies it to the task only. With no children, or with
// propagate_status disabled, the current status stands. Returns the
// refreshed task and whether anything changed.
func (s *Store) RecomputeTaskStatus(id string) (*Task, bool, error) {
	changed := false
	err := s.withTx(func(tx *sql.Tx) error {
		tasks, err := loadSubtree(tx, id)
		if err != nil {
			return err
		}
		root := buildTree(tasks, id)
		if root == nil {
			return fmt.Errorf("task %q: %w", id, ErrNotFound)
		}

		inferred := inferStatus(root.task, root.children)
		if inferred == root.task.Status {
			return nil
		}

		setStatus(root.task, inferred, Now())
		changed = true
		return saveTaskStatus(tx, root.task)
	})
	if err != nil {
		return nil, false, err
	}

	t, err := s.GetTask(id)
	if err != nil {
		return nil, false, err
	}
	return t, changed, nil
}

// CalculateProgress returns a task's progress: its own stored value for a
// leaf, otherwise the unweighted mean of its children's recursive
// progress.
func (s *Store) CalculateProgress(id string) (float64, error) {
	tasks, err := loadSubtree(s.db, id)
	if err != nil {
		return 0, err
	}
	root := buildTree(tasks, id)
	if root == nil {
		return 0, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	return treeProgress(root), nil
}

// TaskPath returns the chain of tasks from the forest root down to the
// task itself. The visited set terminates the walk even on corrupt parent
// chains.
func (s *Store) TaskPath(id string) ([]Task, error) {
	var path []Task
	visited := map[string]bool{}

	current := id
	for current != "" && !visited[current] {
		visited[current] = true

		t, err := getTask(s.db, current)
		if err != nil {
			if errors.Is(err, ErrNotFound) && current != id {
				break // dangling parent reference; return what we have
			}
			return nil, err
		}
		path = append(path, *t)
		if t.ParentID == nil {
			break
		}
		current = *t.ParentID
	}

	// Walked leaf-to-root; callers want root-to-leaf.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// DeleteTask removes a task and, through the cascading foreign key, its
// entire subtree. Returns the number of tasks removed.
func (s *Store) DeleteTask(id string) (int, error) {
	removed := 0
	err := s.withTx(func(tx *sql.Tx) error {
		tasks, err := loadSubtree(tx, id)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return fmt.Errorf("task %q: %w", id, ErrNotFound)
		}
		removed = len(tasks)

		res, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %q: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ─── Internals ───────────────────────────────────────────────────────────────

// loadSubtree fetches a task and every descendant in one recursive query.
// UNION (not UNION ALL) deduplicates, so the query terminates even if the
// parent chain is corrupt.
func loadSubtree(q querier, rootID string) ([]*Task, error) {
	rows, err := q.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM tasks WHERE id = ?
			UNION
			SELECT t.id FROM tasks t JOIN subtree s ON t.parent_id = s.id
		)
		SELECT `+taskColumns+` FROM tasks WHERE id IN (SELECT id FROM subtree)`,
		rootID,
	)
	if err != nil {
		return nil, fmt.Errorf("load subtree: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// saveTaskStatus persists the fields the hierarchy engine mutates.
func saveTaskStatus(tx *sql.Tx, t *Task) error {
	if _, err := tx.Exec(
		`UPDATE tasks SET status = ?, progress = ?, updated_at = ?, started_at = ?, completed_at = ?
		 WHERE id = ?`,
		t.Status, t.Progress, t.UpdatedAt, nullablePtr(t.StartedAt), nullablePtr(t.CompletedAt), t.ID,
	); err != nil {
		return fmt.Errorf("save task %q: %w", t.ID, err)
	}
	return nil
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var propagate int
	if err := row.Scan(
		&t.ID, &t.SessionID, &t.ParentID, &t.Title, &t.Description, &t.Level, &t.Status,
		&t.Priority, &t.Progress, &propagate,
		&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt, &t.DueDate,
	); err != nil {
		return nil, err
	}
	t.PropagateStatus = propagate != 0
	return &t, nil
}

// nullablePtr maps a nil *string to NULL for optional text columns.
func nullablePtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
