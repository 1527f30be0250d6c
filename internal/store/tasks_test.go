package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-mcp/cortex/internal/store"
)

func createTask(t *testing.T, s *store.Store, p store.CreateTaskParams) *store.Task {
	t.Helper()
	task, err := s.CreateTask(p)
	require.NoError(t, err)
	return task
}

// buildPhase creates a phase with two stages, the first stage holding two
// tasks. Returns phase, stageA, stageB, taskA1, taskA2.
func buildPhase(t *testing.T, s *store.Store) (phase, stageA, stageB, taskA1, taskA2 *store.Task) {
	t.Helper()
	phase = createTask(t, s, store.CreateTaskParams{Title: "release", Level: store.LevelPhase})
	stageA = createTask(t, s, store.CreateTaskParams{Title: "build", Level: store.LevelStage, ParentID: phase.ID})
	stageB = createTask(t, s, store.CreateTaskParams{Title: "verify", Level: store.LevelStage, ParentID: phase.ID})
	taskA1 = createTask(t, s, store.CreateTaskParams{Title: "compile", ParentID: stageA.ID})
	taskA2 = createTask(t, s, store.CreateTaskParams{Title: "package", ParentID: stageA.ID})
	return
}

// ─── CreateTask / GetTask ───────────────────────────────────────────────────

func TestCreateTask_Defaults(t *testing.T) {
	s := newTestStore(t)

	task := createTask(t, s, store.CreateTaskParams{Title: "lone task"})

	assert.Equal(t, store.LevelTask, task.Level)
	assert.Equal(t, store.StatusTodo, task.Status)
	assert.Zero(t, task.Progress)
	assert.True(t, task.PropagateStatus)
	assert.Nil(t, task.ParentID)
	assert.Nil(t, task.StartedAt)
}

func TestCreateTask_Validation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateTask(store.CreateTaskParams{})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = s.CreateTask(store.CreateTaskParams{Title: "x", Level: "epic"})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = s.CreateTask(store.CreateTaskParams{Title: "x", ParentID: "no-such-task"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreateTask(store.CreateTaskParams{Title: "x", SessionID: "no-such-session"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateTask_DoneStartsComplete(t *testing.T) {
	s := newTestStore(t)

	task := createTask(t, s, store.CreateTaskParams{Title: "imported as done", Status: store.StatusDone})

	assert.Equal(t, store.StatusDone, task.Status)
	assert.Equal(t, 1.0, task.Progress)
	assert.NotNil(t, task.CompletedAt)
}

func TestGetSubtree_NestsChildren(t *testing.T) {
	s := newTestStore(t)
	phase, stageA, stageB, _, _ := buildPhase(t, s)

	tree, err := s.GetSubtree(phase.ID)
	require.NoError(t, err)

	require.Len(t, tree.Children, 2)
	ids := []string{tree.Children[0].ID, tree.Children[1].ID}
	assert.ElementsMatch(t, []string{stageA.ID, stageB.ID}, ids)

	for _, child := range tree.Children {
		if child.ID == stageA.ID {
			assert.Len(t, child.Children, 2)
		}
	}
}

// ─── UpdateTaskStatus / propagation ─────────────────────────────────────────

func TestUpdateTaskStatus_PropagatesToWholeSubtree(t *testing.T) {
	s := newTestStore(t)
	phase, stageA, stageB, taskA1, taskA2 := buildPhase(t, s)

	updated, touched, err := s.UpdateTaskStatus(phase.ID, store.StatusDoing, nil, true)
	require.NoError(t, err)

	assert.Equal(t, store.StatusDoing, updated.Status)
	assert.Equal(t, 5, touched)
	assert.NotNil(t, updated.StartedAt)

	for _, id := range []string{stageA.ID, stageB.ID, taskA1.ID, taskA2.ID} {
		task, err := s.GetTask(id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusDoing, task.Status, "task %s", task.Title)
		assert.NotNil(t, task.StartedAt, "task %s", task.Title)
	}
}

func TestUpdateTaskStatus_NoPropagateTouchesOnlyTarget(t *testing.T) {
	s := newTestStore(t)
	phase, stageA, _, _, _ := buildPhase(t, s)

	_, touched, err := s.UpdateTaskStatus(phase.ID, store.StatusBlocked, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, touched)

	child, err := s.GetTask(stageA.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTodo, child.Status)
}

func TestUpdateTaskStatus_BarrierStopsDescentBelowItself(t *testing.T) {
	s := newTestStore(t)
	phase, stageA, _, taskA1, taskA2 := buildPhase(t, s)

	// stageA stops pushing further down, but still receives its parent's
	// status.
	f := false
	_, err := s.UpdateTask(stageA.ID, store.UpdateTaskFields{PropagateStatus: &f})
	require.NoError(t, err)

	_, touched, err := s.UpdateTaskStatus(phase.ID, store.StatusCancelled, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 3, touched) // phase, stageA, stageB

	barrier, err := s.GetTask(stageA.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, barrier.Status)

	for _, id := range []string{taskA1.ID, taskA2.ID} {
		task, err := s.GetTask(id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusTodo, task.Status, "task below barrier %s", task.Title)
	}
}

func TestUpdateTaskStatus_DoneForcesFullProgress(t *testing.T) {
	s := newTestStore(t)
	task := createTask(t, s, store.CreateTaskParams{Title: "half done"})

	half := 0.5
	_, _, err := s.UpdateTaskStatus(task.ID, store.StatusDoing, &half, true)
	require.NoError(t, err)

	// Passing an explicit lower progress together with done: done wins.
	low := 0.2
	updated, _, err := s.UpdateTaskStatus(task.ID, store.StatusDone, &low, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, updated.Progress)
	assert.NotNil(t, updated.CompletedAt)
}

func TestUpdateTaskStatus_TimestampsStampOnce(t *testing.T) {
	s := newTestStore(t)
	task := createTask(t, s, store.CreateTaskParams{Title: "reopened"})

	first, _, err := s.UpdateTaskStatus(task.ID, store.StatusDoing, nil, true)
	require.NoError(t, err)
	require.NotNil(t, first.StartedAt)

	done, _, err := s.UpdateTaskStatus(task.ID, store.StatusDone, nil, true)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	// Reopen and complete again: both timestamps keep their first value.
	_, _, err = s.UpdateTaskStatus(task.ID, store.StatusDoing, nil, true)
	require.NoError(t, err)
	again, _, err := s.UpdateTaskStatus(task.ID, store.StatusDone, nil, true)
	require.NoError(t, err)

	assert.Equal(t, *first.StartedAt, *again.StartedAt)
	assert.Equal(t, *done.CompletedAt, *again.CompletedAt)
}

func TestUpdateTaskStatus_Validation(t *testing.T) {
	s := newTestStore(t)
	task := createTask(t, s, store.CreateTaskParams{Title: "x"})

	_, _, err := s.UpdateTaskStatus(task.ID, "finished", nil, true)
	assert.ErrorIs(t, err, store.ErrValidation)

	over := 1.5
	_, _, err = s.UpdateTaskStatus(task.ID, store.StatusDoing, &over, true)
	assert.ErrorIs(t, err, store.ErrValidation)

	_, _, err = s.UpdateTaskStatus("no-such-task", store.StatusDoing, nil, true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ─── RecomputeTaskStatus ────────────────────────────────────────────────────

func TestRecomputeTaskStatus_Rules(t *testing.T) {
	cases := []struct {
		name     string
		children []store.TaskStatus
		want     store.TaskStatus
	}{
		{"all todo", []store.TaskStatus{store.StatusTodo, store.StatusTodo}, store.StatusTodo},
		{"all done", []store.TaskStatus{store.StatusDone, store.StatusDone}, store.StatusDone},
		{"all cancelled", []store.TaskStatus{store.StatusCancelled, store.StatusCancelled}, store.StatusCancelled},
		{"any blocked wins", []store.TaskStatus{store.StatusDone, store.StatusBlocked, store.StatusDoing}, store.StatusBlocked},
		{"any doing", []store.TaskStatus{store.StatusDone, store.StatusDoing}, store.StatusDoing},
		{"any review", []store.TaskStatus{store.StatusDone, store.StatusReview}, store.StatusReview},
		{"mixed remainder", []store.TaskStatus{store.StatusDone, store.StatusTodo}, store.StatusDoing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t)
			parent := createTask(t, s, store.CreateTaskParams{Title: "parent", Status: store.StatusReview})
			for i, st := range tc.children {
				createTask(t, s, store.CreateTaskParams{
					Title:    "child",
					ParentID: parent.ID,
					Status:   st,
					Priority: -i, // keep creation order stable
				})
			}

			task, _, err := s.RecomputeTaskStatus(parent.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, task.Status)
		})
	}
}

func TestRecomputeTaskStatus_LeafUnchanged(t *testing.T) {
	s := newTestStore(t)
	leaf := createTask(t, s, store.CreateTaskParams{Title: "leaf", Status: store.StatusReview})

	task, changed, err := s.RecomputeTaskStatus(leaf.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, store.StatusReview, task.Status)
}

func TestRecomputeTaskStatus_TouchesParentOnly(t *testing.T) {
	s := newTestStore(t)
	parent := createTask(t, s, store.CreateTaskParams{Title: "parent"})
	child := createTask(t, s, store.CreateTaskParams{Title: "child", ParentID: parent.ID, Status: store.StatusDoing})
	grandchild := createTask(t, s, store.CreateTaskParams{Title: "grandchild", ParentID: child.ID})

	task, changed, err := s.RecomputeTaskStatus(parent.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, store.StatusDoing, task.Status)

	below, err := s.GetTask(grandchild.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTodo, below.Status)
}

// ─── CalculateProgress ──────────────────────────────────────────────────────

func TestCalculateProgress_LeafUsesOwnValue(t *testing.T) {
	s := newTestStore(t)
	leaf := createTask(t, s, store.CreateTaskParams{Title: "leaf"})
	p := 0.4
	_, err := s.UpdateTask(leaf.ID, store.UpdateTaskFields{Progress: &p})
	require.NoError(t, err)

	got, err := s.CalculateProgress(leaf.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, got, 1e-9)
}

func TestCalculateProgress_UnweightedMean(t *testing.T) {
	s := newTestStore(t)
	phase, stageA, stageB, taskA1, taskA2 := buildPhase(t, s)

	// stageA's progress comes from its two tasks (1.0 and 0.0 → 0.5);
	// stageB is a 0.5 leaf. Phase = mean(0.5, 0.5) = 0.5.
	_, _, err := s.UpdateTaskStatus(taskA1.ID, store.StatusDone, nil, true)
	require.NoError(t, err)
	_ = taskA2

	half := 0.5
	_, err = s.UpdateTask(stageB.ID, store.UpdateTaskFields{Progress: &half})
	require.NoError(t, err)

	got, err := s.CalculateProgress(phase.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)

	// A parent's own stored progress is ignored once it has children.
	gotStage, err := s.CalculateProgress(stageA.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, gotStage, 1e-9)
}

// ─── TaskPath ───────────────────────────────────────────────────────────────

func TestTaskPath_RootToLeaf(t *testing.T) {
	s := newTestStore(t)
	_, _, _, taskA1, _ := buildPhase(t, s)

	path, err := s.TaskPath(taskA1.ID)
	require.NoError(t, err)

	require.Len(t, path, 3)
	assert.Equal(t, "release", path[0].Title)
	assert.Equal(t, "build", path[1].Title)
	assert.Equal(t, "compile", path[2].Title)
}

func TestTaskPath_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.TaskPath("no-such-task")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ─── UpdateTask / re-parenting ──────────────────────────────────────────────

func TestUpdateTask_Fields(t *testing.T) {
	s := newTestStore(t)
	task := createTask(t, s, store.CreateTaskParams{Title: "before"})

	title := "after"
	prio := 7
	due := "2026-09-30"
	updated, err := s.UpdateTask(task.ID, store.UpdateTaskFields{
		Title: &title, Priority: &prio, DueDate: &due,
	})
	require.NoError(t, err)

	assert.Equal(t, "after", updated.Title)
	assert.Equal(t, 7, updated.Priority)
	require.NotNil(t, updated.DueDate)
	assert.Equal(t, "2026-09-30", *updated.DueDate)
}

func TestUpdateTask_ReparentAndDetach(t *testing.T) {
	s := newTestStore(t)
	_, stageA, stageB, taskA1, _ := buildPhase(t, s)

	moved, err := s.UpdateTask(taskA1.ID, store.UpdateTaskFields{ParentID: &stageB.ID})
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, stageB.ID, *moved.ParentID)

	detached, err := s.UpdateTask(taskA1.ID, store.UpdateTaskFields{ClearParent: true})
	require.NoError(t, err)
	assert.Nil(t, detached.ParentID)
	_ = stageA
}

func TestUpdateTask_RejectsCycles(t *testing.T) {
	s := newTestStore(t)
	phase, stageA, _, taskA1, _ := buildPhase(t, s)

	// Self-parenting.
	_, err := s.UpdateTask(phase.ID, store.UpdateTaskFields{ParentID: &phase.ID})
	assert.ErrorIs(t, err, store.ErrCycle)

	// Moving a node under its own descendant.
	_, err = s.UpdateTask(phase.ID, store.UpdateTaskFields{ParentID: &taskA1.ID})
	assert.ErrorIs(t, err, store.ErrCycle)
	_, err = s.UpdateTask(stageA.ID, store.UpdateTaskFields{ParentID: &taskA1.ID})
	assert.ErrorIs(t, err, store.ErrCycle)

	// Unknown parent.
	bogus := "no-such-task"
	_, err = s.UpdateTask(taskA1.ID, store.UpdateTaskFields{ParentID: &bogus})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ─── ListTasks / DeleteTask ─────────────────────────────────────────────────

func TestListTasks_Filters(t *testing.T) {
	s := newTestStore(t)
	phase, stageA, _, _, _ := buildPhase(t, s)
	_, _, err := s.UpdateTaskStatus(stageA.ID, store.StatusDoing, nil, false)
	require.NoError(t, err)

	stages, err := s.ListTasks(store.ListTasksOptions{Level: "stage"})
	require.NoError(t, err)
	assert.Len(t, stages, 2)

	doing, err := s.ListTasks(store.ListTasksOptions{Status: "doing"})
	require.NoError(t, err)
	require.Len(t, doing, 1)
	assert.Equal(t, stageA.ID, doing[0].ID)

	roots, err := s.ListTasks(store.ListTasksOptions{RootsOnly: true})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, phase.ID, roots[0].ID)

	children, err := s.ListTasks(store.ListTasksOptions{ParentID: stageA.ID})
	require.NoError(t, err)
	assert.Len(t, children, 2)

	_, err = s.ListTasks(store.ListTasksOptions{Status: "bogus"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestDeleteTask_CascadesToSubtree(t *testing.T) {
	s := newTestStore(t)
	phase, stageA, stageB, taskA1, _ := buildPhase(t, s)

	removed, err := s.DeleteTask(stageA.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, removed) // stageA + its two tasks

	_, err = s.GetTask(taskA1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Siblings and the parent survive.
	_, err = s.GetTask(stageB.ID)
	assert.NoError(t, err)
	_, err = s.GetTask(phase.ID)
	assert.NoError(t, err)
}

func TestDeleteTask_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.DeleteTask("no-such-task")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ─── Session linkage ────────────────────────────────────────────────────────

func TestSessionTaskCountTracksLinkedTasks(t *testing.T) {
	s := newTestStore(t)
	sess := activeSession(t, s)
	task := createTask(t, s, store.CreateTaskParams{Title: "tied to session", SessionID: sess.ID})

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TaskCount)
	_ = task
}
