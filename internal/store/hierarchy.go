package store

import "sort"

// Task hierarchy engine: the pure, in-memory half of task status handling.
// Tasks loaded from the store are arranged into an arena of nodes linked by
// id references; propagation, inference and progress aggregation operate on
// that arena and return the touched tasks for the caller to persist in one
// transaction.

// taskNode is one node of a loaded subtree.
type taskNode struct {
	task     *Task
	children []*taskNode
}

// buildTree arranges a flat subtree slice into a tree rooted at rootID.
// Rows whose parent is outside the slice are ignored (partial trees are
// tolerated). Returns nil if rootID is not in the slice.
func buildTree(tasks []*Task, rootID string) *taskNode {
	nodes := make(map[string]*taskNode, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &taskNode{task: t}
	}
	for _, t := range tasks {
		if t.ID == rootID || t.ParentID == nil {
			continue
		}
		if parent, ok := nodes[*t.ParentID]; ok {
			parent.children = append(parent.children, nodes[t.ID])
		}
	}
	return nodes[rootID]
}

// setStatus applies a status to a single task with the side-effect rules:
// started_at is stamped once on the first transition to doing, completed_at
// once on the first transition to done, and done always forces progress to
// 1.0 regardless of the prior value.
func setStatus(t *Task, status TaskStatus, now string) {
	t.Status = status
	t.UpdatedAt = now
	if status == StatusDoing && t.StartedAt == nil {
		t.StartedAt = strPtr(now)
	}
	if status == StatusDone {
		if t.CompletedAt == nil {
			t.CompletedAt = strPtr(now)
		}
		t.Progress = 1.0
	}
}

// propagateStatus sets the node's status and, when the node has
// propagate_status enabled, pushes the same status down to its children
// recursively. Each child applies its own timestamp rules and re-checks its
// own propagate_status before descending further, so a propagate_status=false
// node is still updated by its parent but stops the push-down below itself.
// Returns every touched task.
func propagateStatus(n *taskNode, status TaskStatus, now string) []*Task {
	setStatus(n.task, status, now)
	touched := []*Task{n.task}
	if !n.task.PropagateStatus {
		return touched
	}
	for _, child := range n.children {
		touched = append(touched, propagateStatus(child, status, now)...)
	}
	return touched
}

// inferStatus derives a task's status from its direct children's current
// statuses. With no children, or with propagate_status disabled, the task's
// own status is authoritative and returned unchanged. Otherwise the first
// matching rule wins:
//
//	all todo → todo; all done → done; all cancelled → cancelled;
//	any blocked → blocked; any doing → doing; any review → review;
//	mixed remainder → doing.
func inferStatus(t *Task, children []*taskNode) TaskStatus {
	if len(children) == 0 || !t.PropagateStatus {
		return t.Status
	}

	counts := make(map[TaskStatus]int, len(children))
	for _, child := range children {
		counts[child.task.Status]++
	}
	total := len(children)

	switch {
	case counts[StatusTodo] == total:
		return StatusTodo
	case counts[StatusDone] == total:
		return StatusDone
	case counts[StatusCancelled] == total:
		return StatusCancelled
	case counts[StatusBlocked] > 0:
		return StatusBlocked
	case counts[StatusDoing] > 0:
		return StatusDoing
	case counts[StatusReview] > 0:
		return StatusReview
	default:
		return StatusDoing
	}
}

// treeProgress computes a node's progress: its own stored progress when it
// has no children, otherwise the unweighted arithmetic mean of its direct
// children's recursive progress. Each child counts once at its level
// regardless of subtree size.
func treeProgress(n *taskNode) float64 {
	if len(n.children) == 0 {
		return n.task.Progress
	}
	sum := 0.0
	for _, child := range n.children {
		sum += treeProgress(child)
	}
	return sum / float64(len(n.children))
}

// sortChildren orders every node's children by priority descending, then
// creation time, so serialized trees are deterministic.
func sortChildren(n *taskNode) {
	sort.SliceStable(n.children, func(i, j int) bool {
		a, b := n.children[i].task, n.children[j].task
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt < b.CreatedAt
	})
	for _, child := range n.children {
		sortChildren(child)
	}
}

// toTree converts an arena node into the nested serializable form.
func toTree(n *taskNode) *TaskTree {
	tree := &TaskTree{Task: *n.task}
	for _, child := range n.children {
		tree.Children = append(tree.Children, toTree(child))
	}
	return tree
}
