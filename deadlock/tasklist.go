// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package deadlock

import (
	"fmt"

	"github.com/NVIDIA/shardtrace/tracehooks"
)

// TaskList is the per-thread task list: the set of tasks currently live
// on one shard, scanned linearly by PreviousTask.
// Implementations of Task MUST return a nil Promise/Task interface
// (never a typed nil pointer wrapped in the interface) when there is no
// waiting promise/task, or the nil checks in this package's DFS and
// PreviousTask will misbehave the way a raw nil-pointer comparison would.
type TaskList struct {
	tasks []Task
}

// NewTaskList returns an empty per-shard task list.
func NewTaskList() *TaskList {
	return &TaskList{}
}

// Register adds t to the live task list. Call when a task is constructed.
func (tl *TaskList) Register(t Task) {
	tl.tasks = append(tl.tasks, t)
}

// Unregister removes t from the live task list. Call when a task finishes.
func (tl *TaskList) Unregister(t Task) {
	for i, candidate := range tl.tasks {
		if candidate == t {
			tl.tasks = append(tl.tasks[:i], tl.tasks[i+1:]...)
			return
		}
	}
}

// PreviousTask scans the task list linearly for every task whose
// WaitingTask() equals t. More than one match is inherently ambiguous, so
// every candidate is returned rather than silently keeping only the last.
func (tl *TaskList) PreviousTask(t Task) []Task {
	var candidates []Task
	for _, candidate := range tl.tasks {
		if candidate.WaitingTask() == t {
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

// EmitPreviousTaskEdges resolves PreviousTask(t) and emits one speculative
// trace edge per live candidate. When more than one candidate exists, each
// edge's extra field carries the ambiguity count so the offline
// reconstruction tool can flag it rather than silently trust a single
// inferred predecessor.
func EmitPreviousTaskEdges(tl *TaskList, t Task) {
	candidates := tl.PreviousTask(t)
	if len(candidates) == 0 {
		return
	}
	for _, candidate := range candidates {
		extra := ""
		if len(candidates) > 1 {
			extra = fmt.Sprintf(`{"ambiguous_candidates":%d}`, len(candidates))
		}
		tracehooks.TraceSpeculativeEdge(candidate.Vertex(), t.Vertex(), extra)
	}
}
