// Package models holds the task shapes shared by the store, graph and engine.
package models

import "fmt"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusTodo indicates the task has been planned but not released to an agent.
	TaskStatusTodo TaskStatus = "todo"
	// TaskStatusReadyForAgent indicates the task can be picked up.
	TaskStatusReadyForAgent TaskStatus = "ready_for_agent"
	// TaskStatusAssigned indicates a planner has handed the task to a specific agent.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusDonePendingMerge indicates the work is committed but not yet merged.
	TaskStatusDonePendingMerge TaskStatus = "done_pending_merge"
	// TaskStatusDone indicates the task is finished and merged.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusBlocked indicates the task cannot proceed without intervention.
	TaskStatusBlocked TaskStatus = "blocked"
)

// AllTaskStatuses returns every known status in lifecycle order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusTodo,
		TaskStatusReadyForAgent,
		TaskStatusAssigned,
		TaskStatusInProgress,
		TaskStatusDonePendingMerge,
		TaskStatusDone,
		TaskStatusBlocked,
	}
}

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusReadyForAgent, TaskStatusAssigned, TaskStatusInProgress,
		TaskStatusDonePendingMerge, TaskStatusDone, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Pickable reports whether an idle agent may start this task.
func (s TaskStatus) Pickable() bool {
	return s == TaskStatusTodo || s == TaskStatusReadyForAgent
}

// transitions lists the forward (and retry) edges of the task lifecycle.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusTodo:             {TaskStatusReadyForAgent, TaskStatusBlocked},
	TaskStatusReadyForAgent:    {TaskStatusAssigned, TaskStatusInProgress, TaskStatusBlocked},
	TaskStatusAssigned:         {TaskStatusInProgress, TaskStatusBlocked},
	TaskStatusInProgress:       {TaskStatusDonePendingMerge, TaskStatusReadyForAgent, TaskStatusBlocked},
	TaskStatusDonePendingMerge: {TaskStatusDone, TaskStatusBlocked},
	TaskStatusDone:             nil,
	TaskStatusBlocked:          {TaskStatusTodo},
}

// CanTransition reports whether a task may move from one status to another.
// Writing the same status again is always allowed.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StepStatus is the state of a single step within a task.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusDone       StepStatus = "done"
)

// Valid returns true if the status is a known value.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusDone:
		return true
	default:
		return false
	}
}

// Step is an ordered instruction inside a task.
type Step struct {
	ID                 string     `yaml:"id" json:"id"`
	Instruction        string     `yaml:"instruction" json:"instruction"`
	Status             StepStatus `yaml:"status" json:"status"`
	AcceptanceCriteria []string   `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
}

// Task represents a unit of work in the backing store.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `yaml:"id" json:"id"`
	// Title is the short description of the task.
	Title string `yaml:"title" json:"title"`
	// Status is the current state of the task.
	Status TaskStatus `yaml:"status" json:"status"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	// AcceptanceCriteria defines the criteria for task completion.
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
	// AINotes collects notes written by agents and the engine.
	AINotes []string `yaml:"ai_notes,omitempty" json:"ai_notes,omitempty"`

	Phase string `yaml:"phase,omitempty" json:"phase,omitempty"`
	// Agent is the identity of the agent loop allowed to run this task.
	Agent string `yaml:"agent,omitempty" json:"agent,omitempty"`
	// Repo is either a configured repository name or a literal directory path.
	Repo       string `yaml:"repo,omitempty" json:"repo,omitempty"`
	Branch     string `yaml:"branch,omitempty" json:"branch,omitempty"`
	BaseBranch string `yaml:"base_branch,omitempty" json:"base_branch,omitempty"`
	// MergeInto is the branch the finished work is merged into, if any.
	MergeInto string `yaml:"merge_into,omitempty" json:"merge_into,omitempty"`
	// OpenPR requests a pull request instead of a direct merge.
	OpenPR     bool   `yaml:"open_pr,omitempty" json:"open_pr,omitempty"`
	Checkpoint string `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"`
	// BlockedReason explains the most recent transition to blocked.
	BlockedReason string `yaml:"blocked_reason,omitempty" json:"blocked_reason,omitempty"`

	Steps    []Step  `yaml:"steps,omitempty" json:"steps,omitempty"`
	Subtasks []*Task `yaml:"subtasks,omitempty" json:"subtasks,omitempty"`
}

// WantsMerge returns true if finished work must be pushed and merged or proposed.
func (t *Task) WantsMerge() bool {
	return t.MergeInto != "" || t.OpenPR
}

// Walk visits the task and its nested subtasks in pre-order.
// Returning false from fn stops the walk.
func (t *Task) Walk(fn func(task, parent *Task, depth int) bool) bool {
	return walk(t, nil, 0, fn)
}

func walk(t, parent *Task, depth int, fn func(task, parent *Task, depth int) bool) bool {
	if !fn(t, parent, depth) {
		return false
	}
	for _, sub := range t.Subtasks {
		if sub == nil {
			continue
		}
		if !walk(sub, t, depth+1, fn) {
			return false
		}
	}
	return true
}

// Find returns the task with the given id from a (possibly nested) list, or nil.
func Find(tasks []*Task, id string) *Task {
	var found *Task
	for _, root := range tasks {
		if root == nil {
			continue
		}
		root.Walk(func(task, _ *Task, _ int) bool {
			if task.ID == id {
				found = task
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// Validate checks the shape the graph builder relies on: unique ids and known statuses.
func Validate(tasks []*Task) error {
	seen := make(map[string]bool)
	var err error
	for _, root := range tasks {
		if root == nil {
			continue
		}
		root.Walk(func(task, _ *Task, _ int) bool {
			switch {
			case task.ID == "":
				err = fmt.Errorf("task %q has no id", task.Title)
			case seen[task.ID]:
				err = fmt.Errorf("duplicate task id %s", task.ID)
			case !task.Status.Valid():
				err = fmt.Errorf("task %s has unknown status %q", task.ID, task.Status)
			}
			if err == nil {
				for _, step := range task.Steps {
					if !step.Status.Valid() {
						err = fmt.Errorf("task %s step %s has unknown status %q", task.ID, step.ID, step.Status)
						break
					}
				}
			}
			seen[task.ID] = true
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
