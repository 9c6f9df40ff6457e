// Package types defines core data structures for the astrotask engine.
package types

import (
	"fmt"
	"time"
)

// Task represents a unit of work in the hierarchy.
//
// Every task except the synthetic project root has a ParentID referring to
// an existing task. Task values are plain data and are passed by value or
// shallow copy; mutation happens through the store or a tracking overlay.
type Task struct {
	ID            string    `json:"id"`
	ParentID      *string   `json:"parentId,omitempty"` // nil only for the project root
	Title         string    `json:"title"`
	Description   *string   `json:"description,omitempty"`
	Status        Status    `json:"status,omitempty"`
	PriorityScore int       `json:"priorityScore"` // 0-100, higher is more important
	PRD           *string   `json:"prd,omitempty"`
	ContextDigest *string   `json:"contextDigest,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Field length limits enforced by Validate and by the database schema.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
)

// DefaultPriorityScore is assigned when a draft omits the score.
const DefaultPriorityScore = 50

// Validate checks field values against the task schema.
func (t *Task) Validate() error {
	if len(t.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > MaxTitleLen {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLen, len(t.Title))
	}
	if t.Description != nil && len(*t.Description) > MaxDescriptionLen {
		return fmt.Errorf("description must be %d characters or less (got %d)", MaxDescriptionLen, len(*t.Description))
	}
	if t.PriorityScore < 0 || t.PriorityScore > 100 {
		return fmt.Errorf("priorityScore must be between 0 and 100 (got %d)", t.PriorityScore)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if t.ID != ProjectRootID && t.ParentID == nil {
		return fmt.Errorf("task %s has no parent (only the project root may be parentless)", t.ID)
	}
	return nil
}

// SetDefaults applies defaults for fields omitted in a draft:
// Status defaults to pending, PriorityScore to DefaultPriorityScore.
// A zero PriorityScore is treated as "omitted"; drafts that genuinely want
// score 0 set it through an explicit update.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.PriorityScore == 0 {
		t.PriorityScore = DefaultPriorityScore
	}
}

// IsProjectRoot reports whether the task is the synthetic project root.
func (t *Task) IsProjectRoot() bool {
	return t.ID == ProjectRootID
}

// Status represents the lifecycle state of a task.
type Status string

// Task status constants
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusArchived   Status = "archived"
)

// IsValid checks if the status value is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusCancelled, StatusArchived:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the task's workflow.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusArchived
}

// AllStatuses returns every valid status, in workflow order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusDone, StatusCancelled, StatusArchived}
}

// TaskDependency is an ordered pair: the dependent is blocked until the
// dependency reaches StatusDone. Dependencies are independent of the
// parent-child tree.
type TaskDependency struct {
	ID               string    `json:"id"`
	DependentTaskID  string    `json:"dependentTaskId"`
	DependencyTaskID string    `json:"dependencyTaskId"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ContextSlice is a titled note attached to a task. Agents use slices to
// record decisions, rationales, or analyses alongside the task itself.
type ContextSlice struct {
	ID          string    `json:"id"` // 8-4-4-4-12 hex identifier
	TaskID      string    `json:"taskId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ContextType string    `json:"contextType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate checks slice fields.
func (c *ContextSlice) Validate() error {
	if c.TaskID == "" {
		return fmt.Errorf("taskId is required")
	}
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// ListFilter selects tasks from the store. Filters are conjunctive.
// An empty Statuses slice means "any status". The project root is
// suppressed unless IncludeProjectRoot is set.
type ListFilter struct {
	Statuses           []Status
	ParentID           *string
	IncludeProjectRoot bool
}

// TaskFilter narrows scheduler queries. PriorityScore is a lower bound.
type TaskFilter struct {
	Status         *Status
	PriorityScore  *int
	ParentID       *string
	IncludeBlocked bool
}

// Matches reports whether the task satisfies every set field of the filter.
// Blocked-ness is evaluated by the scheduler, not here.
func (f TaskFilter) Matches(t *Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.PriorityScore != nil && t.PriorityScore < *f.PriorityScore {
		return false
	}
	if f.ParentID != nil {
		if t.ParentID == nil || *t.ParentID != *f.ParentID {
			return false
		}
	}
	return true
}

// Statistics provides aggregate metrics over the task set.
type Statistics struct {
	TotalTasks      int `json:"total_tasks"`
	PendingTasks    int `json:"pending_tasks"`
	InProgressTasks int `json:"in_progress_tasks"`
	DoneTasks       int `json:"done_tasks"`
	CancelledTasks  int `json:"cancelled_tasks"`
	ArchivedTasks   int `json:"archived_tasks"`
	BlockedTasks    int `json:"blocked_tasks"`
	ReadyTasks      int `json:"ready_tasks"`
	Dependencies    int `json:"dependencies"`
	ContextSlices   int `json:"context_slices"`
}
