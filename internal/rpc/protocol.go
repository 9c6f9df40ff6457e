// Package rpc exposes the task engine as a set of tool handlers for an
// external MCP server (or any other JSON transport). The package owns the
// wire shapes and the dispatch; transports stay outside the core.
package rpc

import (
	"encoding/json"
)

// Operation constants for all tool handlers.
const (
	OpGetNextTask    = "getNextTask"
	OpGetTask        = "getTask"
	OpAddTasks       = "addTasks"
	OpListTasks      = "listTasks"
	OpAddTaskContext = "addTaskContext"
	OpAddDependency  = "addDependency"
	OpUpdateStatus   = "updateStatus"
	OpDeleteTask     = "deleteTask"
)

// Request represents a tool invocation from the transport.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
	RequestID string          `json:"request_id,omitempty"`
}

// Response represents a tool result sent back to the transport.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// GetNextTaskArgs narrows the next-task search. All fields optional.
type GetNextTaskArgs struct {
	Status        *string `json:"status,omitempty"`
	PriorityScore *int    `json:"priorityScore,omitempty"`
	ParentTaskID  *string `json:"parentTaskId,omitempty"`
}

// GetTaskArgs identifies a single task.
type GetTaskArgs struct {
	TaskID string `json:"taskId"`
}

// TaskDraft is one entry in an addTasks batch. ParentIndex and DependsOn
// index into the same batch, so a connected sub-graph lands in one call;
// ParentIndex wins over ParentTaskID when both are set.
type TaskDraft struct {
	Title         string  `json:"title"`
	Description   *string `json:"description,omitempty"`
	Status        *string `json:"status,omitempty"`
	PriorityScore *int    `json:"priorityScore,omitempty"`
	ParentTaskID  *string `json:"parentTaskId,omitempty"`
	ParentIndex   *int    `json:"parentIndex,omitempty"`
	DependsOn     []int   `json:"dependsOn,omitempty"`
}

// AddTasksArgs carries the batch.
type AddTasksArgs struct {
	Tasks []TaskDraft `json:"tasks"`
}

// ListTasksArgs filters the flat task listing.
type ListTasksArgs struct {
	Statuses           []string `json:"statuses,omitempty"`
	ParentID           *string  `json:"parentId,omitempty"`
	IncludeProjectRoot bool     `json:"includeProjectRoot,omitempty"`
}

// AddTaskContextArgs attaches a context slice to a task.
type AddTaskContextArgs struct {
	TaskID      string  `json:"taskId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ContextType *string `json:"contextType,omitempty"`
}

// AddDependencyArgs adds one blocking edge.
type AddDependencyArgs struct {
	DependentTaskID  string `json:"dependentTaskId"`
	DependencyTaskID string `json:"dependencyTaskId"`
}

// UpdateStatusArgs moves a task (and, with Cascade, its descendants) to a
// new stored status.
type UpdateStatusArgs struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Cascade bool   `json:"cascade,omitempty"`
}

// DeleteTaskArgs removes a task; Cascade removes its whole subtree.
type DeleteTaskArgs struct {
	TaskID  string `json:"taskId"`
	Cascade bool   `json:"cascade,omitempty"`
}
