package task

import "time"

type Status string

const (
	StatusTodo             Status = "todo"
	StatusInProgress       Status = "in-progress"
	StatusOnHold           Status = "on-hold"
	StatusAwaitingApproval Status = "awaiting-approval"
	StatusDone             Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusOnHold, StatusAwaitingApproval, StatusDone:
		return true
	}
	return false
}

// ShortRefLen is the number of leading id characters used for compact
// interactive references (button payloads). Prefix uniqueness across live
// tasks is enforced at creation time.
const ShortRefLen = 8

// DelegationMarker prefixes the text of a delegated child task.
const DelegationMarker = "[Делегировано] "

// Task is a unit of delegated work. Author and Assignee hold user display
// names, not ids. ParentID/RootID link delegation chains: a task with no
// ParentID is a root, and RootID always points at the chain's original
// un-delegated ancestor.
type Task struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	Author    string     `json:"author,omitempty"`
	Assignee  string     `json:"assignee,omitempty"`
	Report    string     `json:"report,omitempty"`
	ParentID  string     `json:"parentId,omitempty"`
	RootID    string     `json:"rootId,omitempty"`
}

func (t *Task) ShortRef() string {
	if len(t.ID) < ShortRefLen {
		return t.ID
	}
	return t.ID[:ShortRefLen]
}

func (t *Task) IsRoot() bool {
	return t.ParentID == ""
}

// Unclaimed reports whether anyone may still take the task over.
func (t *Task) Unclaimed() bool {
	return t.Assignee == ""
}
