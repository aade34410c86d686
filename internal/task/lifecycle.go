package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskdesk/taskdesk/internal/eventbus"
	"github.com/taskdesk/taskdesk/pkg/cerr"
)

// Engine computes lifecycle transitions over the task collection. Every
// operation resolves its target, checks legality and writes the result
// inside a single repository Mutate call, then publishes the derived event
// after the write committed. Failed operations never touch the store.
type Engine struct {
	repo Repository
	bus  *eventbus.Bus
}

func NewEngine(repo Repository, bus *eventbus.Bus) *Engine {
	return &Engine{repo: repo, bus: bus}
}

func (e *Engine) publish(eventType eventbus.EventType, t *Task, actor string, meta map[string]string) {
	if e.bus == nil {
		return
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["text"] = t.Text
	meta["status"] = string(t.Status)
	meta["author"] = t.Author
	meta["assignee"] = t.Assignee
	e.bus.PublishNew(eventType, t.ID, actor, meta)
}

// resolveRef finds the single live task matching ref, which is either a
// full id or a short-id prefix. Zero matches is NotFound; more than one
// means the prefix space degraded and the lookup is refused rather than
// resolved to an arbitrary task.
func resolveRef(tasks []*Task, ref string) (*Task, error) {
	if ref == "" {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	var found *Task
	for _, t := range tasks {
		if t.ID == ref {
			return t, nil
		}
		if strings.HasPrefix(t.ID, ref) {
			if found != nil {
				return nil, cerr.NewError(cerr.FailedPrecondition, "ambiguous task reference", nil)
			}
			found = t
		}
	}
	if found == nil {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return found, nil
}

// generateID is swapped out in tests to force prefix collisions.
var generateID = uuid.NewString

// newID generates a task id whose short prefix is unique within the
// collection. The check runs under the same critical section as the write.
func newID(tasks []*Task) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		id := generateID()
		collision := false
		for _, t := range tasks {
			if strings.HasPrefix(t.ID, id[:ShortRefLen]) {
				collision = true
				break
			}
		}
		if !collision {
			return id, nil
		}
	}
	return "", cerr.NewError(cerr.Internal, "server error", fmt.Errorf("short id space exhausted after 10 attempts"))
}

type CreateRequest struct {
	Text     string     `json:"text"`
	Status   Status     `json:"status"`
	Author   string     `json:"author"`
	Assignee string     `json:"assignee"`
	DueDate  *time.Time `json:"dueDate"`
}

func (e *Engine) Create(ctx context.Context, req *CreateRequest) (*Task, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task text must not be empty", nil)
	}
	status := req.Status
	if status == "" {
		status = StatusTodo
	}
	if !status.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", status), nil)
	}

	var created *Task
	err := e.repo.Mutate(ctx, func(tasks []*Task) ([]*Task, error) {
		id, err := newID(tasks)
		if err != nil {
			return nil, err
		}
		created = &Task{
			ID:        id,
			Text:      text,
			Status:    status,
			CreatedAt: time.Now(),
			DueDate:   req.DueDate,
			Author:    req.Author,
			Assignee:  req.Assignee,
		}
		return append([]*Task{created}, tasks...), nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(eventbus.TaskCreated, created, req.Author, nil)
	return created, nil
}

// Claim makes actor the assignee and moves the task to in-progress. Anyone
// may claim an unclaimed task; a task claimed by somebody else is refused.
func (e *Engine) Claim(ctx context.Context, ref, actor string) (*Task, error) {
	if actor == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "actor must not be empty", nil)
	}
	var claimed *Task
	err := e.repo.Mutate(ctx, func(tasks []*Task) ([]*Task, error) {
		t, err := resolveRef(tasks, ref)
		if err != nil {
			return nil, err
		}
		if !t.Unclaimed() && t.Assignee != actor {
			return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task already claimed by %s", t.Assignee), nil)
		}
		t.Assignee = actor
		t.Status = StatusInProgress
		claimed = t
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(eventbus.TaskClaimed, claimed, actor, nil)
	return claimed, nil
}

// SubmitReport stores the completion report verbatim and hands the task to
// the author for approval.
func (e *Engine) SubmitReport(ctx context.Context, ref, actor, report string) (*Task, error) {
	var submitted *Task
	err := e.repo.Mutate(ctx, func(tasks []*Task) ([]*Task, error) {
		t, err := resolveRef(tasks, ref)
		if err != nil {
			return nil, err
		}
		if t.Status != StatusInProgress {
			return nil, cerr.NewError(cerr.FailedPrecondition, "task is not in progress", nil)
		}
		if t.Assignee != actor {
			return nil, cerr.NewError(cerr.FailedPrecondition, "only the assignee may submit a report", nil)
		}
		t.Report = report
		t.Status = StatusAwaitingApproval
		submitted = t
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(eventbus.ReportSubmitted, submitted, actor, map[string]string{"report": submitted.Report})
	return submitted, nil
}

// Approve finishes an awaiting-approval task. When actor is non-empty it
// must match the stored author; the programmatic edge may pass an empty
// actor and is trusted.
func (e *Engine) Approve(ctx context.Context, ref, actor string) (*Task, error) {
	var approved *Task
	err := e.repo.Mutate(ctx, func(tasks []*Task) ([]*Task, error) {
		t, err := resolveRef(tasks, ref)
		if err != nil {
			return nil, err
		}
		if err := checkApprovalAllowed(t, actor); err != nil {
			return nil, err
		}
		t.Status = StatusDone
		approved = t
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(eventbus.TaskApproved, approved, actor, nil)
	return approved, nil
}

// Reject sends an awaiting-approval task back to work. The stored report is
// cleared so a later submission starts clean.
func (e *Engine) Reject(ctx context.Context, ref, actor string) (*Task, error) {
	var rejected *Task
	err := e.repo.Mutate(ctx, func(tasks []*Task) ([]*Task, error) {
		t, err := resolveRef(tasks, ref)
		if err != nil {
			return nil, err
		}
		if err := checkApprovalAllowed(t, actor); err != nil {
			return nil, err
		}
		t.Status = StatusInProgress
		t.Report = ""
		rejected = t
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(eventbus.TaskRejected, rejected, actor, nil)
	return rejected, nil
}

func checkApprovalAllowed(t *Task, actor string) error {
	if t.Status != StatusAwaitingApproval {
		return cerr.NewError(cerr.FailedPrecondition, "task is not awaiting approval", nil)
	}
	if actor != "" && t.Author != "" && t.Author != actor {
		return cerr.NewError(cerr.FailedPrecondition, "only the task author may approve or reject", nil)
	}
	return nil
}

// Delegate spawns a child task for target without touching the source task.
func (e *Engine) Delegate(ctx context.Context, ref, actor, target string) (*Task, error) {
	if target == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "delegation target must not be empty", nil)
	}
	var child *Task
	var rootAuthor string
	err := e.repo.Mutate(ctx, func(tasks []*Task) ([]*Task, error) {
		src, err := resolveRef(tasks, ref)
		if err != nil {
			return nil, err
		}
		if src.Status != StatusInProgress {
			return nil, cerr.NewError(cerr.FailedPrecondition, "task is not in progress", nil)
		}
		if src.Assignee != actor {
			return nil, cerr.NewError(cerr.FailedPrecondition, "only the assignee may delegate", nil)
		}

		id, err := newID(tasks)
		if err != nil {
			return nil, err
		}
		rootID := src.RootID
		if rootID == "" {
			rootID = src.ID
		}
		for _, t := range tasks {
			if t.ID == rootID {
				rootAuthor = t.Author
				break
			}
		}
		text := src.Text
		if !strings.HasPrefix(text, DelegationMarker) {
			text = DelegationMarker + text
		}
		child = &Task{
			ID:        id,
			Text:      text,
			Status:    StatusTodo,
			CreatedAt: time.Now(),
			Author:    actor,
			Assignee:  target,
			ParentID:  src.ID,
			RootID:    rootID,
		}
		return append(tasks, child), nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(eventbus.TaskDelegated, child, actor, map[string]string{"root_author": rootAuthor})
	return child, nil
}

// Patch is the generic external-facing update. Nil fields are untouched.
type Patch struct {
	Text     *string    `json:"text"`
	Status   *Status    `json:"status"`
	Author   *string    `json:"author"`
	Assignee *string    `json:"assignee"`
	Report   *string    `json:"report"`
	DueDate  *time.Time `json:"dueDate"`
}

// Update applies a partial update and re-derives the status-change
// notification, except for transitions into awaiting-approval which the
// report submission path already announces.
func (e *Engine) Update(ctx context.Context, id string, patch *Patch) (*Task, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", *patch.Status), nil)
	}
	if patch.Text != nil && strings.TrimSpace(*patch.Text) == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task text must not be empty", nil)
	}

	var updated *Task
	var prevStatus Status
	err := e.repo.Mutate(ctx, func(tasks []*Task) ([]*Task, error) {
		t, err := resolveRef(tasks, id)
		if err != nil {
			return nil, err
		}
		prevStatus = t.Status
		if patch.Text != nil {
			t.Text = *patch.Text
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Author != nil {
			t.Author = *patch.Author
		}
		if patch.Assignee != nil {
			t.Assignee = *patch.Assignee
		}
		if patch.Report != nil {
			t.Report = *patch.Report
		}
		if patch.DueDate != nil {
			t.DueDate = patch.DueDate
		}
		updated = t
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status != prevStatus && updated.Status != StatusAwaitingApproval {
		e.publish(eventbus.StatusChanged, updated, "", map[string]string{"prev_status": string(prevStatus)})
	}
	return updated, nil
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	var deleted *Task
	err := e.repo.Mutate(ctx, func(tasks []*Task) ([]*Task, error) {
		next := tasks[:0]
		for _, t := range tasks {
			if t.ID == id {
				deleted = t
				continue
			}
			next = append(next, t)
		}
		if deleted == nil {
			return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
		}
		return next, nil
	})
	if err != nil {
		return err
	}

	e.publish(eventbus.TaskDeleted, deleted, "", nil)
	return nil
}

func (e *Engine) List(ctx context.Context) ([]*Task, error) {
	return e.repo.List(ctx)
}

func (e *Engine) Get(ctx context.Context, ref string) (*Task, error) {
	tasks, err := e.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return resolveRef(tasks, ref)
}
