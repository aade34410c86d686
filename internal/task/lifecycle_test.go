package task_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdesk/taskdesk/internal/eventbus"
	"github.com/taskdesk/taskdesk/internal/task"
	"github.com/taskdesk/taskdesk/internal/task/repositoryimpl"
	"github.com/taskdesk/taskdesk/pkg/cerr"
	"github.com/taskdesk/taskdesk/pkg/storage"
)

func newTestEngine(t *testing.T) (*task.Engine, *eventbus.Bus) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.New()
	return task.NewEngine(repositoryimpl.NewJSONRepository(store), bus), bus
}

func TestCreateDefaultsAndOrder(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Create(ctx, &task.CreateRequest{Text: "first", Author: "alice"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, first.Status)
	assert.Equal(t, "alice", first.Author)
	assert.NotEmpty(t, first.ID)

	second, err := engine.Create(ctx, &task.CreateRequest{Text: "second", Author: "alice"})
	require.NoError(t, err)

	tasks, err := engine.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	// newest first
	assert.Equal(t, second.ID, tasks[0].ID)
	assert.Equal(t, first.ID, tasks[1].ID)
}

func TestCreateRejectsEmptyText(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Create(context.Background(), &task.CreateRequest{Text: "   "})
	require.Error(t, err)
	assert.Equal(t, cerr.InvalidArgument, cerr.CodeOf(err))
}

func TestCreateRejectsUnknownStatus(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Create(context.Background(), &task.CreateRequest{Text: "x", Status: task.Status("bogus")})
	require.Error(t, err)
	assert.Equal(t, cerr.InvalidArgument, cerr.CodeOf(err))
}

func TestClaimConflict(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "shared", Author: "alice"})
	require.NoError(t, err)

	claimed, err := engine.Claim(ctx, created.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, claimed.Status)
	assert.Equal(t, "bob", claimed.Assignee)

	_, err = engine.Claim(ctx, created.ID, "carol")
	require.Error(t, err)
	assert.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))

	// the current assignee may claim again without effect
	_, err = engine.Claim(ctx, created.ID, "bob")
	require.NoError(t, err)
}

func TestReportApproveFlow(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "deploy", Author: "alice"})
	require.NoError(t, err)
	_, err = engine.Claim(ctx, created.ID, "bob")
	require.NoError(t, err)

	submitted, err := engine.SubmitReport(ctx, created.ID, "bob", "done, see logs")
	require.NoError(t, err)
	assert.Equal(t, task.StatusAwaitingApproval, submitted.Status)
	assert.Equal(t, "done, see logs", submitted.Report)

	// only the author may approve
	_, err = engine.Approve(ctx, created.ID, "bob")
	require.Error(t, err)
	assert.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))

	approved, err := engine.Approve(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, approved.Status)
	assert.Equal(t, "done, see logs", approved.Report)

	// terminal tasks cannot be approved again
	_, err = engine.Approve(ctx, created.ID, "alice")
	require.Error(t, err)
}

func TestRejectClearsReport(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "review docs", Author: "alice"})
	require.NoError(t, err)
	_, err = engine.Claim(ctx, created.ID, "bob")
	require.NoError(t, err)
	_, err = engine.SubmitReport(ctx, created.ID, "bob", "half done")
	require.NoError(t, err)

	rejected, err := engine.Reject(ctx, created.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, rejected.Status)
	assert.Empty(t, rejected.Report)

	// the assignee can go around the loop again
	again, err := engine.SubmitReport(ctx, created.ID, "bob", "actually done")
	require.NoError(t, err)
	assert.Equal(t, "actually done", again.Report)
}

func TestSubmitReportRequiresAssignee(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "x", Author: "alice"})
	require.NoError(t, err)
	_, err = engine.Claim(ctx, created.ID, "bob")
	require.NoError(t, err)

	_, err = engine.SubmitReport(ctx, created.ID, "mallory", "not mine")
	require.Error(t, err)
	assert.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))
}

func TestDelegateLinks(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	root, err := engine.Create(ctx, &task.CreateRequest{Text: "release", Author: "alice"})
	require.NoError(t, err)
	_, err = engine.Claim(ctx, root.ID, "bob")
	require.NoError(t, err)

	child, err := engine.Delegate(ctx, root.ID, "bob", "carol")
	require.NoError(t, err)
	assert.Equal(t, root.ID, child.ParentID)
	assert.Equal(t, root.ID, child.RootID)
	assert.Equal(t, "carol", child.Assignee)
	assert.Equal(t, "bob", child.Author)
	assert.Equal(t, task.StatusTodo, child.Status)
	assert.True(t, strings.HasPrefix(child.Text, task.DelegationMarker))

	// re-delegation keeps pointing at the original root and does not stack
	// markers
	_, err = engine.Claim(ctx, child.ID, "carol")
	require.NoError(t, err)
	grandchild, err := engine.Delegate(ctx, child.ID, "carol", "dave")
	require.NoError(t, err)
	assert.Equal(t, child.ID, grandchild.ParentID)
	assert.Equal(t, root.ID, grandchild.RootID)
	assert.Equal(t, 1, strings.Count(grandchild.Text, strings.TrimSpace(task.DelegationMarker)))

	// source task is untouched
	src, err := engine.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, src.Status)
	assert.Equal(t, "bob", src.Assignee)
}

func TestDelegateOnlyByAssignee(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "x", Author: "alice"})
	require.NoError(t, err)
	_, err = engine.Claim(ctx, created.ID, "bob")
	require.NoError(t, err)

	_, err = engine.Delegate(ctx, created.ID, "mallory", "carol")
	require.Error(t, err)
	assert.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))
}

func TestShortRefResolution(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "find me", Author: "alice"})
	require.NoError(t, err)

	byPrefix, err := engine.Get(ctx, created.ShortRef())
	require.NoError(t, err)
	assert.Equal(t, created.ID, byPrefix.ID)

	_, err = engine.Get(ctx, "ffffffff")
	require.Error(t, err)
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))
}

func TestShortRefAmbiguityRefused(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewJSONRepository(store)
	engine := task.NewEngine(repo, eventbus.New())
	ctx := context.Background()

	// Hand-edited data may carry colliding prefixes; the engine never
	// resolves them to an arbitrary task.
	err = repo.Mutate(ctx, func(tasks []*task.Task) ([]*task.Task, error) {
		return append(tasks,
			&task.Task{ID: "deadbeef-0001-4000-8000-000000000000", Text: "one", Status: task.StatusTodo},
			&task.Task{ID: "deadbeef-0002-4000-8000-000000000000", Text: "two", Status: task.StatusTodo},
		), nil
	})
	require.NoError(t, err)

	_, err = engine.Get(ctx, "deadbeef")
	require.Error(t, err)
	assert.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))

	exact, err := engine.Get(ctx, "deadbeef-0001-4000-8000-000000000000")
	require.NoError(t, err)
	assert.Equal(t, "one", exact.Text)

	_, err = engine.Claim(ctx, "deadbeef", "bob")
	require.Error(t, err)
	assert.Equal(t, cerr.FailedPrecondition, cerr.CodeOf(err))
}

func TestUpdateStatusEvents(t *testing.T) {
	engine, bus := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "watched", Author: "alice"})
	require.NoError(t, err)

	subID, ch := bus.Subscribe(16)
	defer bus.Unsubscribe(subID)

	onHold := task.StatusOnHold
	updated, err := engine.Update(ctx, created.ID, &task.Patch{Status: &onHold})
	require.NoError(t, err)
	assert.Equal(t, task.StatusOnHold, updated.Status)

	event := <-ch
	assert.Equal(t, eventbus.StatusChanged, event.Type)
	assert.Equal(t, created.ID, event.TaskID)
	assert.Equal(t, string(task.StatusTodo), event.Meta["prev_status"])
	assert.Equal(t, string(task.StatusOnHold), event.Meta["status"])

	// moving into awaiting-approval via the generic update stays silent
	awaiting := task.StatusAwaitingApproval
	_, err = engine.Update(ctx, created.ID, &task.Patch{Status: &awaiting})
	require.NoError(t, err)
	select {
	case event := <-ch:
		t.Fatalf("unexpected event %s", event.Type)
	default:
	}
}

func TestDelete(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "temp", Author: "alice"})
	require.NoError(t, err)

	require.NoError(t, engine.Delete(ctx, created.ID))

	_, err = engine.Get(ctx, created.ID)
	require.Error(t, err)
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))

	err = engine.Delete(ctx, created.ID)
	require.Error(t, err)
	assert.Equal(t, cerr.NotFound, cerr.CodeOf(err))
}

func TestLifecycleEventSequence(t *testing.T) {
	engine, bus := newTestEngine(t)
	ctx := context.Background()

	subID, ch := bus.Subscribe(16)
	defer bus.Unsubscribe(subID)

	created, err := engine.Create(ctx, &task.CreateRequest{Text: "tracked", Author: "alice", Assignee: "bob"})
	require.NoError(t, err)
	_, err = engine.Claim(ctx, created.ID, "bob")
	require.NoError(t, err)
	_, err = engine.SubmitReport(ctx, created.ID, "bob", "all green")
	require.NoError(t, err)

	types := []eventbus.EventType{}
	for i := 0; i < 3; i++ {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []eventbus.EventType{
		eventbus.TaskCreated,
		eventbus.TaskClaimed,
		eventbus.ReportSubmitted,
	}, types)
}
