package conversation_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdesk/taskdesk/internal/chat"
	"github.com/taskdesk/taskdesk/internal/conversation"
	"github.com/taskdesk/taskdesk/internal/eventbus"
	"github.com/taskdesk/taskdesk/internal/task"
	taskrepo "github.com/taskdesk/taskdesk/internal/task/repositoryimpl"
	"github.com/taskdesk/taskdesk/internal/user"
	userrepo "github.com/taskdesk/taskdesk/internal/user/repositoryimpl"
	"github.com/taskdesk/taskdesk/pkg/storage"
)

type fakeResponder struct {
	mu        sync.Mutex
	replies   []string
	keyboards []chat.Keyboard
	acks      []string
	deleted   int
}

func (f *fakeResponder) Reply(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeResponder) ReplyKeyboard(ctx context.Context, chatID int64, text string, kb chat.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	f.keyboards = append(f.keyboards, kb)
	return nil
}

func (f *fakeResponder) Ack(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, text)
	return nil
}

func (f *fakeResponder) EditKeyboard(ctx context.Context, chatID int64, messageID int, kb chat.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyboards = append(f.keyboards, kb)
	return nil
}

func (f *fakeResponder) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	return nil
}

func (f *fakeResponder) lastReply() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

type fixture struct {
	engine     *conversation.Engine
	responder  *fakeResponder
	users      user.Repository
	userSvc    *user.Service
	taskEngine *task.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	bus := eventbus.New()
	users := userrepo.NewJSONRepository(store)
	tasks := taskrepo.NewJSONRepository(store)
	userSvc := user.NewService(users, bus)
	taskEngine := task.NewEngine(tasks, bus)
	responder := &fakeResponder{}

	return &fixture{
		engine:     conversation.NewEngine(conversation.NewManager(), users, userSvc, taskEngine, responder),
		responder:  responder,
		users:      users,
		userSvc:    userSvc,
		taskEngine: taskEngine,
	}
}

func (f *fixture) register(t *testing.T, name string, telegramID int64) *user.User {
	t.Helper()
	u, err := f.userSvc.Create(context.Background(), &user.CreateRequest{
		Name:       name,
		TelegramID: telegramID,
	})
	require.NoError(t, err)
	return u
}

func TestRegistrationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.HandleCommand(ctx, chat.Command{Identity: 10, ChatID: 10, Name: "start", Username: "alice_tg"})
	assert.Contains(t, f.responder.lastReply(), "Как вас зовут")

	f.engine.HandleMessage(ctx, chat.Message{Identity: 10, ChatID: 10, Text: "Алиса"})
	assert.Contains(t, f.responder.lastReply(), "должность")

	f.engine.HandleMessage(ctx, chat.Message{Identity: 10, ChatID: 10, Text: "Тимлид"})
	assert.Contains(t, f.responder.lastReply(), "Регистрация завершена")

	u, err := f.users.GetByTelegramID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "Алиса", u.Name)
	assert.Equal(t, "Тимлид", u.Position)
	assert.Equal(t, "@alice_tg", u.TelegramUsername)
}

func TestStartWhenAlreadyRegistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)

	f.engine.HandleCommand(ctx, chat.Command{Identity: 10, ChatID: 10, Name: "start"})
	assert.Contains(t, f.responder.lastReply(), "уже зарегистрированы")
}

func TestNewRequiresRegistration(t *testing.T) {
	f := newFixture(t)

	f.engine.HandleCommand(context.Background(), chat.Command{Identity: 99, ChatID: 99, Name: "new"})
	assert.Contains(t, f.responder.lastReply(), "/start")
}

func TestTaskCreationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)
	bob := f.register(t, "Боб", 20)

	f.engine.HandleCommand(ctx, chat.Command{Identity: 10, ChatID: 10, Name: "new"})
	assert.Contains(t, f.responder.lastReply(), "текст")

	f.engine.HandleMessage(ctx, chat.Message{Identity: 10, ChatID: 10, Text: "Подготовить отчет"})
	require.NotEmpty(t, f.responder.keyboards)
	picker := f.responder.keyboards[len(f.responder.keyboards)-1]
	// the picker offers the unassigned option plus each user
	require.Len(t, picker, 3)

	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   10,
		ChatID:     10,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionSetAssignee, UserID: bob.ID},
	})

	tasks, err := f.taskEngine.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Подготовить отчет", tasks[0].Text)
	assert.Equal(t, "Алиса", tasks[0].Author)
	assert.Equal(t, "Боб", tasks[0].Assignee)
	assert.Contains(t, f.responder.lastReply(), "Задача создана")
}

func TestTaskCreationUnassigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)

	f.engine.HandleCommand(ctx, chat.Command{Identity: 10, ChatID: 10, Name: "new"})
	f.engine.HandleMessage(ctx, chat.Message{Identity: 10, ChatID: 10, Text: "Свободная задача"})
	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   10,
		ChatID:     10,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionSetAssignee, UserID: "unassigned"},
	})

	tasks, err := f.taskEngine.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].Assignee)
	assert.Equal(t, task.StatusTodo, tasks[0].Status)
}

func TestStrayTextIsIgnored(t *testing.T) {
	f := newFixture(t)

	f.engine.HandleMessage(context.Background(), chat.Message{Identity: 10, ChatID: 10, Text: "привет"})
	assert.Empty(t, f.responder.replies)
}

func TestCancelClearsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)

	f.engine.HandleCommand(ctx, chat.Command{Identity: 10, ChatID: 10, Name: "new"})
	f.engine.HandleCommand(ctx, chat.Command{Identity: 10, ChatID: 10, Name: "cancel"})
	assert.Contains(t, f.responder.lastReply(), "отменено")

	before := len(f.responder.replies)
	f.engine.HandleMessage(ctx, chat.Message{Identity: 10, ChatID: 10, Text: "этот текст никому не нужен"})
	assert.Len(t, f.responder.replies, before)

	tasks, err := f.taskEngine.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestClaimCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)
	f.register(t, "Боб", 20)

	created, err := f.taskEngine.Create(ctx, &task.CreateRequest{Text: "Общая задача", Author: "Алиса"})
	require.NoError(t, err)

	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   20,
		ChatID:     20,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionClaim, TaskRef: created.ShortRef()},
	})

	got, err := f.taskEngine.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, got.Status)
	assert.Equal(t, "Боб", got.Assignee)
}

func TestClaimCallbackUnregistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   77,
		ChatID:     77,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionClaim, TaskRef: "deadbeef"},
	})
	require.NotEmpty(t, f.responder.acks)
	assert.Contains(t, f.responder.acks[0], "/start")
}

func TestReportFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)
	f.register(t, "Боб", 20)

	created, err := f.taskEngine.Create(ctx, &task.CreateRequest{Text: "Сборка", Author: "Алиса", Assignee: "Боб"})
	require.NoError(t, err)
	_, err = f.taskEngine.Claim(ctx, created.ID, "Боб")
	require.NoError(t, err)

	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   20,
		ChatID:     20,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionSubmitReport, TaskRef: created.ShortRef()},
	})
	assert.Contains(t, f.responder.lastReply(), "отчет")

	f.engine.HandleMessage(ctx, chat.Message{Identity: 20, ChatID: 20, Text: "Все собрано, тесты зеленые"})

	got, err := f.taskEngine.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAwaitingApproval, got.Status)
	assert.Equal(t, "Все собрано, тесты зеленые", got.Report)
}

func TestReportOnlyByAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)
	f.register(t, "Боб", 20)

	created, err := f.taskEngine.Create(ctx, &task.CreateRequest{Text: "Чужая задача", Author: "Алиса", Assignee: "Боб"})
	require.NoError(t, err)
	_, err = f.taskEngine.Claim(ctx, created.ID, "Боб")
	require.NoError(t, err)

	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   10,
		ChatID:     10,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionSubmitReport, TaskRef: created.ShortRef()},
	})
	require.NotEmpty(t, f.responder.acks)
	assert.Contains(t, f.responder.acks[len(f.responder.acks)-1], "исполнитель")
}

func TestDelegateFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)
	f.register(t, "Боб", 20)
	carol := f.register(t, "Карина", 30)

	created, err := f.taskEngine.Create(ctx, &task.CreateRequest{Text: "Рефакторинг", Author: "Алиса", Assignee: "Боб"})
	require.NoError(t, err)
	_, err = f.taskEngine.Claim(ctx, created.ID, "Боб")
	require.NoError(t, err)

	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   20,
		ChatID:     20,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionDelegate, TaskRef: created.ShortRef()},
	})
	require.NotEmpty(t, f.responder.keyboards)
	picker := f.responder.keyboards[len(f.responder.keyboards)-1]
	// the assignee themselves is not offered as a target
	for _, row := range picker {
		for _, btn := range row {
			assert.NotContains(t, btn.Label, "Боб")
		}
	}

	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   20,
		ChatID:     20,
		CallbackID: "cb-2",
		Payload:    chat.Payload{Action: chat.ActionDelegateTo, UserID: carol.ID},
	})

	tasks, err := f.taskEngine.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	var child *task.Task
	for _, tk := range tasks {
		if tk.ParentID != "" {
			child = tk
		}
	}
	require.NotNil(t, child)
	assert.Equal(t, "Карина", child.Assignee)
	assert.Equal(t, created.ID, child.RootID)
	assert.True(t, strings.HasPrefix(child.Text, task.DelegationMarker))
}

func TestApproveRejectCallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Алиса", 10)
	f.register(t, "Боб", 20)

	created, err := f.taskEngine.Create(ctx, &task.CreateRequest{Text: "На проверку", Author: "Алиса", Assignee: "Боб"})
	require.NoError(t, err)
	_, err = f.taskEngine.Claim(ctx, created.ID, "Боб")
	require.NoError(t, err)
	_, err = f.taskEngine.SubmitReport(ctx, created.ID, "Боб", "готово")
	require.NoError(t, err)

	// the assignee cannot approve their own work
	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   20,
		ChatID:     20,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionApprove, TaskRef: created.ShortRef()},
	})
	got, err := f.taskEngine.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAwaitingApproval, got.Status)

	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   10,
		ChatID:     10,
		CallbackID: "cb-2",
		Payload:    chat.Payload{Action: chat.ActionReject, TaskRef: created.ShortRef()},
	})
	got, err = f.taskEngine.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, got.Status)
	assert.Empty(t, got.Report)

	_, err = f.taskEngine.SubmitReport(ctx, created.ID, "Боб", "теперь точно готово")
	require.NoError(t, err)
	f.engine.HandleCallback(ctx, chat.Callback{
		Identity:   10,
		ChatID:     10,
		CallbackID: "cb-3",
		Payload:    chat.Payload{Action: chat.ActionApprove, TaskRef: created.ShortRef()},
	})
	got, err = f.taskEngine.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, got.Status)
}

func TestUnknownCallbackIsAcked(t *testing.T) {
	f := newFixture(t)

	f.engine.HandleCallback(context.Background(), chat.Callback{
		Identity:   10,
		ChatID:     10,
		CallbackID: "cb-1",
		Payload:    chat.Payload{Action: chat.ActionKind("nonsense")},
	})
	assert.Len(t, f.responder.acks, 1)
}
