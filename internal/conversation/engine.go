package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taskdesk/taskdesk/internal/chat"
	"github.com/taskdesk/taskdesk/internal/task"
	"github.com/taskdesk/taskdesk/internal/user"
	"github.com/taskdesk/taskdesk/pkg/cerr"
)

// Engine drives the multi-turn chat flows: registration, task creation,
// report capture and delegation target selection. All three inbound event
// shapes funnel through here; per-identity ordering is guaranteed by the
// session manager's identity locks.
type Engine struct {
	sessions  *Manager
	users     user.Repository
	userSvc   *user.Service
	tasks     *task.Engine
	responder chat.Responder
}

func NewEngine(sessions *Manager, users user.Repository, userSvc *user.Service, tasks *task.Engine, responder chat.Responder) *Engine {
	return &Engine{
		sessions:  sessions,
		users:     users,
		userSvc:   userSvc,
		tasks:     tasks,
		responder: responder,
	}
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) {
	if err := e.responder.Reply(ctx, chatID, text); err != nil {
		slog.Error("conversation: failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (e *Engine) replyKeyboard(ctx context.Context, chatID int64, text string, kb chat.Keyboard) {
	if err := e.responder.ReplyKeyboard(ctx, chatID, text, kb); err != nil {
		slog.Error("conversation: failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (e *Engine) ack(ctx context.Context, callbackID, text string) {
	if err := e.responder.Ack(ctx, callbackID, text); err != nil {
		slog.Error("conversation: failed to ack callback", "error", err)
	}
}

// HandleCommand processes /start, /new and /cancel.
func (e *Engine) HandleCommand(ctx context.Context, cmd chat.Command) {
	unlock := e.sessions.LockIdentity(cmd.Identity)
	defer unlock()

	switch cmd.Name {
	case "start":
		e.handleStart(ctx, cmd)
	case "new":
		e.handleNew(ctx, cmd)
	case "cancel":
		e.sessions.Delete(cmd.Identity)
		e.reply(ctx, cmd.ChatID, "Действие отменено.")
	default:
		// unknown commands are ignored
	}
}

func (e *Engine) handleStart(ctx context.Context, cmd chat.Command) {
	u, err := e.users.GetByTelegramID(ctx, cmd.Identity)
	if err == nil {
		e.reply(ctx, cmd.ChatID, fmt.Sprintf("👋 Привет, %s! Вы уже зарегистрированы.\n\nКоманды:\n/new - Создать новую задачу", u.Name))
		return
	}
	if !cerr.IsCode(err, cerr.NotFound) {
		slog.Error("conversation: failed to look up user", "error", err)
		return
	}
	if s, ok := e.sessions.Get(cmd.Identity); ok && s.Step != AwaitName && s.Step != AwaitPosition {
		e.reply(ctx, cmd.ChatID, "Сначала завершите текущее действие или отправьте /cancel.")
		return
	}
	e.sessions.Put(cmd.Identity, &Session{Step: AwaitName, ChatID: cmd.ChatID, Username: cmd.Username})
	e.reply(ctx, cmd.ChatID, "👋 Добро пожаловать! Как вас зовут? Этим именем вы будете подписаны в системе.")
}

func (e *Engine) handleNew(ctx context.Context, cmd chat.Command) {
	if _, err := e.users.GetByTelegramID(ctx, cmd.Identity); err != nil {
		e.reply(ctx, cmd.ChatID, "⛔️ Сначала зарегистрируйтесь через /start")
		return
	}
	if s, ok := e.sessions.Get(cmd.Identity); ok && s.Step != AwaitTaskText && s.Step != AwaitTaskAssignee {
		e.reply(ctx, cmd.ChatID, "Сначала завершите текущее действие или отправьте /cancel.")
		return
	}
	e.sessions.Put(cmd.Identity, &Session{Step: AwaitTaskText, ChatID: cmd.ChatID, Username: cmd.Username})
	e.reply(ctx, cmd.ChatID, "📝 Введите текст новой задачи:")
}

// HandleMessage processes free text. Text arriving with no session is
// ignored; text a session does not expect is dropped without touching it.
func (e *Engine) HandleMessage(ctx context.Context, msg chat.Message) {
	unlock := e.sessions.LockIdentity(msg.Identity)
	defer unlock()

	s, ok := e.sessions.Get(msg.Identity)
	if !ok {
		return
	}

	switch s.Step {
	case AwaitName:
		s.Name = strings.TrimSpace(msg.Text)
		s.Step = AwaitPosition
		e.sessions.Put(msg.Identity, s)
		e.reply(ctx, msg.ChatID, fmt.Sprintf("Принято, %s! Теперь укажите вашу должность:", s.Name))

	case AwaitPosition:
		e.finishRegistration(ctx, msg, s)

	case AwaitTaskText:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			e.reply(ctx, msg.ChatID, "Текст задачи не может быть пустым. Попробуйте еще раз:")
			return
		}
		s.TaskText = text
		s.Step = AwaitTaskAssignee
		e.sessions.Put(msg.Identity, s)
		e.sendAssigneePicker(ctx, msg.ChatID, text)

	case AwaitReport:
		e.finishReport(ctx, msg, s)

	default:
		// session waiting for a selection event, not text
	}
}

func (e *Engine) finishRegistration(ctx context.Context, msg chat.Message, s *Session) {
	username := s.Username
	if username != "" && !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	u, err := e.userSvc.Create(ctx, &user.CreateRequest{
		Name:             s.Name,
		Position:         strings.TrimSpace(msg.Text),
		TelegramID:       msg.Identity,
		TelegramUsername: username,
	})
	if err != nil {
		if cerr.IsCode(err, cerr.AlreadyExists) {
			s.Step = AwaitName
			e.sessions.Put(msg.Identity, s)
			e.reply(ctx, msg.ChatID, "Это имя уже занято. Укажите другое имя:")
			return
		}
		slog.Error("conversation: failed to register user", "error", err)
		e.reply(ctx, msg.ChatID, "Не удалось завершить регистрацию, попробуйте позже.")
		return
	}
	e.sessions.Delete(msg.Identity)
	e.reply(ctx, msg.ChatID, fmt.Sprintf("✅ Регистрация завершена!\n%s (%s)\nТеперь вы можете работать с задачами.", u.Name, u.Position))
}

func (e *Engine) finishReport(ctx context.Context, msg chat.Message, s *Session) {
	actor, err := e.users.GetByTelegramID(ctx, msg.Identity)
	if err != nil {
		e.sessions.Delete(msg.Identity)
		e.reply(ctx, msg.ChatID, "⛔️ Сначала зарегистрируйтесь через /start")
		return
	}
	t, err := e.tasks.SubmitReport(ctx, s.TaskRef, actor.Name, msg.Text)
	e.sessions.Delete(msg.Identity)
	if err != nil {
		e.reply(ctx, msg.ChatID, shortError(err))
		return
	}
	e.reply(ctx, msg.ChatID, fmt.Sprintf("✅ Отчет принят! Задача \"%s\" отправлена на согласование.", t.Text))
}

func (e *Engine) sendAssigneePicker(ctx context.Context, chatID int64, taskText string) {
	users, err := e.users.List(ctx)
	if err != nil {
		slog.Error("conversation: failed to list users", "error", err)
		e.reply(ctx, chatID, "Не удалось получить список пользователей, попробуйте позже.")
		return
	}

	kb := chat.Keyboard{{
		{Label: "🚫 Без исполнителя", Payload: chat.Payload{Action: chat.ActionSetAssignee, UserID: "unassigned"}},
	}}
	for _, u := range users {
		label := u.Name
		if u.Position != "" {
			label = fmt.Sprintf("%s (%s)", u.Name, u.Position)
		}
		kb = append(kb, []chat.Button{{
			Label:   label,
			Payload: chat.Payload{Action: chat.ActionSetAssignee, UserID: u.ID},
		}})
	}
	e.replyKeyboard(ctx, chatID, fmt.Sprintf("Задача: %s\n\nВыберите исполнителя:", taskText), kb)
}

// HandleCallback processes an action invocation. Unknown or stale payloads
// are acknowledged and dropped; they must never crash the dispatcher.
func (e *Engine) HandleCallback(ctx context.Context, cb chat.Callback) {
	unlock := e.sessions.LockIdentity(cb.Identity)
	defer unlock()

	switch cb.Payload.Action {
	case chat.ActionSetAssignee:
		e.handleSetAssignee(ctx, cb)
	case chat.ActionClaim:
		e.handleClaim(ctx, cb)
	case chat.ActionSubmitReport:
		e.handleSubmitReport(ctx, cb)
	case chat.ActionApprove:
		e.handleApprove(ctx, cb)
	case chat.ActionReject:
		e.handleReject(ctx, cb)
	case chat.ActionDelegate:
		e.handleDelegate(ctx, cb)
	case chat.ActionDelegateTo:
		e.handleDelegateTo(ctx, cb)
	default:
		e.ack(ctx, cb.CallbackID, "")
	}
}

// actor resolves the registered user behind a callback, acking a short
// hint when there is none.
func (e *Engine) actor(ctx context.Context, cb chat.Callback) (*user.User, bool) {
	u, err := e.users.GetByTelegramID(ctx, cb.Identity)
	if err != nil {
		e.ack(ctx, cb.CallbackID, "Сначала зарегистрируйтесь через /start")
		return nil, false
	}
	return u, true
}

func (e *Engine) handleSetAssignee(ctx context.Context, cb chat.Callback) {
	s, ok := e.sessions.Get(cb.Identity)
	if !ok || s.Step != AwaitTaskAssignee {
		e.ack(ctx, cb.CallbackID, "Сессия истекла. Начните заново командой /new")
		return
	}
	creator, ok := e.actor(ctx, cb)
	if !ok {
		return
	}

	assigneeName := ""
	if cb.Payload.UserID != "unassigned" {
		assignee, err := e.users.GetByID(ctx, cb.Payload.UserID)
		if err != nil {
			e.ack(ctx, cb.CallbackID, "Пользователь не найден")
			return
		}
		assigneeName = assignee.Name
	}

	t, err := e.tasks.Create(ctx, &task.CreateRequest{
		Text:     s.TaskText,
		Author:   creator.Name,
		Assignee: assigneeName,
	})
	if err != nil {
		e.ack(ctx, cb.CallbackID, shortError(err))
		return
	}
	e.sessions.Delete(cb.Identity)

	if err := e.responder.DeleteMessage(ctx, cb.ChatID, cb.MessageID); err != nil {
		slog.Debug("conversation: failed to remove picker message", "error", err)
	}
	displayAssignee := assigneeName
	if displayAssignee == "" {
		displayAssignee = "Без исполнителя"
	}
	e.reply(ctx, cb.ChatID, fmt.Sprintf("✅ Задача создана!\n%s\n👤 Исполнитель: %s", t.Text, displayAssignee))
	e.ack(ctx, cb.CallbackID, "")
}

func (e *Engine) handleClaim(ctx context.Context, cb chat.Callback) {
	actor, ok := e.actor(ctx, cb)
	if !ok {
		return
	}
	t, err := e.tasks.Claim(ctx, cb.Payload.TaskRef, actor.Name)
	if err != nil {
		e.ack(ctx, cb.CallbackID, shortError(err))
		return
	}
	e.ack(ctx, cb.CallbackID, "Успешно!")
	e.reply(ctx, cb.ChatID, fmt.Sprintf("👷 %s взял задачу в работу: %s", actor.Name, t.Text))
	if err := e.responder.EditKeyboard(ctx, cb.ChatID, cb.MessageID, chat.TaskKeyboard(t.Status, t.ShortRef())); err != nil {
		slog.Debug("conversation: failed to update keyboard", "error", err)
	}
}

func (e *Engine) handleSubmitReport(ctx context.Context, cb chat.Callback) {
	actor, ok := e.actor(ctx, cb)
	if !ok {
		return
	}
	t, err := e.tasks.Get(ctx, cb.Payload.TaskRef)
	if err != nil {
		e.ack(ctx, cb.CallbackID, shortError(err))
		return
	}
	if t.Assignee != actor.Name {
		e.ack(ctx, cb.CallbackID, "Только исполнитель может завершить задачу")
		return
	}
	if s, ok := e.sessions.Get(cb.Identity); ok && s.Step != AwaitReport {
		e.ack(ctx, cb.CallbackID, "Сначала завершите текущее действие или отправьте /cancel")
		return
	}
	e.sessions.Put(cb.Identity, &Session{Step: AwaitReport, ChatID: cb.ChatID, TaskRef: cb.Payload.TaskRef})
	e.reply(ctx, cb.ChatID, fmt.Sprintf("📝 Пожалуйста, напишите краткий отчет о выполненной задаче: %s", t.Text))
	e.ack(ctx, cb.CallbackID, "Жду отчет...")
}

func (e *Engine) handleApprove(ctx context.Context, cb chat.Callback) {
	actor, ok := e.actor(ctx, cb)
	if !ok {
		return
	}
	t, err := e.tasks.Approve(ctx, cb.Payload.TaskRef, actor.Name)
	if err != nil {
		e.ack(ctx, cb.CallbackID, shortError(err))
		return
	}
	e.ack(ctx, cb.CallbackID, "Успешно!")
	e.reply(ctx, cb.ChatID, fmt.Sprintf("✅ Автор одобрил задачу: %s", t.Text))
}

func (e *Engine) handleReject(ctx context.Context, cb chat.Callback) {
	actor, ok := e.actor(ctx, cb)
	if !ok {
		return
	}
	t, err := e.tasks.Reject(ctx, cb.Payload.TaskRef, actor.Name)
	if err != nil {
		e.ack(ctx, cb.CallbackID, shortError(err))
		return
	}
	e.ack(ctx, cb.CallbackID, "Успешно!")
	e.reply(ctx, cb.ChatID, fmt.Sprintf("❌ Автор вернул задачу: %s на доработку.", t.Text))
}

func (e *Engine) handleDelegate(ctx context.Context, cb chat.Callback) {
	actor, ok := e.actor(ctx, cb)
	if !ok {
		return
	}
	t, err := e.tasks.Get(ctx, cb.Payload.TaskRef)
	if err != nil {
		e.ack(ctx, cb.CallbackID, shortError(err))
		return
	}
	if t.Assignee != actor.Name {
		e.ack(ctx, cb.CallbackID, "Только исполнитель может делегировать задачу")
		return
	}

	users, err := e.users.List(ctx)
	if err != nil {
		slog.Error("conversation: failed to list users", "error", err)
		e.ack(ctx, cb.CallbackID, "Ошибка обработки")
		return
	}
	var kb chat.Keyboard
	for _, u := range users {
		if u.Name == actor.Name {
			continue
		}
		label := u.Name
		if u.Position != "" {
			label = fmt.Sprintf("%s (%s)", u.Name, u.Position)
		}
		kb = append(kb, []chat.Button{{
			Label:   label,
			Payload: chat.Payload{Action: chat.ActionDelegateTo, TaskRef: cb.Payload.TaskRef, UserID: u.ID},
		}})
	}
	if len(kb) == 0 {
		e.ack(ctx, cb.CallbackID, "Нет доступных пользователей для делегирования")
		return
	}

	if s, ok := e.sessions.Get(cb.Identity); ok && s.Step != AwaitDelegateTarget {
		e.ack(ctx, cb.CallbackID, "Сначала завершите текущее действие или отправьте /cancel")
		return
	}
	e.sessions.Put(cb.Identity, &Session{Step: AwaitDelegateTarget, ChatID: cb.ChatID, TaskRef: cb.Payload.TaskRef})
	e.replyKeyboard(ctx, cb.ChatID, fmt.Sprintf("Выберите, кому делегировать задачу: %s", t.Text), kb)
	e.ack(ctx, cb.CallbackID, "")
}

func (e *Engine) handleDelegateTo(ctx context.Context, cb chat.Callback) {
	s, ok := e.sessions.Get(cb.Identity)
	if !ok || s.Step != AwaitDelegateTarget {
		e.ack(ctx, cb.CallbackID, "Сессия истекла. Начните заново.")
		return
	}
	actor, ok := e.actor(ctx, cb)
	if !ok {
		return
	}
	target, err := e.users.GetByID(ctx, cb.Payload.UserID)
	if err != nil {
		e.ack(ctx, cb.CallbackID, "Пользователь не найден")
		return
	}

	_, err = e.tasks.Delegate(ctx, s.TaskRef, actor.Name, target.Name)
	e.sessions.Delete(cb.Identity)
	if err != nil {
		e.ack(ctx, cb.CallbackID, shortError(err))
		return
	}
	e.reply(ctx, cb.ChatID, fmt.Sprintf("✅ Задача успешно делегирована пользователю %s", target.Name))
	e.ack(ctx, cb.CallbackID, "")
}

// shortError turns an engine error into a brief chat reply.
func shortError(err error) string {
	var cErr *cerr.Error
	if errors.As(err, &cErr) {
		if cErr.Code == cerr.NotFound {
			return "Задача не найдена"
		}
		return cErr.Msg
	}
	return "Ошибка обработки"
}
