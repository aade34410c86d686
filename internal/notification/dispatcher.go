package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/taskdesk/taskdesk/internal/chat"
	"github.com/taskdesk/taskdesk/internal/eventbus"
	"github.com/taskdesk/taskdesk/internal/task"
	"github.com/taskdesk/taskdesk/pkg/panicerr"
)

// Dispatcher consumes lifecycle events and fans each one out to the
// personal notifier and the broadcast channels. Deliveries for one event
// run concurrently; one failing target never blocks the others.
type Dispatcher struct {
	bus          *eventbus.Bus
	notifier     Notifier
	broadcasters []Broadcaster
}

func NewDispatcher(bus *eventbus.Bus, notifier Notifier, broadcasters ...Broadcaster) *Dispatcher {
	return &Dispatcher{
		bus:          bus,
		notifier:     notifier,
		broadcasters: broadcasters,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.bus.Subscribe(256)
	defer d.bus.Unsubscribe(subID)

	slog.Info("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			d.dispatch(ctx, event)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event *eventbus.Event) {
	notifications, broadcasts := d.plan(event)
	if len(notifications) == 0 && len(broadcasts) == 0 {
		return
	}

	p := pool.New()
	for _, n := range notifications {
		n := n
		p.Go(func() {
			err := panicerr.Safe(func() error {
				return d.notifier.Notify(ctx, n)
			})()
			if err != nil {
				slog.Warn("notification delivery failed",
					"event", string(event.Type), "user", n.UserName, "error", err)
			}
		})
	}
	for _, b := range broadcasts {
		for _, bc := range d.broadcasters {
			b, bc := b, bc
			p.Go(func() {
				err := panicerr.Safe(func() error {
					return bc.Broadcast(ctx, b)
				})()
				if err != nil {
					slog.Warn("broadcast delivery failed",
						"event", string(event.Type), "error", err)
				}
			})
		}
	}
	p.Wait()
}

// plan computes the recipients and messages for one event. The rules follow
// the lifecycle: authors hear about progress on their tasks, assignees hear
// about verdicts on theirs, and an actor is never notified about their own
// action. The one exception is a submitted report: the author always gets
// the approval message, since on a self-assigned task it carries the only
// approve/reject affordance in chat.
func (d *Dispatcher) plan(event *eventbus.Event) ([]*Notification, []*Broadcast) {
	var (
		notifications []*Notification
		broadcasts    []*Broadcast
	)
	meta := event.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	text := meta["text"]
	author := meta["author"]
	assignee := meta["assignee"]
	ref := shortRef(event.TaskID)

	switch event.Type {
	case eventbus.TaskCreated:
		if assignee != "" && assignee != event.Actor {
			notifications = append(notifications, &Notification{
				UserName: assignee,
				Text:     fmt.Sprintf("📋 Вам назначена новая задача!\n\n%s\n👤 Автор: %s", text, author),
				Keyboard: chat.TaskKeyboard(task.Status(meta["status"]), ref),
			})
		}
		displayAssignee := assignee
		if displayAssignee == "" {
			displayAssignee = "не назначен"
		}
		broadcasts = append(broadcasts, &Broadcast{
			Title: "Новая задача",
			Text:  fmt.Sprintf("%s\nАвтор: %s\nИсполнитель: %s", text, author, displayAssignee),
			Color: "0078D7",
		})

	case eventbus.TaskClaimed:
		if author != "" && author != event.Actor {
			notifications = append(notifications, &Notification{
				UserName: author,
				Text:     fmt.Sprintf("👷 %s взял задачу в работу: %s", event.Actor, text),
			})
		}

	case eventbus.ReportSubmitted:
		if author != "" {
			notifications = append(notifications, &Notification{
				UserName: author,
				Text:     fmt.Sprintf("📬 %s отправил отчет по задаче: %s\n\n📄 Отчет: %s", event.Actor, text, meta["report"]),
				Keyboard: chat.ApprovalKeyboard(ref),
			})
		}

	case eventbus.TaskApproved:
		if assignee != "" && assignee != event.Actor {
			notifications = append(notifications, &Notification{
				UserName: assignee,
				Text:     fmt.Sprintf("✅ Ваша задача одобрена: %s", text),
			})
		}

	case eventbus.TaskRejected:
		if assignee != "" && assignee != event.Actor {
			notifications = append(notifications, &Notification{
				UserName: assignee,
				Text:     fmt.Sprintf("❌ Задача возвращена на доработку: %s", text),
			})
		}

	case eventbus.TaskDelegated:
		if assignee != "" && assignee != event.Actor {
			notifications = append(notifications, &Notification{
				UserName: assignee,
				Text:     fmt.Sprintf("📋 Вам делегирована задача!\n\n%s\n👤 От: %s", text, event.Actor),
				Keyboard: chat.TaskKeyboard(task.StatusTodo, ref),
			})
		}
		if rootAuthor := meta["root_author"]; rootAuthor != "" && rootAuthor != event.Actor && rootAuthor != assignee {
			notifications = append(notifications, &Notification{
				UserName: rootAuthor,
				Text:     fmt.Sprintf("👨‍💼 %s делегировал задачу пользователю %s: %s", event.Actor, assignee, text),
			})
		}

	case eventbus.StatusChanged:
		msg := fmt.Sprintf("🔄 Статус задачи изменен: %s\n%s → %s", text, meta["prev_status"], meta["status"])
		seen := map[string]bool{"": true, event.Actor: true}
		for _, name := range []string{author, assignee} {
			if seen[name] {
				continue
			}
			seen[name] = true
			notifications = append(notifications, &Notification{UserName: name, Text: msg})
		}
		broadcasts = append(broadcasts, &Broadcast{
			Title: "Статус задачи изменен",
			Text:  fmt.Sprintf("%s\n%s → %s", text, meta["prev_status"], meta["status"]),
			Color: "FFA500",
		})
	}

	return notifications, broadcasts
}

func shortRef(id string) string {
	if len(id) < task.ShortRefLen {
		return id
	}
	return id[:task.ShortRefLen]
}
