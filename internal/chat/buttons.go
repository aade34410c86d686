package chat

import (
	"github.com/taskdesk/taskdesk/internal/task"
)

// TaskKeyboard renders the lifecycle actions available for a task in the
// given status. Terminal and awaiting-approval tasks get no buttons; the
// approval pair is attached by the report notification instead.
func TaskKeyboard(status task.Status, ref string) Keyboard {
	var kb Keyboard
	switch status {
	case task.StatusTodo, task.StatusOnHold:
		kb = append(kb, []Button{{
			Label:   "🖐 Взять в работу",
			Payload: Payload{Action: ActionClaim, TaskRef: ref},
		}})
	case task.StatusInProgress:
		kb = append(kb, []Button{{
			Label:   "✅ Отправить отчет",
			Payload: Payload{Action: ActionSubmitReport, TaskRef: ref},
		}})
		kb = append(kb, []Button{{
			Label:   "👨‍💼 Делегировать",
			Payload: Payload{Action: ActionDelegate, TaskRef: ref},
		}})
	}
	return kb
}

// ApprovalKeyboard offers the author the approve/reject pair.
func ApprovalKeyboard(ref string) Keyboard {
	return Keyboard{{
		{Label: "✅ Одобрить", Payload: Payload{Action: ActionApprove, TaskRef: ref}},
		{Label: "❌ Вернуть", Payload: Payload{Action: ActionReject, TaskRef: ref}},
	}}
}
