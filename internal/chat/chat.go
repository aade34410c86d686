// Package chat defines the transport-neutral contracts between the chat
// layer and the conversation/notification logic: the three inbound event
// shapes (command, free-text message, action invocation) and the outbound
// reply surface with inline action buttons.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
)

// ActionKind tags an inline button payload. The wire values are kept short
// because callback payloads ride in size-limited button data.
type ActionKind string

const (
	ActionClaim        ActionKind = "take"
	ActionSubmitReport ActionKind = "done"
	ActionApprove      ActionKind = "appr"
	ActionReject       ActionKind = "rejt"
	ActionDelegate     ActionKind = "dlg"
	ActionDelegateTo   ActionKind = "dlg_to"
	ActionSetAssignee  ActionKind = "set_assignee"
)

// Payload is the structured data carried by an action invocation. TaskRef
// holds a short task id; UserID addresses a selection target.
type Payload struct {
	Action  ActionKind `json:"a"`
	TaskRef string     `json:"i,omitempty"`
	UserID  string     `json:"u,omitempty"`
}

func (p Payload) Encode() string {
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func DecodePayload(data string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode action payload: %w", err)
	}
	return p, nil
}

type Button struct {
	Label   string
	Payload Payload
}

// Keyboard is rendered as rows of inline buttons.
type Keyboard [][]Button

// Command is a named instruction with no payload beyond the sender.
type Command struct {
	Identity int64
	ChatID   int64
	Name     string
	Username string
}

// Message is free-form text from the sender.
type Message struct {
	Identity int64
	ChatID   int64
	Text     string
	Username string
}

// Callback is an action invocation from an inline button press.
type Callback struct {
	Identity   int64
	ChatID     int64
	MessageID  int
	CallbackID string
	Payload    Payload
}

// Responder is the outbound side of the chat transport. Implementations
// must not panic on delivery failure; errors are for the caller's log.
type Responder interface {
	Reply(ctx context.Context, chatID int64, text string) error
	ReplyKeyboard(ctx context.Context, chatID int64, text string, kb Keyboard) error
	// Ack answers an action invocation with a short toast-style note.
	Ack(ctx context.Context, callbackID, text string) error
	EditKeyboard(ctx context.Context, chatID int64, messageID int, kb Keyboard) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}
