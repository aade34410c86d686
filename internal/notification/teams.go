package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TeamsBroadcaster posts announcements to a Microsoft Teams incoming
// webhook as MessageCard payloads. An empty webhook URL disables it.
type TeamsBroadcaster struct {
	webhookURL string
	client     *http.Client
}

func NewTeamsBroadcaster(webhookURL string) *TeamsBroadcaster {
	return &TeamsBroadcaster{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type messageCard struct {
	Type       string        `json:"@type"`
	Context    string        `json:"@context"`
	ThemeColor string        `json:"themeColor,omitempty"`
	Summary    string        `json:"summary"`
	Sections   []cardSection `json:"sections"`
}

type cardSection struct {
	ActivityTitle string `json:"activityTitle"`
	Text          string `json:"text,omitempty"`
}

func (t *TeamsBroadcaster) Broadcast(ctx context.Context, b *Broadcast) error {
	if t.webhookURL == "" {
		return nil
	}

	card := messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: b.Color,
		Summary:    b.Title,
		Sections: []cardSection{{
			ActivityTitle: b.Title,
			Text:          b.Text,
		}},
	}
	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal message card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
