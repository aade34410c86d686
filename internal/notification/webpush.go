package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/taskdesk/taskdesk/internal/config"
	"github.com/taskdesk/taskdesk/internal/pushsubscription"
)

type webpushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// WebPushBroadcaster delivers announcements to every stored browser push
// subscription. Subscriptions the push service reports as gone are pruned.
type WebPushBroadcaster struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
}

func NewWebPushBroadcaster(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository) *WebPushBroadcaster {
	return &WebPushBroadcaster{vapidEnv: vapidEnv, repo: repo}
}

func (w *WebPushBroadcaster) Broadcast(ctx context.Context, b *Broadcast) error {
	if w.vapidEnv.VAPIDPrivateKey == "" || w.vapidEnv.VAPIDPublicKey == "" {
		return nil
	}

	subs, err := w.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	data, err := json.Marshal(webpushPayload{Title: b.Title, Body: b.Text})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	for _, sub := range subs {
		w.sendToSubscription(ctx, sub, data)
	}
	return nil
}

func (w *WebPushBroadcaster) sendToSubscription(ctx context.Context, sub *pushsubscription.Subscription, data []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotification(data, wpSub, &webpush.Options{
		VAPIDPublicKey:  w.vapidEnv.VAPIDPublicKey,
		VAPIDPrivateKey: w.vapidEnv.VAPIDPrivateKey,
		Subscriber:      w.vapidEnv.VAPIDContact,
		TTL:             86400,
	})
	if err != nil {
		slog.Error("web push: failed to send", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		slog.Info("web push: subscription expired, removing", "endpoint", sub.Endpoint)
		err := w.repo.Mutate(ctx, func(subs []*pushsubscription.Subscription) ([]*pushsubscription.Subscription, error) {
			next := subs[:0]
			for _, s := range subs {
				if s.ID != sub.ID {
					next = append(next, s)
				}
			}
			return next, nil
		})
		if err != nil {
			slog.Error("web push: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return
	}

	if resp.StatusCode >= 400 {
		slog.Warn("web push: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
}
