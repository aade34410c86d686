package pushsubscription

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/taskdesk/taskdesk/internal/config"
	"github.com/taskdesk/taskdesk/pkg/cerr"
)

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     Repository
}

func NewServer(vapidEnv *config.VAPIDEnv, repo Repository) *Server {
	return &Server{vapidEnv: vapidEnv, repo: repo}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/push/key", s.handleKey)
	r.Post("/push/subscribe", s.handleSubscribe)
	r.Post("/push/unsubscribe", s.handleUnsubscribe)
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.vapidEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"publicKey": s.vapidEnv.VAPIDPublicKey})
}

type subscribeRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dhKey"`
	AuthKey   string `json:"authKey"`
}

// handleSubscribe is idempotent per endpoint: resubscribing replaces the
// stored keys instead of accumulating duplicates.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}
	if req.P256dhKey == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "p256dhKey is required", nil)
		return
	}
	if req.AuthKey == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "authKey is required", nil)
		return
	}

	err := s.repo.Mutate(ctx, func(subs []*Subscription) ([]*Subscription, error) {
		for _, sub := range subs {
			if sub.Endpoint == req.Endpoint {
				sub.P256dhKey = req.P256dhKey
				sub.AuthKey = req.AuthKey
				return subs, nil
			}
		}
		return append(subs, &Subscription{
			ID:        ulid.Make().String(),
			Endpoint:  req.Endpoint,
			P256dhKey: req.P256dhKey,
			AuthKey:   req.AuthKey,
			CreatedAt: time.Now(),
		}), nil
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"success": true})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}

	err := s.repo.Mutate(ctx, func(subs []*Subscription) ([]*Subscription, error) {
		next := subs[:0]
		for _, sub := range subs {
			if sub.Endpoint != req.Endpoint {
				next = append(next, sub)
			}
		}
		return next, nil
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"success": true})
}
