package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskdesk/taskdesk/internal/eventbus"
	"github.com/taskdesk/taskdesk/pkg/cerr"
)

type Service struct {
	repo Repository
	bus  *eventbus.Bus
}

func NewService(repo Repository, bus *eventbus.Bus) *Service {
	return &Service{repo: repo, bus: bus}
}

func newID() string {
	return fmt.Sprintf("u_%s", strings.ToLower(ulid.Make().String()))
}

type CreateRequest struct {
	Name             string `json:"name"`
	Position         string `json:"position"`
	TelegramID       int64  `json:"telegramId"`
	TelegramUsername string `json:"telegramUsername"`
	Avatar           string `json:"avatar"`
	Username         string `json:"username"`
}

// Create adds a user, enforcing display-name uniqueness. Two users sharing
// a name would make author/assignee resolution ambiguous.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "name must not be empty", nil)
	}

	u := &User{
		ID:               newID(),
		Name:             name,
		Position:         strings.TrimSpace(req.Position),
		TelegramID:       req.TelegramID,
		TelegramUsername: req.TelegramUsername,
		Avatar:           req.Avatar,
		Username:         req.Username,
		CreatedAt:        time.Now(),
	}

	err := s.repo.Mutate(ctx, func(users []*User) ([]*User, error) {
		for _, existing := range users {
			if existing.Name == name {
				return nil, cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("user %q already exists", name), nil)
			}
		}
		return append(users, u), nil
	})
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.PublishNew(eventbus.UserRegistered, "", u.Name, map[string]string{"position": u.Position})
	}
	return u, nil
}

type UpdateRequest struct {
	Name             *string `json:"name"`
	Position         *string `json:"position"`
	TelegramID       *int64  `json:"telegramId"`
	TelegramUsername *string `json:"telegramUsername"`
	Avatar           *string `json:"avatar"`
	Username         *string `json:"username"`
}

func (s *Service) Update(ctx context.Context, id string, req *UpdateRequest) (*User, error) {
	var updated *User
	err := s.repo.Mutate(ctx, func(users []*User) ([]*User, error) {
		var target *User
		for _, u := range users {
			if u.ID == id {
				target = u
				break
			}
		}
		if target == nil {
			return nil, cerr.NewError(cerr.NotFound, "user not found", nil)
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return nil, cerr.NewError(cerr.InvalidArgument, "name must not be empty", nil)
			}
			for _, u := range users {
				if u.ID != id && u.Name == name {
					return nil, cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("user %q already exists", name), nil)
				}
			}
			target.Name = name
		}
		if req.Position != nil {
			target.Position = *req.Position
		}
		if req.TelegramID != nil {
			target.TelegramID = *req.TelegramID
		}
		if req.TelegramUsername != nil {
			target.TelegramUsername = *req.TelegramUsername
		}
		if req.Avatar != nil {
			target.Avatar = *req.Avatar
		}
		if req.Username != nil {
			target.Username = *req.Username
		}
		updated = target
		return users, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a user. Tasks referencing the display name keep their
// dangling reference; the lifecycle engine treats it as an unknown user.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Mutate(ctx, func(users []*User) ([]*User, error) {
		next := users[:0]
		found := false
		for _, u := range users {
			if u.ID == id {
				found = true
				continue
			}
			next = append(next, u)
		}
		if !found {
			return nil, cerr.NewError(cerr.NotFound, "user not found", nil)
		}
		return next, nil
	})
}

// Authenticate verifies a username/password pair and reports whether the
// user still has to replace the provisioned password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Username != username || u.Username == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			break
		}
		return u, nil
	}
	return nil, cerr.NewError(cerr.Unauthenticated, "invalid username or password", nil)
}

func (s *Service) ChangePassword(ctx context.Context, username, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return cerr.NewError(cerr.InvalidArgument, "new password must not be empty", nil)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", err)
	}
	return s.repo.Mutate(ctx, func(users []*User) ([]*User, error) {
		for _, u := range users {
			if u.Username == username && u.Username != "" {
				u.PasswordHash = string(hash)
				u.MustChangePassword = false
				return users, nil
			}
		}
		return nil, cerr.NewError(cerr.NotFound, "user not found", nil)
	})
}
