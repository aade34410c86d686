package user

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskdesk/taskdesk/pkg/cerr"
)

// Server exposes the user collection and the credential endpoints.
type Server struct {
	service *Service
	repo    Repository
}

func NewServer(service *Service, repo Repository) *Server {
	return &Server{service: service, repo: repo}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/users", s.handleList)
	r.Post("/users", s.handleCreate)
	r.Put("/users/{id}", s.handleUpdate)
	r.Delete("/users/{id}", s.handleDelete)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/password", s.handleChangePassword)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := s.repo.List(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	public := make([]*User, 0, len(users))
	for _, u := range users {
		public = append(public, u.Public())
	}
	cerr.SetJSONResponse(ctx, public)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	u, err := s.service.Create(ctx, &req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, u.Public())
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	u, err := s.service.Update(ctx, chi.URLParam(r, "id"), &req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, u.Public())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.service.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"success": true})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User               *User `json:"user"`
	MustChangePassword bool  `json:"mustChangePassword"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	u, err := s.service.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &loginResponse{
		User:               u.Public(),
		MustChangePassword: u.MustChangePassword,
	})
}

type changePasswordRequest struct {
	Username    string `json:"username"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if err := s.service.ChangePassword(ctx, req.Username, req.NewPassword); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"success": true})
}
