package task

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskdesk/taskdesk/pkg/cerr"
)

// Server exposes the task collection over the programmatic REST surface.
// Handlers set their result on the request context; the cerr middleware
// renders the JSON body and status.
type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/tasks", s.handleList)
	r.Post("/tasks", s.handleCreate)
	r.Get("/tasks/tree", s.handleTree)
	r.Patch("/tasks/{id}", s.handlePatch)
	r.Delete("/tasks/{id}", s.handleDelete)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tasks, err := s.engine.List(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	cerr.SetJSONResponse(ctx, tasks)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.engine.Create(ctx, &req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tasks, err := s.engine.List(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	forest, err := BuildForest(tasks)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, forest)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.engine.Update(ctx, chi.URLParam(r, "id"), &patch)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.engine.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]bool{"success": true})
}
