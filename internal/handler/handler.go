package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vstep-prep/vstep/internal/content"
	"github.com/vstep-prep/vstep/internal/mocktest"
	"github.com/vstep-prep/vstep/internal/model"
	"github.com/vstep-prep/vstep/internal/scoring"
	"github.com/vstep-prep/vstep/internal/store"
	"github.com/vstep-prep/vstep/internal/validate"
)

const maxBodyBytes = 10 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	assembler *mocktest.Assembler
	scorer    *scoring.Orchestrator
	importer  *content.Importer
	validator *validate.Validator
	config    model.ExamConfig
}

// New creates a new Handler.
func New(s *store.Store, grader scoring.Grader, cfg model.ExamConfig) *Handler {
	v := validate.New()
	return &Handler{
		store:     s,
		assembler: mocktest.New(s, v),
		scorer:    scoring.New(s, grader, cfg),
		importer:  content.NewImporter(s, v),
		validator: v,
		config:    cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)

			r.Get("/mock-tests", h.handleListMockTests)
			r.Get("/mock-tests/{id}", h.handleGetMockTest)
			r.Post("/mock-tests/{id}/submissions", h.handleSubmit)
			r.Get("/practice/{skill}", h.handlePractice)
			r.Get("/results", h.handleListResults)
			r.Get("/results/{id}", h.handleGetResult)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
				r.Post("/mock-tests", h.handleCreateMockTest)
				r.Post("/mock-tests/{id}/active", h.handleSetMockTestActive)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{id}/toggle-active", h.handleToggleUserActive)
				r.Post("/content", h.handleUploadContent)
			})
		})
	})
}

type errorResponse struct {
	Error  string             `json:"error"`
	Fields []model.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps the error taxonomy to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *model.ValidationError
		nf   *model.NotFoundError
		perr *model.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Fields: verr.Fields})
	case errors.As(err, &nf):
		writeErrorMessage(w, http.StatusNotFound, nf.Error())
	case errors.As(err, &perr):
		slog.Error("persistence failure", "path", r.URL.Path, "op", perr.Op, "error", perr.Err)
		writeErrorMessage(w, http.StatusInternalServerError, "failed to save, please retry")
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a JSON request body into v. Failures are reported as
// validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.NewValidationError(err, model.FieldError{Field: "body", Error: err.Error()})
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError(nil, model.FieldError{Field: name, Error: "invalid id " + strconv.Quote(raw)})
	}
	return id, nil
}
