package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/vstep-prep/vstep/internal/i18n"
	"github.com/vstep-prep/vstep/internal/model"
)

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,max=64"`
	DisplayName string         `json:"display_name"`
	Password    string         `json:"password" validate:"required,min=8"`
	Role        model.UserRole `json:"role" validate:"required,oneof=student teacher admin"`
}

type uploadResponse struct {
	Imported int    `json:"imported"`
	Skipped  bool   `json:"skipped"`
	Changed  bool   `json:"changed,omitempty"`
	Message  string `json:"message"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	_, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if nf := (*model.NotFoundError)(nil); err != nil && !errors.As(err, &nf) {
		writeError(w, r, err)
		return
	}
	if err == nil {
		writeError(w, r, model.NewValidationError(nil, model.FieldError{Field: "username", Error: "username is already taken"}))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	u := model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	id, err := h.store.CreateUser(r.Context(), u)
	if err != nil {
		writeError(w, r, &model.PersistenceError{Op: "create user", Err: err})
		return
	}
	u.ID = id
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.store.ToggleUserActive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleUploadContent imports a content document sent as the multipart
// field "content_file".
func (h *Handler) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeError(w, r, model.NewValidationError(err, model.FieldError{Field: "content_file", Error: "expected a multipart upload up to 10 MB"}))
		return
	}
	file, header, err := r.FormFile("content_file")
	if err != nil {
		writeError(w, r, model.NewValidationError(nil, model.FieldError{Field: "content_file", Error: "no file uploaded"}))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	out, err := h.importer.Import(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("uploaded content via admin", "filename", header.Filename, "count", out.Imported, "skipped", out.Skipped, "changed", out.Changed)
	msg := appI18n.Tp(r.Context(), "ContentImported", out.Imported)
	if out.Skipped {
		msg = appI18n.T(r.Context(), "ContentUnchanged")
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Imported: out.Imported,
		Skipped:  out.Skipped,
		Changed:  out.Changed,
		Message:  msg,
	})
}
