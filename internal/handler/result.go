package handler

import (
	"net/http"

	"github.com/vstep-prep/vstep/internal/model"
)

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var sub model.Submission
	if err := decodeJSON(w, r, &sub); err != nil {
		writeError(w, r, err)
		return
	}

	user := model.UserFromContext(r.Context())
	result, err := h.scorer.ScoreSubmission(r.Context(), id, user.ID, sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	results, err := h.store.ListResultsByLearner(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.store.GetResult(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := model.UserFromContext(r.Context())
	if result.LearnerID != user.ID && !user.CanManageTests() {
		writeErrorMessage(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
