package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vstep-prep/vstep/internal/mocktest"
	"github.com/vstep-prep/vstep/internal/model"
)

const maxPracticeCount = 10

// mockTestView is a mock test with its content resolved for taking it.
type mockTestView struct {
	*model.MockTest
	ListeningItem *model.ListeningItem    `json:"listening,omitempty"`
	Reading       []*model.ReadingPassage `json:"reading"`
	Writing       []*model.WritingPrompt  `json:"writing"`
	Speaking      []*model.SpeakingPrompt `json:"speaking"`
}

type practiceView struct {
	Skill model.Skill         `json:"skill"`
	Items []model.ContentItem `json:"items"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) handleListMockTests(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	tests, err := h.store.ListMockTests(r.Context(), !user.CanManageTests())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tests == nil {
		tests = []model.MockTest{}
	}
	writeJSON(w, http.StatusOK, tests)
}

func (h *Handler) handleGetMockTest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := model.UserFromContext(r.Context())

	mt, err := h.store.GetMockTest(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !mt.Active && !user.CanManageTests() {
		writeError(w, r, &model.NotFoundError{Resource: "mock test", ID: id})
		return
	}

	view := mockTestView{MockTest: mt}
	reveal := user.CanManageTests()
	for _, skill := range model.Skills {
		items, err := h.resolveItems(r.Context(), skill, mt.ItemIDs(skill), reveal)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, item := range items {
			switch it := item.(type) {
			case *model.ListeningItem:
				view.ListeningItem = it
			case *model.ReadingPassage:
				view.Reading = append(view.Reading, it)
			case *model.WritingPrompt:
				view.Writing = append(view.Writing, it)
			case *model.SpeakingPrompt:
				view.Speaking = append(view.Speaking, it)
			}
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleCreateMockTest(w http.ResponseWriter, r *http.Request) {
	var req mocktest.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.assembler.CreateMockTest(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mt, err := h.store.GetMockTest(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mt)
}

func (h *Handler) handleSetMockTestActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.SetMockTestActive(r.Context(), id, *req.Active); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePractice(w http.ResponseWriter, r *http.Request) {
	skill := model.Skill(chi.URLParam(r, "skill"))
	if !skill.Valid() {
		writeError(w, r, model.NewValidationError(nil, model.FieldError{Field: "skill", Error: "unknown skill " + strconv.Quote(string(skill))}))
		return
	}

	q := r.URL.Query()
	level := model.Level(q.Get("level"))
	switch level {
	case "", model.LevelB1, model.LevelB2, model.LevelC1:
	default:
		writeError(w, r, model.NewValidationError(nil, model.FieldError{Field: "level", Error: "level must be one of B1, B2 or C1"}))
		return
	}
	count := 1
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPracticeCount {
			writeError(w, r, model.NewValidationError(nil, model.FieldError{Field: "count", Error: "count must be between 1 and 10"}))
			return
		}
		count = n
	}

	ids, err := h.store.SampleFiltered(r.Context(), skill, level, q.Get("topic"), count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.resolveItems(r.Context(), skill, ids, model.UserFromContext(r.Context()).CanManageTests())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.ContentItem{}
	}
	writeJSON(w, http.StatusOK, practiceView{Skill: skill, Items: items})
}

// resolveItems loads content items in order, skipping ids that no longer
// resolve. Unless reveal is set, correct options and transcripts are removed.
func (h *Handler) resolveItems(ctx context.Context, skill model.Skill, ids []int64, reveal bool) ([]model.ContentItem, error) {
	items := make([]model.ContentItem, 0, len(ids))
	for _, id := range ids {
		item, err := h.store.GetContentItem(ctx, skill, id)
		if nf := (*model.NotFoundError)(nil); errors.As(err, &nf) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !reveal {
			item = stripAnswers(item)
		}
		items = append(items, item)
	}
	return items, nil
}

func stripAnswers(item model.ContentItem) model.ContentItem {
	switch it := item.(type) {
	case *model.ListeningItem:
		c := *it
		c.Transcript = ""
		c.Questions = model.StripAnswers(it.Questions)
		return &c
	case *model.ReadingPassage:
		c := *it
		c.Questions = model.StripAnswers(it.Questions)
		return &c
	}
	return item
}
