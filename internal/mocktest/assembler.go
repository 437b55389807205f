// Package mocktest assembles full four-skill mock tests from the content pools.
package mocktest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vstep-prep/vstep/internal/metrics"
	"github.com/vstep-prep/vstep/internal/model"
	"github.com/vstep-prep/vstep/internal/store"
	"github.com/vstep-prep/vstep/internal/validate"
)

const (
	listeningItems  = 1
	readingPassages = 4
)

// Repository is the storage the assembler samples from and writes to.
type Repository interface {
	SampleUnfiltered(ctx context.Context, skill model.Skill, slot store.Slot, count int) ([]int64, error)
	CreateMockTest(ctx context.Context, mt model.MockTest) (int64, error)
}

// CreateRequest carries the caller-supplied fields of a new mock test.
type CreateRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

// Assembler builds mock tests by random sampling.
type Assembler struct {
	repo      Repository
	validator *validate.Validator
}

// New creates an Assembler.
func New(repo Repository, v *validate.Validator) *Assembler {
	return &Assembler{repo: repo, validator: v}
}

// CreateMockTest validates req, samples content for all four skills and
// persists the resulting snapshot. Empty pools leave the skill empty.
func (a *Assembler) CreateMockTest(ctx context.Context, req CreateRequest) (int64, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if err := a.validator.Struct(req); err != nil {
		return 0, err
	}

	mt, err := a.sample(ctx)
	if err != nil {
		return 0, err
	}
	mt.Title = req.Title
	mt.Description = req.Description

	id, err := a.repo.CreateMockTest(ctx, mt)
	if err != nil {
		return 0, &model.PersistenceError{Op: "create mock test", Err: err}
	}

	metrics.MockTestsAssembled.Inc()
	slog.Info("assembled mock test",
		"id", id,
		"title", mt.Title,
		"listening", len(mt.ItemIDs(model.SkillListening)),
		"reading", len(mt.Reading),
		"writing", len(mt.Writing),
		"speaking", len(mt.Speaking),
	)
	return id, nil
}

func (a *Assembler) sample(ctx context.Context) (model.MockTest, error) {
	var mt model.MockTest

	ids, err := a.repo.SampleUnfiltered(ctx, model.SkillListening, store.Slot{}, listeningItems)
	if err != nil {
		return mt, fmt.Errorf("sample listening: %w", err)
	}
	if len(ids) > 0 {
		mt.Listening = &ids[0]
	}

	if mt.Reading, err = a.repo.SampleUnfiltered(ctx, model.SkillReading, store.Slot{}, readingPassages); err != nil {
		return mt, fmt.Errorf("sample reading: %w", err)
	}

	for _, task := range model.WritingTasks {
		ids, err := a.repo.SampleUnfiltered(ctx, model.SkillWriting, store.Slot{Task: task}, 1)
		if err != nil {
			return mt, fmt.Errorf("sample writing %s: %w", task, err)
		}
		mt.Writing = append(mt.Writing, ids...)
	}

	for _, part := range model.SpeakingParts {
		ids, err := a.repo.SampleUnfiltered(ctx, model.SkillSpeaking, store.Slot{Part: part}, 1)
		if err != nil {
			return mt, fmt.Errorf("sample speaking part %d: %w", part, err)
		}
		mt.Speaking = append(mt.Speaking, ids...)
	}

	return mt, nil
}
