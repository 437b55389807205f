// Package scoring turns a learner's raw answers for one mock test into a
// persisted composite result.
//
// Listening and reading are scored locally by comparing option labels.
// Writing and speaking responses are sent to an AI grader, one call per
// prompt, issued concurrently. A failed grading call costs that prompt its
// score and never fails the submission.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	appI18n "github.com/vstep-prep/vstep/internal/i18n"
	"github.com/vstep-prep/vstep/internal/llm"
	"github.com/vstep-prep/vstep/internal/metrics"
	"github.com/vstep-prep/vstep/internal/model"
)

const maxScore = 10.0

// Repository resolves mock tests and content and stores results.
type Repository interface {
	GetMockTest(ctx context.Context, id int64) (*model.MockTest, error)
	GetContentItem(ctx context.Context, skill model.Skill, id int64) (model.ContentItem, error)
	SaveResult(ctx context.Context, r model.Result) (int64, error)
}

// Grader scores one open-ended response.
type Grader interface {
	Grade(ctx context.Context, item model.ContentItem, answer string) (*llm.GradeResult, error)
}

// Orchestrator scores submissions.
type Orchestrator struct {
	repo   Repository
	grader Grader
	cfg    model.ExamConfig
	now    func() time.Time
}

// New creates an Orchestrator. A non-positive GradingConcurrency grades
// prompts one at a time; a zero GradingTimeout leaves AI calls unbounded.
func New(repo Repository, grader Grader, cfg model.ExamConfig) *Orchestrator {
	if cfg.GradingConcurrency < 1 {
		cfg.GradingConcurrency = 1
	}
	return &Orchestrator{repo: repo, grader: grader, cfg: cfg, now: time.Now}
}

// subjectiveJob is one writing or speaking prompt awaiting a score.
type subjectiveJob struct {
	skill   model.Skill
	ordinal int
	id      int64
	item    model.ContentItem // nil when the prompt no longer resolves
	answer  string
}

type subjectiveOutcome struct {
	score float64
	line  string
}

// ScoreSubmission scores answers against mock test mockTestID, persists the
// result for learnerID and returns it.
//
// Once the mock test has been resolved the caller's cancellation is ignored:
// grading calls already dispatched run to completion and the result is
// written exactly once, or not at all if persistence fails.
func (o *Orchestrator) ScoreSubmission(ctx context.Context, mockTestID, learnerID int64, sub model.Submission) (*model.Result, error) {
	start := time.Now()

	mt, err := o.repo.GetMockTest(ctx, mockTestID)
	if err != nil {
		return nil, err
	}
	if !mt.Active {
		return nil, model.NewValidationError(
			errors.New(appI18n.T(ctx, "MockTestInactive")),
			model.FieldError{Field: "mock_test_id", Error: "inactive"},
		)
	}

	ctx = context.WithoutCancel(ctx)
	attemptID := uuid.NewString()
	log := slog.With("attempt_id", attemptID, "mock_test_id", mockTestID, "learner_id", learnerID)

	listening, err := o.scoreObjective(ctx, log, model.SkillListening, mt.ItemIDs(model.SkillListening), sub.Listening)
	if err != nil {
		return nil, err
	}
	reading, err := o.scoreObjective(ctx, log, model.SkillReading, mt.ItemIDs(model.SkillReading), sub.Reading)
	if err != nil {
		return nil, err
	}

	writingJobs, err := o.loadSubjective(ctx, log, model.SkillWriting, mt.ItemIDs(model.SkillWriting), sub.Writing)
	if err != nil {
		return nil, err
	}
	speakingJobs, err := o.loadSubjective(ctx, log, model.SkillSpeaking, mt.ItemIDs(model.SkillSpeaking), sub.Speaking)
	if err != nil {
		return nil, err
	}
	jobs := append(writingJobs, speakingJobs...)
	outcomes := o.gradeAll(ctx, log, jobs)

	writing, writingFeedback := aggregate(outcomes[:len(writingJobs)])
	speaking, speakingFeedback := aggregate(outcomes[len(writingJobs):])

	result := model.Result{
		AttemptID:        attemptID,
		MockTestID:       mockTestID,
		LearnerID:        learnerID,
		Listening:        listening,
		Reading:          reading,
		Writing:          writing,
		Speaking:         speaking,
		Overall:          Overall(listening, reading, writing, speaking),
		WritingFeedback:  writingFeedback,
		SpeakingFeedback: speakingFeedback,
		CreatedAt:        o.now(),
	}

	id, err := o.repo.SaveResult(ctx, result)
	if err != nil {
		log.Error("failed to save result", "error", err)
		return nil, &model.PersistenceError{Op: "save result", Err: err}
	}
	result.ID = id

	metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	log.Info("scored submission",
		"result_id", id,
		"listening", listening,
		"reading", reading,
		"writing", writing,
		"speaking", speaking,
		"overall", result.Overall,
		"duration", time.Since(start),
	)
	return &result, nil
}

// scoreObjective compares selected options with the stored correct options
// across every question of the referenced items. Items that no longer
// resolve are skipped.
func (o *Orchestrator) scoreObjective(ctx context.Context, log *slog.Logger, skill model.Skill, ids []int64, answers map[int64]string) (float64, error) {
	var correct, total int
	for _, id := range ids {
		item, err := o.repo.GetContentItem(ctx, skill, id)
		if nf := (*model.NotFoundError)(nil); errors.As(err, &nf) {
			log.Warn("referenced content missing, skipping its questions", "skill", skill, "item_id", id)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("load %s item %d: %w", skill, id, err)
		}
		for _, q := range choiceQuestions(item) {
			total++
			if selected, ok := answers[q.ID]; ok && strings.EqualFold(selected, q.CorrectOption) {
				correct++
			}
		}
	}
	return ObjectiveScore(correct, total), nil
}

func choiceQuestions(item model.ContentItem) []model.ChoiceQuestion {
	switch it := item.(type) {
	case *model.ListeningItem:
		return it.Questions
	case *model.ReadingPassage:
		return it.Questions
	}
	return nil
}

// loadSubjective resolves the prompts of one skill in stored order.
func (o *Orchestrator) loadSubjective(ctx context.Context, log *slog.Logger, skill model.Skill, ids []int64, answers map[int64]string) ([]subjectiveJob, error) {
	jobs := make([]subjectiveJob, 0, len(ids))
	for i, id := range ids {
		job := subjectiveJob{skill: skill, ordinal: i, id: id, answer: answers[id]}
		item, err := o.repo.GetContentItem(ctx, skill, id)
		switch nf := (*model.NotFoundError)(nil); {
		case errors.As(err, &nf):
			log.Warn("referenced prompt missing", "skill", skill, "item_id", id)
		case err != nil:
			return nil, fmt.Errorf("load %s prompt %d: %w", skill, id, err)
		default:
			job.item = item
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// gradeAll grades every job with bounded concurrency. Outcomes keep job order.
func (o *Orchestrator) gradeAll(ctx context.Context, log *slog.Logger, jobs []subjectiveJob) []subjectiveOutcome {
	outcomes := make([]subjectiveOutcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.cfg.GradingConcurrency)
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = o.gradeOne(ctx, log, job)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) gradeOne(ctx context.Context, log *slog.Logger, job subjectiveJob) subjectiveOutcome {
	label := promptLabel(ctx, job)

	if job.item == nil {
		metrics.GradingCalls.WithLabelValues(string(job.skill), "unavailable").Inc()
		return subjectiveOutcome{line: appI18n.Td(ctx, "FeedbackPromptUnavailable", map[string]any{"Label": label})}
	}

	if o.isBlank(job.skill, job.answer) {
		metrics.GradingCalls.WithLabelValues(string(job.skill), "blank").Inc()
		return subjectiveOutcome{line: appI18n.Td(ctx, "FeedbackLeftBlank", map[string]any{"Label": label})}
	}

	gctx := ctx
	if o.cfg.GradingTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, o.cfg.GradingTimeout)
		defer cancel()
	}

	res, err := o.grader.Grade(gctx, job.item, job.answer)
	if err != nil {
		gerr := &model.GradingError{Skill: job.skill, PromptID: job.id, Err: err}
		log.Error("AI grading failed", "skill", job.skill, "prompt_id", job.id, "error", gerr)
		metrics.GradingCalls.WithLabelValues(string(job.skill), "error").Inc()
		return subjectiveOutcome{line: appI18n.Td(ctx, "FeedbackGradingFailed", map[string]any{"Label": label})}
	}

	metrics.GradingCalls.WithLabelValues(string(job.skill), "ok").Inc()
	score := clamp(res.Score)
	return subjectiveOutcome{
		score: score,
		line: appI18n.Td(ctx, "FeedbackScored", map[string]any{
			"Label":    label,
			"Score":    fmt.Sprintf("%.1f", score),
			"Feedback": res.Feedback,
		}),
	}
}

func (o *Orchestrator) isBlank(skill model.Skill, answer string) bool {
	minChars := o.cfg.MinWritingChars
	if skill == model.SkillSpeaking {
		minChars = o.cfg.MinSpeakingChars
	}
	n := utf8.RuneCountInString(strings.TrimSpace(answer))
	return n == 0 || n < minChars
}

func promptLabel(ctx context.Context, job subjectiveJob) string {
	msgID := "WritingTaskLabel"
	if job.skill == model.SkillSpeaking {
		msgID = "SpeakingPartLabel"
	}
	return appI18n.Td(ctx, msgID, map[string]any{"N": job.ordinal + 1})
}

func aggregate(outcomes []subjectiveOutcome) (float64, string) {
	if len(outcomes) == 0 {
		return 0, ""
	}
	var sum float64
	lines := make([]string, 0, len(outcomes))
	for _, oc := range outcomes {
		sum += oc.score
		lines = append(lines, oc.line)
	}
	return clamp(round1(sum / float64(len(outcomes)))), strings.Join(lines, "\n")
}

// ObjectiveScore converts a count of correct answers to the 0-10 scale.
// A skill with no questions scores 0.
func ObjectiveScore(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return clamp(round1(float64(correct) / float64(total) * maxScore))
}

// Overall is the equally weighted mean of the four skill scores.
func Overall(listening, reading, writing, speaking float64) float64 {
	return round1((listening + reading + writing + speaking) / 4)
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func clamp(x float64) float64 {
	return math.Max(0, math.Min(maxScore, x))
}
