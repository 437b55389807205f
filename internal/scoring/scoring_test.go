package scoring

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appI18n "github.com/vstep-prep/vstep/internal/i18n"
	"github.com/vstep-prep/vstep/internal/llm"
	"github.com/vstep-prep/vstep/internal/model"
	"github.com/vstep-prep/vstep/internal/store"
	"github.com/vstep-prep/vstep/internal/store/storetest"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeRepo serves a single mock test from memory.
type fakeRepo struct {
	mu      sync.Mutex
	mt      *model.MockTest
	items   map[model.Skill]map[int64]model.ContentItem
	saved   []model.Result
	saveErr error
	readErr error
}

func newFakeRepo(mt *model.MockTest) *fakeRepo {
	return &fakeRepo{mt: mt, items: map[model.Skill]map[int64]model.ContentItem{}}
}

func (f *fakeRepo) add(item model.ContentItem) {
	if f.items[item.Skill()] == nil {
		f.items[item.Skill()] = map[int64]model.ContentItem{}
	}
	f.items[item.Skill()][item.ItemID()] = item
}

func (f *fakeRepo) GetMockTest(_ context.Context, id int64) (*model.MockTest, error) {
	if f.mt == nil || f.mt.ID != id {
		return nil, &model.NotFoundError{Resource: "mock test", ID: id}
	}
	return f.mt, nil
}

func (f *fakeRepo) GetContentItem(_ context.Context, skill model.Skill, id int64) (model.ContentItem, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	item, ok := f.items[skill][id]
	if !ok {
		return nil, &model.NotFoundError{Resource: string(skill), ID: id}
	}
	return item, nil
}

func (f *fakeRepo) SaveResult(_ context.Context, r model.Result) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.saved = append(f.saved, r)
	return int64(len(f.saved)), nil
}

// stubGrader returns a fixed score per prompt ID, or an error for IDs in fail.
type stubGrader struct {
	scores map[int64]float64
	fail   map[int64]bool
	calls  atomic.Int32
}

func (g *stubGrader) Grade(_ context.Context, item model.ContentItem, _ string) (*llm.GradeResult, error) {
	g.calls.Add(1)
	if g.fail[item.ItemID()] {
		return nil, errors.New("upstream 500")
	}
	return &llm.GradeResult{Score: g.scores[item.ItemID()], Feedback: "ok"}, nil
}

func choice(id int64, correct string) model.ChoiceQuestion {
	return model.ChoiceQuestion{ID: id, Text: "q", Options: [4]string{"a", "b", "c", "d"}, CorrectOption: correct}
}

func ptr(v int64) *int64 { return &v }

var testCfg = model.ExamConfig{
	MinWritingChars:    20,
	MinSpeakingChars:   5,
	GradingConcurrency: 4,
	GradingTimeout:     time.Second,
}

// fixture builds a complete mock test:
// listening 100 with questions 1..4 (A,B,C,D), reading 200..203 with one
// question each (11..14, all A), writing 300/301, speaking 400/401/402.
func fixture() *fakeRepo {
	mt := &model.MockTest{
		ID:        7,
		Title:     "Mock",
		Active:    true,
		Listening: ptr(100),
		Reading:   []int64{200, 201, 202, 203},
		Writing:   []int64{300, 301},
		Speaking:  []int64{400, 401, 402},
	}
	repo := newFakeRepo(mt)
	repo.add(&model.ListeningItem{
		ContentMeta: model.ContentMeta{ID: 100, Level: model.LevelB1},
		Questions:   []model.ChoiceQuestion{choice(1, "A"), choice(2, "B"), choice(3, "C"), choice(4, "D")},
	})
	for i, id := range mt.Reading {
		repo.add(&model.ReadingPassage{
			ContentMeta: model.ContentMeta{ID: id, Level: model.LevelB2},
			Body:        "text",
			Questions:   []model.ChoiceQuestion{choice(int64(11+i), "A")},
		})
	}
	for i, id := range mt.Writing {
		repo.add(&model.WritingPrompt{ContentMeta: model.ContentMeta{ID: id}, Task: model.WritingTasks[i], Prompt: "write"})
	}
	for i, id := range mt.Speaking {
		repo.add(&model.SpeakingPrompt{ContentMeta: model.ContentMeta{ID: id}, Part: model.SpeakingParts[i], Prompt: "speak"})
	}
	return repo
}

const essay = "This is a long enough essay answer for the task."

func fullSubmission() model.Submission {
	return model.Submission{
		Listening: map[int64]string{1: "A", 2: "B", 3: "C", 4: "D"},
		Reading:   map[int64]string{11: "A", 12: "A", 13: "A", 14: "A"},
		Writing:   map[int64]string{300: essay, 301: essay},
		Speaking:  map[int64]string{400: "I live in Hanoi.", 401: "My favourite place is the lake.", 402: "Technology helps people."},
	}
}

func TestObjectiveScore(t *testing.T) {
	tests := []struct {
		correct, total int
		want           float64
	}{
		{2, 4, 5.0},
		{4, 4, 10.0},
		{0, 4, 0},
		{0, 0, 0},
		{1, 3, 3.3},
		{2, 3, 6.7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ObjectiveScore(tt.correct, tt.total), "%d/%d", tt.correct, tt.total)
	}
}

func TestOverall(t *testing.T) {
	assert.Equal(t, 6.8, Overall(5.0, 7.5, 6.0, 8.5))
	assert.Equal(t, 0.0, Overall(0, 0, 0, 0))
	assert.Equal(t, 10.0, Overall(10, 10, 10, 10))
}

func TestScoreSubmissionListeningHalfCorrect(t *testing.T) {
	repo := fixture()
	sub := fullSubmission()
	sub.Listening = map[int64]string{1: "A", 2: "B", 3: "A", 4: "A"}
	grader := &stubGrader{}

	res, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 42, sub)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Listening)
}

func TestScoreSubmissionAllCorrect(t *testing.T) {
	repo := fixture()
	grader := &stubGrader{scores: map[int64]float64{300: 10, 301: 10, 400: 10, 401: 10, 402: 10}}

	res, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 42, fullSubmission())
	require.NoError(t, err)

	assert.Equal(t, 10.0, res.Listening)
	assert.Equal(t, 10.0, res.Reading)
	assert.Equal(t, 10.0, res.Writing)
	assert.Equal(t, 10.0, res.Speaking)
	assert.Equal(t, 10.0, res.Overall)
	assert.Equal(t, int32(5), grader.calls.Load())

	require.Len(t, repo.saved, 1)
	assert.Equal(t, int64(1), res.ID)
	assert.NotEmpty(t, res.AttemptID)
	assert.Equal(t, int64(42), res.LearnerID)
	assert.Equal(t, int64(7), res.MockTestID)
	assert.Equal(t, res.AttemptID, repo.saved[0].AttemptID)
}

func TestScoreSubmissionCaseInsensitive(t *testing.T) {
	tests := []struct {
		name    string
		answers map[int64]string
		want    float64
	}{
		{"lower case", map[int64]string{1: "a", 2: "b", 3: "c", 4: "d"}, 10.0},
		{"mixed case", map[int64]string{1: "A", 2: "b", 3: "C", 4: "d"}, 10.0},
		{"surrounding space is not trimmed", map[int64]string{1: "A ", 2: " b", 3: "C", 4: "d"}, 5.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := fullSubmission()
			sub.Listening = tt.answers

			res, err := New(fixture(), &stubGrader{}, testCfg).ScoreSubmission(t.Context(), 7, 1, sub)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Listening)
		})
	}
}

func TestScoreSubmissionAllWrongOrMissing(t *testing.T) {
	repo := fixture()
	sub := model.Submission{
		Listening: map[int64]string{1: "B", 2: "C"},
		Reading:   map[int64]string{11: "D", 12: "", 13: "Z"},
	}
	grader := &stubGrader{}

	res, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 1, sub)
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Listening)
	assert.Equal(t, 0.0, res.Reading)
	assert.Equal(t, 0.0, res.Writing)
	assert.Equal(t, 0.0, res.Speaking)
	assert.Equal(t, 0.0, res.Overall)
	assert.Zero(t, grader.calls.Load(), "blank responses must not reach the grader")
}

func TestScoreSubmissionEmptyReading(t *testing.T) {
	repo := fixture()
	repo.mt.Reading = nil
	grader := &stubGrader{scores: map[int64]float64{300: 8, 301: 8, 400: 8, 401: 8, 402: 8}}

	res, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 1, fullSubmission())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Reading)
	assert.Equal(t, 10.0, res.Listening)
	assert.Equal(t, Overall(10, 0, 8, 8), res.Overall)
}

func TestScoreSubmissionBlankWriting(t *testing.T) {
	repo := fixture()
	sub := fullSubmission()
	sub.Writing = map[int64]string{300: "   too short   ", 301: essay}
	grader := &stubGrader{scores: map[int64]float64{301: 7, 400: 6, 401: 6, 402: 6}}

	res, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 1, sub)
	require.NoError(t, err)

	assert.Equal(t, int32(4), grader.calls.Load())
	assert.Equal(t, 3.5, res.Writing)
	lines := strings.Split(res.WritingFeedback, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Task 1: left blank, scored 0.", lines[0])
	assert.Equal(t, "Task 2 (7.0/10): ok", lines[1])
}

func TestScoreSubmissionGradingFailureIsolated(t *testing.T) {
	repo := fixture()
	grader := &stubGrader{
		scores: map[int64]float64{300: 8, 301: 6, 400: 9, 401: 9, 402: 6},
		fail:   map[int64]bool{401: true},
	}

	res, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 1, fullSubmission())
	require.NoError(t, err)

	assert.Equal(t, 7.0, res.Writing)
	assert.Equal(t, 5.0, res.Speaking)
	lines := strings.Split(res.SpeakingFeedback, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Part 1 (9.0/10): ok", lines[0])
	assert.Contains(t, lines[1], "Part 2: automatic grading failed")
	assert.Equal(t, "Part 3 (6.0/10): ok", lines[2])
	require.Len(t, repo.saved, 1)
}

func TestScoreSubmissionClampsGraderScores(t *testing.T) {
	repo := fixture()
	grader := &stubGrader{scores: map[int64]float64{300: 14, 301: -3, 400: 10, 401: 10, 402: 10}}

	res, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 1, fullSubmission())
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Writing)
}

func TestScoreSubmissionMissingContent(t *testing.T) {
	repo := fixture()
	delete(repo.items[model.SkillReading], 203)
	delete(repo.items[model.SkillWriting], 301)
	grader := &stubGrader{scores: map[int64]float64{300: 8, 400: 5, 401: 5, 402: 5}}

	res, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 1, fullSubmission())
	require.NoError(t, err)

	assert.Equal(t, 10.0, res.Reading, "missing passage drops out of the denominator")
	assert.Equal(t, 4.0, res.Writing, "missing prompt scores 0")
	assert.Contains(t, res.WritingFeedback, "Task 2: this prompt is no longer available")
}

func TestScoreSubmissionDeterministic(t *testing.T) {
	grader := &stubGrader{scores: map[int64]float64{300: 6.5, 301: 7, 400: 5, 401: 6, 402: 7}}
	sub := fullSubmission()
	sub.Reading = map[int64]string{11: "A", 12: "B", 13: "A"}

	first, err := New(fixture(), grader, testCfg).ScoreSubmission(t.Context(), 7, 1, sub)
	require.NoError(t, err)
	second, err := New(fixture(), grader, testCfg).ScoreSubmission(t.Context(), 7, 1, sub)
	require.NoError(t, err)

	assert.Equal(t, first.Listening, second.Listening)
	assert.Equal(t, first.Reading, second.Reading)
	assert.Equal(t, first.Writing, second.Writing)
	assert.Equal(t, first.Speaking, second.Speaking)
	assert.Equal(t, first.Overall, second.Overall)
	assert.Equal(t, first.WritingFeedback, second.WritingFeedback)
	assert.Equal(t, first.SpeakingFeedback, second.SpeakingFeedback)
	assert.NotEqual(t, first.AttemptID, second.AttemptID)
}

func TestScoreSubmissionOverallInvariant(t *testing.T) {
	grader := &stubGrader{scores: map[int64]float64{300: 6.5, 301: 7.25, 400: 5, 401: 6.2, 402: 7.9}}
	sub := fullSubmission()
	sub.Listening = map[int64]string{1: "A", 2: "C", 3: "C"}
	sub.Reading = map[int64]string{11: "A"}

	res, err := New(fixture(), grader, testCfg).ScoreSubmission(t.Context(), 7, 1, sub)
	require.NoError(t, err)

	for _, v := range []float64{res.Listening, res.Reading, res.Writing, res.Speaking, res.Overall} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 10.0)
		assert.Equal(t, round1(v), v)
	}
	assert.Equal(t, round1((res.Listening+res.Reading+res.Writing+res.Speaking)/4), res.Overall)
}

func TestScoreSubmissionMockTestNotFound(t *testing.T) {
	repo := fixture()
	_, err := New(repo, &stubGrader{}, testCfg).ScoreSubmission(t.Context(), 99, 1, fullSubmission())

	var nf *model.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Empty(t, repo.saved)
}

func TestScoreSubmissionInactiveMockTest(t *testing.T) {
	repo := fixture()
	repo.mt.Active = false
	grader := &stubGrader{}

	_, err := New(repo, grader, testCfg).ScoreSubmission(t.Context(), 7, 1, fullSubmission())

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, repo.saved)
	assert.Zero(t, grader.calls.Load())
}

func TestScoreSubmissionPersistenceError(t *testing.T) {
	repo := fixture()
	repo.saveErr = errors.New("database is locked")

	_, err := New(repo, &stubGrader{}, testCfg).ScoreSubmission(t.Context(), 7, 1, fullSubmission())

	var perr *model.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save result", perr.Op)
}

func TestScoreSubmissionReadError(t *testing.T) {
	repo := fixture()
	repo.readErr = errors.New("disk I/O error")

	_, err := New(repo, &stubGrader{}, testCfg).ScoreSubmission(t.Context(), 7, 1, fullSubmission())
	require.Error(t, err)
	assert.Empty(t, repo.saved)
}

func TestScoreSubmissionIgnoresCallerCancellation(t *testing.T) {
	repo := fixture()
	ctx, cancel := context.WithCancel(t.Context())
	grader := &cancelingGrader{cancel: cancel}

	res, err := New(repo, grader, model.ExamConfig{MinWritingChars: 20, MinSpeakingChars: 5}).
		ScoreSubmission(ctx, 7, 1, fullSubmission())
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Writing)
	assert.Equal(t, 10.0, res.Speaking)
	require.Len(t, repo.saved, 1)
}

// cancelingGrader cancels the caller's context on the first call and
// reports whether its own context was canceled.
type cancelingGrader struct {
	cancel context.CancelFunc
}

func (g *cancelingGrader) Grade(ctx context.Context, _ model.ContentItem, _ string) (*llm.GradeResult, error) {
	g.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.GradeResult{Score: 10, Feedback: "fine"}, nil
}

func TestScoreSubmissionConcurrencyLimit(t *testing.T) {
	repo := fixture()
	grader := &gatedGrader{}
	cfg := testCfg
	cfg.GradingConcurrency = 2

	_, err := New(repo, grader, cfg).ScoreSubmission(t.Context(), 7, 1, fullSubmission())
	require.NoError(t, err)
	assert.LessOrEqual(t, grader.peak.Load(), int32(2))
	assert.Equal(t, int32(5), grader.total.Load())
}

type gatedGrader struct {
	inFlight, peak, total atomic.Int32
}

func (g *gatedGrader) Grade(_ context.Context, _ model.ContentItem, _ string) (*llm.GradeResult, error) {
	g.total.Add(1)
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return &llm.GradeResult{Score: 5}, nil
}

func TestScoreSubmissionWithStore(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s, storetest.Full)

	listening, err := s.SampleUnfiltered(t.Context(), model.SkillListening, store.Slot{}, 1)
	require.NoError(t, err)
	reading, err := s.SampleUnfiltered(t.Context(), model.SkillReading, store.Slot{}, 4)
	require.NoError(t, err)

	mtID, err := s.CreateMockTest(t.Context(), model.MockTest{
		Title:     "Store backed",
		Listening: &listening[0],
		Reading:   reading,
	})
	require.NoError(t, err)

	li, err := s.GetListeningItem(t.Context(), listening[0])
	require.NoError(t, err)
	require.Len(t, li.Questions, 2)

	sub := model.Submission{Listening: map[int64]string{
		li.Questions[0].ID: li.Questions[0].CorrectOption,
		li.Questions[1].ID: "D",
	}}

	res, err := New(s, &stubGrader{}, testCfg).ScoreSubmission(t.Context(), mtID, 3, sub)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Listening)
	assert.Equal(t, 0.0, res.Reading)

	saved, err := s.GetResult(t.Context(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.AttemptID, saved.AttemptID)
	assert.Equal(t, res.Overall, saved.Overall)
}
