package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a learner taking mock tests.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher can assemble mock tests and read any result.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin manages users and content.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// CanManageTests reports whether the user may assemble and toggle mock tests.
func (u *User) CanManageTests() bool {
	return u != nil && (u.Role == UserRoleTeacher || u.Role == UserRoleAdmin)
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Skill is one of the four VSTEP test sections.
type Skill string

const (
	SkillListening Skill = "listening"
	SkillReading   Skill = "reading"
	SkillWriting   Skill = "writing"
	SkillSpeaking  Skill = "speaking"
)

// Skills lists the four sections in exam order.
var Skills = []Skill{SkillListening, SkillReading, SkillWriting, SkillSpeaking}

// Valid reports whether s names a known skill.
func (s Skill) Valid() bool {
	switch s {
	case SkillListening, SkillReading, SkillWriting, SkillSpeaking:
		return true
	}
	return false
}

// Level is a CEFR level targeted by VSTEP.
type Level string

const (
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
)

// WritingTask identifies the writing task type.
type WritingTask string

const (
	WritingTask1 WritingTask = "task1"
	WritingTask2 WritingTask = "task2"
)

// WritingTasks lists the task types sampled into every mock test.
var WritingTasks = []WritingTask{WritingTask1, WritingTask2}

// SpeakingParts lists the speaking parts sampled into every mock test.
var SpeakingParts = []int{1, 2, 3}

// ContentItem is one skill-specific exam unit. The concrete type is one of
// *ListeningItem, *ReadingPassage, *WritingPrompt or *SpeakingPrompt.
type ContentItem interface {
	Skill() Skill
	ItemID() int64
	contentItem()
}

// ContentMeta carries the attributes shared by every content item.
type ContentMeta struct {
	ID    int64  `json:"id"`
	Level Level  `json:"level" validate:"required,oneof=B1 B2 C1"`
	Topic string `json:"topic"`
}

// ItemID returns the item's identifier within its skill pool.
func (m ContentMeta) ItemID() int64 { return m.ID }

// ChoiceQuestion is a closed-form sub-question with four options.
type ChoiceQuestion struct {
	ID            int64     `json:"id"`
	Ordinal       int       `json:"ordinal"`
	Text          string    `json:"text" validate:"required"`
	Options       [4]string `json:"options" validate:"dive,required"`
	CorrectOption string    `json:"correct_option,omitempty" validate:"required,option_label"`
}

// ListeningItem is an audio recording with its transcript and questions.
type ListeningItem struct {
	ContentMeta
	Title      string           `json:"title"`
	AudioURL   string           `json:"audio_url"`
	Transcript string           `json:"transcript,omitempty"`
	Questions  []ChoiceQuestion `json:"questions" validate:"required,dive"`
}

// ReadingPassage is a text passage with its questions.
type ReadingPassage struct {
	ContentMeta
	Title     string           `json:"title"`
	Body      string           `json:"body" validate:"required"`
	Questions []ChoiceQuestion `json:"questions" validate:"required,dive"`
}

// WritingPrompt is an open writing task.
type WritingPrompt struct {
	ContentMeta
	Task   WritingTask `json:"task" validate:"required,oneof=task1 task2"`
	Prompt string      `json:"prompt" validate:"required"`
}

// SpeakingPrompt is an open speaking task for one part of the test.
type SpeakingPrompt struct {
	ContentMeta
	Part   int    `json:"part" validate:"required,min=1,max=3"`
	Prompt string `json:"prompt" validate:"required"`
}

func (*ListeningItem) Skill() Skill  { return SkillListening }
func (*ReadingPassage) Skill() Skill { return SkillReading }
func (*WritingPrompt) Skill() Skill  { return SkillWriting }
func (*SpeakingPrompt) Skill() Skill { return SkillSpeaking }

func (*ListeningItem) contentItem()  {}
func (*ReadingPassage) contentItem() {}
func (*WritingPrompt) contentItem()  {}
func (*SpeakingPrompt) contentItem() {}

// StripAnswers returns a copy of questions without correct options.
func StripAnswers(questions []ChoiceQuestion) []ChoiceQuestion {
	out := make([]ChoiceQuestion, len(questions))
	for i, q := range questions {
		q.CorrectOption = ""
		out[i] = q
	}
	return out
}

// MockTest is an assembled bundle of content item references.
type MockTest struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	Listening   *int64    `json:"listening_id"`
	Reading     []int64   `json:"reading_ids"`
	Writing     []int64   `json:"writing_ids"`
	Speaking    []int64   `json:"speaking_ids"`
}

// ItemIDs returns the ordered content ids referenced for a skill.
func (mt *MockTest) ItemIDs(skill Skill) []int64 {
	switch skill {
	case SkillListening:
		if mt.Listening == nil {
			return nil
		}
		return []int64{*mt.Listening}
	case SkillReading:
		return mt.Reading
	case SkillWriting:
		return mt.Writing
	case SkillSpeaking:
		return mt.Speaking
	}
	return nil
}

// Submission is a learner's raw answers for one attempt. Listening and
// Reading map question ids to the selected option label, Writing maps prompt
// ids to essay text, Speaking maps prompt ids to the response transcript.
type Submission struct {
	Listening map[int64]string `json:"listening"`
	Reading   map[int64]string `json:"reading"`
	Writing   map[int64]string `json:"writing"`
	Speaking  map[int64]string `json:"speaking"`
}

// Result is the composite scoring record for one submission.
type Result struct {
	ID               int64     `json:"id"`
	AttemptID        string    `json:"attempt_id"`
	MockTestID       int64     `json:"mock_test_id"`
	LearnerID        int64     `json:"learner_id"`
	Listening        float64   `json:"listening"`
	Reading          float64   `json:"reading"`
	Writing          float64   `json:"writing"`
	Speaking         float64   `json:"speaking"`
	Overall          float64   `json:"overall"`
	WritingFeedback  string    `json:"writing_feedback"`
	SpeakingFeedback string    `json:"speaking_feedback"`
	CreatedAt        time.Time `json:"created_at"`
}

// ExamConfig holds runtime parameters set via CLI flags and config files.
type ExamConfig struct {
	Lang               string        // language of canned feedback and messages
	PromptVariant      string        // grading prompt variant (strict, standard, lenient)
	MinWritingChars    int           // shorter writing responses count as blank
	MinSpeakingChars   int           // shorter speaking transcripts count as blank
	GradingConcurrency int           // parallel AI grading calls per submission
	GradingTimeout     time.Duration // per AI call
	BasePath           string        // URL prefix for sub-path deployments
	SecureCookies      bool          // Set Secure flag on cookies (disable for local dev)
}
