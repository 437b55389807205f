package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/vstep-prep/vstep/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	taskPromptRegex    = regexp.MustCompile(`(?i)</?\s*task-prompt\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict penalises every slip.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient rewards communicative success over accuracy.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var gradedSkills = []model.Skill{model.SkillWriting, model.SkillSpeaking}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[model.Skill]map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	Level      string
	Label      string
	Task       string
	PromptText string
	Answer     string
}

// Load parses the embedded prompt templates once.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[model.Skill]map[PromptVariant]*template.Template)
		for _, skill := range gradedSkills {
			templates[skill] = make(map[PromptVariant]*template.Template)
			for v := range validVariants {
				file := "templates/" + string(skill) + "_" + string(v) + ".txt"
				content, err := templateFS.ReadFile(file)
				if err != nil {
					loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
					return
				}
				tmpl, err := template.New(file).Parse(string(content))
				if err != nil {
					loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
					return
				}
				templates[skill][v] = tmpl
			}
		}
	})
	return loadErr
}

// BuildGradePrompt renders the grading prompt for a writing or speaking item.
func BuildGradePrompt(variant PromptVariant, item model.ContentItem, answer string) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}

	data := GradeData{Answer: sanitizeAnswer(answer)}
	switch it := item.(type) {
	case *model.WritingPrompt:
		data.Level = string(it.Level)
		data.Task = string(it.Task)
		data.Label = "Writing " + strings.Replace(string(it.Task), "task", "task ", 1)
		data.PromptText = sanitizePrompt(it.Prompt)
	case *model.SpeakingPrompt:
		data.Level = string(it.Level)
		data.Label = fmt.Sprintf("Speaking part %d", it.Part)
		data.PromptText = sanitizePrompt(it.Prompt)
	default:
		return "", fmt.Errorf("no grading prompt for %T", item)
	}

	tmpl, ok := templates[item.Skill()][variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizePrompt(text string) string {
	return strings.TrimSpace(taskPromptRegex.ReplaceAllString(text, ""))
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = taskPromptRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
