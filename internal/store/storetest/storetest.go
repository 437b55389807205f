// Package storetest provides in-memory stores seeded with exam content for tests.
package storetest

import (
	"fmt"
	"testing"

	"github.com/vstep-prep/vstep/internal/model"
	"github.com/vstep-prep/vstep/internal/store"
)

// New opens an in-memory store closed at the end of the test.
func New(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("storetest.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Pools sets how many items of each kind Seed creates. Writing and Speaking
// create that many items per task type and per part respectively.
type Pools struct {
	Listening int
	Reading   int
	Writing   int
	Speaking  int
}

// Full is a pool large enough for one complete mock test.
var Full = Pools{Listening: 1, Reading: 4, Writing: 1, Speaking: 1}

// Content builds an import document. Every listening item and reading
// passage has two questions whose correct options are "A" and "B".
func Content(p Pools) model.ContentImport {
	var doc model.ContentImport
	levels := []model.Level{model.LevelB1, model.LevelB2, model.LevelC1}
	for i := range p.Listening {
		doc.Listening = append(doc.Listening, model.ListeningItem{
			ContentMeta: model.ContentMeta{Level: levels[i%3], Topic: "travel"},
			Title:       fmt.Sprintf("Listening %d", i+1),
			AudioURL:    fmt.Sprintf("https://cdn.example.com/audio/%d.mp3", i+1),
			Questions:   twoQuestions(),
		})
	}
	for i := range p.Reading {
		doc.Reading = append(doc.Reading, model.ReadingPassage{
			ContentMeta: model.ContentMeta{Level: levels[i%3], Topic: "science"},
			Title:       fmt.Sprintf("Passage %d", i+1),
			Body:        "Scientists have discovered a new species of frog.",
			Questions:   twoQuestions(),
		})
	}
	for i := range p.Writing {
		for _, task := range model.WritingTasks {
			doc.Writing = append(doc.Writing, model.WritingPrompt{
				ContentMeta: model.ContentMeta{Level: levels[i%3], Topic: "education"},
				Task:        task,
				Prompt:      fmt.Sprintf("Writing %s prompt %d", task, i+1),
			})
		}
	}
	for i := range p.Speaking {
		for _, part := range model.SpeakingParts {
			doc.Speaking = append(doc.Speaking, model.SpeakingPrompt{
				ContentMeta: model.ContentMeta{Level: levels[i%3], Topic: "hometown"},
				Part:        part,
				Prompt:      fmt.Sprintf("Speaking part %d prompt %d", part, i+1),
			})
		}
	}
	return doc
}

func twoQuestions() []model.ChoiceQuestion {
	return []model.ChoiceQuestion{
		{Text: "What is the main idea?", Options: [4]string{"one", "two", "three", "four"}, CorrectOption: "A"},
		{Text: "What does the speaker imply?", Options: [4]string{"one", "two", "three", "four"}, CorrectOption: "B"},
	}
}

// Seed imports Content(p) into s.
func Seed(t testing.TB, s *store.Store, p Pools) {
	t.Helper()
	if _, err := s.ImportContent(t.Context(), t.Name()+".json", "", Content(p)); err != nil {
		t.Fatalf("storetest.Seed: %v", err)
	}
}
