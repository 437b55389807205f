package model

import "time"

// ResultsExport is the top-level JSON structure for result export.
type ResultsExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Learners   []LearnerExport `json:"learners"`
}

// LearnerExport holds one learner's results, most recent first.
type LearnerExport struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Results     []ResultExport `json:"results"`
}

// ResultExport is one result with its mock test title resolved.
type ResultExport struct {
	MockTestTitle string `json:"mock_test_title"`
	Result
}

// ContentImport is the JSON document accepted by content import.
type ContentImport struct {
	Listening []ListeningItem  `json:"listening" validate:"dive"`
	Reading   []ReadingPassage `json:"reading" validate:"dive"`
	Writing   []WritingPrompt  `json:"writing" validate:"dive"`
	Speaking  []SpeakingPrompt `json:"speaking" validate:"dive"`
}

// Count returns the number of items in the document.
func (c ContentImport) Count() int {
	return len(c.Listening) + len(c.Reading) + len(c.Writing) + len(c.Speaking)
}
