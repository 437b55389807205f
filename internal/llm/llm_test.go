package llm

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstep-prep/vstep/internal/model"
)

func TestParseGradeResult(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantScore float64
		wantErr   bool
	}{
		{"plain json", `{"score": 7.5, "feedback": "Good range."}`, 7.5, false},
		{"fenced json", "```json\n{\"score\": 6, \"feedback\": \"ok\"}\n```", 6, false},
		{"bare fence", "```\n{\"score\": 4}\n```", 4, false},
		{"zero score", `{"score": 0, "feedback": "off topic"}`, 0, false},
		{"missing score", `{"feedback": "no number"}`, 0, true},
		{"not json", `The score is 7.`, 0, true},
		{"string score", `{"score": "seven"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGradeResult(tt.raw)
			if tt.wantErr {
				assert.Error(t, err, "got %+v", got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, got.Score)
		})
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	_, err := New("", "key", "model", "harsh")
	assert.Error(t, err)
}

func newTestServer(t *testing.T, content string, status int) (*httptest.Server, *[]string) {
	t.Helper()
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"llama3.2","object":"model","created":0,"owned_by":"test"}]}`)
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var req struct {
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			for _, m := range req.Messages {
				prompts = append(prompts, m.Content)
			}
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
				return
			}
			body, _ := json.Marshal(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 0,
				"model":   "llama3.2",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				}},
			})
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &prompts
}

func TestGrade(t *testing.T) {
	srv, sent := newTestServer(t, `{"score": 8.2, "feedback": "Clear structure."}`, http.StatusOK)
	c, err := New(srv.URL+"/v1", "key", "llama3.2", "standard")
	require.NoError(t, err)
	require.NoError(t, c.Ping(t.Context()))

	item := &model.WritingPrompt{
		ContentMeta: model.ContentMeta{ID: 9, Level: model.LevelC1},
		Task:        model.WritingTask2,
		Prompt:      "Some people think university education should be free.",
	}
	res, err := c.Grade(t.Context(), item, "I strongly agree that education is a right.")
	require.NoError(t, err)
	assert.Equal(t, 8.2, res.Score)
	assert.Equal(t, "Clear structure.", res.Feedback)
	require.Len(t, *sent, 2)
	assert.Contains(t, (*sent)[1], "education is a right")
}

func TestGradeFailures(t *testing.T) {
	item := &model.SpeakingPrompt{Part: 1, Prompt: "Talk about your hometown."}

	tests := []struct {
		name    string
		content string
		status  int
	}{
		{"server error", "", http.StatusInternalServerError},
		{"malformed output", "I would give this a seven.", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.content, tt.status)
			c, err := New(srv.URL+"/v1", "key", "llama3.2", "standard")
			require.NoError(t, err)
			_, err = c.Grade(t.Context(), item, "my hometown is Hue")
			assert.Error(t, err)
		})
	}
}
