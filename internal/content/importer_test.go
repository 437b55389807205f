package content

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstep-prep/vstep/internal/model"
	"github.com/vstep-prep/vstep/internal/store"
	"github.com/vstep-prep/vstep/internal/store/storetest"
	"github.com/vstep-prep/vstep/internal/validate"
)

func document(t *testing.T, p storetest.Pools) []byte {
	t.Helper()
	data, err := json.Marshal(storetest.Content(p))
	require.NoError(t, err)
	return data
}

func TestImport(t *testing.T) {
	s := storetest.New(t)
	im := NewImporter(s, validate.New())
	data := document(t, storetest.Full)

	out, err := im.Import(t.Context(), "b2.json", data)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, storetest.Content(storetest.Full).Count(), out.Imported)
	assert.Len(t, out.Hash, 64)

	ids, err := s.SampleUnfiltered(t.Context(), model.SkillReading, store.Slot{}, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	// Same bytes again are skipped.
	again, err := im.Import(t.Context(), "b2.json", data)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.False(t, again.Changed)
	assert.Zero(t, again.Imported)

	// Different bytes under the same name are imported and recorded.
	revised := document(t, storetest.Pools{Reading: 3})
	changed, err := im.Import(t.Context(), "b2.json", revised)
	require.NoError(t, err)
	assert.False(t, changed.Skipped)
	assert.True(t, changed.Changed)
	assert.Equal(t, 3, changed.Imported)

	ids, err = s.SampleUnfiltered(t.Context(), model.SkillReading, store.Slot{}, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 7)

	hash, err := s.GetImportedFileHash(t.Context(), "b2.json")
	require.NoError(t, err)
	assert.Equal(t, changed.Hash, hash)

	// The revised version is now the one that counts as unchanged.
	again, err = im.Import(t.Context(), "b2.json", revised)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
}

type failingRepo struct{ recorded map[string]string }

func (r *failingRepo) GetImportedFileHash(_ context.Context, name string) (string, error) {
	return r.recorded[name], nil
}

func (r *failingRepo) ImportContent(context.Context, string, string, model.ContentImport) (int, error) {
	return 0, errors.New("disk full")
}

func TestImportReportsPersistenceFailure(t *testing.T) {
	repo := &failingRepo{recorded: map[string]string{}}
	im := NewImporter(repo, validate.New())

	out, err := im.Import(t.Context(), "b2.json", document(t, storetest.Pools{Reading: 1}))
	var perr *model.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "import content", perr.Op)
	assert.Zero(t, out.Imported)
}

func TestImportRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{"malformed", `{"reading": [`, "file"},
		{"unknown field", `{"grammar": []}`, "file"},
		{"empty", `{}`, "file"},
		{"bad level", `{"writing": [{"level": "A1", "task": "task1", "prompt": "p"}]}`, "writing[0].level"},
		{"bad option", `{"reading": [{"level": "B1", "body": "b", "questions": [{"text": "q", "options": ["a","b","c","d"], "correct_option": "E"}]}]}`, "reading[0].questions[0].correct_option"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := storetest.New(t)
			im := NewImporter(s, validate.New())

			_, err := im.Import(t.Context(), "bad.json", []byte(tt.data))
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			fields := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)

			hash, err := s.GetImportedFileHash(t.Context(), "bad.json")
			require.NoError(t, err)
			assert.Empty(t, hash, "rejected documents must not be recorded")
		})
	}
}
