// Package content loads exam content documents into the question repository.
package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vstep-prep/vstep/internal/model"
	"github.com/vstep-prep/vstep/internal/validate"
)

// Repository records imports and stores content.
type Repository interface {
	GetImportedFileHash(ctx context.Context, name string) (string, error)
	ImportContent(ctx context.Context, name, hash string, doc model.ContentImport) (int, error)
}

// Outcome describes what an import did. Changed is set when name had been
// imported before with different bytes.
type Outcome struct {
	Imported int    `json:"imported"`
	Skipped  bool   `json:"skipped"`
	Changed  bool   `json:"changed,omitempty"`
	Hash     string `json:"hash"`
}

// Importer validates content documents and stores each distinct version of
// a named document once.
type Importer struct {
	repo      Repository
	validator *validate.Validator
}

// NewImporter creates an Importer.
func NewImporter(repo Repository, v *validate.Validator) *Importer {
	return &Importer{repo: repo, validator: v}
}

// Import parses data as a content document recorded under name.
//
// A document whose hash matches the last import of name is skipped. A
// changed document is imported in full and becomes the recorded version.
// Items from earlier versions stay in the pools since mock tests may
// reference them.
func (im *Importer) Import(ctx context.Context, name string, data []byte) (Outcome, error) {
	out := Outcome{Hash: sha256sum(data)}

	stored, err := im.repo.GetImportedFileHash(ctx, name)
	if err != nil {
		return out, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if stored == out.Hash {
		slog.Info("content file unchanged, skipping", "name", name)
		out.Skipped = true
		return out, nil
	}
	if stored != "" {
		slog.Info("content file changed since last import, re-importing", "name", name)
		out.Changed = true
	}

	var doc model.ContentImport
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return out, model.NewValidationError(
			fmt.Errorf("parse %s: %w", name, err),
			model.FieldError{Field: "file", Error: err.Error()},
		)
	}
	if doc.Count() == 0 {
		return out, model.NewValidationError(
			errors.New("content document is empty"),
			model.FieldError{Field: "file", Error: "no content items"},
		)
	}
	if err := im.validator.Struct(doc); err != nil {
		return out, err
	}

	n, err := im.repo.ImportContent(ctx, name, out.Hash, doc)
	if err != nil {
		return out, &model.PersistenceError{Op: "import content", Err: err}
	}
	out.Imported = n

	slog.Info("imported content",
		"name", name,
		"changed", out.Changed,
		"listening", len(doc.Listening),
		"reading", len(doc.Reading),
		"writing", len(doc.Writing),
		"speaking", len(doc.Speaking),
	)
	return out, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
