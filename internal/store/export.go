package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vstep-prep/vstep/internal/model"
)

// ExportAllResults builds export-ready results grouped by learner.
// Learners without results are left out.
func (s *Store) ExportAllResults(ctx context.Context) (model.ResultsExport, error) {
	export := model.ResultsExport{ExportedAt: time.Now()}

	users, err := s.ListUsers(ctx)
	if err != nil {
		return export, fmt.Errorf("list users: %w", err)
	}

	titles := make(map[int64]string)
	for _, u := range users {
		results, err := s.ListResultsByLearner(ctx, u.ID)
		if err != nil {
			return export, fmt.Errorf("list results for user %d: %w", u.ID, err)
		}
		if len(results) == 0 {
			continue
		}

		le := model.LearnerExport{Username: u.Username, DisplayName: u.DisplayName}
		for _, r := range results {
			title, ok := titles[r.MockTestID]
			if !ok {
				mt, err := s.GetMockTest(ctx, r.MockTestID)
				if err != nil {
					return export, fmt.Errorf("get mock test %d: %w", r.MockTestID, err)
				}
				title = mt.Title
				titles[r.MockTestID] = title
			}
			le.Results = append(le.Results, model.ResultExport{MockTestTitle: title, Result: r})
		}
		export.Learners = append(export.Learners, le)
	}

	return export, nil
}
