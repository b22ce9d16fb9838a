package feedback

import (
	"context"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	db "github.com/ieltslab/feedback-engine/internal/storage"
)

// ExistingContent answers whether a (subject, criteria, field) triple has
// already been computed. It is a pure read against the persistence layer and
// never touches a provider.
type ExistingContent struct {
	repo      Repository
	orderDesc bool
}

func NewExistingContent(repo Repository, orderDesc bool) *ExistingContent {
	return &ExistingContent{repo: repo, orderDesc: orderDesc}
}

// Get returns the canonical value of the field: walking the subject's records
// in recency order, the first record whose field is non-empty wins. Returns
// an empty string when no record qualifies.
func (e *ExistingContent) Get(ctx context.Context, subjectRef, criteria string, field domain.ContentField) (string, error) {
	records, err := e.repo.ListFeedbackRecords(ctx, subjectRef, criteria, db.RecordQuery{OrderDesc: e.orderDesc})
	if err != nil {
		return "", err
	}

	for _, rec := range records {
		if v := rec.Field(field); v != "" {
			return v, nil
		}
	}

	return "", nil
}
