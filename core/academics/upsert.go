package academics

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core"
)

// MarkUpserter creates or partially updates the Mark of a (student, subject, semester) triple.
type MarkUpserter struct {
	validate *validator.Validate
	nowFunc  func() time.Time
}

func NewMarkUpserter(validate *validator.Validate) *MarkUpserter {
	vala.BeginValidation().Validate(
		vala.IsNotNil(validate, "validate"),
	).CheckAndPanic()
	return &MarkUpserter{validate: validate, nowFunc: time.Now}
}

// Upsert applies the present fields of patch to the Mark of key, creating it when missing.
// SemPublished is always recomputed from the resulting semester marks.
// The returned bool reports whether the Mark was created.
func (u *MarkUpserter) Upsert(ctx context.Context, repo Repository, key MarkKey, patch MarkPatch) (Mark, bool, error) {
	if err := u.validate.Struct(key); err != nil {
		return Mark{}, false, err
	}
	if err := patch.Validate(u.validate); err != nil {
		return Mark{}, false, err
	}
	now := u.nowFunc().UTC()

	m, err := repo.GetMark(ctx, key)
	if err != nil {
		if !core.IsNotFound(err) {
			return Mark{}, false, errors.Wrap(err, "finding mark")
		}
		m = Mark{
			StudentID:  key.StudentID,
			SubjectID:  key.SubjectID,
			SemesterID: key.SemesterID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		patch.Apply(&m)
		created, err := repo.CreateMark(ctx, m)
		if !IsConflict(err) {
			return created, err == nil, errors.Wrap(err, "creating mark")
		}
		// created concurrently: fall back to an update
		if m, err = repo.GetMark(ctx, key); err != nil {
			return Mark{}, false, errors.Wrap(err, "finding mark")
		}
	}

	patch.Apply(&m)
	m.UpdatedAt = now
	m, err = repo.UpdateMark(ctx, m)
	return m, false, errors.Wrap(err, "updating mark")
}
