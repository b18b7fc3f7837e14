package academics

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core"
)

var (
	// errors
	ErrBatchNotFound        = core.NewNotFoundError("batch")
	ErrSemesterNotFound     = core.NewNotFoundError("semester")
	ErrSubjectNotFound      = core.NewNotFoundError("subject")
	ErrBatchSubjectNotFound = core.NewNotFoundError("batch subject")
	ErrStudentNotFound      = core.NewNotFoundError("student")
	ErrMarkNotFound         = core.NewNotFoundError("mark")
	ErrUploadNotFound       = core.NewNotFoundError("upload")

	// ErrConflict is returned by repositories when a write violates a uniqueness constraint.
	ErrConflict = errors.New("unique constraint violation")

	// ErrInvalidReference is returned by repositories when a write references a missing row.
	ErrInvalidReference = errors.New("foreign key violation")

	ErrInvalidGrade          = errors.New("invalid grade, expected one of O, A+, A, B+, B, C, RA")
	ErrRegisterNoExists      = errors.New("a student with this register number already exists")
	ErrStudentEmailExists    = errors.New("a student with this email already exists")
	ErrSubjectNameExists     = errors.New("a subject with this name already exists")
	ErrSubjectCodeExists     = errors.New("a subject with this code already exists")
	ErrBatchSubjectExists    = errors.New("subject already mapped to this batch")
	ErrSemesterBatchMismatch = errors.New("semester does not belong to this batch")
)

type (
	// Repository is the persistence contract of the academics domain.
	// Get* methods return the matching core.NotFoundError when nothing matches;
	// writes violating a uniqueness constraint return an error whose cause is ErrConflict.
	Repository interface {
		GetBatchByID(ctx context.Context, id int) (Batch, error)
		GetBatchByYear(ctx context.Context, year string) (Batch, error)
		CreateBatch(ctx context.Context, batch Batch) (Batch, error)
		QueryBatches(ctx context.Context) ([]Batch, error)
		CountStudentsByBatch(ctx context.Context) (map[int]int, error)
		// DeleteBatch cascades to the batch's semesters, mappings, students and their marks.
		DeleteBatch(ctx context.Context, id int) error

		GetSemesterByID(ctx context.Context, id int) (Semester, error)
		GetSemester(ctx context.Context, batchID, number int) (Semester, error)
		CreateSemester(ctx context.Context, sem Semester) (Semester, error)
		QuerySemesters(ctx context.Context, batchID int) ([]Semester, error)

		GetSubjectByID(ctx context.Context, id int) (Subject, error)
		GetSubjectByName(ctx context.Context, name string) (Subject, error)
		GetSubjectByCode(ctx context.Context, code string) (Subject, error)
		CreateSubject(ctx context.Context, subj Subject) (Subject, error)
		UpdateSubject(ctx context.Context, subj Subject) (Subject, error)
		QuerySubjects(ctx context.Context) ([]Subject, error)
		// DeleteSubject cascades to the subject's mappings and marks.
		DeleteSubject(ctx context.Context, id int) error

		GetBatchSubjectByID(ctx context.Context, id int) (BatchSubject, error)
		// FindBatchSubject matches the exact (batch, semester, subject) triple, a null semester included.
		FindBatchSubject(ctx context.Context, bs BatchSubject) (BatchSubject, error)
		CreateBatchSubject(ctx context.Context, bs BatchSubject) (BatchSubject, error)
		// QueryBatchSubjects lists mappings; filtering on a semester includes the batch-wide (null semester) ones.
		QueryBatchSubjects(ctx context.Context, filter BatchSubjectFilter) ([]BatchSubject, error)
		DeleteBatchSubject(ctx context.Context, id int) error

		GetStudentByID(ctx context.Context, id int) (Student, error)
		GetStudentByRegisterNo(ctx context.Context, registerNo string) (Student, error)
		GetStudentByEmail(ctx context.Context, email string) (Student, error)
		CreateStudent(ctx context.Context, st Student) (Student, error)
		UpdateStudent(ctx context.Context, st Student) (Student, error)
		QueryStudents(ctx context.Context, filter StudentFilter, orderings ...core.DBOrdering) ([]Student, error)
		// DeleteStudent cascades to the student's marks.
		DeleteStudent(ctx context.Context, id int) error

		GetMarkByID(ctx context.Context, id int) (Mark, error)
		GetMark(ctx context.Context, key MarkKey) (Mark, error)
		CreateMark(ctx context.Context, m Mark) (Mark, error)
		UpdateMark(ctx context.Context, m Mark) (Mark, error)
		// QueryMarks returns marks joined with their subject and semester, ordered by semester then subject.
		QueryMarks(ctx context.Context, filter MarkFilter) ([]Mark, error)
		DeleteMark(ctx context.Context, id int) error

		CreateUploadLog(ctx context.Context, log UploadLog) (UploadLog, error)
		// QueryUploadLogs returns the admin's most recent upload logs first; a limit <= 0 returns them all.
		QueryUploadLogs(ctx context.Context, adminID, limit int) ([]UploadLog, error)
		DeleteUploadLog(ctx context.Context, id int) error
	}

	// Tx is a unit of work. Writes are visible to later reads of the same Tx before Commit.
	Tx interface {
		Repository

		// Savepoint marks a point the Tx can be partially rolled back to.
		Savepoint(ctx context.Context, name string) error
		RollbackTo(ctx context.Context, name string) error
		ReleaseSavepoint(ctx context.Context, name string) error

		Commit() error
		Rollback() error
	}

	// Store runs Repository operations in their own implicit transactions and starts explicit ones.
	Store interface {
		Repository

		Begin(ctx context.Context) (Tx, error)
	}
)

// IsConflict reports whether err was caused by a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Cause(err) == ErrConflict
}

// IsConstraintViolation reports whether err was caused by a uniqueness or reference violation.
func IsConstraintViolation(err error) bool {
	cause := errors.Cause(err)
	return cause == ErrConflict || cause == ErrInvalidReference
}

// RunInTx runs fn in a new transaction, committing when fn succeeds and rolling back otherwise.
func RunInTx(ctx context.Context, store Store, fn func(tx Tx) error) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
