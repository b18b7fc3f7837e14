package academics

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
)

const (
	subjectCodeLen    = 10
	subjectCodeMaxLen = 20
	maxCodeSuffix     = 99
)

// HierarchyKey holds the natural keys locating a subject taught in a batch's semester.
type HierarchyKey struct {
	BatchYear      string `json:"batch_year" validate:"required,batchyear"`
	SemesterNumber int    `json:"semester" validate:"required,min=1,max=12"`
	AcademicYear   string `json:"academic_year" validate:"omitempty,academicyear"`
	SubjectName    string `json:"subject_name" validate:"required,max=100"`
	SubjectCode    string `json:"subject_code" validate:"omitempty,max=20"`
}

func (k *HierarchyKey) Clean() {
	k.BatchYear = core.CleanString(k.BatchYear)
	k.AcademicYear = core.CleanString(k.AcademicYear)
	k.SubjectName = core.CleanString(k.SubjectName)
	k.SubjectCode = strings.ToUpper(core.CleanString(k.SubjectCode))
}

// Hierarchy is the resolved chain of entities of a HierarchyKey.
type Hierarchy struct {
	Batch        Batch
	Semester     Semester
	Subject      Subject
	BatchSubject BatchSubject
}

// StudentIdentity holds the identity fields of a student, as found in an upload row.
type StudentIdentity struct {
	RegisterNo  string `json:"register_no" validate:"required,max=20"`
	Name        string `json:"student_name" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email,max=100"`
	DateOfBirth string `json:"date_of_birth" validate:"required,ddmmyyyy"`
}

func (si *StudentIdentity) Clean() {
	si.RegisterNo = core.CleanString(si.RegisterNo)
	si.Name = core.CleanString(si.Name)
	si.Email = core.CleanString(si.Email, true /* lower */)
	si.DateOfBirth = core.CleanString(si.DateOfBirth)
}

// Resolver finds or creates the Batch, Semester, Subject, BatchSubject and Student rows referenced by natural keys.
// Keys are validated before anything is written so a malformed key never leaves orphaned rows behind.
type Resolver struct {
	validate *validator.Validate
	nowFunc  func() time.Time
}

func NewResolver(validate *validator.Validate) *Resolver {
	vala.BeginValidation().Validate(
		vala.IsNotNil(validate, "validate"),
	).CheckAndPanic()
	return &Resolver{validate: validate, nowFunc: time.Now}
}

// Resolve returns the hierarchy of key, creating the missing entities within repo.
// Calling it twice with the same key yields the same rows.
func (r *Resolver) Resolve(ctx context.Context, repo Repository, key HierarchyKey) (Hierarchy, error) {
	key.Clean()
	if err := r.validate.Struct(key); err != nil {
		return Hierarchy{}, err
	}

	var h Hierarchy
	var err error
	if h.Batch, err = r.resolveBatch(ctx, repo, key.BatchYear); err != nil {
		return Hierarchy{}, errors.Wrap(err, "resolving batch")
	}
	if h.Semester, err = r.resolveSemester(ctx, repo, h.Batch, key); err != nil {
		return Hierarchy{}, errors.Wrap(err, "resolving semester")
	}
	if h.Subject, err = r.resolveSubject(ctx, repo, key.SubjectName, key.SubjectCode); err != nil {
		return Hierarchy{}, errors.Wrap(err, "resolving subject")
	}
	if h.BatchSubject, err = r.resolveBatchSubject(ctx, repo, h.Batch, h.Semester, h.Subject); err != nil {
		return Hierarchy{}, errors.Wrap(err, "resolving batch subject")
	}
	return h, nil
}

func (r *Resolver) resolveBatch(ctx context.Context, repo Repository, year string) (Batch, error) {
	batch, err := repo.GetBatchByYear(ctx, year)
	if err == nil || !core.IsNotFound(err) {
		return batch, err
	}
	return repo.CreateBatch(ctx, Batch{Year: year, CreatedAt: r.nowFunc().UTC()})
}

func (r *Resolver) resolveSemester(ctx context.Context, repo Repository, batch Batch, key HierarchyKey) (Semester, error) {
	sem, err := repo.GetSemester(ctx, batch.ID, key.SemesterNumber)
	if err == nil || !core.IsNotFound(err) {
		return sem, err
	}
	acYear := key.AcademicYear
	if acYear == "" {
		acYear = core.AcademicYear(batch.Year)
	}
	return repo.CreateSemester(ctx, Semester{BatchID: batch.ID, Number: key.SemesterNumber, AcademicYear: acYear})
}

func (r *Resolver) resolveSubject(ctx context.Context, repo Repository, name, code string) (Subject, error) {
	subj, err := repo.GetSubjectByName(ctx, name)
	if err == nil || !core.IsNotFound(err) {
		return subj, err
	}

	if code != "" {
		if _, err = repo.GetSubjectByCode(ctx, code); err == nil {
			return Subject{}, core.NewValidationError(
				ErrSubjectCodeExists,
				core.FieldError{Field: "subject_code", Error: ErrSubjectCodeExists.Error()},
			)
		} else if !core.IsNotFound(err) {
			return Subject{}, err
		}
	} else if code, err = r.freeSubjectCode(ctx, repo, DeriveSubjectCode(name)); err != nil {
		return Subject{}, err
	}
	return repo.CreateSubject(ctx, Subject{Name: name, Code: code})
}

// freeSubjectCode returns base, or base suffixed with "-2", "-3"... when already taken.
func (r *Resolver) freeSubjectCode(ctx context.Context, repo Repository, base string) (string, error) {
	code := base
	for n := 2; n <= maxCodeSuffix+1; n++ {
		_, err := repo.GetSubjectByCode(ctx, code)
		if core.IsNotFound(err) {
			return code, nil
		} else if err != nil {
			return "", err
		}
		code = base + "-" + strconv.Itoa(n)
	}
	return "", errors.Wrapf(ErrConflict, "no free subject code for %q", base)
}

func (r *Resolver) resolveBatchSubject(ctx context.Context, repo Repository, batch Batch, sem Semester, subj Subject) (BatchSubject, error) {
	// a batch-wide mapping already covers every semester
	for _, semID := range []null.Int{null.IntFrom(sem.ID), {}} {
		bs, err := repo.FindBatchSubject(ctx, BatchSubject{BatchID: batch.ID, SemesterID: semID, SubjectID: subj.ID})
		if err == nil || !core.IsNotFound(err) {
			return bs, err
		}
	}
	return repo.CreateBatchSubject(ctx, BatchSubject{BatchID: batch.ID, SemesterID: null.IntFrom(sem.ID), SubjectID: subj.ID})
}

// ResolveStudent finds the student by register number and moves them to batch, refreshing their name and
// date of birth; a new student is created when none is found. The email of an existing student is kept.
func (r *Resolver) ResolveStudent(ctx context.Context, repo Repository, si StudentIdentity, batch Batch) (Student, error) {
	si.Clean()
	if err := r.validate.Struct(si); err != nil {
		return Student{}, err
	}
	dob, _ := core.ParseDateOfBirth(si.DateOfBirth)
	now := r.nowFunc().UTC()

	st, err := repo.GetStudentByRegisterNo(ctx, si.RegisterNo)
	if err != nil {
		if !core.IsNotFound(err) {
			return Student{}, errors.Wrap(err, "finding student")
		}
		st, err = repo.CreateStudent(ctx, Student{
			RegisterNo:  si.RegisterNo,
			Name:        si.Name,
			Email:       si.Email,
			DateOfBirth: dob,
			BatchID:     batch.ID,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if IsConflict(err) {
			return Student{}, core.NewValidationError(
				ErrStudentEmailExists,
				core.FieldError{Field: "email", Error: ErrStudentEmailExists.Error()},
			)
		}
		return st, errors.Wrap(err, "creating student")
	}

	if st.DateOfBirth == dob && st.BatchID == batch.ID && st.Name == si.Name {
		return st, nil
	}
	st.DateOfBirth = dob
	st.BatchID = batch.ID
	st.Name = si.Name
	st.UpdatedAt = now
	st, err = repo.UpdateStudent(ctx, st)
	return st, errors.Wrap(err, "updating student")
}

// DeriveSubjectCode builds a default subject code from the first characters of its name.
func DeriveSubjectCode(name string) string {
	name = strings.ToUpper(core.CleanString(name))
	if utf8.RuneCountInString(name) > subjectCodeLen {
		name = string([]rune(name)[:subjectCodeLen])
	}
	return strings.TrimSpace(name)
}
