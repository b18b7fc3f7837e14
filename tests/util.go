// Package testutil holds the fixtures shared by the tests of the different packages.
package testutil

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/grading"
	"github.com/trezcool/eduanalytics/core/portal"
	"github.com/trezcool/eduanalytics/core/user"
	logsvc "github.com/trezcool/eduanalytics/services/logger"
)

// F is a shorthand for null.Float64From.
func F(v float64) null.Float64 { return null.Float64From(v) }

// NewValidator returns a validator with every custom validation registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	portal.InitValidators(validate, translator)
	return validate, translator
}

// NewLogger returns a logger discarding everything.
func NewLogger() core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), core.NewTestConfig())
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateBatch(t *testing.T, repo academics.Repository, year string) academics.Batch {
	batch, err := repo.CreateBatch(context.Background(), academics.Batch{Year: year, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("CreateBatch() failed: %v", err)
	}
	return batch
}

func CreateSemester(t *testing.T, repo academics.Repository, batch academics.Batch, number int) academics.Semester {
	sem, err := repo.CreateSemester(context.Background(), academics.Semester{
		BatchID:      batch.ID,
		Number:       number,
		AcademicYear: core.AcademicYear(batch.Year),
	})
	if err != nil {
		t.Fatalf("CreateSemester() failed: %v", err)
	}
	return sem
}

func CreateSubject(t *testing.T, repo academics.Repository, name, code string) academics.Subject {
	subj, err := repo.CreateSubject(context.Background(), academics.Subject{Name: name, Code: code})
	if err != nil {
		t.Fatalf("CreateSubject() failed: %v", err)
	}
	return subj
}

func CreateStudent(t *testing.T, repo academics.Repository, registerNo, name, email string, batchID int) academics.Student {
	now := time.Now().UTC()
	st, err := repo.CreateStudent(context.Background(), academics.Student{
		RegisterNo:  registerNo,
		Name:        name,
		Email:       email,
		DateOfBirth: "15-03-2005",
		BatchID:     batchID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	// reload to join the batch year like the store's queries do
	st, err = repo.GetStudentByID(context.Background(), st.ID)
	if err != nil {
		t.Fatalf("GetStudentByID() failed: %v", err)
	}
	return st
}

// CreateMark stores the scores of a student in a subject & semester.
func CreateMark(t *testing.T, repo academics.Repository, key academics.MarkKey, scores grading.Scores) academics.Mark {
	now := time.Now().UTC()
	m, err := repo.CreateMark(context.Background(), academics.Mark{
		StudentID:     key.StudentID,
		SubjectID:     key.SubjectID,
		SemesterID:    key.SemesterID,
		CA1:           scores.CA1,
		CA2:           scores.CA2,
		CA3:           scores.CA3,
		SemesterMarks: scores.Semester,
		SemPublished:  scores.IsPublished(),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("CreateMark() failed: %v", err)
	}
	return m
}
