package portal

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/trezcool/eduanalytics/core"
)

var (
	// errors
	ErrTaskNotFound       = core.NewNotFoundError("task")
	ErrAssignmentNotFound = core.NewNotFoundError("assignment")
	ErrSubmissionNotFound = core.NewNotFoundError("submission")

	// ErrConflict is returned by repositories when a write violates a unique index.
	ErrConflict = errors.New("duplicate key")

	ErrInvalidID        = errors.New("invalid id")
	ErrEmptyTitle       = errors.New("title cannot be empty")
	ErrAlreadySubmitted = errors.New("you have already submitted this assignment")
	ErrGradedSubmission = errors.New("submission already graded")
	ErrMarksOutOfRange  = errors.New("marks exceed the assignment's max marks")
	ErrStudentsOnly     = errors.Wrap(core.ErrPermissionDenied, "only students can submit assignments")
	ErrNoFieldsToUpdate = errors.New("no valid fields to update")
)

type (
	// Repository is the persistence contract of the portal.
	// Get* methods return the matching core.NotFoundError when nothing matches.
	Repository interface {
		CreateTask(ctx context.Context, task Task) (Task, error)
		GetTask(ctx context.Context, id string) (Task, error)
		UpdateTask(ctx context.Context, task Task) (Task, error)
		DeleteTask(ctx context.Context, id string) error
		// QueryTasks returns the tasks of a user, newest first.
		QueryTasks(ctx context.Context, userID string, filter TaskFilter) ([]Task, error)

		CreateAssignment(ctx context.Context, asg Assignment) (Assignment, error)
		GetAssignment(ctx context.Context, id string) (Assignment, error)
		UpdateAssignment(ctx context.Context, asg Assignment) (Assignment, error)
		// DeleteAssignment cascades to the assignment's submissions.
		DeleteAssignment(ctx context.Context, id string) error
		// QueryAssignments returns every assignment, latest due date first.
		QueryAssignments(ctx context.Context) ([]Assignment, error)

		CreateSubmission(ctx context.Context, sub Submission) (Submission, error)
		GetSubmission(ctx context.Context, id string) (Submission, error)
		FindSubmission(ctx context.Context, assignmentID, studentID string) (Submission, error)
		UpdateSubmission(ctx context.Context, sub Submission) (Submission, error)
		DeleteSubmission(ctx context.Context, id string) error
		// QuerySubmissions returns the matching submissions, most recent first.
		QuerySubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error)
		// CountSubmissions counts the submissions of an assignment, all of them when status is empty.
		CountSubmissions(ctx context.Context, assignmentID, status string) (int64, error)
		CountStudents(ctx context.Context) (int64, error)
	}

	Service struct {
		repo     Repository
		validate *validator.Validate
		nowFunc  func() time.Time
	}
)

func NewService(repo Repository, validate *validator.Validate) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(validate, "validate"),
	).CheckAndPanic()

	return &Service{repo: repo, validate: validate, nowFunc: time.Now}
}

func fieldError(err error, field string) error {
	return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
}

func checkID(id, field string) error {
	if !primitive.IsValidObjectID(id) {
		return fieldError(ErrInvalidID, field)
	}
	return nil
}

// Tasks

func (svc *Service) getOwnTask(ctx context.Context, who Identity, id string) (Task, error) {
	if err := checkID(id, "id"); err != nil {
		return Task{}, err
	}
	task, err := svc.repo.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if task.UserID != who.ID {
		return Task{}, core.ErrPermissionDenied
	}
	return task, nil
}

func (svc *Service) QueryTasks(ctx context.Context, who Identity, filter TaskFilter) ([]Task, error) {
	filter.Clean()
	if err := svc.validate.Struct(filter); err != nil {
		return nil, err
	}
	return svc.repo.QueryTasks(ctx, who.ID, filter)
}

func (svc *Service) GetTask(ctx context.Context, who Identity, id string) (Task, error) {
	return svc.getOwnTask(ctx, who, id)
}

func (svc *Service) CreateTask(ctx context.Context, who Identity, nt NewTask) (Task, error) {
	nt.Clean()
	if err := svc.validate.Struct(nt); err != nil {
		return Task{}, err
	}
	now := svc.nowFunc().UTC()
	task, err := svc.repo.CreateTask(ctx, Task{
		UserID:      who.ID,
		Title:       nt.Title,
		Description: nt.Description,
		Status:      nt.Status,
		Priority:    nt.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return task, errors.Wrap(err, "creating task")
}

func (svc *Service) UpdateTask(ctx context.Context, who Identity, id string, ut UpdateTask) (Task, error) {
	ut.Clean()
	if err := svc.validate.Struct(ut); err != nil {
		return Task{}, err
	}
	if ut.Title != nil && *ut.Title == "" {
		return Task{}, fieldError(ErrEmptyTitle, "title")
	}
	task, err := svc.getOwnTask(ctx, who, id)
	if err != nil {
		return Task{}, err
	}

	if ut.Title != nil {
		task.Title = *ut.Title
	}
	if ut.Description != nil {
		task.Description = ut.Description
	}
	if ut.Status != nil {
		task.Status = *ut.Status
	}
	if ut.Priority != nil {
		task.Priority = *ut.Priority
	}
	task.UpdatedAt = svc.nowFunc().UTC()
	task, err = svc.repo.UpdateTask(ctx, task)
	return task, errors.Wrap(err, "updating task")
}

func (svc *Service) DeleteTask(ctx context.Context, who Identity, id string) error {
	if _, err := svc.getOwnTask(ctx, who, id); err != nil {
		return err
	}
	return svc.repo.DeleteTask(ctx, id)
}

// Assignments

func (svc *Service) QueryAssignments(ctx context.Context) ([]Assignment, error) {
	return svc.repo.QueryAssignments(ctx)
}

func (svc *Service) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	if err := checkID(id, "id"); err != nil {
		return Assignment{}, err
	}
	return svc.repo.GetAssignment(ctx, id)
}

func (svc *Service) CreateAssignment(ctx context.Context, who Identity, na NewAssignment) (Assignment, error) {
	if !who.IsAdmin() {
		return Assignment{}, core.ErrPermissionDenied
	}
	na.Clean()
	if err := svc.validate.Struct(na); err != nil {
		return Assignment{}, err
	}
	now := svc.nowFunc().UTC()
	asg, err := svc.repo.CreateAssignment(ctx, Assignment{
		Title:       na.Title,
		Description: na.Description,
		DueDate:     na.DueDate,
		MaxMarks:    na.MaxMarks,
		CreatedBy:   who.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return asg, errors.Wrap(err, "creating assignment")
}

func (svc *Service) UpdateAssignment(ctx context.Context, who Identity, id string, ua UpdateAssignment) (Assignment, error) {
	if !who.IsAdmin() {
		return Assignment{}, core.ErrPermissionDenied
	}
	ua.Clean()
	if err := svc.validate.Struct(ua); err != nil {
		return Assignment{}, err
	}
	if ua.Title != nil && *ua.Title == "" {
		return Assignment{}, fieldError(ErrEmptyTitle, "title")
	}
	asg, err := svc.GetAssignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}

	if ua.Title != nil {
		asg.Title = *ua.Title
	}
	if ua.Description != nil {
		asg.Description = *ua.Description
	}
	if ua.DueDate != nil {
		asg.DueDate = ua.DueDate.UTC()
	}
	if ua.MaxMarks != nil {
		asg.MaxMarks = *ua.MaxMarks
	}
	asg.UpdatedAt = svc.nowFunc().UTC()
	asg, err = svc.repo.UpdateAssignment(ctx, asg)
	return asg, errors.Wrap(err, "updating assignment")
}

func (svc *Service) DeleteAssignment(ctx context.Context, who Identity, id string) error {
	if !who.IsAdmin() {
		return core.ErrPermissionDenied
	}
	if _, err := svc.GetAssignment(ctx, id); err != nil {
		return err
	}
	return svc.repo.DeleteAssignment(ctx, id)
}

// AssignmentStats counts the submissions of an assignment against the number of students.
func (svc *Service) AssignmentStats(ctx context.Context, who Identity, id string) (AssignmentStats, error) {
	if !who.IsAdmin() {
		return AssignmentStats{}, core.ErrPermissionDenied
	}
	if _, err := svc.GetAssignment(ctx, id); err != nil {
		return AssignmentStats{}, err
	}

	var stats AssignmentStats
	var err error
	if stats.TotalStudents, err = svc.repo.CountStudents(ctx); err != nil {
		return AssignmentStats{}, errors.Wrap(err, "counting students")
	}
	if stats.TotalSubmissions, err = svc.repo.CountSubmissions(ctx, id, ""); err != nil {
		return AssignmentStats{}, errors.Wrap(err, "counting submissions")
	}
	if stats.Graded, err = svc.repo.CountSubmissions(ctx, id, SubmissionGraded); err != nil {
		return AssignmentStats{}, errors.Wrap(err, "counting graded submissions")
	}
	if stats.Pending, err = svc.repo.CountSubmissions(ctx, id, SubmissionPending); err != nil {
		return AssignmentStats{}, errors.Wrap(err, "counting pending submissions")
	}
	if stats.TotalStudents > 0 {
		stats.SubmissionRate = core.Round2(float64(stats.TotalSubmissions) / float64(stats.TotalStudents) * 100)
	}
	return stats, nil
}

// Submissions

// getVisibleSubmission returns the submission when who may see it: admins see all, students their own.
func (svc *Service) getVisibleSubmission(ctx context.Context, who Identity, id string) (Submission, error) {
	if err := checkID(id, "id"); err != nil {
		return Submission{}, err
	}
	sub, err := svc.repo.GetSubmission(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if !who.IsAdmin() && sub.StudentID != who.ID {
		return Submission{}, core.ErrPermissionDenied
	}
	return sub, nil
}

func (svc *Service) QuerySubmissions(ctx context.Context, who Identity, filter SubmissionFilter) ([]Submission, error) {
	filter.AssignmentID = core.CleanString(filter.AssignmentID)
	filter.StudentID = ""
	if !who.IsAdmin() {
		filter.StudentID = who.ID
	}
	return svc.repo.QuerySubmissions(ctx, filter)
}

func (svc *Service) GetSubmission(ctx context.Context, who Identity, id string) (Submission, error) {
	return svc.getVisibleSubmission(ctx, who, id)
}

// CreateSubmission submits a student's work; each student submits an assignment once.
func (svc *Service) CreateSubmission(ctx context.Context, who Identity, ns NewSubmission) (Submission, error) {
	if !who.IsStudent() {
		return Submission{}, ErrStudentsOnly
	}
	ns.Clean()
	if err := svc.validate.Struct(ns); err != nil {
		return Submission{}, err
	}
	if err := checkID(ns.AssignmentID, "assignment_id"); err != nil {
		return Submission{}, err
	}
	if _, err := svc.repo.GetAssignment(ctx, ns.AssignmentID); err != nil {
		return Submission{}, err
	}
	if _, err := svc.repo.FindSubmission(ctx, ns.AssignmentID, who.ID); err == nil {
		return Submission{}, fieldError(ErrAlreadySubmitted, "assignment_id")
	} else if !core.IsNotFound(err) {
		return Submission{}, err
	}

	sub, err := svc.repo.CreateSubmission(ctx, Submission{
		AssignmentID:   ns.AssignmentID,
		StudentID:      who.ID,
		StudentName:    who.Name,
		SubmissionText: ns.SubmissionText,
		FileURL:        ns.FileURL,
		Status:         SubmissionPending,
		SubmittedAt:    svc.nowFunc().UTC(),
	})
	if errors.Cause(err) == ErrConflict {
		return Submission{}, fieldError(ErrAlreadySubmitted, "assignment_id")
	}
	return sub, errors.Wrap(err, "creating submission")
}

// UpdateSubmission lets students edit their pending submissions and admins grade any of them.
func (svc *Service) UpdateSubmission(ctx context.Context, who Identity, id string, us UpdateSubmission) (Submission, error) {
	us.Clean()
	if err := svc.validate.Struct(us); err != nil {
		return Submission{}, err
	}
	sub, err := svc.getVisibleSubmission(ctx, who, id)
	if err != nil {
		return Submission{}, err
	}

	var updated bool
	switch {
	case who.IsStudent():
		if sub.IsGraded() {
			return Submission{}, core.NewValidationError(ErrGradedSubmission)
		}
		if us.SubmissionText != nil && *us.SubmissionText != "" {
			sub.SubmissionText = *us.SubmissionText
			updated = true
		}
		if us.FileURL != nil {
			sub.FileURL = us.FileURL
			updated = true
		}
	case who.IsAdmin():
		if us.Marks != nil {
			asg, err := svc.repo.GetAssignment(ctx, sub.AssignmentID)
			if err != nil {
				return Submission{}, errors.Wrap(err, "getting assignment")
			}
			if *us.Marks > asg.MaxMarks {
				return Submission{}, fieldError(ErrMarksOutOfRange, "marks")
			}
			sub.Marks = us.Marks
			updated = true
		}
		if us.Feedback != nil {
			sub.Feedback = us.Feedback
			updated = true
		}
		if us.Status != nil {
			sub.Status = *us.Status
			if sub.IsGraded() {
				now := svc.nowFunc().UTC()
				sub.GradedAt = &now
			}
			updated = true
		}
	}
	if !updated {
		return Submission{}, core.NewValidationError(ErrNoFieldsToUpdate)
	}

	sub, err = svc.repo.UpdateSubmission(ctx, sub)
	return sub, errors.Wrap(err, "updating submission")
}

func (svc *Service) DeleteSubmission(ctx context.Context, who Identity, id string) error {
	sub, err := svc.getVisibleSubmission(ctx, who, id)
	if err != nil {
		return err
	}
	if !who.IsAdmin() && sub.IsGraded() {
		return core.NewValidationError(ErrGradedSubmission)
	}
	return svc.repo.DeleteSubmission(ctx, id)
}
