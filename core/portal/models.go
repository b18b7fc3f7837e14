package portal

import (
	"time"

	"github.com/trezcool/eduanalytics/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// Task statuses
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

// Task priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Submission statuses
const (
	SubmissionPending = "pending"
	SubmissionGraded  = "graded"
)

const DefaultMaxMarks = 100

var (
	TaskStatuses       = []string{TaskPending, TaskInProgress, TaskCompleted}
	TaskPriorities     = []string{PriorityLow, PriorityMedium, PriorityHigh}
	SubmissionStatuses = []string{SubmissionPending, SubmissionGraded}
)

// Identity is the authenticated caller, as asserted by the auth service.
type Identity struct {
	ID   string
	Name string
	Role string
}

func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

func (id Identity) IsStudent() bool {
	return id.Role == RoleStudent
}

// Task is a personal to-do item.
type Task struct {
	ID          string    `bson:"_id" json:"id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	Title       string    `bson:"title" json:"title"`
	Description *string   `bson:"description,omitempty" json:"description"`
	Status      string    `bson:"status" json:"status"`
	Priority    string    `bson:"priority" json:"priority"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"` // UTC
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"` // UTC
}

type NewTask struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description *string `json:"description"`
	Status      string  `json:"status" validate:"omitempty,taskstatus"`
	Priority    string  `json:"priority" validate:"omitempty,priority"`
}

func (nt *NewTask) Clean() {
	nt.Title = core.CleanString(nt.Title)
	nt.Status = core.CleanString(nt.Status, true /* lower */)
	nt.Priority = core.CleanString(nt.Priority, true /* lower */)
	if nt.Status == "" {
		nt.Status = TaskPending
	}
	if nt.Priority == "" {
		nt.Priority = PriorityMedium
	}
}

// UpdateTask defines what information may be provided to modify an existing Task.
// A nil field is left untouched.
type UpdateTask struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description"`
	Status      *string `json:"status" validate:"omitempty,taskstatus"`
	Priority    *string `json:"priority" validate:"omitempty,priority"`
}

func (ut *UpdateTask) Clean() {
	cleanPtr(ut.Title, false)
	cleanPtr(ut.Status, true)
	cleanPtr(ut.Priority, true)
}

type TaskFilter struct {
	Search   string `query:"search"`
	Status   string `query:"status" validate:"omitempty,taskstatus"`
	Priority string `query:"priority" validate:"omitempty,priority"`
}

func (qf *TaskFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.Priority = core.CleanString(qf.Priority, true /* lower */)
}

type Assignment struct {
	ID          string    `bson:"_id" json:"id"`
	Title       string    `bson:"title" json:"title"`
	Description string    `bson:"description" json:"description"`
	DueDate     time.Time `bson:"due_date" json:"due_date"` // UTC
	MaxMarks    int       `bson:"max_marks" json:"max_marks"`
	CreatedBy   string    `bson:"created_by" json:"created_by"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"` // UTC
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"` // UTC
}

type NewAssignment struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"required"`
	DueDate     time.Time `json:"due_date" validate:"required"`
	MaxMarks    int       `json:"max_marks" validate:"omitempty,min=1"`
}

func (na *NewAssignment) Clean() {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.DueDate = na.DueDate.UTC()
	if na.MaxMarks == 0 {
		na.MaxMarks = DefaultMaxMarks
	}
}

type UpdateAssignment struct {
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	MaxMarks    *int       `json:"max_marks" validate:"omitempty,min=1"`
}

func (ua *UpdateAssignment) Clean() {
	cleanPtr(ua.Title, false)
	cleanPtr(ua.Description, false)
}

type AssignmentStats struct {
	TotalStudents    int64   `json:"total_students"`
	TotalSubmissions int64   `json:"total_submissions"`
	Graded           int64   `json:"graded"`
	Pending          int64   `json:"pending"`
	SubmissionRate   float64 `json:"submission_rate"` // percentage of students who submitted
}

type Submission struct {
	ID             string     `bson:"_id" json:"id"`
	AssignmentID   string     `bson:"assignment_id" json:"assignment_id"`
	StudentID      string     `bson:"student_id" json:"student_id"`
	StudentName    string     `bson:"student_name" json:"student_name"`
	SubmissionText string     `bson:"submission_text" json:"submission_text"`
	FileURL        *string    `bson:"file_url,omitempty" json:"file_url"`
	Status         string     `bson:"status" json:"status"`
	Marks          *int       `bson:"marks,omitempty" json:"marks"`
	Feedback       *string    `bson:"feedback,omitempty" json:"feedback"`
	SubmittedAt    time.Time  `bson:"submitted_at" json:"submitted_at"`    // UTC
	GradedAt       *time.Time `bson:"graded_at,omitempty" json:"graded_at"` // UTC
}

func (s Submission) IsGraded() bool {
	return s.Status == SubmissionGraded
}

type NewSubmission struct {
	AssignmentID   string  `json:"assignment_id" validate:"required"`
	SubmissionText string  `json:"submission_text" validate:"required"`
	FileURL        *string `json:"file_url" validate:"omitempty,url"`
}

func (ns *NewSubmission) Clean() {
	ns.AssignmentID = core.CleanString(ns.AssignmentID)
	ns.SubmissionText = core.CleanString(ns.SubmissionText)
	cleanPtr(ns.FileURL, false)
}

// UpdateSubmission carries the fields a student may edit (text, file) and the grading fields of admins.
type UpdateSubmission struct {
	SubmissionText *string `json:"submission_text"`
	FileURL        *string `json:"file_url" validate:"omitempty,url"`
	Marks          *int    `json:"marks" validate:"omitempty,min=0"`
	Feedback       *string `json:"feedback"`
	Status         *string `json:"status" validate:"omitempty,submissionstatus"`
}

func (us *UpdateSubmission) Clean() {
	cleanPtr(us.SubmissionText, false)
	cleanPtr(us.FileURL, false)
	cleanPtr(us.Feedback, false)
	cleanPtr(us.Status, true)
}

type SubmissionFilter struct {
	AssignmentID string `query:"assignment_id"`
	StudentID    string `query:"-"`
}

func cleanPtr(s *string, lower bool) {
	if s != nil {
		*s = core.CleanString(*s, lower)
	}
}
