package academics

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/grading"
)

type Batch struct {
	ID        int       `json:"id" db:"id"`
	Year      string    `json:"batch_year" db:"batch_year"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
}

type Semester struct {
	ID           int    `json:"id" db:"id"`
	BatchID      int    `json:"batch_id" db:"batch_id"`
	Number       int    `json:"semester_number" db:"semester_number"`
	AcademicYear string `json:"academic_year" db:"academic_year"`
}

type Subject struct {
	ID   int    `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Code string `json:"code" db:"code"`
}

// BatchSubject declares that a subject is taught in a batch.
// A null SemesterID applies the subject to all semesters of the batch.
type BatchSubject struct {
	ID         int      `json:"id" db:"id"`
	BatchID    int      `json:"batch_id" db:"batch_id"`
	SemesterID null.Int `json:"semester_id" db:"semester_id"`
	SubjectID  int      `json:"subject_id" db:"subject_id"`

	// joined
	SubjectName    string   `json:"subject_name,omitempty" db:"subject_name"`
	SubjectCode    string   `json:"subject_code,omitempty" db:"subject_code"`
	SemesterNumber null.Int `json:"semester_number,omitempty" db:"semester_number"`
}

type Student struct {
	ID          int       `json:"id" db:"id"`
	RegisterNo  string    `json:"register_no" db:"register_no"`
	Name        string    `json:"name" db:"name"`
	Email       string    `json:"email" db:"email"`
	DateOfBirth string    `json:"date_of_birth" db:"date_of_birth"` // DD-MM-YYYY
	BatchID     int       `json:"batch_id" db:"batch_id"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"` // UTC

	// joined
	BatchYear string `json:"batch_year,omitempty" db:"batch_year"`
}

// MarkKey is the natural key of a Mark.
type MarkKey struct {
	StudentID  int `json:"student_id" validate:"required"`
	SubjectID  int `json:"subject_id" validate:"required"`
	SemesterID int `json:"semester_id" validate:"required"`
}

type Mark struct {
	ID            int          `json:"id" db:"id"`
	StudentID     int          `json:"student_id" db:"student_id"`
	SubjectID     int          `json:"subject_id" db:"subject_id"`
	SemesterID    int          `json:"semester_id" db:"semester_id"`
	CA1           null.Float64 `json:"ca1" db:"ca1"`
	CA2           null.Float64 `json:"ca2" db:"ca2"`
	CA3           null.Float64 `json:"ca3" db:"ca3"`
	SemesterMarks null.Float64 `json:"semester_marks" db:"semester_marks"`
	SemGrade      null.String  `json:"-" db:"sem_grade"` // explicit grade, as uploaded
	SemPublished  bool         `json:"sem_published" db:"sem_published"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"` // UTC
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"` // UTC

	// joined
	SubjectName    string `json:"subject_name,omitempty" db:"subject_name"`
	SubjectCode    string `json:"subject_code,omitempty" db:"subject_code"`
	SemesterNumber int    `json:"semester_number,omitempty" db:"semester_number"`
}

func (m Mark) Key() MarkKey {
	return MarkKey{StudentID: m.StudentID, SubjectID: m.SubjectID, SemesterID: m.SemesterID}
}

func (m Mark) Scores() grading.Scores {
	return grading.Scores{CA1: m.CA1, CA2: m.CA2, CA3: m.CA3, Semester: m.SemesterMarks}
}

// Grade is the effective semester grade: the stored explicit grade when set, else the derived one.
func (m Mark) Grade() (grading.Grade, bool) {
	var explicit grading.Grade
	if m.SemGrade.Valid {
		explicit = grading.Grade(m.SemGrade.String)
	}
	g := grading.EffectiveGrade(m.SemesterMarks, explicit)
	return g, g != ""
}

func (m Mark) IsPassed() bool {
	var explicit grading.Grade
	if m.SemGrade.Valid {
		explicit = grading.Grade(m.SemGrade.String)
	}
	return grading.IsPassed(m.Scores(), explicit)
}

// MarkView is a Mark with its derived results.
type MarkView struct {
	Mark
	CAAverage null.Float64 `json:"ca_average"`
	CATotal   float64      `json:"ca_total"`
	CAStatus  string       `json:"ca_status"`
	SemGrade  null.String  `json:"sem_grade"`
	SemStatus string       `json:"sem_status,omitempty"`
	Passed    bool         `json:"passed"`
}

func (m Mark) View() MarkView {
	scores := m.Scores()
	avg := scores.CAAverage()
	if avg.Valid {
		avg.Float64 = core.Round2(avg.Float64)
	}
	view := MarkView{
		Mark:      m,
		CAAverage: avg,
		CATotal:   scores.CATotal(),
		CAStatus:  scores.CAStatus(),
		Passed:    m.IsPassed(),
	}
	if g, ok := m.Grade(); ok {
		view.SemGrade = null.StringFrom(g.String())
		if g.IsPass() {
			view.SemStatus = grading.StatusPassed
		} else {
			view.SemStatus = grading.StatusFailed
		}
	}
	return view
}

// MarkPatch carries the optional fields of a Mark upsert.
// A nil field is absent and leaves the stored value untouched; a non-nil invalid null.Float64 clears it,
// as does an empty SemGrade.
type MarkPatch struct {
	CA1           *null.Float64  `json:"ca1" validate:"omitempty,min=0,max=100"`
	CA2           *null.Float64  `json:"ca2" validate:"omitempty,min=0,max=100"`
	CA3           *null.Float64  `json:"ca3" validate:"omitempty,min=0,max=100"`
	SemesterMarks *null.Float64  `json:"semester_marks" validate:"omitempty,min=0,max=100"`
	SemGrade      *grading.Grade `json:"sem_grade"`
}

// UnmarshalJSON keeps an explicit JSON null apart from an absent field and normalizes the grade ("a+" -> A+).
func (p *MarkPatch) UnmarshalJSON(data []byte) error {
	type patch MarkPatch
	if err := json.Unmarshal(data, (*patch)(p)); err != nil {
		return err
	}
	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return err
	}
	for key, fld := range map[string]**null.Float64{
		"ca1":            &p.CA1,
		"ca2":            &p.CA2,
		"ca3":            &p.CA3,
		"semester_marks": &p.SemesterMarks,
	} {
		if raw, ok := present[key]; ok && *fld == nil && string(raw) == "null" {
			*fld = &null.Float64{}
		}
	}
	if raw, ok := present["sem_grade"]; ok && p.SemGrade == nil && string(raw) == "null" {
		p.SemGrade = new(grading.Grade)
	}
	if p.SemGrade != nil {
		if g, ok := grading.ParseGrade(string(*p.SemGrade)); ok {
			*p.SemGrade = g
		}
	}
	return nil
}

func (p MarkPatch) IsEmpty() bool {
	return p.CA1 == nil && p.CA2 == nil && p.CA3 == nil && p.SemesterMarks == nil && p.SemGrade == nil
}

func (p MarkPatch) Validate(validate *validator.Validate) error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.SemGrade != nil && *p.SemGrade != "" && !p.SemGrade.IsValid() {
		return core.NewValidationError(ErrInvalidGrade, core.FieldError{Field: "sem_grade", Error: ErrInvalidGrade.Error()})
	}
	return nil
}

// Apply writes the present fields onto m and recomputes SemPublished.
func (p MarkPatch) Apply(m *Mark) {
	if p.CA1 != nil {
		m.CA1 = *p.CA1
	}
	if p.CA2 != nil {
		m.CA2 = *p.CA2
	}
	if p.CA3 != nil {
		m.CA3 = *p.CA3
	}
	if p.SemesterMarks != nil {
		m.SemesterMarks = *p.SemesterMarks
	}
	if p.SemGrade != nil {
		m.SemGrade = null.NewString(p.SemGrade.String(), *p.SemGrade != "")
	}
	m.SemPublished = grading.IsPublished(m.SemesterMarks)
}

type UploadLog struct {
	ID              int         `json:"id" db:"id"`
	AdminID         int         `json:"admin_id" db:"admin_id"`
	Filename        string      `json:"filename" db:"filename"`
	TotalRows       int         `json:"total_rows" db:"total_rows"`
	UploadedRecords int         `json:"uploaded_records" db:"uploaded_records"`
	ErrorCount      int         `json:"error_count" db:"error_count"`
	Success         bool        `json:"success" db:"success"`
	ErrorMessage    null.String `json:"error_message" db:"error_message"`
	StartedAt       time.Time   `json:"started_at" db:"started_at"` // UTC
	CreatedAt       time.Time   `json:"created_at" db:"created_at"` // UTC
}

// UploadDeletion counts what Service.DeleteLastUpload removed.
type UploadDeletion struct {
	DeletedStudents int `json:"deleted_students"`
	DeletedMarks    int `json:"deleted_marks"`
	DeletedUploads  int `json:"deleted_uploads"`
}

// Filters

type StudentFilter struct {
	BatchID   int    `query:"batch_id"`
	BatchYear string `query:"batch_year"`
	Search    string `query:"search"`
	IsActive  *bool  `query:"is_active"`

	CreatedSince time.Time `query:"-"` // students created at or after, if set
}

func (qf *StudentFilter) Clean() {
	qf.BatchYear = core.CleanString(qf.BatchYear)
	qf.Search = core.CleanString(qf.Search, true /* lower */)
}

type MarkFilter struct {
	StudentIDs []int
	BatchID    int
	SemesterID int
	SubjectID  int
}

type BatchSubjectFilter struct {
	BatchID    int `query:"batch_id"`
	SemesterID int `query:"semester_id"`
}

// StudentOrderings maps the accepted "ordering" query fields to columns.
var StudentOrderings = map[string]string{
	"register_no": "register_no",
	"name":        "name",
	"email":       "email",
	"created_at":  "created_at",
}
