package academics

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/grading"
)

// UploadHistoryLimit is the number of upload logs returned by Service.QueryUploadLogs.
const UploadHistoryLimit = 10

var (
	ErrNoFieldsToUpdate   = errors.New("no valid fields to update")
	ErrInvalidCredentials = errors.New("invalid register number or date of birth")
	ErrStudentDeactivated = errors.Wrap(core.ErrPermissionDenied, "student account deactivated")
)

type (
	NewStudent struct {
		RegisterNo  string `json:"register_no" validate:"required,max=20"`
		Name        string `json:"name" validate:"required,max=100"`
		Email       string `json:"email" validate:"required,email,max=100"`
		DateOfBirth string `json:"date_of_birth" validate:"required,ddmmyyyy"`
		BatchID     int    `json:"batch_id" validate:"required"`
	}

	// UpdateStudent defines what information may be provided to modify an existing Student.
	UpdateStudent struct {
		Name        string `json:"name" validate:"omitempty,max=100"`
		Email       string `json:"email" validate:"omitempty,email,max=100"`
		DateOfBirth string `json:"date_of_birth" validate:"omitempty,ddmmyyyy"`
		BatchID     int    `json:"batch_id"`
		IsActive    *bool  `json:"is_active"`
	}

	StudentDetail struct {
		Student
		Marks []MarkView `json:"marks"`
	}

	UpsertMark struct {
		MarkKey
		MarkPatch
	}

	BatchSummary struct {
		Batch
		TotalStudents int `json:"total_students"`
	}

	SemesterTree struct {
		Semester
		Subjects []BatchSubject `json:"subjects"`
	}

	BatchTree struct {
		Batch
		Semesters []SemesterTree `json:"semesters"`
		// Subjects mapped to every semester of the batch.
		Subjects []BatchSubject `json:"subjects"`
	}

	NewSubject struct {
		Name string `json:"name" validate:"required,max=100"`
		Code string `json:"code" validate:"omitempty,max=20"`
	}

	UpdateSubject struct {
		Name string `json:"name" validate:"omitempty,max=100"`
		Code string `json:"code" validate:"omitempty,max=20"`
	}

	NewBatchSubject struct {
		BatchID    int  `json:"batch_id" validate:"required"`
		SemesterID *int `json:"semester_id"`
		SubjectID  int  `json:"subject_id" validate:"required"`
	}

	GradeDistributionFilter struct {
		SemesterID int `query:"semester_id"`
		SubjectID  int `query:"subject_id"`
	}
)

// UnmarshalJSON decodes the key and the patch separately, MarkPatch having its own decoder.
func (um *UpsertMark) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &um.MarkKey); err != nil {
		return err
	}
	return json.Unmarshal(data, &um.MarkPatch)
}

func (ns *NewStudent) Clean() {
	ns.RegisterNo = core.CleanString(ns.RegisterNo)
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	ns.DateOfBirth = core.CleanString(ns.DateOfBirth)
}

func (us *UpdateStudent) Clean() {
	us.Name = core.CleanString(us.Name)
	us.Email = core.CleanString(us.Email, true /* lower */)
	us.DateOfBirth = core.CleanString(us.DateOfBirth)
}

func (ns *NewSubject) Clean() {
	ns.Name = core.CleanString(ns.Name)
	ns.Code = strings.ToUpper(core.CleanString(ns.Code))
}

func (us *UpdateSubject) Clean() {
	us.Name = core.CleanString(us.Name)
	us.Code = strings.ToUpper(core.CleanString(us.Code))
}

// Service handles the administration of the academic records and the analytics built on them.
type Service struct {
	store    Store
	validate *validator.Validate
	resolver *Resolver
	upserter *MarkUpserter
	nowFunc  func() time.Time
}

func NewService(store Store, validate *validator.Validate) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(validate, "validate"),
	).CheckAndPanic()

	return &Service{
		store:    store,
		validate: validate,
		resolver: NewResolver(validate),
		upserter: NewMarkUpserter(validate),
		nowFunc:  time.Now,
	}
}

func fieldError(err error, field string) error {
	return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
}

// Students

func (svc *Service) checkStudentUniqueness(ctx context.Context, registerNo, email string, excludedID int) error {
	if registerNo != "" {
		st, err := svc.store.GetStudentByRegisterNo(ctx, registerNo)
		if err == nil && st.ID != excludedID {
			return fieldError(ErrRegisterNoExists, "register_no")
		} else if err != nil && !core.IsNotFound(err) {
			return err
		}
	}
	if email != "" {
		st, err := svc.store.GetStudentByEmail(ctx, email)
		if err == nil && st.ID != excludedID {
			return fieldError(ErrStudentEmailExists, "email")
		} else if err != nil && !core.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (svc *Service) checkBatchExists(ctx context.Context, batchID int) error {
	if _, err := svc.store.GetBatchByID(ctx, batchID); err != nil {
		if core.IsNotFound(err) {
			return fieldError(err, "batch_id")
		}
		return err
	}
	return nil
}

func (svc *Service) CreateStudent(ctx context.Context, ns NewStudent) (Student, error) {
	ns.Clean()
	if err := svc.validate.Struct(ns); err != nil {
		return Student{}, err
	}
	if err := svc.checkBatchExists(ctx, ns.BatchID); err != nil {
		return Student{}, err
	}
	if err := svc.checkStudentUniqueness(ctx, ns.RegisterNo, ns.Email, 0); err != nil {
		return Student{}, err
	}

	dob, _ := core.ParseDateOfBirth(ns.DateOfBirth)
	now := svc.nowFunc().UTC()
	st, err := svc.store.CreateStudent(ctx, Student{
		RegisterNo:  ns.RegisterNo,
		Name:        ns.Name,
		Email:       ns.Email,
		DateOfBirth: dob,
		BatchID:     ns.BatchID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Student{}, errors.Wrap(err, "creating student")
	}
	return svc.store.GetStudentByID(ctx, st.ID)
}

func (svc *Service) UpdateStudent(ctx context.Context, id int, us UpdateStudent) (Student, error) {
	us.Clean()
	if err := svc.validate.Struct(us); err != nil {
		return Student{}, err
	}
	st, err := svc.store.GetStudentByID(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if us.BatchID != 0 && us.BatchID != st.BatchID {
		if err = svc.checkBatchExists(ctx, us.BatchID); err != nil {
			return Student{}, err
		}
		st.BatchID = us.BatchID
	}
	if err = svc.checkStudentUniqueness(ctx, "", us.Email, st.ID); err != nil {
		return Student{}, err
	}

	if us.Name != "" {
		st.Name = us.Name
	}
	if us.Email != "" {
		st.Email = us.Email
	}
	if us.DateOfBirth != "" {
		st.DateOfBirth, _ = core.ParseDateOfBirth(us.DateOfBirth)
	}
	if us.IsActive != nil {
		st.IsActive = *us.IsActive
	}
	st.UpdatedAt = svc.nowFunc().UTC()
	if _, err = svc.store.UpdateStudent(ctx, st); err != nil {
		return Student{}, errors.Wrap(err, "updating student")
	}
	return svc.store.GetStudentByID(ctx, id)
}

func (svc *Service) QueryStudents(ctx context.Context, filter StudentFilter, orderings ...core.DBOrdering) ([]Student, error) {
	filter.Clean()
	orderings = core.CleanOrderings(orderings, StudentOrderings)
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "register_no", Ascending: true}}
	}
	return svc.store.QueryStudents(ctx, filter, orderings...)
}

// AuthenticateStudent identifies a student by register number, the date of birth acting as password.
func (svc *Service) AuthenticateStudent(ctx context.Context, registerNo, dob string) (Student, error) {
	st, err := svc.store.GetStudentByRegisterNo(ctx, core.CleanString(registerNo))
	if core.IsNotFound(err) {
		return Student{}, core.NewValidationError(ErrInvalidCredentials)
	} else if err != nil {
		return Student{}, errors.Wrap(err, "finding student")
	}
	if normalized, err := core.ParseDateOfBirth(dob); err != nil || normalized != st.DateOfBirth {
		return Student{}, core.NewValidationError(ErrInvalidCredentials)
	}
	if !st.IsActive {
		return Student{}, ErrStudentDeactivated
	}
	return st, nil
}

func (svc *Service) GetStudent(ctx context.Context, id int) (Student, error) {
	return svc.store.GetStudentByID(ctx, id)
}

// GetStudentDetail returns the student with all their marks.
func (svc *Service) GetStudentDetail(ctx context.Context, id int) (StudentDetail, error) {
	st, err := svc.store.GetStudentByID(ctx, id)
	if err != nil {
		return StudentDetail{}, err
	}
	views, err := svc.StudentMarks(ctx, id)
	if err != nil {
		return StudentDetail{}, err
	}
	return StudentDetail{Student: st, Marks: views}, nil
}

// StudentMarks returns the marks of a student with their derived results.
func (svc *Service) StudentMarks(ctx context.Context, studentID int) ([]MarkView, error) {
	marks, err := svc.store.QueryMarks(ctx, MarkFilter{StudentIDs: []int{studentID}})
	if err != nil {
		return nil, errors.Wrap(err, "querying marks")
	}
	views := make([]MarkView, 0, len(marks))
	for _, m := range marks {
		views = append(views, m.View())
	}
	return views, nil
}

func (svc *Service) DeleteStudent(ctx context.Context, id int) error {
	return svc.store.DeleteStudent(ctx, id)
}

// Marks

// UpsertMark creates or updates the mark of a student in a subject and semester.
// The returned bool reports whether the mark was created.
func (svc *Service) UpsertMark(ctx context.Context, um UpsertMark) (MarkView, bool, error) {
	var mark Mark
	var created bool
	err := RunInTx(ctx, svc.store, func(tx Tx) error {
		if err := svc.validate.Struct(um.MarkKey); err != nil {
			return err
		}
		if _, err := tx.GetStudentByID(ctx, um.StudentID); err != nil {
			return svc.refFieldError(err, "student_id")
		}
		if _, err := tx.GetSubjectByID(ctx, um.SubjectID); err != nil {
			return svc.refFieldError(err, "subject_id")
		}
		if _, err := tx.GetSemesterByID(ctx, um.SemesterID); err != nil {
			return svc.refFieldError(err, "semester_id")
		}

		var err error
		mark, created, err = svc.upserter.Upsert(ctx, tx, um.MarkKey, um.MarkPatch)
		return err
	})
	if err != nil {
		return MarkView{}, false, err
	}
	view, err := svc.markView(ctx, mark.ID)
	return view, created, err
}

// UpdateMark partially updates a mark.
func (svc *Service) UpdateMark(ctx context.Context, id int, patch MarkPatch) (MarkView, error) {
	if patch.IsEmpty() {
		return MarkView{}, core.NewValidationError(ErrNoFieldsToUpdate)
	}
	err := RunInTx(ctx, svc.store, func(tx Tx) error {
		m, err := tx.GetMarkByID(ctx, id)
		if err != nil {
			return err
		}
		_, _, err = svc.upserter.Upsert(ctx, tx, m.Key(), patch)
		return err
	})
	if err != nil {
		return MarkView{}, err
	}
	return svc.markView(ctx, id)
}

func (svc *Service) markView(ctx context.Context, id int) (MarkView, error) {
	m, err := svc.store.GetMarkByID(ctx, id)
	if err != nil {
		return MarkView{}, err
	}
	return m.View(), nil
}

func (svc *Service) DeleteMark(ctx context.Context, id int) error {
	return svc.store.DeleteMark(ctx, id)
}

func (svc *Service) refFieldError(err error, field string) error {
	if core.IsNotFound(err) {
		return fieldError(err, field)
	}
	return err
}

// Batches

func (svc *Service) QueryBatches(ctx context.Context) ([]BatchSummary, error) {
	batches, err := svc.store.QueryBatches(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying batches")
	}
	counts, err := svc.store.CountStudentsByBatch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "counting students")
	}
	summaries := make([]BatchSummary, 0, len(batches))
	for _, b := range batches {
		summaries = append(summaries, BatchSummary{Batch: b, TotalStudents: counts[b.ID]})
	}
	return summaries, nil
}

// BatchTrees returns every batch with its semesters and the subjects mapped to them.
func (svc *Service) BatchTrees(ctx context.Context) ([]BatchTree, error) {
	batches, err := svc.store.QueryBatches(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying batches")
	}

	trees := make([]BatchTree, 0, len(batches))
	for _, b := range batches {
		sems, err := svc.store.QuerySemesters(ctx, b.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying semesters")
		}
		mappings, err := svc.store.QueryBatchSubjects(ctx, BatchSubjectFilter{BatchID: b.ID})
		if err != nil {
			return nil, errors.Wrap(err, "querying batch subjects")
		}

		tree := BatchTree{Batch: b, Semesters: make([]SemesterTree, 0, len(sems)), Subjects: make([]BatchSubject, 0)}
		bySem := make(map[int][]BatchSubject, len(sems))
		for _, bs := range mappings {
			if bs.SemesterID.Valid {
				bySem[bs.SemesterID.Int] = append(bySem[bs.SemesterID.Int], bs)
			} else {
				tree.Subjects = append(tree.Subjects, bs)
			}
		}
		for _, sem := range sems {
			subjects := bySem[sem.ID]
			if subjects == nil {
				subjects = make([]BatchSubject, 0)
			}
			tree.Semesters = append(tree.Semesters, SemesterTree{Semester: sem, Subjects: subjects})
		}
		trees = append(trees, tree)
	}
	return trees, nil
}

func (svc *Service) DeleteBatch(ctx context.Context, id int) error {
	return svc.store.DeleteBatch(ctx, id)
}

// GradeDistribution counts the effective semester grades of a batch's published marks.
func (svc *Service) GradeDistribution(ctx context.Context, batchID int, filter GradeDistributionFilter) (map[grading.Grade]int, error) {
	if _, err := svc.store.GetBatchByID(ctx, batchID); err != nil {
		return nil, err
	}
	marks, err := svc.store.QueryMarks(ctx, MarkFilter{BatchID: batchID, SemesterID: filter.SemesterID, SubjectID: filter.SubjectID})
	if err != nil {
		return nil, errors.Wrap(err, "querying marks")
	}
	grades := make([]grading.Grade, 0, len(marks))
	for _, m := range marks {
		if g, ok := m.Grade(); ok {
			grades = append(grades, g)
		}
	}
	return grading.Distribution(grades), nil
}

// Subjects

func (svc *Service) checkSubjectUniqueness(ctx context.Context, name, code string, excludedID int) error {
	if name != "" {
		subj, err := svc.store.GetSubjectByName(ctx, name)
		if err == nil && subj.ID != excludedID {
			return fieldError(ErrSubjectNameExists, "name")
		} else if err != nil && !core.IsNotFound(err) {
			return err
		}
	}
	if code != "" {
		subj, err := svc.store.GetSubjectByCode(ctx, code)
		if err == nil && subj.ID != excludedID {
			return fieldError(ErrSubjectCodeExists, "code")
		} else if err != nil && !core.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (svc *Service) CreateSubject(ctx context.Context, ns NewSubject) (Subject, error) {
	ns.Clean()
	if err := svc.validate.Struct(ns); err != nil {
		return Subject{}, err
	}
	if err := svc.checkSubjectUniqueness(ctx, ns.Name, ns.Code, 0); err != nil {
		return Subject{}, err
	}
	code := ns.Code
	if code == "" {
		var err error
		if code, err = svc.resolver.freeSubjectCode(ctx, svc.store, DeriveSubjectCode(ns.Name)); err != nil {
			return Subject{}, err
		}
	}
	subj, err := svc.store.CreateSubject(ctx, Subject{Name: ns.Name, Code: code})
	return subj, errors.Wrap(err, "creating subject")
}

func (svc *Service) UpdateSubject(ctx context.Context, id int, us UpdateSubject) (Subject, error) {
	us.Clean()
	if err := svc.validate.Struct(us); err != nil {
		return Subject{}, err
	}
	if us.Name == "" && us.Code == "" {
		return Subject{}, core.NewValidationError(ErrNoFieldsToUpdate)
	}
	subj, err := svc.store.GetSubjectByID(ctx, id)
	if err != nil {
		return Subject{}, err
	}
	if err = svc.checkSubjectUniqueness(ctx, us.Name, us.Code, id); err != nil {
		return Subject{}, err
	}
	if us.Name != "" {
		subj.Name = us.Name
	}
	if us.Code != "" {
		subj.Code = us.Code
	}
	subj, err = svc.store.UpdateSubject(ctx, subj)
	return subj, errors.Wrap(err, "updating subject")
}

func (svc *Service) QuerySubjects(ctx context.Context) ([]Subject, error) {
	return svc.store.QuerySubjects(ctx)
}

func (svc *Service) DeleteSubject(ctx context.Context, id int) error {
	return svc.store.DeleteSubject(ctx, id)
}

// Batch subjects

func (svc *Service) AddBatchSubject(ctx context.Context, nbs NewBatchSubject) (BatchSubject, error) {
	if err := svc.validate.Struct(nbs); err != nil {
		return BatchSubject{}, err
	}
	if err := svc.checkBatchExists(ctx, nbs.BatchID); err != nil {
		return BatchSubject{}, err
	}
	if _, err := svc.store.GetSubjectByID(ctx, nbs.SubjectID); err != nil {
		return BatchSubject{}, svc.refFieldError(err, "subject_id")
	}

	bs := BatchSubject{BatchID: nbs.BatchID, SubjectID: nbs.SubjectID}
	if nbs.SemesterID != nil {
		sem, err := svc.store.GetSemesterByID(ctx, *nbs.SemesterID)
		if err != nil {
			return BatchSubject{}, svc.refFieldError(err, "semester_id")
		}
		if sem.BatchID != nbs.BatchID {
			return BatchSubject{}, fieldError(ErrSemesterBatchMismatch, "semester_id")
		}
		bs.SemesterID = null.IntFrom(sem.ID)
	}

	if _, err := svc.store.FindBatchSubject(ctx, bs); err == nil {
		return BatchSubject{}, fieldError(ErrBatchSubjectExists, "subject_id")
	} else if !core.IsNotFound(err) {
		return BatchSubject{}, err
	}

	bs, err := svc.store.CreateBatchSubject(ctx, bs)
	if IsConflict(err) {
		return BatchSubject{}, fieldError(ErrBatchSubjectExists, "subject_id")
	} else if err != nil {
		return BatchSubject{}, errors.Wrap(err, "creating batch subject")
	}
	return svc.store.GetBatchSubjectByID(ctx, bs.ID)
}

func (svc *Service) QueryBatchSubjects(ctx context.Context, filter BatchSubjectFilter) ([]BatchSubject, error) {
	return svc.store.QueryBatchSubjects(ctx, filter)
}

func (svc *Service) RemoveBatchSubject(ctx context.Context, id int) error {
	return svc.store.DeleteBatchSubject(ctx, id)
}

// Upload history

// QueryUploadLogs returns the last UploadHistoryLimit uploads of an admin, most recent first.
func (svc *Service) QueryUploadLogs(ctx context.Context, adminID int) ([]UploadLog, error) {
	logs, err := svc.store.QueryUploadLogs(ctx, adminID, UploadHistoryLimit)
	if err != nil {
		return nil, errors.Wrap(err, "querying upload logs")
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	return logs, nil
}

// DeleteLastUpload removes the students an admin's latest upload created, with their marks, and that upload's log.
// Given a batch year, it removes every student of that batch and the admin's uploads whose filename mentions the year.
func (svc *Service) DeleteLastUpload(ctx context.Context, adminID int, batchYear string) (UploadDeletion, error) {
	batchYear = core.CleanString(batchYear)
	var del UploadDeletion
	err := RunInTx(ctx, svc.store, func(tx Tx) error {
		var (
			filter StudentFilter
			logs   []UploadLog
		)
		if batchYear != "" {
			batch, err := tx.GetBatchByYear(ctx, batchYear)
			if err != nil {
				return err
			}
			filter.BatchID = batch.ID

			all, err := tx.QueryUploadLogs(ctx, adminID, 0)
			if err != nil {
				return errors.Wrap(err, "querying upload logs")
			}
			for _, l := range all {
				if strings.Contains(l.Filename, batchYear) {
					logs = append(logs, l)
				}
			}
		} else {
			latest, err := tx.QueryUploadLogs(ctx, adminID, 1)
			if err != nil {
				return errors.Wrap(err, "querying upload logs")
			}
			if len(latest) == 0 {
				return ErrUploadNotFound
			}
			filter.CreatedSince = latest[0].StartedAt
			logs = latest
		}

		students, err := tx.QueryStudents(ctx, filter)
		if err != nil {
			return errors.Wrap(err, "querying students")
		}
		if len(students) > 0 {
			ids := make([]int, 0, len(students))
			for _, st := range students {
				ids = append(ids, st.ID)
			}
			marks, err := tx.QueryMarks(ctx, MarkFilter{StudentIDs: ids})
			if err != nil {
				return errors.Wrap(err, "querying marks")
			}
			for _, id := range ids {
				if err = tx.DeleteStudent(ctx, id); err != nil {
					return errors.Wrap(err, "deleting student")
				}
			}
			del.DeletedStudents, del.DeletedMarks = len(students), len(marks)
		}
		for _, l := range logs {
			if err = tx.DeleteUploadLog(ctx, l.ID); err != nil {
				return errors.Wrap(err, "deleting upload log")
			}
		}
		del.DeletedUploads = len(logs)
		return nil
	})
	if err != nil {
		return UploadDeletion{}, err
	}
	return del, nil
}
