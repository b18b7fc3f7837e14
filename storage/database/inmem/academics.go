package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
)

type academicsRepository struct {
	db *DB
	tx *tables // nil outside transactions
}

func (repo *academicsRepository) view(fn func(t *tables) error) error {
	return repo.db.view(repo.tx, fn)
}

func (repo *academicsRepository) update(fn func(t *tables) error) error {
	return repo.db.update(repo.tx, fn)
}

// AcademicsStore is an in-memory academics.Store.
type AcademicsStore struct {
	*academicsRepository
}

func NewAcademicsStore(db *DB) *AcademicsStore {
	return &AcademicsStore{academicsRepository: &academicsRepository{db: db}}
}

func (s *AcademicsStore) Begin(ctx context.Context) (academics.Tx, error) {
	tx := s.db.begin()
	return &academicsTx{academicsRepository: &academicsRepository{db: s.db, tx: tx.data}, tx: tx}, nil
}

type academicsTx struct {
	*academicsRepository
	tx *transaction
}

func (t *academicsTx) Savepoint(ctx context.Context, name string) error {
	return t.tx.savepoint(name)
}

func (t *academicsTx) RollbackTo(ctx context.Context, name string) error {
	return t.tx.rollbackTo(name)
}

func (t *academicsTx) ReleaseSavepoint(ctx context.Context, name string) error {
	return t.tx.releaseSavepoint(name)
}

func (t *academicsTx) Commit() error {
	return t.tx.commit()
}

func (t *academicsTx) Rollback() error {
	return t.tx.rollback()
}

// Batches

func (repo *academicsRepository) GetBatchByID(ctx context.Context, id int) (academics.Batch, error) {
	var batch academics.Batch
	err := repo.view(func(t *tables) error {
		b, ok := t.batches[id]
		if !ok {
			return academics.ErrBatchNotFound
		}
		batch = b
		return nil
	})
	return batch, err
}

func (repo *academicsRepository) GetBatchByYear(ctx context.Context, year string) (academics.Batch, error) {
	var batch academics.Batch
	err := repo.view(func(t *tables) error {
		for _, b := range t.batches {
			if b.Year == year {
				batch = b
				return nil
			}
		}
		return academics.ErrBatchNotFound
	})
	return batch, err
}

func (repo *academicsRepository) CreateBatch(ctx context.Context, batch academics.Batch) (academics.Batch, error) {
	err := repo.update(func(t *tables) error {
		for _, b := range t.batches {
			if b.Year == batch.Year {
				return academics.ErrConflict
			}
		}
		batch.ID = t.nextID("batches")
		t.batches[batch.ID] = batch
		return nil
	})
	return batch, err
}

func (repo *academicsRepository) QueryBatches(ctx context.Context) ([]academics.Batch, error) {
	var batches []academics.Batch
	err := repo.view(func(t *tables) error {
		batches = make([]academics.Batch, 0, len(t.batches))
		for _, b := range t.batches {
			batches = append(batches, b)
		}
		return nil
	})
	sort.Slice(batches, func(i, j int) bool { return batches[i].Year > batches[j].Year })
	return batches, err
}

func (repo *academicsRepository) CountStudentsByBatch(ctx context.Context) (map[int]int, error) {
	counts := make(map[int]int)
	err := repo.view(func(t *tables) error {
		for _, st := range t.students {
			counts[st.BatchID]++
		}
		return nil
	})
	return counts, err
}

func (repo *academicsRepository) DeleteBatch(ctx context.Context, id int) error {
	return repo.update(func(t *tables) error {
		if _, ok := t.batches[id]; !ok {
			return academics.ErrBatchNotFound
		}
		for semID, sem := range t.semesters {
			if sem.BatchID == id {
				deleteMarks(t, func(m academics.Mark) bool { return m.SemesterID == semID })
				delete(t.semesters, semID)
			}
		}
		for bsID, bs := range t.batchSubjects {
			if bs.BatchID == id {
				delete(t.batchSubjects, bsID)
			}
		}
		for stID, st := range t.students {
			if st.BatchID == id {
				deleteMarks(t, func(m academics.Mark) bool { return m.StudentID == stID })
				delete(t.students, stID)
			}
		}
		delete(t.batches, id)
		return nil
	})
}

// Semesters

func (repo *academicsRepository) GetSemesterByID(ctx context.Context, id int) (academics.Semester, error) {
	var sem academics.Semester
	err := repo.view(func(t *tables) error {
		s, ok := t.semesters[id]
		if !ok {
			return academics.ErrSemesterNotFound
		}
		sem = s
		return nil
	})
	return sem, err
}

func (repo *academicsRepository) GetSemester(ctx context.Context, batchID, number int) (academics.Semester, error) {
	var sem academics.Semester
	err := repo.view(func(t *tables) error {
		for _, s := range t.semesters {
			if s.BatchID == batchID && s.Number == number {
				sem = s
				return nil
			}
		}
		return academics.ErrSemesterNotFound
	})
	return sem, err
}

func (repo *academicsRepository) CreateSemester(ctx context.Context, sem academics.Semester) (academics.Semester, error) {
	err := repo.update(func(t *tables) error {
		if _, ok := t.batches[sem.BatchID]; !ok {
			return academics.ErrInvalidReference
		}
		for _, s := range t.semesters {
			if s.BatchID == sem.BatchID && s.Number == sem.Number {
				return academics.ErrConflict
			}
		}
		sem.ID = t.nextID("semesters")
		t.semesters[sem.ID] = sem
		return nil
	})
	return sem, err
}

func (repo *academicsRepository) QuerySemesters(ctx context.Context, batchID int) ([]academics.Semester, error) {
	sems := make([]academics.Semester, 0)
	err := repo.view(func(t *tables) error {
		for _, s := range t.semesters {
			if s.BatchID == batchID {
				sems = append(sems, s)
			}
		}
		return nil
	})
	sort.Slice(sems, func(i, j int) bool { return sems[i].Number < sems[j].Number })
	return sems, err
}

// Subjects

func (repo *academicsRepository) GetSubjectByID(ctx context.Context, id int) (academics.Subject, error) {
	var subj academics.Subject
	err := repo.view(func(t *tables) error {
		s, ok := t.subjects[id]
		if !ok {
			return academics.ErrSubjectNotFound
		}
		subj = s
		return nil
	})
	return subj, err
}

func (repo *academicsRepository) findSubject(match func(s academics.Subject) bool) (academics.Subject, error) {
	var subj academics.Subject
	err := repo.view(func(t *tables) error {
		for _, s := range t.subjects {
			if match(s) {
				subj = s
				return nil
			}
		}
		return academics.ErrSubjectNotFound
	})
	return subj, err
}

func (repo *academicsRepository) GetSubjectByName(ctx context.Context, name string) (academics.Subject, error) {
	return repo.findSubject(func(s academics.Subject) bool { return s.Name == name })
}

func (repo *academicsRepository) GetSubjectByCode(ctx context.Context, code string) (academics.Subject, error) {
	return repo.findSubject(func(s academics.Subject) bool { return s.Code == code })
}

func checkSubjectUniqueness(t *tables, subj academics.Subject) error {
	for _, s := range t.subjects {
		if s.ID != subj.ID && (s.Name == subj.Name || s.Code == subj.Code) {
			return academics.ErrConflict
		}
	}
	return nil
}

func (repo *academicsRepository) CreateSubject(ctx context.Context, subj academics.Subject) (academics.Subject, error) {
	err := repo.update(func(t *tables) error {
		if err := checkSubjectUniqueness(t, subj); err != nil {
			return err
		}
		subj.ID = t.nextID("subjects")
		t.subjects[subj.ID] = subj
		return nil
	})
	return subj, err
}

func (repo *academicsRepository) UpdateSubject(ctx context.Context, subj academics.Subject) (academics.Subject, error) {
	err := repo.update(func(t *tables) error {
		if _, ok := t.subjects[subj.ID]; !ok {
			return academics.ErrSubjectNotFound
		}
		if err := checkSubjectUniqueness(t, subj); err != nil {
			return err
		}
		t.subjects[subj.ID] = subj
		return nil
	})
	return subj, err
}

func (repo *academicsRepository) QuerySubjects(ctx context.Context) ([]academics.Subject, error) {
	subjects := make([]academics.Subject, 0)
	err := repo.view(func(t *tables) error {
		for _, s := range t.subjects {
			subjects = append(subjects, s)
		}
		return nil
	})
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].Name < subjects[j].Name })
	return subjects, err
}

func (repo *academicsRepository) DeleteSubject(ctx context.Context, id int) error {
	return repo.update(func(t *tables) error {
		if _, ok := t.subjects[id]; !ok {
			return academics.ErrSubjectNotFound
		}
		for bsID, bs := range t.batchSubjects {
			if bs.SubjectID == id {
				delete(t.batchSubjects, bsID)
			}
		}
		deleteMarks(t, func(m academics.Mark) bool { return m.SubjectID == id })
		delete(t.subjects, id)
		return nil
	})
}

// Batch subjects

func joinBatchSubject(t *tables, bs academics.BatchSubject) academics.BatchSubject {
	subj := t.subjects[bs.SubjectID]
	bs.SubjectName = subj.Name
	bs.SubjectCode = subj.Code
	bs.SemesterNumber = null.Int{}
	if bs.SemesterID.Valid {
		bs.SemesterNumber = null.IntFrom(t.semesters[bs.SemesterID.Int].Number)
	}
	return bs
}

func sameBatchSubject(a, b academics.BatchSubject) bool {
	return a.BatchID == b.BatchID && a.SubjectID == b.SubjectID &&
		a.SemesterID.Valid == b.SemesterID.Valid && (!a.SemesterID.Valid || a.SemesterID.Int == b.SemesterID.Int)
}

func (repo *academicsRepository) GetBatchSubjectByID(ctx context.Context, id int) (academics.BatchSubject, error) {
	var bs academics.BatchSubject
	err := repo.view(func(t *tables) error {
		found, ok := t.batchSubjects[id]
		if !ok {
			return academics.ErrBatchSubjectNotFound
		}
		bs = joinBatchSubject(t, found)
		return nil
	})
	return bs, err
}

func (repo *academicsRepository) FindBatchSubject(ctx context.Context, bs academics.BatchSubject) (academics.BatchSubject, error) {
	var found academics.BatchSubject
	err := repo.view(func(t *tables) error {
		for _, b := range t.batchSubjects {
			if sameBatchSubject(b, bs) {
				found = joinBatchSubject(t, b)
				return nil
			}
		}
		return academics.ErrBatchSubjectNotFound
	})
	return found, err
}

func (repo *academicsRepository) CreateBatchSubject(ctx context.Context, bs academics.BatchSubject) (academics.BatchSubject, error) {
	bs.SubjectName, bs.SubjectCode, bs.SemesterNumber = "", "", null.Int{}
	err := repo.update(func(t *tables) error {
		_, batchOK := t.batches[bs.BatchID]
		_, subjOK := t.subjects[bs.SubjectID]
		semOK := true
		if bs.SemesterID.Valid {
			_, semOK = t.semesters[bs.SemesterID.Int]
		}
		if !batchOK || !subjOK || !semOK {
			return academics.ErrInvalidReference
		}
		for _, b := range t.batchSubjects {
			if sameBatchSubject(b, bs) {
				return academics.ErrConflict
			}
		}
		bs.ID = t.nextID("batch_subjects")
		t.batchSubjects[bs.ID] = bs
		return nil
	})
	return bs, err
}

func (repo *academicsRepository) QueryBatchSubjects(ctx context.Context, filter academics.BatchSubjectFilter) ([]academics.BatchSubject, error) {
	mappings := make([]academics.BatchSubject, 0)
	err := repo.view(func(t *tables) error {
		for _, bs := range t.batchSubjects {
			if filter.BatchID != 0 && bs.BatchID != filter.BatchID {
				continue
			}
			if filter.SemesterID != 0 && bs.SemesterID.Valid && bs.SemesterID.Int != filter.SemesterID {
				continue
			}
			mappings = append(mappings, joinBatchSubject(t, bs))
		}
		return nil
	})
	sort.Slice(mappings, func(i, j int) bool {
		a, b := mappings[i], mappings[j]
		if a.BatchID != b.BatchID {
			return a.BatchID < b.BatchID
		}
		if a.SemesterNumber.Int != b.SemesterNumber.Int || a.SemesterNumber.Valid != b.SemesterNumber.Valid {
			return !a.SemesterNumber.Valid || (b.SemesterNumber.Valid && a.SemesterNumber.Int < b.SemesterNumber.Int)
		}
		return a.SubjectName < b.SubjectName
	})
	return mappings, err
}

func (repo *academicsRepository) DeleteBatchSubject(ctx context.Context, id int) error {
	return repo.update(func(t *tables) error {
		if _, ok := t.batchSubjects[id]; !ok {
			return academics.ErrBatchSubjectNotFound
		}
		delete(t.batchSubjects, id)
		return nil
	})
}

// Students

func joinStudent(t *tables, st academics.Student) academics.Student {
	st.BatchYear = t.batches[st.BatchID].Year
	return st
}

func (repo *academicsRepository) findStudent(match func(st academics.Student) bool) (academics.Student, error) {
	var student academics.Student
	err := repo.view(func(t *tables) error {
		for _, st := range t.students {
			if match(st) {
				student = joinStudent(t, st)
				return nil
			}
		}
		return academics.ErrStudentNotFound
	})
	return student, err
}

func (repo *academicsRepository) GetStudentByID(ctx context.Context, id int) (academics.Student, error) {
	return repo.findStudent(func(st academics.Student) bool { return st.ID == id })
}

func (repo *academicsRepository) GetStudentByRegisterNo(ctx context.Context, registerNo string) (academics.Student, error) {
	return repo.findStudent(func(st academics.Student) bool { return st.RegisterNo == registerNo })
}

func (repo *academicsRepository) GetStudentByEmail(ctx context.Context, email string) (academics.Student, error) {
	return repo.findStudent(func(st academics.Student) bool { return st.Email == email })
}

func checkStudent(t *tables, st academics.Student) error {
	if _, ok := t.batches[st.BatchID]; !ok {
		return academics.ErrInvalidReference
	}
	for _, s := range t.students {
		if s.ID != st.ID && (s.RegisterNo == st.RegisterNo || s.Email == st.Email) {
			return academics.ErrConflict
		}
	}
	return nil
}

func (repo *academicsRepository) CreateStudent(ctx context.Context, st academics.Student) (academics.Student, error) {
	st.BatchYear = ""
	err := repo.update(func(t *tables) error {
		if err := checkStudent(t, st); err != nil {
			return err
		}
		st.ID = t.nextID("students")
		t.students[st.ID] = st
		return nil
	})
	return st, err
}

func (repo *academicsRepository) UpdateStudent(ctx context.Context, st academics.Student) (academics.Student, error) {
	st.BatchYear = ""
	err := repo.update(func(t *tables) error {
		if _, ok := t.students[st.ID]; !ok {
			return academics.ErrStudentNotFound
		}
		if err := checkStudent(t, st); err != nil {
			return err
		}
		t.students[st.ID] = st
		return nil
	})
	return st, err
}

func lessStudents(a, b academics.Student, orderings []core.DBOrdering) bool {
	for _, ord := range orderings {
		var cmp int
		switch ord.Field {
		case "register_no":
			cmp = strings.Compare(a.RegisterNo, b.RegisterNo)
		case "name":
			cmp = strings.Compare(a.Name, b.Name)
		case "email":
			cmp = strings.Compare(a.Email, b.Email)
		case "created_at":
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if cmp != 0 {
			return (cmp < 0) == ord.Ascending
		}
	}
	return a.ID < b.ID
}

func (repo *academicsRepository) QueryStudents(ctx context.Context, filter academics.StudentFilter, orderings ...core.DBOrdering) ([]academics.Student, error) {
	students := make([]academics.Student, 0)
	err := repo.view(func(t *tables) error {
		for _, st := range t.students {
			st = joinStudent(t, st)
			if filter.BatchID != 0 && st.BatchID != filter.BatchID {
				continue
			}
			if filter.BatchYear != "" && st.BatchYear != filter.BatchYear {
				continue
			}
			if filter.IsActive != nil && st.IsActive != *filter.IsActive {
				continue
			}
			if !filter.CreatedSince.IsZero() && st.CreatedAt.Before(filter.CreatedSince) {
				continue
			}
			if filter.Search != "" &&
				!strings.Contains(strings.ToLower(st.Name), filter.Search) &&
				!strings.Contains(strings.ToLower(st.RegisterNo), filter.Search) &&
				!strings.Contains(strings.ToLower(st.Email), filter.Search) {
				continue
			}
			students = append(students, st)
		}
		return nil
	})
	sort.Slice(students, func(i, j int) bool { return lessStudents(students[i], students[j], orderings) })
	return students, err
}

func (repo *academicsRepository) DeleteStudent(ctx context.Context, id int) error {
	return repo.update(func(t *tables) error {
		if _, ok := t.students[id]; !ok {
			return academics.ErrStudentNotFound
		}
		deleteMarks(t, func(m academics.Mark) bool { return m.StudentID == id })
		delete(t.students, id)
		return nil
	})
}

// Marks

func joinMark(t *tables, m academics.Mark) academics.Mark {
	subj := t.subjects[m.SubjectID]
	m.SubjectName = subj.Name
	m.SubjectCode = subj.Code
	m.SemesterNumber = t.semesters[m.SemesterID].Number
	return m
}

func deleteMarks(t *tables, match func(m academics.Mark) bool) {
	for id, m := range t.marks {
		if match(m) {
			delete(t.marks, id)
		}
	}
}

func (repo *academicsRepository) GetMarkByID(ctx context.Context, id int) (academics.Mark, error) {
	var mark academics.Mark
	err := repo.view(func(t *tables) error {
		m, ok := t.marks[id]
		if !ok {
			return academics.ErrMarkNotFound
		}
		mark = joinMark(t, m)
		return nil
	})
	return mark, err
}

func (repo *academicsRepository) GetMark(ctx context.Context, key academics.MarkKey) (academics.Mark, error) {
	var mark academics.Mark
	err := repo.view(func(t *tables) error {
		for _, m := range t.marks {
			if m.Key() == key {
				mark = joinMark(t, m)
				return nil
			}
		}
		return academics.ErrMarkNotFound
	})
	return mark, err
}

func checkMark(t *tables, mark academics.Mark) error {
	_, stOK := t.students[mark.StudentID]
	_, subjOK := t.subjects[mark.SubjectID]
	_, semOK := t.semesters[mark.SemesterID]
	if !stOK || !subjOK || !semOK {
		return academics.ErrInvalidReference
	}
	for _, m := range t.marks {
		if m.ID != mark.ID && m.Key() == mark.Key() {
			return academics.ErrConflict
		}
	}
	return nil
}

func stripMark(m academics.Mark) academics.Mark {
	m.SubjectName, m.SubjectCode, m.SemesterNumber = "", "", 0
	return m
}

func (repo *academicsRepository) CreateMark(ctx context.Context, mark academics.Mark) (academics.Mark, error) {
	mark = stripMark(mark)
	err := repo.update(func(t *tables) error {
		if err := checkMark(t, mark); err != nil {
			return err
		}
		mark.ID = t.nextID("marks")
		t.marks[mark.ID] = mark
		return nil
	})
	return mark, err
}

func (repo *academicsRepository) UpdateMark(ctx context.Context, mark academics.Mark) (academics.Mark, error) {
	mark = stripMark(mark)
	err := repo.update(func(t *tables) error {
		if _, ok := t.marks[mark.ID]; !ok {
			return academics.ErrMarkNotFound
		}
		if err := checkMark(t, mark); err != nil {
			return err
		}
		t.marks[mark.ID] = mark
		return nil
	})
	return mark, err
}

func (repo *academicsRepository) QueryMarks(ctx context.Context, filter academics.MarkFilter) ([]academics.Mark, error) {
	studentIDs := make(map[int]bool, len(filter.StudentIDs))
	for _, id := range filter.StudentIDs {
		studentIDs[id] = true
	}

	marks := make([]academics.Mark, 0)
	err := repo.view(func(t *tables) error {
		for _, m := range t.marks {
			if len(studentIDs) > 0 && !studentIDs[m.StudentID] {
				continue
			}
			if filter.BatchID != 0 && t.students[m.StudentID].BatchID != filter.BatchID {
				continue
			}
			if filter.SemesterID != 0 && m.SemesterID != filter.SemesterID {
				continue
			}
			if filter.SubjectID != 0 && m.SubjectID != filter.SubjectID {
				continue
			}
			marks = append(marks, joinMark(t, m))
		}
		return nil
	})
	sort.Slice(marks, func(i, j int) bool {
		a, b := marks[i], marks[j]
		if a.SemesterNumber != b.SemesterNumber {
			return a.SemesterNumber < b.SemesterNumber
		}
		if a.SubjectName != b.SubjectName {
			return a.SubjectName < b.SubjectName
		}
		return a.ID < b.ID
	})
	return marks, err
}

func (repo *academicsRepository) DeleteMark(ctx context.Context, id int) error {
	return repo.update(func(t *tables) error {
		if _, ok := t.marks[id]; !ok {
			return academics.ErrMarkNotFound
		}
		delete(t.marks, id)
		return nil
	})
}

// Upload logs

func (repo *academicsRepository) CreateUploadLog(ctx context.Context, log academics.UploadLog) (academics.UploadLog, error) {
	err := repo.update(func(t *tables) error {
		if _, ok := t.users[log.AdminID]; !ok {
			return academics.ErrInvalidReference
		}
		log.ID = t.nextID("csv_upload_logs")
		t.uploadLogs[log.ID] = log
		return nil
	})
	return log, err
}

func (repo *academicsRepository) QueryUploadLogs(ctx context.Context, adminID, limit int) ([]academics.UploadLog, error) {
	logs := make([]academics.UploadLog, 0)
	err := repo.view(func(t *tables) error {
		for _, l := range t.uploadLogs {
			if l.AdminID == adminID {
				logs = append(logs, l)
			}
		}
		return nil
	})
	sort.Slice(logs, func(i, j int) bool {
		if !logs[i].CreatedAt.Equal(logs[j].CreatedAt) {
			return logs[i].CreatedAt.After(logs[j].CreatedAt)
		}
		return logs[i].ID > logs[j].ID
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, err
}

func (repo *academicsRepository) DeleteUploadLog(ctx context.Context, id int) error {
	return repo.update(func(t *tables) error {
		if _, ok := t.uploadLogs[id]; !ok {
			return academics.ErrUploadNotFound
		}
		delete(t.uploadLogs, id)
		return nil
	})
}
