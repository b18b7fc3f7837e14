package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
)

const (
	batchColumns    = "id, batch_year, created_at"
	semesterColumns = "id, batch_id, semester_number, academic_year"
	subjectColumns  = "id, name, code"

	batchSubjectSelect = `SELECT bs.id, bs.batch_id, bs.semester_id, bs.subject_id,
		sub.name AS subject_name, sub.code AS subject_code, sem.semester_number
		FROM batch_subjects bs
		JOIN subjects sub ON sub.id = bs.subject_id
		LEFT JOIN semesters sem ON sem.id = bs.semester_id`

	studentSelect = `SELECT st.id, st.register_no, st.name, st.email, st.date_of_birth, st.batch_id,
		st.is_active, st.created_at, st.updated_at, b.batch_year
		FROM students st
		JOIN batches b ON b.id = st.batch_id`

	markSelect = `SELECT m.id, m.student_id, m.subject_id, m.semester_id, m.ca1, m.ca2, m.ca3,
		m.semester_marks, m.sem_grade, m.sem_published, m.created_at, m.updated_at,
		sub.name AS subject_name, sub.code AS subject_code, sem.semester_number
		FROM marks m
		JOIN subjects sub ON sub.id = m.subject_id
		JOIN semesters sem ON sem.id = m.semester_id`

	uploadLogColumns = "id, admin_id, filename, total_rows, uploaded_records, error_count, success, error_message, started_at, created_at"
)

type academicsRepository struct {
	db core.DBExecutor
}

// AcademicsStore is the PostgreSQL academics.Store.
type AcademicsStore struct {
	*academicsRepository
	db core.DB
}

func NewAcademicsStore(db core.DB) *AcademicsStore {
	return &AcademicsStore{academicsRepository: &academicsRepository{db: db}, db: db}
}

func (s *AcademicsStore) Begin(ctx context.Context) (academics.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &academicsTx{academicsRepository: &academicsRepository{db: tx}, tx: tx}, nil
}

type academicsTx struct {
	*academicsRepository
	tx *sqlx.Tx
}

func (t *academicsTx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

func (t *academicsTx) RollbackTo(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

func (t *academicsTx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

func (t *academicsTx) Commit() error {
	return t.tx.Commit()
}

func (t *academicsTx) Rollback() error {
	return t.tx.Rollback()
}

func (repo *academicsRepository) get(ctx context.Context, dest interface{}, notFound error, q string, args ...interface{}) error {
	return dbError(repo.db.GetContext(ctx, dest, q, args...), notFound, nil, nil)
}

// insert runs an INSERT ... RETURNING id statement.
func (repo *academicsRepository) insert(ctx context.Context, id *int, q string, args ...interface{}) error {
	err := repo.db.QueryRowxContext(ctx, q, args...).Scan(id)
	return dbError(err, academics.ErrConflict, academics.ErrConflict, academics.ErrInvalidReference)
}

func (repo *academicsRepository) exec(ctx context.Context, notFound error, q string, args ...interface{}) error {
	res, err := repo.db.ExecContext(ctx, q, args...)
	if err != nil {
		return dbError(err, nil, academics.ErrConflict, academics.ErrInvalidReference)
	}
	return checkAffected(res, notFound)
}

// Batches

func (repo *academicsRepository) GetBatchByID(ctx context.Context, id int) (academics.Batch, error) {
	var batch academics.Batch
	err := repo.get(ctx, &batch, academics.ErrBatchNotFound, "SELECT "+batchColumns+" FROM batches WHERE id = $1", id)
	return batch, err
}

func (repo *academicsRepository) GetBatchByYear(ctx context.Context, year string) (academics.Batch, error) {
	var batch academics.Batch
	err := repo.get(ctx, &batch, academics.ErrBatchNotFound, "SELECT "+batchColumns+" FROM batches WHERE batch_year = $1", year)
	return batch, err
}

func (repo *academicsRepository) CreateBatch(ctx context.Context, batch academics.Batch) (academics.Batch, error) {
	err := repo.insert(ctx, &batch.ID, "INSERT INTO batches (batch_year, created_at) VALUES ($1, $2) RETURNING id",
		batch.Year, batch.CreatedAt)
	return batch, err
}

func (repo *academicsRepository) QueryBatches(ctx context.Context) ([]academics.Batch, error) {
	batches := make([]academics.Batch, 0)
	err := repo.db.SelectContext(ctx, &batches, "SELECT "+batchColumns+" FROM batches ORDER BY batch_year DESC")
	return batches, err
}

func (repo *academicsRepository) CountStudentsByBatch(ctx context.Context) (map[int]int, error) {
	var rows []struct {
		BatchID int `db:"batch_id"`
		Count   int `db:"count"`
	}
	if err := repo.db.SelectContext(ctx, &rows, "SELECT batch_id, COUNT(*) AS count FROM students GROUP BY batch_id"); err != nil {
		return nil, err
	}
	counts := make(map[int]int, len(rows))
	for _, r := range rows {
		counts[r.BatchID] = r.Count
	}
	return counts, nil
}

func (repo *academicsRepository) DeleteBatch(ctx context.Context, id int) error {
	return repo.exec(ctx, academics.ErrBatchNotFound, "DELETE FROM batches WHERE id = $1", id)
}

// Semesters

func (repo *academicsRepository) GetSemesterByID(ctx context.Context, id int) (academics.Semester, error) {
	var sem academics.Semester
	err := repo.get(ctx, &sem, academics.ErrSemesterNotFound, "SELECT "+semesterColumns+" FROM semesters WHERE id = $1", id)
	return sem, err
}

func (repo *academicsRepository) GetSemester(ctx context.Context, batchID, number int) (academics.Semester, error) {
	var sem academics.Semester
	err := repo.get(ctx, &sem, academics.ErrSemesterNotFound,
		"SELECT "+semesterColumns+" FROM semesters WHERE batch_id = $1 AND semester_number = $2", batchID, number)
	return sem, err
}

func (repo *academicsRepository) CreateSemester(ctx context.Context, sem academics.Semester) (academics.Semester, error) {
	err := repo.insert(ctx, &sem.ID,
		"INSERT INTO semesters (batch_id, semester_number, academic_year) VALUES ($1, $2, $3) RETURNING id",
		sem.BatchID, sem.Number, sem.AcademicYear)
	return sem, err
}

func (repo *academicsRepository) QuerySemesters(ctx context.Context, batchID int) ([]academics.Semester, error) {
	sems := make([]academics.Semester, 0)
	err := repo.db.SelectContext(ctx, &sems,
		"SELECT "+semesterColumns+" FROM semesters WHERE batch_id = $1 ORDER BY semester_number", batchID)
	return sems, err
}

// Subjects

func (repo *academicsRepository) GetSubjectByID(ctx context.Context, id int) (academics.Subject, error) {
	var subj academics.Subject
	err := repo.get(ctx, &subj, academics.ErrSubjectNotFound, "SELECT "+subjectColumns+" FROM subjects WHERE id = $1", id)
	return subj, err
}

func (repo *academicsRepository) GetSubjectByName(ctx context.Context, name string) (academics.Subject, error) {
	var subj academics.Subject
	err := repo.get(ctx, &subj, academics.ErrSubjectNotFound, "SELECT "+subjectColumns+" FROM subjects WHERE name = $1", name)
	return subj, err
}

func (repo *academicsRepository) GetSubjectByCode(ctx context.Context, code string) (academics.Subject, error) {
	var subj academics.Subject
	err := repo.get(ctx, &subj, academics.ErrSubjectNotFound, "SELECT "+subjectColumns+" FROM subjects WHERE code = $1", code)
	return subj, err
}

func (repo *academicsRepository) CreateSubject(ctx context.Context, subj academics.Subject) (academics.Subject, error) {
	err := repo.insert(ctx, &subj.ID, "INSERT INTO subjects (name, code) VALUES ($1, $2) RETURNING id", subj.Name, subj.Code)
	return subj, err
}

func (repo *academicsRepository) UpdateSubject(ctx context.Context, subj academics.Subject) (academics.Subject, error) {
	err := repo.exec(ctx, academics.ErrSubjectNotFound, "UPDATE subjects SET name = $1, code = $2 WHERE id = $3",
		subj.Name, subj.Code, subj.ID)
	return subj, err
}

func (repo *academicsRepository) QuerySubjects(ctx context.Context) ([]academics.Subject, error) {
	subjects := make([]academics.Subject, 0)
	err := repo.db.SelectContext(ctx, &subjects, "SELECT "+subjectColumns+" FROM subjects ORDER BY name")
	return subjects, err
}

func (repo *academicsRepository) DeleteSubject(ctx context.Context, id int) error {
	return repo.exec(ctx, academics.ErrSubjectNotFound, "DELETE FROM subjects WHERE id = $1", id)
}

// Batch subjects

func (repo *academicsRepository) GetBatchSubjectByID(ctx context.Context, id int) (academics.BatchSubject, error) {
	var bs academics.BatchSubject
	err := repo.get(ctx, &bs, academics.ErrBatchSubjectNotFound, batchSubjectSelect+" WHERE bs.id = $1", id)
	return bs, err
}

func (repo *academicsRepository) FindBatchSubject(ctx context.Context, bs academics.BatchSubject) (academics.BatchSubject, error) {
	var found academics.BatchSubject
	err := repo.get(ctx, &found, academics.ErrBatchSubjectNotFound,
		batchSubjectSelect+" WHERE bs.batch_id = $1 AND bs.subject_id = $2 AND bs.semester_id IS NOT DISTINCT FROM $3",
		bs.BatchID, bs.SubjectID, bs.SemesterID)
	return found, err
}

func (repo *academicsRepository) CreateBatchSubject(ctx context.Context, bs academics.BatchSubject) (academics.BatchSubject, error) {
	err := repo.insert(ctx, &bs.ID,
		"INSERT INTO batch_subjects (batch_id, semester_id, subject_id) VALUES ($1, $2, $3) RETURNING id",
		bs.BatchID, bs.SemesterID, bs.SubjectID)
	return bs, err
}

func (repo *academicsRepository) QueryBatchSubjects(ctx context.Context, filter academics.BatchSubjectFilter) ([]academics.BatchSubject, error) {
	var w where
	if filter.BatchID != 0 {
		w.add("bs.batch_id = ?", filter.BatchID)
	}
	if filter.SemesterID != 0 {
		w.add("(bs.semester_id = ? OR bs.semester_id IS NULL)", filter.SemesterID)
	}
	q := batchSubjectSelect + w.String() + " ORDER BY bs.batch_id, sem.semester_number NULLS FIRST, sub.name"

	mappings := make([]academics.BatchSubject, 0)
	err := repo.db.SelectContext(ctx, &mappings, q, w.args...)
	return mappings, err
}

func (repo *academicsRepository) DeleteBatchSubject(ctx context.Context, id int) error {
	return repo.exec(ctx, academics.ErrBatchSubjectNotFound, "DELETE FROM batch_subjects WHERE id = $1", id)
}

// Students

func (repo *academicsRepository) GetStudentByID(ctx context.Context, id int) (academics.Student, error) {
	var st academics.Student
	err := repo.get(ctx, &st, academics.ErrStudentNotFound, studentSelect+" WHERE st.id = $1", id)
	return st, err
}

func (repo *academicsRepository) GetStudentByRegisterNo(ctx context.Context, registerNo string) (academics.Student, error) {
	var st academics.Student
	err := repo.get(ctx, &st, academics.ErrStudentNotFound, studentSelect+" WHERE st.register_no = $1", registerNo)
	return st, err
}

func (repo *academicsRepository) GetStudentByEmail(ctx context.Context, email string) (academics.Student, error) {
	var st academics.Student
	err := repo.get(ctx, &st, academics.ErrStudentNotFound, studentSelect+" WHERE st.email = $1", email)
	return st, err
}

func (repo *academicsRepository) CreateStudent(ctx context.Context, st academics.Student) (academics.Student, error) {
	err := repo.insert(ctx, &st.ID,
		`INSERT INTO students (register_no, name, email, date_of_birth, batch_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		st.RegisterNo, st.Name, st.Email, st.DateOfBirth, st.BatchID, st.IsActive, st.CreatedAt, st.UpdatedAt)
	return st, err
}

func (repo *academicsRepository) UpdateStudent(ctx context.Context, st academics.Student) (academics.Student, error) {
	err := repo.exec(ctx, academics.ErrStudentNotFound,
		`UPDATE students SET name = $1, email = $2, date_of_birth = $3, batch_id = $4, is_active = $5, updated_at = $6
		WHERE id = $7`,
		st.Name, st.Email, st.DateOfBirth, st.BatchID, st.IsActive, st.UpdatedAt, st.ID)
	return st, err
}

func (repo *academicsRepository) QueryStudents(ctx context.Context, filter academics.StudentFilter, orderings ...core.DBOrdering) ([]academics.Student, error) {
	var w where
	if filter.BatchID != 0 {
		w.add("st.batch_id = ?", filter.BatchID)
	}
	if filter.BatchYear != "" {
		w.add("b.batch_year = ?", filter.BatchYear)
	}
	if filter.IsActive != nil {
		w.add("st.is_active = ?", *filter.IsActive)
	}
	if !filter.CreatedSince.IsZero() {
		w.add("st.created_at >= ?", filter.CreatedSince)
	}
	if filter.Search != "" {
		w.add("(LOWER(st.name) LIKE ? OR LOWER(st.register_no) LIKE ? OR LOWER(st.email) LIKE ?)", "%"+filter.Search+"%")
	}
	order := orderBy(orderings, "st.")
	if order == "" {
		order = " ORDER BY st.id"
	}

	students := make([]academics.Student, 0)
	err := repo.db.SelectContext(ctx, &students, studentSelect+w.String()+order, w.args...)
	return students, err
}

func (repo *academicsRepository) DeleteStudent(ctx context.Context, id int) error {
	return repo.exec(ctx, academics.ErrStudentNotFound, "DELETE FROM students WHERE id = $1", id)
}

// Marks

func (repo *academicsRepository) GetMarkByID(ctx context.Context, id int) (academics.Mark, error) {
	var m academics.Mark
	err := repo.get(ctx, &m, academics.ErrMarkNotFound, markSelect+" WHERE m.id = $1", id)
	return m, err
}

func (repo *academicsRepository) GetMark(ctx context.Context, key academics.MarkKey) (academics.Mark, error) {
	var m academics.Mark
	err := repo.get(ctx, &m, academics.ErrMarkNotFound,
		markSelect+" WHERE m.student_id = $1 AND m.subject_id = $2 AND m.semester_id = $3",
		key.StudentID, key.SubjectID, key.SemesterID)
	return m, err
}

// CreateMark does not abort the current transaction when the mark already exists: no row is returned instead,
// which is reported as academics.ErrConflict.
func (repo *academicsRepository) CreateMark(ctx context.Context, m academics.Mark) (academics.Mark, error) {
	err := repo.insert(ctx, &m.ID,
		`INSERT INTO marks (student_id, subject_id, semester_id, ca1, ca2, ca3, semester_marks, sem_grade, sem_published,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (student_id, subject_id, semester_id) DO NOTHING
		RETURNING id`,
		m.StudentID, m.SubjectID, m.SemesterID, m.CA1, m.CA2, m.CA3, m.SemesterMarks, m.SemGrade, m.SemPublished,
		m.CreatedAt, m.UpdatedAt)
	return m, err
}

func (repo *academicsRepository) UpdateMark(ctx context.Context, m academics.Mark) (academics.Mark, error) {
	err := repo.exec(ctx, academics.ErrMarkNotFound,
		`UPDATE marks SET student_id = $1, subject_id = $2, semester_id = $3, ca1 = $4, ca2 = $5, ca3 = $6,
			semester_marks = $7, sem_grade = $8, sem_published = $9, updated_at = $10
		WHERE id = $11`,
		m.StudentID, m.SubjectID, m.SemesterID, m.CA1, m.CA2, m.CA3, m.SemesterMarks, m.SemGrade, m.SemPublished,
		m.UpdatedAt, m.ID)
	return m, err
}

func (repo *academicsRepository) QueryMarks(ctx context.Context, filter academics.MarkFilter) ([]academics.Mark, error) {
	var w where
	if len(filter.StudentIDs) > 0 {
		w.add("m.student_id = ANY(?)", pq.Array(filter.StudentIDs))
	}
	if filter.BatchID != 0 {
		w.add("m.student_id IN (SELECT id FROM students WHERE batch_id = ?)", filter.BatchID)
	}
	if filter.SemesterID != 0 {
		w.add("m.semester_id = ?", filter.SemesterID)
	}
	if filter.SubjectID != 0 {
		w.add("m.subject_id = ?", filter.SubjectID)
	}

	marks := make([]academics.Mark, 0)
	err := repo.db.SelectContext(ctx, &marks, markSelect+w.String()+" ORDER BY sem.semester_number, sub.name, m.id", w.args...)
	return marks, errors.Wrap(err, "selecting marks")
}

func (repo *academicsRepository) DeleteMark(ctx context.Context, id int) error {
	return repo.exec(ctx, academics.ErrMarkNotFound, "DELETE FROM marks WHERE id = $1", id)
}

// Upload logs

func (repo *academicsRepository) CreateUploadLog(ctx context.Context, log academics.UploadLog) (academics.UploadLog, error) {
	err := repo.insert(ctx, &log.ID,
		`INSERT INTO csv_upload_logs (admin_id, filename, total_rows, uploaded_records, error_count, success, error_message,
			started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		log.AdminID, log.Filename, log.TotalRows, log.UploadedRecords, log.ErrorCount, log.Success, log.ErrorMessage,
		log.StartedAt, log.CreatedAt)
	return log, err
}

func (repo *academicsRepository) QueryUploadLogs(ctx context.Context, adminID, limit int) ([]academics.UploadLog, error) {
	logs := make([]academics.UploadLog, 0)
	err := repo.db.SelectContext(ctx, &logs,
		"SELECT "+uploadLogColumns+" FROM csv_upload_logs WHERE admin_id = $1 ORDER BY created_at DESC, id DESC LIMIT NULLIF($2, 0)",
		adminID, max(limit, 0))
	return logs, err
}

func (repo *academicsRepository) DeleteUploadLog(ctx context.Context, id int) error {
	return repo.exec(ctx, academics.ErrUploadNotFound, "DELETE FROM csv_upload_logs WHERE id = $1", id)
}
