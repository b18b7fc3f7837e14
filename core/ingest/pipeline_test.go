package ingest_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/ingest"
	"github.com/trezcool/eduanalytics/core/user"
	emailsvc "github.com/trezcool/eduanalytics/services/email"
	inmemdb "github.com/trezcool/eduanalytics/storage/database/inmem"
	testutil "github.com/trezcool/eduanalytics/tests"
)

const header = "Register_No,Student_Name,Email,Batch_Year,Semester,Subject_Name,CA1,CA2,CA3,Semester_Marks,SEM_Grade,Date_of_Birth\n"

type fixture struct {
	db       *inmemdb.DB
	store    *inmemdb.AcademicsStore
	pipeline *ingest.Pipeline
	admin    user.User
}

func setup(t *testing.T, withMailer ...bool) fixture {
	db := inmemdb.New()
	store := inmemdb.NewAcademicsStore(db)
	validate, translator := testutil.NewValidator()
	logger := testutil.NewLogger()

	var mailer core.EmailService
	if len(withMailer) > 0 && withMailer[0] {
		conf := core.NewTestConfig()
		core.ParseEmailTemplates(conf, logger)
		mailer = emailsvc.NewConsoleServiceMock(conf, logger)
		emailsvc.ClearSentMessages()
	}

	admin := testutil.CreateUser(t, inmemdb.NewUserRepository(db), "Admin", "admin@test.edu", "", user.RoleAdmin, true)
	return fixture{
		db:       db,
		store:    store,
		pipeline: ingest.NewPipeline(store, validate, translator, mailer, logger),
		admin:    admin,
	}
}

func (f fixture) ingest(t *testing.T, content string) (ingest.Result, error) {
	return f.pipeline.Ingest(context.Background(), ingest.Request{
		Filename: "marks.csv",
		Admin:    f.admin,
		Reader:   strings.NewReader(content),
	})
}

type counts struct {
	batches, semesters, subjects, batchSubjects, students, marks int
}

func (f fixture) counts(t *testing.T) counts {
	ctx := context.Background()
	var c counts

	batches, err := f.store.QueryBatches(ctx)
	require.NoError(t, err)
	c.batches = len(batches)
	for _, b := range batches {
		sems, err := f.store.QuerySemesters(ctx, b.ID)
		require.NoError(t, err)
		c.semesters += len(sems)
	}
	subjects, err := f.store.QuerySubjects(ctx)
	require.NoError(t, err)
	c.subjects = len(subjects)
	mappings, err := f.store.QueryBatchSubjects(ctx, academics.BatchSubjectFilter{})
	require.NoError(t, err)
	c.batchSubjects = len(mappings)
	students, err := f.store.QueryStudents(ctx, academics.StudentFilter{})
	require.NoError(t, err)
	c.students = len(students)
	marks, err := f.store.QueryMarks(ctx, academics.MarkFilter{})
	require.NoError(t, err)
	c.marks = len(marks)
	return c
}

func markRow(i int, subject string) string {
	return fmt.Sprintf("21CS%03d,Student %d,student%d@test.edu,2021,1,%s,40,45,50,72,,15-03-2003\n", i, i, i, subject)
}

func TestPipeline_Ingest_partialFailure(t *testing.T) {
	f := setup(t)

	var b strings.Builder
	b.WriteString(header)
	for i := 1; i <= 10; i++ {
		switch i {
		case 3:
			b.WriteString("21CS003,Student 3,student3@test.edu,2021,1,Mathematics,40,45,50,72,,2003-03-15\n")
		case 8:
			b.WriteString("21CS008,Student 8,student8@test.edu,2021,1,Mathematics,40,45,50,72,Z,15-03-2003\n")
		default:
			b.WriteString(markRow(i, "Mathematics"))
		}
	}

	res, err := f.ingest(t, b.String())
	require.NoError(t, err)
	assert.Equal(t, 10, res.TotalRows)
	assert.Equal(t, 8, res.SuccessCount)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Equal(t, ingest.StatusSuccess, res.Status)
	assert.False(t, res.Success, "row errors mark the upload as partially failed")
	require.Len(t, res.Errors, 2)
	assert.True(t, strings.HasPrefix(res.Errors[0], "Row 4: "), res.Errors[0])
	assert.True(t, strings.HasPrefix(res.Errors[1], "Row 9: "), res.Errors[1])
	for _, rowErr := range res.RowErrors {
		assert.Equal(t, ingest.RowValidation, rowErr.Kind)
	}

	c := f.counts(t)
	assert.Equal(t, 8, c.students, "rejected rows leave no trace")
	assert.Equal(t, 8, c.marks)

	logs, err := f.store.QueryUploadLogs(context.Background(), f.admin.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, res.UploadLogID.Int, logs[0].ID)
	assert.Equal(t, 10, logs[0].TotalRows)
	assert.Equal(t, 8, logs[0].UploadedRecords)
	assert.Equal(t, 2, logs[0].ErrorCount)
	assert.False(t, logs[0].Success)
	assert.Equal(t, strings.Join(res.Errors, "; "), logs[0].ErrorMessage.String)
}

func TestPipeline_Ingest_idempotent(t *testing.T) {
	f := setup(t)
	content := header +
		markRow(1, "Mathematics") +
		markRow(1, "Physics") +
		markRow(2, "Mathematics")

	first, err := f.ingest(t, content)
	require.NoError(t, err)
	assert.True(t, first.Success)
	before := f.counts(t)
	marksBefore, err := f.store.QueryMarks(context.Background(), academics.MarkFilter{})
	require.NoError(t, err)

	second, err := f.ingest(t, content)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, first.SuccessCount, second.SuccessCount)
	assert.Equal(t, before, f.counts(t))

	marksAfter, err := f.store.QueryMarks(context.Background(), academics.MarkFilter{})
	require.NoError(t, err)
	require.Len(t, marksAfter, len(marksBefore))
	for i := range marksBefore {
		assert.Equal(t, marksBefore[i].ID, marksAfter[i].ID)
		assert.Equal(t, marksBefore[i].Scores(), marksAfter[i].Scores())
	}
}

func TestPipeline_Ingest_hierarchyReuse(t *testing.T) {
	f := setup(t)
	content := header +
		markRow(1, "Mathematics") +
		markRow(1, "Physics") +
		markRow(2, "Mathematics") +
		markRow(2, "Physics")

	res, err := f.ingest(t, content)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SuccessCount)
	assert.Equal(t, counts{batches: 1, semesters: 1, subjects: 2, batchSubjects: 2, students: 2, marks: 4}, f.counts(t))

	subj, err := f.store.GetSubjectByName(context.Background(), "Mathematics")
	require.NoError(t, err)
	assert.Equal(t, "MATHEMATIC", subj.Code)
	batch, err := f.store.GetBatchByYear(context.Background(), "2021")
	require.NoError(t, err)
	sem, err := f.store.GetSemester(context.Background(), batch.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "2021-2022", sem.AcademicYear)
}

func TestPipeline_Ingest_partialUpdate(t *testing.T) {
	f := setup(t)
	_, err := f.ingest(t, header+"21CS001,Alice,alice@test.edu,2021,1,Mathematics,40,45,50,72,A,15-03-2003\n")
	require.NoError(t, err)

	// no CA2/CA3/grade columns: the stored values are kept; CA1 is cleared
	content := "register_no,student_name,email,batch_year,subject_name,date_of_birth,ca1,semester_marks\n" +
		"21CS001,Alice,other@test.edu,2021,Mathematics,15-03-2003,,85\n"
	res, err := f.ingest(t, content)
	require.NoError(t, err)
	require.True(t, res.Success, res.Errors)

	marks, err := f.store.QueryMarks(context.Background(), academics.MarkFilter{})
	require.NoError(t, err)
	require.Len(t, marks, 1)
	m := marks[0]
	assert.False(t, m.CA1.Valid)
	assert.Equal(t, testutil.F(45), m.CA2)
	assert.Equal(t, testutil.F(50), m.CA3)
	assert.Equal(t, testutil.F(85), m.SemesterMarks)
	assert.True(t, m.SemPublished)
	g, ok := m.Grade()
	assert.True(t, ok)
	assert.Equal(t, "A", g.String(), "the explicit grade is authoritative")

	st, err := f.store.GetStudentByRegisterNo(context.Background(), "21CS001")
	require.NoError(t, err)
	assert.Equal(t, "alice@test.edu", st.Email, "an existing student keeps their email")
}

func TestPipeline_Ingest_referentialError(t *testing.T) {
	f := setup(t)
	content := header +
		markRow(1, "Mathematics") +
		"21CS099,Imposter,student1@test.edu,2021,1,Mathematics,40,45,50,72,,15-03-2003\n"

	res, err := f.ingest(t, content)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	require.Len(t, res.RowErrors, 1)
	assert.Equal(t, 3, res.RowErrors[0].Row)
	assert.Equal(t, ingest.Referential, res.RowErrors[0].Kind)
	assert.Contains(t, res.Errors[0], academics.ErrStudentEmailExists.Error())
}

func TestPipeline_Ingest_persistenceFailure(t *testing.T) {
	f := setup(t)
	f.db.FailNextCommit(errors.New("connection reset"))

	res, err := f.ingest(t, header+markRow(1, "Mathematics")+markRow(2, "Physics"))
	require.Error(t, err)
	assert.True(t, ingest.IsPersistenceFailure(err))
	assert.Equal(t, ingest.StatusFailed, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Contains(t, res.Error, "connection reset")
	assert.Empty(t, res.Errors, "the failure is not merged into the row errors")

	assert.Equal(t, counts{}, f.counts(t), "nothing of the file is kept")

	logs, err := f.store.QueryUploadLogs(context.Background(), f.admin.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Equal(t, 0, logs[0].UploadedRecords)
	assert.False(t, logs[0].StartedAt.IsZero())
	assert.Contains(t, logs[0].ErrorMessage.String, "connection reset")
}

func TestPipeline_Ingest_invalidFile(t *testing.T) {
	f := setup(t)

	_, err := f.ingest(t, "register_no,name\n21CS001,Alice\n")
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
	assert.False(t, ingest.IsPersistenceFailure(err))

	logs, err := f.store.QueryUploadLogs(context.Background(), f.admin.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestPipeline_Ingest_report(t *testing.T) {
	f := setup(t, true /* withMailer */)

	_, err := f.ingest(t, header+markRow(1, "Mathematics")+"21CS002,Bob,bob@test.edu,2021,1,Mathematics,x,45,50,72,,15-03-2003\n")
	require.NoError(t, err)

	msgs := emailsvc.SentMessages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	require.Len(t, msg.To, 1)
	assert.Equal(t, f.admin.Email, msg.To[0].Address)
	assert.Contains(t, msg.TextContent, "Failed rows: 1")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "errors.csv", msg.Attachments[0].Filename)
	assert.Equal(t, "ingestion-report", msg.Category)
	assert.NotEmpty(t, msg.Args["run_id"])
	assert.Equal(t, "marks.csv", msg.Args["filename"])
}
