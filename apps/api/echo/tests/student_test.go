package tests

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/grading"
	"github.com/trezcool/eduanalytics/core/user"
	testutil "github.com/trezcool/eduanalytics/tests"
)

type results struct {
	fixture
	b21, b22   academics.Batch
	alice, bob academics.Student
	carol      academics.Student
}

// setupResults stores a batch of two graded students and a second batch without marks.
func setupResults(t *testing.T) results {
	f := setup(t)
	r := results{fixture: f}
	r.b21 = testutil.CreateBatch(t, f.store, "2021")
	r.b22 = testutil.CreateBatch(t, f.store, "2022")
	sem := testutil.CreateSemester(t, f.store, r.b21, 1)
	phy := testutil.CreateSubject(t, f.store, "Physics", "PHY")
	maths := testutil.CreateSubject(t, f.store, "Maths", "MAT")
	r.alice = testutil.CreateStudent(t, f.store, "21CS001", "Alice", "alice@test.edu", r.b21.ID)
	r.bob = testutil.CreateStudent(t, f.store, "21CS002", "Bob", "bob@test.edu", r.b21.ID)
	r.carol = testutil.CreateStudent(t, f.store, "22CS001", "Carol", "carol@test.edu", r.b22.ID)

	testutil.CreateMark(t, f.store, academics.MarkKey{StudentID: r.alice.ID, SubjectID: phy.ID, SemesterID: sem.ID},
		grading.Scores{CA1: testutil.F(40), CA2: testutil.F(50), CA3: testutil.F(60), Semester: testutil.F(92)})
	testutil.CreateMark(t, f.store, academics.MarkKey{StudentID: r.alice.ID, SubjectID: maths.ID, SemesterID: sem.ID},
		grading.Scores{CA1: testutil.F(30), CA2: testutil.F(20)})
	testutil.CreateMark(t, f.store, academics.MarkKey{StudentID: r.bob.ID, SubjectID: phy.ID, SemesterID: sem.ID},
		grading.Scores{CA1: testutil.F(20), CA2: testutil.F(30), Semester: testutil.F(40)})
	return r
}

func (r results) get(t *testing.T, path, token string, dest interface{}) {
	req, rec := newAuthRequest(http.MethodGet, path, token)
	r.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, dest)
}

func Test_studentApi_permissions(t *testing.T) {
	r := setupResults(t)
	admin := testutil.CreateUser(t, r.usrRepo, "Admin", "admin@test.edu", "", user.RoleAdmin, true)
	adminToken := r.userToken(t, admin)

	r.run(t, []httpTest{
		{name: "no token", path: "/v1/student/dashboard", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "staff token", path: "/v1/student/dashboard", token: adminToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "deleted student", path: "/v1/student/profile", token: r.studentToken(t, academics.Student{ID: 99, RegisterNo: "X"}),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: academics.ErrStudentNotFound.Error()}),
		},
		{name: "compare: staff", path: "/v1/compare/students/" + strconv.Itoa(r.alice.ID) + "/" + strconv.Itoa(r.bob.ID), token: adminToken},
		{
			name: "compare: unknown student", token: r.studentToken(t, r.alice),
			path:     "/v1/compare/students/" + strconv.Itoa(r.alice.ID) + "/99",
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: academics.ErrStudentNotFound.Error()}),
		},
		{
			name: "compare: malformed id", path: "/v1/compare/batches/x/1", token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound),
		},
	})
}

func Test_studentApi_dashboard(t *testing.T) {
	r := setupResults(t)

	var dash academics.Dashboard
	r.get(t, "/v1/student/dashboard", r.studentToken(t, r.alice), &dash)
	assert.Equal(t, r.alice.ID, dash.Student.ID)
	assert.Equal(t, 2, dash.TotalSubjects)
	assert.Equal(t, 1, dash.SubjectsPassed)
	assert.Equal(t, 1, dash.SubjectsFailed)
	assert.Equal(t, academics.CAAverages{CA1: testutil.F(35), CA2: testutil.F(35), CA3: testutil.F(60)}, dash.CAAverages)
	assert.Equal(t, testutil.F(92), dash.SemesterAverage)
	assert.Equal(t, testutil.F(66), dash.OverallAverage)
	assert.Equal(t, null.IntFrom(1), dash.Rank)
	assert.Equal(t, 2, dash.BatchSize)
	assert.True(t, dash.SemPublished)

	r.get(t, "/v1/student/dashboard", r.studentToken(t, r.bob), &dash)
	assert.Equal(t, testutil.F(32.5), dash.OverallAverage)
	assert.Equal(t, null.IntFrom(2), dash.Rank)

	// no marks: nothing to rank
	dash = academics.Dashboard{}
	r.get(t, "/v1/student/dashboard", r.studentToken(t, r.carol), &dash)
	assert.Equal(t, 0, dash.TotalSubjects)
	assert.False(t, dash.OverallAverage.Valid)
	assert.False(t, dash.Rank.Valid)
	assert.False(t, dash.SemPublished)
}

func Test_studentApi_dashboard_caOnly(t *testing.T) {
	r := setupResults(t)
	sem := testutil.CreateSemester(t, r.store, r.b21, 2)
	chem := testutil.CreateSubject(t, r.store, "Chemistry", "CHE")
	dave := testutil.CreateStudent(t, r.store, "21CS003", "Dave", "dave@test.edu", r.b21.ID)
	testutil.CreateMark(t, r.store, academics.MarkKey{StudentID: dave.ID, SubjectID: chem.ID, SemesterID: sem.ID},
		grading.Scores{CA1: testutil.F(40), CA2: testutil.F(40)})

	tests := []struct {
		name        string
		student     academics.Student
		wantOverall null.Float64
		wantRank    null.Int
	}{
		{name: "published results rank first", student: r.alice, wantOverall: testutil.F(66), wantRank: null.IntFrom(1)},
		{name: "lower published results", student: r.bob, wantOverall: testutil.F(32.5), wantRank: null.IntFrom(2)},
		{name: "unpublished semester counts as zero", student: dave, wantOverall: testutil.F(20), wantRank: null.IntFrom(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dash academics.Dashboard
			r.get(t, "/v1/student/dashboard", r.studentToken(t, tt.student), &dash)
			assert.Equal(t, tt.wantOverall, dash.OverallAverage)
			assert.Equal(t, tt.wantRank, dash.Rank)
			assert.Equal(t, 3, dash.BatchSize)
		})
	}
}

func Test_studentApi_marks(t *testing.T) {
	r := setupResults(t)

	var views []academics.MarkView
	r.get(t, "/v1/student/marks", r.studentToken(t, r.alice), &views)
	require.Len(t, views, 2)

	bySubject := make(map[string]academics.MarkView, len(views))
	for _, v := range views {
		bySubject[v.SubjectName] = v
	}
	phy, maths := bySubject["Physics"], bySubject["Maths"]
	assert.Equal(t, testutil.F(50), phy.CAAverage)
	assert.Equal(t, float64(150), phy.CATotal)
	assert.Equal(t, null.StringFrom("O"), phy.SemGrade)
	assert.Equal(t, grading.StatusPassed, phy.SemStatus)
	assert.True(t, phy.Passed)

	assert.Equal(t, testutil.F(25), maths.CAAverage)
	assert.Equal(t, grading.StatusFailed, maths.CAStatus)
	assert.False(t, maths.SemGrade.Valid)
	assert.Empty(t, maths.SemStatus)
	assert.False(t, maths.Passed)
}

func Test_studentApi_classPerformance(t *testing.T) {
	r := setupResults(t)

	tests := []struct {
		name    string
		student academics.Student
		want    academics.ClassPerformance
	}{
		{
			name:    "top of the class",
			student: r.alice,
			want: academics.ClassPerformance{
				StudentID: r.alice.ID, MyAverage: testutil.F(37.5), ClassAverage: testutil.F(31.25),
				Percentile: testutil.F(100), BatchSize: 2,
			},
		},
		{
			name:    "bottom of the class",
			student: r.bob,
			want: academics.ClassPerformance{
				StudentID: r.bob.ID, MyAverage: testutil.F(25), ClassAverage: testutil.F(31.25),
				Percentile: testutil.F(50), BatchSize: 2,
			},
		},
		{
			name:    "no marks",
			student: r.carol,
			want:    academics.ClassPerformance{StudentID: r.carol.ID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var perf academics.ClassPerformance
			r.get(t, "/v1/student/class-performance", r.studentToken(t, tt.student), &perf)
			assert.Equal(t, tt.want, perf)
		})
	}
}

func Test_studentApi_compare(t *testing.T) {
	r := setupResults(t)
	token := r.studentToken(t, r.bob)

	var students academics.StudentComparison
	r.get(t, "/v1/compare/students/"+strconv.Itoa(r.alice.ID)+"/"+strconv.Itoa(r.bob.ID), token, &students)
	assert.Equal(t, testutil.F(37.5), students.Student1.AvgCA)
	assert.Equal(t, testutil.F(92), students.Student1.AvgSemester)
	assert.Equal(t, 1, students.Student1.Passed)
	assert.Equal(t, 2, students.Student1.Total)
	assert.Equal(t, testutil.F(25), students.Student2.AvgCA)
	assert.Equal(t, 0, students.Student2.Passed)
	assert.Equal(t, testutil.F(12.5), students.CADifference)
	assert.Equal(t, testutil.F(52), students.SemDifference)
	assert.Equal(t, 1, students.PassedDifference)
	assert.Equal(t, null.IntFrom(r.alice.ID), students.Winner)

	// a student without marks never wins
	r.get(t, "/v1/compare/students/"+strconv.Itoa(r.carol.ID)+"/"+strconv.Itoa(r.bob.ID), token, &students)
	assert.False(t, students.CADifference.Valid)
	assert.Equal(t, null.IntFrom(r.bob.ID), students.Winner)

	var batches academics.BatchComparison
	r.get(t, "/v1/compare/batches/"+strconv.Itoa(r.b21.ID)+"/"+strconv.Itoa(r.b22.ID), token, &batches)
	assert.Equal(t, 2, batches.Batch1.Students)
	assert.Equal(t, 3, batches.Batch1.Total)
	assert.Equal(t, 1, batches.Batch1.Passed)
	assert.Equal(t, 1, batches.Batch2.Students)
	assert.False(t, batches.Batch2.AvgCA.Valid)
	assert.False(t, batches.CADifference.Valid)
	assert.Equal(t, null.IntFrom(r.b21.ID), batches.BetterBatch)
}
