package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/trezcool/eduanalytics/core/portal"
)

type portalUsers struct {
	adminToken, aliceToken, bobToken string
	aliceID, bobID                   string
}

func setupPortal(t *testing.T) (fixture, portalUsers) {
	f := setup(t)
	adminID := primitive.NewObjectID().Hex()
	u := portalUsers{aliceID: primitive.NewObjectID().Hex(), bobID: primitive.NewObjectID().Hex()}
	f.portalRepo.AddUser(adminID, portal.RoleAdmin)
	f.portalRepo.AddUser(u.aliceID, portal.RoleStudent)
	f.portalRepo.AddUser(u.bobID, portal.RoleStudent)

	u.adminToken = f.portalToken(t, adminID, "Admin", portal.RoleAdmin)
	u.aliceToken = f.portalToken(t, u.aliceID, "Alice", portal.RoleStudent)
	u.bobToken = f.portalToken(t, u.bobID, "Bob", portal.RoleStudent)
	return f, u
}

func (f fixture) create(t *testing.T, path, token string, body interface{}, dest interface{}) {
	req, rec := newAuthRequest(http.MethodPost, path, token, marchallObj(t, body))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, dest)
}

func Test_portalApi_tasks(t *testing.T) {
	f, u := setupPortal(t)

	var task portal.Task
	f.create(t, "/v1/tasks", u.aliceToken, portal.NewTask{Title: "  Read chapter 3 "}, &task)
	assert.Equal(t, "Read chapter 3", task.Title)
	assert.Equal(t, u.aliceID, task.UserID)
	assert.Equal(t, portal.TaskPending, task.Status)
	assert.Equal(t, portal.PriorityMedium, task.Priority)

	desc := "lab report"
	var urgent portal.Task
	f.create(t, "/v1/tasks", u.aliceToken, portal.NewTask{Title: "Write", Description: &desc, Priority: "HIGH"}, &urgent)

	taskPath := "/v1/tasks/" + task.ID
	f.run(t, []httpTest{
		{name: "no token", path: "/v1/tasks", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "create: invalid status", method: http.MethodPost, path: "/v1/tasks", token: u.aliceToken,
			body:     marchallObj(t, portal.NewTask{Title: "x", Status: "later"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"status": "invalid status, expected one of: pending, in_progress, completed"}),
		},
		{name: "own tasks", path: "/v1/tasks", token: u.aliceToken, wantData: marchallList(t, urgent, task)},
		{name: "others' tasks are hidden", path: "/v1/tasks", token: u.bobToken, wantData: marchallList(t)},
		{name: "search", path: "/v1/tasks?search=LAB", token: u.aliceToken, wantData: marchallList(t, urgent)},
		{name: "filter by priority", path: "/v1/tasks?priority=medium", token: u.aliceToken, wantData: marchallList(t, task)},
		{name: "retrieve", path: taskPath, token: u.aliceToken, wantData: marchallObj(t, task)},
		{name: "retrieve: other user", path: taskPath, token: u.bobToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "retrieve: malformed id", path: "/v1/tasks/123", token: u.aliceToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"id": portal.ErrInvalidID.Error()}),
		},
		{
			name: "update: empty title", method: http.MethodPut, path: taskPath, token: u.aliceToken, body: []byte(`{"title":"  "}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"title": portal.ErrEmptyTitle.Error()}),
		},
		{
			name: "update: other user", method: http.MethodPut, path: taskPath, token: u.bobToken, body: []byte(`{"status":"completed"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{name: "filter by status", path: "/v1/tasks?status=completed", token: u.aliceToken, wantData: marchallList(t)},
		{name: "delete: other user", method: http.MethodDelete, path: taskPath, token: u.bobToken, wantCode: http.StatusForbidden},
		{name: "delete", method: http.MethodDelete, path: taskPath, token: u.aliceToken, wantCode: http.StatusNoContent},
		{
			name: "retrieve: deleted", path: taskPath, token: u.aliceToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: portal.ErrTaskNotFound.Error()}),
		},
	})

	// status update keeps the other fields
	req, rec := newAuthRequest(http.MethodPut, "/v1/tasks/"+urgent.ID, u.aliceToken, []byte(`{"status":"Completed"}`))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated portal.Task
	decode(t, rec, &updated)
	assert.Equal(t, portal.TaskCompleted, updated.Status)
	assert.Equal(t, urgent.Title, updated.Title)
	assert.Equal(t, &desc, updated.Description)
	assert.False(t, updated.UpdatedAt.Before(urgent.UpdatedAt))
}

func Test_portalApi_assignments(t *testing.T) {
	f, u := setupPortal(t)
	due := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Second)

	newAsg := portal.NewAssignment{Title: "Essay", Description: "On Go", DueDate: due}
	var asg portal.Assignment
	f.create(t, "/v1/assignments", u.adminToken, newAsg, &asg)
	assert.Equal(t, portal.DefaultMaxMarks, asg.MaxMarks)
	assert.True(t, due.Equal(asg.DueDate))

	var later portal.Assignment
	f.create(t, "/v1/assignments", u.adminToken, portal.NewAssignment{Title: "Project", Description: "A CLI", DueDate: due.Add(time.Hour), MaxMarks: 50}, &later)

	renamed := asg
	renamed.Title = "Long essay"
	asgPath := "/v1/assignments/" + asg.ID

	f.run(t, []httpTest{
		{
			name: "create: student", method: http.MethodPost, path: "/v1/assignments", token: u.aliceToken, body: marchallObj(t, newAsg),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "create: missing fields", method: http.MethodPost, path: "/v1/assignments", token: u.adminToken, body: []byte(`{"title":"x"}`),
			wantCode: http.StatusBadRequest,
		},
		{name: "list", path: "/v1/assignments", token: u.aliceToken, wantData: marchallList(t, later, asg)},
		{name: "retrieve", path: asgPath, token: u.bobToken, wantData: marchallObj(t, asg)},
		{
			name: "retrieve: unknown", path: "/v1/assignments/" + primitive.NewObjectID().Hex(), token: u.bobToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: portal.ErrAssignmentNotFound.Error()}),
		},
		{
			name: "update: student", method: http.MethodPut, path: asgPath, token: u.aliceToken, body: []byte(`{"title":"Long essay"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{name: "stats: student", path: asgPath + "/stats", token: u.aliceToken, wantCode: http.StatusForbidden},
		{
			name: "stats: no submission", path: asgPath + "/stats", token: u.adminToken,
			wantData: marchallObj(t, portal.AssignmentStats{TotalStudents: 2}),
		},
	})

	req, rec := newAuthRequest(http.MethodPut, asgPath, u.adminToken, []byte(`{"title":"Long essay"}`))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated portal.Assignment
	decode(t, rec, &updated)
	assert.Equal(t, renamed.Title, updated.Title)
	assert.Equal(t, renamed.MaxMarks, updated.MaxMarks)
	assert.Equal(t, renamed.CreatedBy, updated.CreatedBy)
}

func Test_portalApi_submissions(t *testing.T) {
	f, u := setupPortal(t)

	var asg portal.Assignment
	f.create(t, "/v1/assignments", u.adminToken, portal.NewAssignment{
		Title: "Essay", Description: "On Go", DueDate: time.Now().UTC().Add(time.Hour), MaxMarks: 20,
	}, &asg)

	var sub portal.Submission
	f.create(t, "/v1/submissions", u.aliceToken, portal.NewSubmission{AssignmentID: asg.ID, SubmissionText: "My essay"}, &sub)
	assert.Equal(t, u.aliceID, sub.StudentID)
	assert.Equal(t, "Alice", sub.StudentName)
	assert.Equal(t, portal.SubmissionPending, sub.Status)

	subPath := "/v1/submissions/" + sub.ID
	f.run(t, []httpTest{
		{
			name: "submit: admin", method: http.MethodPost, path: "/v1/submissions", token: u.adminToken,
			body:     marchallObj(t, portal.NewSubmission{AssignmentID: asg.ID, SubmissionText: "x"}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: portal.ErrStudentsOnly.Error()}),
		},
		{
			name: "submit: twice", method: http.MethodPost, path: "/v1/submissions", token: u.aliceToken,
			body:     marchallObj(t, portal.NewSubmission{AssignmentID: asg.ID, SubmissionText: "again"}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"assignment_id": portal.ErrAlreadySubmitted.Error()}),
		},
		{
			name: "submit: unknown assignment", method: http.MethodPost, path: "/v1/submissions", token: u.bobToken,
			body:     marchallObj(t, portal.NewSubmission{AssignmentID: primitive.NewObjectID().Hex(), SubmissionText: "x"}),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: portal.ErrAssignmentNotFound.Error()}),
		},
		{name: "list: own", path: "/v1/submissions", token: u.aliceToken, wantData: marchallList(t, sub)},
		{name: "list: others' hidden", path: "/v1/submissions", token: u.bobToken, wantData: marchallList(t)},
		{name: "list: admin by assignment", path: "/v1/submissions?assignment_id=" + asg.ID, token: u.adminToken, wantData: marchallList(t, sub)},
		{name: "retrieve: other student", path: subPath, token: u.bobToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "grade: out of range", method: http.MethodPut, path: subPath, token: u.adminToken, body: []byte(`{"marks":21}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"marks": portal.ErrMarksOutOfRange.Error()}),
		},
		{
			name: "update: nothing for an admin", method: http.MethodPut, path: subPath, token: u.adminToken, body: []byte(`{"submission_text":"x"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: portal.ErrNoFieldsToUpdate.Error()}),
		},
	})

	// the student edits, then the admin grades
	req, rec := newAuthRequest(http.MethodPut, subPath, u.aliceToken, []byte(`{"submission_text":"My final essay"}`))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req, rec = newAuthRequest(http.MethodPut, subPath, u.adminToken, []byte(`{"marks":18,"feedback":"Good","status":"graded"}`))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var graded portal.Submission
	decode(t, rec, &graded)
	assert.Equal(t, "My final essay", graded.SubmissionText)
	require.NotNil(t, graded.Marks)
	assert.Equal(t, 18, *graded.Marks)
	assert.Equal(t, portal.SubmissionGraded, graded.Status)
	assert.NotNil(t, graded.GradedAt)

	var bobSub portal.Submission
	f.create(t, "/v1/submissions", u.bobToken, portal.NewSubmission{AssignmentID: asg.ID, SubmissionText: "Bob's"}, &bobSub)

	f.run(t, []httpTest{
		{
			name: "update: graded", method: http.MethodPut, path: subPath, token: u.aliceToken, body: []byte(`{"submission_text":"late fix"}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: portal.ErrGradedSubmission.Error()}),
		},
		{
			name: "delete: graded", method: http.MethodDelete, path: subPath, token: u.aliceToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: portal.ErrGradedSubmission.Error()}),
		},
		{
			name: "stats", path: "/v1/assignments/" + asg.ID + "/stats", token: u.adminToken,
			wantData: marchallObj(t, portal.AssignmentStats{TotalStudents: 2, TotalSubmissions: 2, Graded: 1, Pending: 1, SubmissionRate: 100}),
		},
		{name: "delete: pending", method: http.MethodDelete, path: "/v1/submissions/" + bobSub.ID, token: u.bobToken, wantCode: http.StatusNoContent},
		{name: "delete assignment", method: http.MethodDelete, path: "/v1/assignments/" + asg.ID, token: u.adminToken, wantCode: http.StatusNoContent},
		{
			name: "submissions are deleted with their assignment", path: subPath, token: u.adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: portal.ErrSubmissionNotFound.Error()}),
		},
	})
}
