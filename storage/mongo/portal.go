package mongodb

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/eduanalytics/core/portal"
)

type portalRepository struct {
	tasks       *mongo.Collection
	assignments *mongo.Collection
	submissions *mongo.Collection
	users       *mongo.Collection
	timeout     time.Duration
}

// NewPortalRepository returns a portal.Repository storing its documents in db.
// Every operation is bounded by timeout when it is positive.
func NewPortalRepository(db *mongo.Database, timeout time.Duration) portal.Repository {
	return &portalRepository{
		tasks:       db.Collection(tasksCollection),
		assignments: db.Collection(assignmentsCollection),
		submissions: db.Collection(submissionsCollection),
		users:       db.Collection(usersCollection),
		timeout:     timeout,
	}
}

func (repo *portalRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if repo.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, repo.timeout)
}

func byID(id string) bson.M {
	return bson.M{"_id": id}
}

func mongoError(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return notFound
	case mongo.IsDuplicateKeyError(err):
		return errors.Wrap(portal.ErrConflict, err.Error())
	}
	return err
}

func (repo *portalRepository) insert(ctx context.Context, coll *mongo.Collection, doc interface{}) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()
	_, err := coll.InsertOne(ctx, doc)
	return mongoError(err, nil)
}

func (repo *portalRepository) findOne(ctx context.Context, coll *mongo.Collection, filter bson.M, dest interface{}, notFound error) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()
	return mongoError(coll.FindOne(ctx, filter).Decode(dest), notFound)
}

func (repo *portalRepository) replace(ctx context.Context, coll *mongo.Collection, id string, doc interface{}, notFound error) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()
	res, err := coll.ReplaceOne(ctx, byID(id), doc)
	if err != nil {
		return mongoError(err, notFound)
	}
	if res.MatchedCount == 0 {
		return notFound
	}
	return nil
}

func (repo *portalRepository) delete(ctx context.Context, coll *mongo.Collection, id string, notFound error) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()
	res, err := coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return notFound
	}
	return nil
}

func (repo *portalRepository) find(ctx context.Context, coll *mongo.Collection, filter bson.M, sort bson.D, dest interface{}) error {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()
	cur, err := coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return err
	}
	return cur.All(ctx, dest)
}

// Tasks

func (repo *portalRepository) CreateTask(ctx context.Context, task portal.Task) (portal.Task, error) {
	task.ID = primitive.NewObjectID().Hex()
	return task, repo.insert(ctx, repo.tasks, task)
}

func (repo *portalRepository) GetTask(ctx context.Context, id string) (portal.Task, error) {
	var task portal.Task
	err := repo.findOne(ctx, repo.tasks, byID(id), &task, portal.ErrTaskNotFound)
	return task, err
}

func (repo *portalRepository) UpdateTask(ctx context.Context, task portal.Task) (portal.Task, error) {
	return task, repo.replace(ctx, repo.tasks, task.ID, task, portal.ErrTaskNotFound)
}

func (repo *portalRepository) DeleteTask(ctx context.Context, id string) error {
	return repo.delete(ctx, repo.tasks, id, portal.ErrTaskNotFound)
}

func (repo *portalRepository) QueryTasks(ctx context.Context, userID string, filter portal.TaskFilter) ([]portal.Task, error) {
	query := bson.M{"user_id": userID}
	if filter.Search != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Search), Options: "i"}
		query["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"description": pattern},
		}
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Priority != "" {
		query["priority"] = filter.Priority
	}

	tasks := make([]portal.Task, 0)
	err := repo.find(ctx, repo.tasks, query, bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}, &tasks)
	return tasks, errors.Wrap(err, "finding tasks")
}

// Assignments

func (repo *portalRepository) CreateAssignment(ctx context.Context, asg portal.Assignment) (portal.Assignment, error) {
	asg.ID = primitive.NewObjectID().Hex()
	return asg, repo.insert(ctx, repo.assignments, asg)
}

func (repo *portalRepository) GetAssignment(ctx context.Context, id string) (portal.Assignment, error) {
	var asg portal.Assignment
	err := repo.findOne(ctx, repo.assignments, byID(id), &asg, portal.ErrAssignmentNotFound)
	return asg, err
}

func (repo *portalRepository) UpdateAssignment(ctx context.Context, asg portal.Assignment) (portal.Assignment, error) {
	return asg, repo.replace(ctx, repo.assignments, asg.ID, asg, portal.ErrAssignmentNotFound)
}

func (repo *portalRepository) DeleteAssignment(ctx context.Context, id string) error {
	if err := repo.delete(ctx, repo.assignments, id, portal.ErrAssignmentNotFound); err != nil {
		return err
	}

	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()
	_, err := repo.submissions.DeleteMany(ctx, bson.M{"assignment_id": id})
	return errors.Wrap(err, "deleting submissions")
}

func (repo *portalRepository) QueryAssignments(ctx context.Context) ([]portal.Assignment, error) {
	assignments := make([]portal.Assignment, 0)
	err := repo.find(ctx, repo.assignments, bson.M{}, bson.D{{Key: "due_date", Value: -1}}, &assignments)
	return assignments, errors.Wrap(err, "finding assignments")
}

// Submissions

func (repo *portalRepository) CreateSubmission(ctx context.Context, sub portal.Submission) (portal.Submission, error) {
	sub.ID = primitive.NewObjectID().Hex()
	return sub, repo.insert(ctx, repo.submissions, sub)
}

func (repo *portalRepository) GetSubmission(ctx context.Context, id string) (portal.Submission, error) {
	var sub portal.Submission
	err := repo.findOne(ctx, repo.submissions, byID(id), &sub, portal.ErrSubmissionNotFound)
	return sub, err
}

func (repo *portalRepository) FindSubmission(ctx context.Context, assignmentID, studentID string) (portal.Submission, error) {
	var sub portal.Submission
	filter := bson.M{"assignment_id": assignmentID, "student_id": studentID}
	err := repo.findOne(ctx, repo.submissions, filter, &sub, portal.ErrSubmissionNotFound)
	return sub, err
}

func (repo *portalRepository) UpdateSubmission(ctx context.Context, sub portal.Submission) (portal.Submission, error) {
	return sub, repo.replace(ctx, repo.submissions, sub.ID, sub, portal.ErrSubmissionNotFound)
}

func (repo *portalRepository) DeleteSubmission(ctx context.Context, id string) error {
	return repo.delete(ctx, repo.submissions, id, portal.ErrSubmissionNotFound)
}

func (repo *portalRepository) QuerySubmissions(ctx context.Context, filter portal.SubmissionFilter) ([]portal.Submission, error) {
	query := bson.M{}
	if filter.AssignmentID != "" {
		query["assignment_id"] = filter.AssignmentID
	}
	if filter.StudentID != "" {
		query["student_id"] = filter.StudentID
	}

	subs := make([]portal.Submission, 0)
	err := repo.find(ctx, repo.submissions, query, bson.D{{Key: "submitted_at", Value: -1}}, &subs)
	return subs, errors.Wrap(err, "finding submissions")
}

func (repo *portalRepository) CountSubmissions(ctx context.Context, assignmentID, status string) (int64, error) {
	query := bson.M{"assignment_id": assignmentID}
	if status != "" {
		query["status"] = status
	}
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()
	return repo.submissions.CountDocuments(ctx, query)
}

// CountStudents counts the students registered with the auth service, which shares the database.
func (repo *portalRepository) CountStudents(ctx context.Context) (int64, error) {
	ctx, cancel := repo.withTimeout(ctx)
	defer cancel()
	return repo.users.CountDocuments(ctx, bson.M{"role": portal.RoleStudent})
}
