package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/trezcool/eduanalytics/core/portal"
)

// PortalRepository is an in-memory portal.Repository.
type PortalRepository struct {
	mu          sync.RWMutex
	tasks       map[string]portal.Task
	assignments map[string]portal.Assignment
	submissions map[string]portal.Submission
	roles       map[string]string // users of the auth service, by id
}

func NewPortalRepository() *PortalRepository {
	return &PortalRepository{
		tasks:       make(map[string]portal.Task),
		assignments: make(map[string]portal.Assignment),
		submissions: make(map[string]portal.Submission),
		roles:       make(map[string]string),
	}
}

// AddUser registers a user of the auth service.
func (repo *PortalRepository) AddUser(id, role string) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.roles[id] = role
}

// Tasks

func (repo *PortalRepository) CreateTask(ctx context.Context, task portal.Task) (portal.Task, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	task.ID = primitive.NewObjectID().Hex()
	repo.tasks[task.ID] = task
	return task, nil
}

func (repo *PortalRepository) GetTask(ctx context.Context, id string) (portal.Task, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if task, ok := repo.tasks[id]; ok {
		return task, nil
	}
	return portal.Task{}, portal.ErrTaskNotFound
}

func (repo *PortalRepository) UpdateTask(ctx context.Context, task portal.Task) (portal.Task, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.tasks[task.ID]; !ok {
		return portal.Task{}, portal.ErrTaskNotFound
	}
	repo.tasks[task.ID] = task
	return task, nil
}

func (repo *PortalRepository) DeleteTask(ctx context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.tasks[id]; !ok {
		return portal.ErrTaskNotFound
	}
	delete(repo.tasks, id)
	return nil
}

func containsFold(s *string, substr string) bool {
	return s != nil && strings.Contains(strings.ToLower(*s), strings.ToLower(substr))
}

func (repo *PortalRepository) QueryTasks(ctx context.Context, userID string, filter portal.TaskFilter) ([]portal.Task, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	tasks := make([]portal.Task, 0)
	for _, task := range repo.tasks {
		if task.UserID != userID {
			continue
		}
		if filter.Search != "" && !containsFold(&task.Title, filter.Search) && !containsFold(task.Description, filter.Search) {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && task.Priority != filter.Priority {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
	return tasks, nil
}

// Assignments

func (repo *PortalRepository) CreateAssignment(ctx context.Context, asg portal.Assignment) (portal.Assignment, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	asg.ID = primitive.NewObjectID().Hex()
	repo.assignments[asg.ID] = asg
	return asg, nil
}

func (repo *PortalRepository) GetAssignment(ctx context.Context, id string) (portal.Assignment, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if asg, ok := repo.assignments[id]; ok {
		return asg, nil
	}
	return portal.Assignment{}, portal.ErrAssignmentNotFound
}

func (repo *PortalRepository) UpdateAssignment(ctx context.Context, asg portal.Assignment) (portal.Assignment, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.assignments[asg.ID]; !ok {
		return portal.Assignment{}, portal.ErrAssignmentNotFound
	}
	repo.assignments[asg.ID] = asg
	return asg, nil
}

func (repo *PortalRepository) DeleteAssignment(ctx context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.assignments[id]; !ok {
		return portal.ErrAssignmentNotFound
	}
	delete(repo.assignments, id)
	for subID, sub := range repo.submissions {
		if sub.AssignmentID == id {
			delete(repo.submissions, subID)
		}
	}
	return nil
}

func (repo *PortalRepository) QueryAssignments(ctx context.Context) ([]portal.Assignment, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	assignments := make([]portal.Assignment, 0, len(repo.assignments))
	for _, asg := range repo.assignments {
		assignments = append(assignments, asg)
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].DueDate.After(assignments[j].DueDate) })
	return assignments, nil
}

// Submissions

func (repo *PortalRepository) CreateSubmission(ctx context.Context, sub portal.Submission) (portal.Submission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, s := range repo.submissions {
		if s.AssignmentID == sub.AssignmentID && s.StudentID == sub.StudentID {
			return portal.Submission{}, portal.ErrConflict
		}
	}
	sub.ID = primitive.NewObjectID().Hex()
	repo.submissions[sub.ID] = sub
	return sub, nil
}

func (repo *PortalRepository) GetSubmission(ctx context.Context, id string) (portal.Submission, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if sub, ok := repo.submissions[id]; ok {
		return sub, nil
	}
	return portal.Submission{}, portal.ErrSubmissionNotFound
}

func (repo *PortalRepository) FindSubmission(ctx context.Context, assignmentID, studentID string) (portal.Submission, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, sub := range repo.submissions {
		if sub.AssignmentID == assignmentID && sub.StudentID == studentID {
			return sub, nil
		}
	}
	return portal.Submission{}, portal.ErrSubmissionNotFound
}

func (repo *PortalRepository) UpdateSubmission(ctx context.Context, sub portal.Submission) (portal.Submission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.submissions[sub.ID]; !ok {
		return portal.Submission{}, portal.ErrSubmissionNotFound
	}
	repo.submissions[sub.ID] = sub
	return sub, nil
}

func (repo *PortalRepository) DeleteSubmission(ctx context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.submissions[id]; !ok {
		return portal.ErrSubmissionNotFound
	}
	delete(repo.submissions, id)
	return nil
}

func (repo *PortalRepository) QuerySubmissions(ctx context.Context, filter portal.SubmissionFilter) ([]portal.Submission, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	subs := make([]portal.Submission, 0)
	for _, sub := range repo.submissions {
		if filter.AssignmentID != "" && sub.AssignmentID != filter.AssignmentID {
			continue
		}
		if filter.StudentID != "" && sub.StudentID != filter.StudentID {
			continue
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].SubmittedAt.After(subs[j].SubmittedAt) })
	return subs, nil
}

func (repo *PortalRepository) CountSubmissions(ctx context.Context, assignmentID, status string) (int64, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var count int64
	for _, sub := range repo.submissions {
		if sub.AssignmentID == assignmentID && (status == "" || sub.Status == status) {
			count++
		}
	}
	return count, nil
}

func (repo *PortalRepository) CountStudents(ctx context.Context) (int64, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var count int64
	for _, role := range repo.roles {
		if role == portal.RoleStudent {
			count++
		}
	}
	return count, nil
}
