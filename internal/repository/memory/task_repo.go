package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"campusrun/internal/domain/entities"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskRepository stores tasks in memory. It hands out copies so callers can
// mutate a task and then Update it without racing other readers.
type TaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*entities.Task
}

func NewTaskRepository() *TaskRepository {
	return &TaskRepository{
		tasks: make(map[string]*entities.Task),
	}
}

func cloneTask(t *entities.Task) *entities.Task {
	out := *t
	if t.DropOff != nil {
		drop := *t.DropOff
		out.DropOff = &drop
	}
	if t.EstimatedMinutes != nil {
		mins := *t.EstimatedMinutes
		out.EstimatedMinutes = &mins
	}
	return &out
}

func (r *TaskRepository) Create(ctx context.Context, task *entities.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[task.ID] = cloneTask(task)
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entities.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[id]
	if !exists {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (r *TaskRepository) Update(ctx context.Context, task *entities.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; !exists {
		return ErrTaskNotFound
	}
	r.tasks[task.ID] = cloneTask(task)
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[id]; !exists {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	return nil
}

// ListOpen returns open tasks oldest first, which is the candidate order the
// bundling engine seeds from.
func (r *TaskRepository) ListOpen(ctx context.Context) ([]*entities.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*entities.Task
	for _, task := range r.tasks {
		if task.Status == entities.TaskStatusOpen {
			tasks = append(tasks, cloneTask(task))
		}
	}
	sortByCreation(tasks)
	return tasks, nil
}

// GetByPerformerID returns every task assigned to a performer.
// This is an O(n) scan; a real task store would index it.
func (r *TaskRepository) GetByPerformerID(ctx context.Context, performerID string) ([]*entities.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*entities.Task
	for _, task := range r.tasks {
		if task.PerformerID == performerID {
			tasks = append(tasks, cloneTask(task))
		}
	}
	sortByCreation(tasks)
	return tasks, nil
}

func sortByCreation(tasks []*entities.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
