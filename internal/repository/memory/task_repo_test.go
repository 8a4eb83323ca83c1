package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"campusrun/internal/domain/entities"
)

func TestTaskRepository_CRUD(t *testing.T) {
	repo := NewTaskRepository()
	ctx := context.Background()

	task := entities.NewTask("task-1", "creator", "Coffee run", entities.NewLocation(42.278, -83.738), entities.UrgencyLow, false)
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	got.Title = "changed"
	again, _ := repo.GetByID(ctx, "task-1")
	if again.Title != "Coffee run" {
		t.Error("Expected repository to hand out copies")
	}

	got.Accept("performer")
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	mine, _ := repo.GetByPerformerID(ctx, "performer")
	if len(mine) != 1 || mine[0].Status != entities.TaskStatusAccepted {
		t.Errorf("Expected one accepted task for performer, got %+v", mine)
	}

	if err := repo.Delete(ctx, "task-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, "task-1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
	if err := repo.Update(ctx, got); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound on update, got %v", err)
	}
}

func TestTaskRepository_ListOpenOrder(t *testing.T) {
	repo := NewTaskRepository()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		task := entities.NewTask(id, "creator", id, entities.NewLocation(42.278, -83.738), entities.UrgencyLow, false)
		task.CreatedAt = base.Add(time.Duration(i) * time.Second)
		repo.Create(ctx, task)
	}
	closed := entities.NewTask("d", "creator", "d", entities.NewLocation(42.278, -83.738), entities.UrgencyLow, false)
	closed.Status = entities.TaskStatusCancelled
	repo.Create(ctx, closed)

	open, _ := repo.ListOpen(ctx)
	if len(open) != 3 {
		t.Fatalf("Expected 3 open tasks, got %d", len(open))
	}
	for i, want := range []string{"c", "a", "b"} {
		if open[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, open[i].ID)
		}
	}
}
