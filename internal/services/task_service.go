package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campusrun/internal/config"
	"campusrun/internal/domain/entities"
	"campusrun/internal/geo"
	"campusrun/internal/repository"
	"campusrun/pkg/utils"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCannotAcceptOwnTask = errors.New("a creator cannot accept their own task")
	ErrTitleRequired       = errors.New("task title is required")
	ErrTaskBusy            = errors.New("task is being updated by another request")
)

// taskLeaseTTL bounds how long one status change may hold a task.
const taskLeaseTTL = 10 * time.Second

// TrackingStopper ends a task's live session. TrackingService implements it.
type TrackingStopper interface {
	StopTaskTracking(ctx context.Context, taskID string) error
}

// TaskService is the task directory the engines hang off: it prices new
// tasks, keeps the open-task geohash index current, and ends tracking when a
// task reaches a terminal state.
type TaskService struct {
	tasks    repository.TaskRepository
	index    *geo.TaskIndex
	pricing  *PricingService
	bundling *BundlingService
	tracking TrackingStopper
	locks    repository.LockManager
	cfg      config.BundlingConfig
	log      *slog.Logger
}

func NewTaskService(
	tasks repository.TaskRepository,
	index *geo.TaskIndex,
	pricing *PricingService,
	bundling *BundlingService,
	tracking TrackingStopper,
	locks repository.LockManager,
	cfg config.BundlingConfig,
	log *slog.Logger,
) *TaskService {
	return &TaskService{
		tasks:    tasks,
		index:    index,
		pricing:  pricing,
		bundling: bundling,
		tracking: tracking,
		locks:    locks,
		cfg:      cfg,
		log:      log,
	}
}

type CreateTaskRequest struct {
	Title             string             `json:"title"`
	Location          entities.Location  `json:"location"`
	DropOff           *entities.Location `json:"drop_off,omitempty"`
	RequesterLocation *entities.Location `json:"requester_location,omitempty"`
	Urgency           string             `json:"urgency"`
	IsFree            bool               `json:"is_free"`
	EstimatedTimeText string             `json:"estimated_time,omitempty"`
	EstimatedMinutes  *int               `json:"estimated_minutes,omitempty"`
}

// CreateTask stores a new open task priced against the requester's location.
// Without a requester location the drop-off is used, then the task location
// itself (a zero distance fee).
func (s *TaskService) CreateTask(ctx context.Context, creatorID string, req CreateTaskRequest) (*entities.Task, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, ErrTitleRequired
	}
	if err := req.Location.Validate(); err != nil {
		return nil, err
	}
	if req.DropOff != nil {
		if err := req.DropOff.Validate(); err != nil {
			return nil, err
		}
	}
	urgency, err := entities.ParseUrgency(req.Urgency)
	if err != nil {
		return nil, err
	}

	task := entities.NewTask(utils.GenerateID(), creatorID, strings.TrimSpace(req.Title), req.Location, urgency, req.IsFree)
	task.DropOff = req.DropOff
	task.EstimatedTimeText = req.EstimatedTimeText
	task.EstimatedMinutes = req.EstimatedMinutes

	requester := req.RequesterLocation
	if requester == nil {
		requester = req.DropOff
	}
	if requester == nil {
		requester = &task.Location
	}
	task.Price = s.pricing.PriceTask(&task.Location, requester, urgency, req.IsFree)

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	s.index.Upsert(task.Summary())

	s.log.Info("task created", "action", "task_create", "task_id", task.ID,
		"urgency", string(urgency), "total", task.Price.Total)
	return task, nil
}

// GetTask retrieves a task by ID.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*entities.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// AcceptTask assigns performerID to an open task. When two performers race
// for the same task exactly one wins; the other gets ErrTaskBusy or
// ErrInvalidTransition.
func (s *TaskService) AcceptTask(ctx context.Context, performerID, taskID string) (*entities.Task, error) {
	var task *entities.Task
	err := s.withTaskLease(ctx, taskID, func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		if err != nil {
			return ErrTaskNotFound
		}
		if task.CreatorID == performerID {
			return ErrCannotAcceptOwnTask
		}
		if err := task.Accept(performerID); err != nil {
			return ErrInvalidTransition
		}
		return s.tasks.Update(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	s.index.Remove(task.ID)

	s.log.Info("task accepted", "action", "task_accept", "task_id", task.ID)
	return task, nil
}

// UpdateStatus moves a task along its lifecycle. The performer drives
// progress; either participant may cancel. Reaching a terminal state stops
// the task's tracking session.
func (s *TaskService) UpdateStatus(ctx context.Context, userID, taskID string, next entities.TaskStatus) (*entities.Task, error) {
	var task *entities.Task
	err := s.withTaskLease(ctx, taskID, func() error {
		var err error
		task, err = s.tasks.GetByID(ctx, taskID)
		if err != nil {
			return ErrTaskNotFound
		}

		switch next {
		case entities.TaskStatusCancelled:
			if !task.IsParticipant(userID) {
				return ErrNotParticipant
			}
		default:
			if task.PerformerID == "" || task.PerformerID != userID {
				return ErrNotTaskPerformer
			}
		}

		if err := task.TransitionTo(next); err != nil {
			return ErrInvalidTransition
		}
		return s.tasks.Update(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	s.index.Remove(task.ID)

	if task.IsTerminal() && s.tracking != nil {
		if err := s.tracking.StopTaskTracking(ctx, task.ID); err != nil {
			s.log.Warn("stop tracking on terminal task failed", "action", "task_status",
				"task_id", task.ID, "error", err.Error())
		}
	}

	s.log.Info("task status changed", "action", "task_status", "task_id", task.ID, "status", string(next))
	return task, nil
}

// withTaskLease runs fn while holding the task's update lease, so two
// read-modify-write cycles on one task never interleave. Each call is its
// own owner: a second request from the same user is refused too.
//
// Go Learning Note — Closures Capturing Locals:
// fn assigns to variables declared in the caller, which keeps the lease
// handling in one place without a generic result type.
func (s *TaskService) withTaskLease(ctx context.Context, taskID string, fn func() error) error {
	key := "task:" + taskID
	owner := utils.GenerateID()

	acquired, err := s.locks.AcquireLock(ctx, key, owner, taskLeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire task lease: %w", err)
	}
	if !acquired {
		return ErrTaskBusy
	}
	defer s.locks.ReleaseLock(ctx, key, owner)
	return fn()
}

// NearbyBundles suggests bundles built from the open tasks within the
// configured radius of center, nearest first.
func (s *TaskService) NearbyBundles(ctx context.Context, center entities.Location, radiusKm float64) ([]entities.TaskBundle, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.CandidateRadiusKm
	}

	nearby := s.index.FindNearby(center, radiusKm)
	candidates := make([]entities.TaskSummary, len(nearby))
	for i, n := range nearby {
		candidates[i] = n.Task
	}
	return s.bundling.BundleTasks(candidates, &center), nil
}

// RebuildIndex loads every open task into the geohash index.
func (s *TaskService) RebuildIndex(ctx context.Context) error {
	open, err := s.tasks.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, task := range open {
		s.index.Upsert(task.Summary())
	}
	return nil
}
