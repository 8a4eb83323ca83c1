package entities

import (
	"errors"
	"time"
)

// TaskStatus is the lifecycle state of an errand as seen by the engine.
// The task store owns the full record; this is the slice of it that decides
// who may track a task and when tracking must end.
//
//	Open -> Accepted -> InProgress -> Completed
//	  (any non-terminal state can also transition to Cancelled)
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusAccepted   TaskStatus = "accepted"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

var ErrInvalidTaskTransition = errors.New("invalid task status transition")

var validTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusOpen:       {TaskStatusAccepted, TaskStatusCancelled},
	TaskStatusAccepted:   {TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusCancelled},
	TaskStatusCompleted:  {},
	TaskStatusCancelled:  {},
}

// ParseTaskStatus maps an API string onto a known status.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	status := TaskStatus(s)
	_, ok := validTaskTransitions[status]
	return status, ok
}

// Task is the task store record the engine consumes.
type Task struct {
	ID                string         `json:"id"`
	CreatorID         string         `json:"creator_id"`
	PerformerID       string         `json:"performer_id,omitempty"`
	Title             string         `json:"title"`
	Status            TaskStatus     `json:"status"`
	Urgency           Urgency        `json:"urgency"`
	IsFree            bool           `json:"is_free"`
	Location          Location       `json:"location"`
	DropOff           *Location      `json:"drop_off,omitempty"`
	EstimatedTimeText string         `json:"estimated_time,omitempty"`
	EstimatedMinutes  *int           `json:"estimated_minutes,omitempty"`
	Price             PriceBreakdown `json:"price"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	AcceptedAt        time.Time      `json:"accepted_at,omitempty"`
	CompletedAt       time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a Task in the Open state.
func NewTask(id, creatorID, title string, location Location, urgency Urgency, isFree bool) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		CreatorID: creatorID,
		Title:     title,
		Status:    TaskStatusOpen,
		Urgency:   urgency,
		IsFree:    isFree,
		Location:  location,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransitionTo checks if moving to next is a valid state change.
func (t *Task) CanTransitionTo(next TaskStatus) bool {
	allowed, exists := validTaskTransitions[t.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the task to next and stamps milestone times.
func (t *Task) TransitionTo(next TaskStatus) error {
	if !t.CanTransitionTo(next) {
		return ErrInvalidTaskTransition
	}
	now := time.Now()
	t.Status = next
	t.UpdatedAt = now
	switch next {
	case TaskStatusAccepted:
		t.AcceptedAt = now
	case TaskStatusCompleted:
		t.CompletedAt = now
	}
	return nil
}

// Accept assigns the performer and moves the task to Accepted.
func (t *Task) Accept(performerID string) error {
	if err := t.TransitionTo(TaskStatusAccepted); err != nil {
		return err
	}
	t.PerformerID = performerID
	return nil
}

// IsTerminal reports whether the task can no longer change state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusCancelled
}

// IsTrackable reports whether a performer may share location for the task.
func (t *Task) IsTrackable() bool {
	return t.PerformerID != "" &&
		(t.Status == TaskStatusAccepted || t.Status == TaskStatusInProgress)
}

// IsParticipant reports whether userID is the creator or the performer.
func (t *Task) IsParticipant(userID string) bool {
	return userID != "" && (userID == t.CreatorID || userID == t.PerformerID)
}

// Summary projects the task for bundling.
func (t *Task) Summary() TaskSummary {
	loc := t.Location
	return TaskSummary{
		ID:                t.ID,
		Price:             t.Price.Total,
		EstimatedTimeText: t.EstimatedTimeText,
		EstimatedMinutes:  t.EstimatedMinutes,
		Location:          &loc,
	}
}
