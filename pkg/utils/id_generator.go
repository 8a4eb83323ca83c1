// Package utils holds small helpers shared by the engines: distance math,
// money rounding and identifier generation.
package utils

import (
	"github.com/google/uuid"
)

// GenerateID creates a new random UUID string for a task.
func GenerateID() string {
	return uuid.New().String()
}

// GenerateSessionID creates the opaque handle returned to a performer when a
// tracking session starts. Handles are random so a reader that learns a task
// id cannot guess the handle needed to stop its session.
func GenerateSessionID() string {
	return "trk_" + uuid.New().String()
}
