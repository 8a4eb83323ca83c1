package entities

// TaskSummary is the projection of a task that bundling and pricing read.
// It is owned by the task store; the engines only read it.
//
// EstimatedMinutes is the structured duration. When it is nil the engine
// falls back to the leading integer of EstimatedTimeText ("15-20 minutes").
type TaskSummary struct {
	ID                string    `json:"id"`
	Price             float64   `json:"price"`
	EstimatedTimeText string    `json:"estimated_time,omitempty"`
	EstimatedMinutes  *int      `json:"estimated_minutes,omitempty"`
	Location          *Location `json:"location,omitempty"`
}

// TaskBundle is a small chain of nearby open tasks suggested as one trip.
//
// Invariant: 1 < len(Tasks) <= max bundle size, and every consecutive pair
// of tasks is within the max leg distance.
type TaskBundle struct {
	Tasks            []TaskSummary `json:"tasks"`
	TotalEarnings    float64       `json:"total_earnings"`
	TotalTimeMinutes int           `json:"total_time_minutes"`
	TotalDistanceKm  float64       `json:"total_distance_km"`
	// StartDistanceKm is the approach leg from the requester to the first
	// task. Nil when the requester location is unknown.
	StartDistanceKm *float64 `json:"start_distance_km,omitempty"`
}

// TaskIDs returns the ids of the bundled tasks in chain order.
func (b TaskBundle) TaskIDs() []string {
	ids := make([]string, len(b.Tasks))
	for i, t := range b.Tasks {
		ids[i] = t.ID
	}
	return ids
}
