package geo

import (
	"sort"
	"strings"
	"sync"

	"campusrun/internal/domain/entities"
)

// TaskWithDistance pairs an indexed task with its distance from a query
// point.
type TaskWithDistance struct {
	Task       entities.TaskSummary
	DistanceKm float64
}

type indexedTask struct {
	summary entities.TaskSummary
	geohash string
}

// TaskIndex is an in-memory geohash index over open tasks. Bundling asks it
// for the tasks near a requester so the O(n^2) chaining only sees a screen's
// worth of candidates.
//
// Tasks are bucketed by their full-precision geohash. A query picks a
// coarser search precision whose cells are at least as large as the radius,
// takes that cell and its 8 neighbors, and only measures tasks whose hash
// starts with one of those 9 prefixes.
type TaskIndex struct {
	mu        sync.RWMutex
	precision int
	cells     map[string]map[string]*indexedTask // geohash -> taskID -> task
	byID      map[string]*indexedTask
}

// NewTaskIndex creates an empty index with the given geohash precision.
func NewTaskIndex(precision int) *TaskIndex {
	return &TaskIndex{
		precision: clampPrecision(precision),
		cells:     make(map[string]map[string]*indexedTask),
		byID:      make(map[string]*indexedTask),
	}
}

// Upsert adds or moves a task. Tasks without a valid location are removed
// instead, since they can never be bundled.
func (idx *TaskIndex) Upsert(task entities.TaskSummary) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(task.ID)
	if !task.Location.Valid() {
		return
	}

	gh := Encode(task.Location.Latitude, task.Location.Longitude, idx.precision)
	entry := &indexedTask{summary: task, geohash: gh}
	if _, exists := idx.cells[gh]; !exists {
		idx.cells[gh] = make(map[string]*indexedTask)
	}
	idx.cells[gh][task.ID] = entry
	idx.byID[task.ID] = entry
}

// Remove drops a task, e.g. once it has been accepted.
func (idx *TaskIndex) Remove(taskID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(taskID)
}

func (idx *TaskIndex) removeLocked(taskID string) {
	entry, exists := idx.byID[taskID]
	if !exists {
		return
	}
	if cell, ok := idx.cells[entry.geohash]; ok {
		delete(cell, taskID)
		if len(cell) == 0 {
			delete(idx.cells, entry.geohash)
		}
	}
	delete(idx.byID, taskID)
}

// Get returns the indexed summary for a task.
func (idx *TaskIndex) Get(taskID string) (entities.TaskSummary, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.byID[taskID]
	if !ok {
		return entities.TaskSummary{}, false
	}
	return entry.summary, true
}

// FindNearby returns the tasks within radiusKm of center, nearest first.
// Ties keep a stable order by task id so repeated queries yield the same
// candidate order, which bundling depends on.
func (idx *TaskIndex) FindNearby(center entities.Location, radiusKm float64) []TaskWithDistance {
	if !center.Valid() || radiusKm <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	p := SearchPrecision(center.Latitude, radiusKm, idx.precision)
	prefixes := make(map[string]struct{}, 9)
	for _, gh := range AllNeighbors(Encode(center.Latitude, center.Longitude, p)) {
		prefixes[gh] = struct{}{}
	}

	var out []TaskWithDistance
	for gh, cell := range idx.cells {
		if _, ok := prefixes[gh[:p]]; !ok {
			continue
		}
		for _, entry := range cell {
			d := DistanceKm(&center, entry.summary.Location)
			if d <= radiusKm {
				out = append(out, TaskWithDistance{Task: entry.summary, DistanceKm: d})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return strings.Compare(out[i].Task.ID, out[j].Task.ID) < 0
	})
	return out
}

// Count returns the number of indexed tasks.
func (idx *TaskIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}
