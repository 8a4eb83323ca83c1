package repository

import (
	"context"
	"time"

	"campusrun/internal/domain/entities"
)

// SnapshotSink receives every snapshot a store accepted. Publish must not
// block the writer.
type SnapshotSink interface {
	Publish(snapshot entities.TrackingSnapshot)
}

// FanoutStore wraps a TrackingStateStore and forwards accepted writes and
// clears to sinks such as a message broker. Rejected writes are not
// forwarded.
type FanoutStore struct {
	TrackingStateStore
	sinks []SnapshotSink
}

func NewFanoutStore(inner TrackingStateStore, sinks ...SnapshotSink) *FanoutStore {
	return &FanoutStore{TrackingStateStore: inner, sinks: sinks}
}

func (f *FanoutStore) Put(ctx context.Context, snapshot entities.TrackingSnapshot) error {
	if err := f.TrackingStateStore.Put(ctx, snapshot); err != nil {
		return err
	}
	for _, sink := range f.sinks {
		sink.Publish(snapshot.Clone())
	}
	return nil
}

func (f *FanoutStore) Clear(ctx context.Context, taskID string) error {
	if err := f.TrackingStateStore.Clear(ctx, taskID); err != nil {
		return err
	}
	cleared := entities.ClearedSnapshot(taskID, time.Now())
	for _, sink := range f.sinks {
		sink.Publish(cleared)
	}
	return nil
}
