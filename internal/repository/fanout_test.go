package repository_test

import (
	"context"
	"errors"
	"testing"

	"campusrun/internal/domain/entities"
	"campusrun/internal/repository"
	"campusrun/internal/repository/memory"
)

type captureSink struct {
	got []entities.TrackingSnapshot
}

func (c *captureSink) Publish(s entities.TrackingSnapshot) { c.got = append(c.got, s) }

func TestFanoutStore(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	store := repository.NewFanoutStore(memory.NewStateStore(), sink)

	snap := entities.TrackingSnapshot{TaskID: "t1", Version: 1, State: entities.TrackingActive}
	if err := store.Put(ctx, snap); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, snap); !errors.Is(err, repository.ErrStaleVersion) {
		t.Fatalf("Expected ErrStaleVersion, got %v", err)
	}
	if err := store.Clear(ctx, "t1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if len(sink.got) != 2 {
		t.Fatalf("Expected the accepted write and the clear, got %d", len(sink.got))
	}
	if sink.got[0].Version != 1 || sink.got[1].State != entities.TrackingStopped {
		t.Errorf("Unexpected forwarded snapshots %+v", sink.got)
	}
	if _, found, _ := store.Get(ctx, "t1"); found {
		t.Error("Expected Get to reach the wrapped store")
	}
}
