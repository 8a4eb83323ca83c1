// Package positioning is where device positions enter the engine. Performer
// clients push fixes and error reports over HTTP; tracking sessions consume
// them through the Source and CoarseLocator interfaces.
package positioning

import (
	"context"
	"time"

	"campusrun/internal/domain/entities"
)

// FixOptions tunes a one-shot position request.
//
// MaxAccuracyMeters of zero accepts any accuracy. MaxAge allows a recent
// cached fix to answer immediately; zero always waits for a new one.
type FixOptions struct {
	HighAccuracy      bool
	Timeout           time.Duration
	MaxAccuracyMeters float64
	MaxAge            time.Duration
}

// Source is one performer's position stream.
//
// Watch delivers every subsequent fix to onUpdate and every device error to
// onError until cancel is called or ctx ends.
type Source interface {
	CurrentPosition(ctx context.Context, opts FixOptions) (entities.Location, error)
	Watch(ctx context.Context, onUpdate func(entities.Location), onError func(error)) (cancel func())
}

// CoarseLocator answers with a low-precision, network-derived position.
type CoarseLocator interface {
	CoarseLocation(ctx context.Context, performerID string) (entities.Location, error)
}

// SourceProvider hands out the Source for a performer.
type SourceProvider interface {
	SourceFor(performerID string) Source
}
