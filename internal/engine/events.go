package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/diff"
	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/planner"
)

// EventType tags lifecycle notifications.
type EventType int

const (
	EventBuildStarted EventType = iota + 1
	EventBuildFinished
	EventClusteringStarted
	EventClusteringFinished
	EventClusteringCancelled
)

func (t EventType) String() string {
	switch t {
	case EventBuildStarted:
		return "build_started"
	case EventBuildFinished:
		return "build_finished"
	case EventClusteringStarted:
		return "clustering_started"
	case EventClusteringFinished:
		return "clustering_finished"
	case EventClusteringCancelled:
		return "clustering_cancelled"
	default:
		return "unknown"
	}
}

// AnimationOptions are passed through to the renderer with each transition.
type AnimationOptions struct {
	Duration       time.Duration
	SpringDamping  float64
	SpringVelocity float64
}

// Event is one notification on the engine's event channel.
type Event struct {
	Type EventType
	// Generation is the request generation the event belongs to.
	Generation uint64
	// Points is the indexed point count for build events.
	Points int
	// Region is the queried region for clustering events.
	Region geo.Region
	// Selection and Transition are set on EventClusteringFinished.
	Selection  []planner.Selection
	Transition *diff.Transition
	Animation  AnimationOptions
}

// emit publishes without blocking; a full channel drops the event.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.stats.droppedEvents.Add(1)
		e.log.Warn("engine: event channel full, dropping event",
			zap.Stringer("type", ev.Type),
			zap.Uint64("generation", ev.Generation),
		)
	}
}
