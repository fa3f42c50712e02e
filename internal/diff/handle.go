// Package diff matches successive cluster selections so that the renderer
// can animate moves instead of tearing annotations down and recreating them.
package diff

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
	"github.com/sells-group/geocluster/internal/planner"
)

// Kind distinguishes single points from clusters.
type Kind int

const (
	KindLeaf Kind = iota + 1
	KindCluster
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// Phase is a handle's position in the absent → appearing → displayed →
// disappearing → absent lifecycle.
type Phase int

const (
	PhaseAbsent Phase = iota
	PhaseAppearing
	PhaseDisplayed
	PhaseDisappearing
)

func (p Phase) String() string {
	switch p {
	case PhaseAppearing:
		return "appearing"
	case PhaseDisplayed:
		return "displayed"
	case PhaseDisappearing:
		return "disappearing"
	default:
		return "absent"
	}
}

// State is a point-in-time copy of a handle.
type State struct {
	ID    uuid.UUID
	Kind  Kind
	Phase Phase
	// Before and After bound the current animation.
	Before         geo.Coordinate
	After          geo.Coordinate
	PendingRemoval bool
	// PopIn asks for a scale animation instead of a translation.
	PopIn bool
	// NeedsRefresh is set when the represented count or title changed.
	NeedsRefresh bool
	// Node is a weak reference into the tree the selection came from.
	Node     kdtree.Ref
	Key      string
	Count    int
	Title    string
	Subtitle string
	Sample   []string
}

// Handle is the stable identity the renderer keeps for one annotation.
// It survives moves and is recycled through a pool once removed.
type Handle struct {
	mu    sync.RWMutex
	state State
}

func newHandle() *Handle {
	return &Handle{state: State{ID: uuid.New(), Before: geo.Offscreen, After: geo.Offscreen}}
}

// ID is the handle's stable identifier.
func (h *Handle) ID() uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.ID
}

// State returns a copy of the handle's current state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.state
	s.Sample = append([]string(nil), h.state.Sample...)
	return s
}

// Node returns the tree reference the handle currently represents.
func (h *Handle) Node() kdtree.Ref {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Node
}

// Coordinate is where the handle rests once its animation completes.
func (h *Handle) Coordinate() geo.Coordinate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.After
}

func (h *Handle) update(fn func(s *State)) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.state)
	s := h.state
	s.Sample = append([]string(nil), h.state.Sample...)
	return s
}

// attach points the handle at a new selection.
func attach(s *State, sel planner.Selection) {
	kind := KindCluster
	if sel.Leaf {
		kind = KindLeaf
	}
	s.NeedsRefresh = s.Kind != kind || s.Count != sel.Count || s.Title != sel.Title || s.Subtitle != sel.Subtitle
	s.Kind = kind
	s.Node = sel.Node
	s.Key = sel.Key
	s.Count = sel.Count
	s.Title = sel.Title
	s.Subtitle = sel.Subtitle
	s.Sample = sel.Sample
	s.After = sel.Centroid
}
