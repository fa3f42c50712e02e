package diff

import (
	"sort"

	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
	"github.com/sells-group/geocluster/internal/planner"
)

// Change pairs a handle with the state it was given by a transition.
type Change struct {
	Handle *Handle
	State  State
}

// Transition is the ordered result of matching a new selection against
// the displayed one.
type Transition struct {
	Continuing   []Change
	Appearing    []Change
	Disappearing []Change
}

// Empty reports whether the transition changes nothing.
func (t *Transition) Empty() bool {
	return len(t.Continuing) == 0 && len(t.Appearing) == 0 && len(t.Disappearing) == 0
}

// Engine tracks the displayed handles across transitions. It is not safe
// for concurrent use; the scheduler serialises Apply and Complete.
type Engine struct {
	popIn     bool
	displayed []*Handle
	pending   []*Handle
	pool      []*Handle
	// tree is the index the displayed selection was planned from.
	tree     *kdtree.Tree
	byNode   map[kdtree.Ref]*Handle
	bySample map[string]*Handle
}

// NewEngine returns an Engine. popIn marks appearing handles that have no
// prior position for a scale animation.
func NewEngine(popIn bool) *Engine {
	return &Engine{
		popIn:    popIn,
		byNode:   make(map[kdtree.Ref]*Handle),
		bySample: make(map[string]*Handle),
	}
}

type pair struct {
	next, prev int
	overlap    float64
	dist       float64
}

// Apply matches next, planned from t, against the displayed selection and
// mutates handles in place. Selections match on identical tree node,
// otherwise on the largest estimated item overlap with ties going to the
// nearest centroid. Overlap is only computed for selections left unmatched
// by node identity. A nil t resolves ownership from the selection samples
// alone.
func (e *Engine) Apply(t *kdtree.Tree, next []planner.Selection) *Transition {
	e.Complete()

	prev := make([]State, len(e.displayed))
	for j, h := range e.displayed {
		prev[j] = h.State()
	}

	matchNext := make([]int, len(next))
	matchPrev := make([]int, len(prev))
	for i := range matchNext {
		matchNext[i] = -1
	}
	for j := range matchPrev {
		matchPrev[j] = -1
	}

	byNode := make(map[kdtree.Ref]int, len(prev))
	for j, s := range prev {
		if !s.Node.IsZero() {
			byNode[s.Node] = j
		}
	}
	unmatchedNext := 0
	for i, sel := range next {
		if j, ok := byNode[sel.Node]; ok && !sel.Node.IsZero() && matchPrev[j] < 0 {
			matchNext[i], matchPrev[j] = j, i
			continue
		}
		unmatchedNext++
	}

	var prevOwner, nextOwner *owners
	if unmatchedNext > 0 {
		prevOwner = newOwners(e.tree, len(prev),
			func(j int) kdtree.Ref { return prev[j].Node },
			func(j int) []string { return prev[j].Sample })
	}
	if len(prev)-(len(next)-unmatchedNext) > 0 {
		nextOwner = newOwners(t, len(next),
			func(i int) kdtree.Ref { return next[i].Node },
			func(i int) []string { return next[i].Sample })
	}

	var pairs []pair
	for i, sel := range next {
		if matchNext[i] >= 0 || len(sel.Sample) == 0 {
			continue
		}
		scale := float64(sel.Count) / float64(len(sel.Sample))
		for j, n := range prevOwner.votes(sel.Sample) {
			if matchPrev[j] >= 0 {
				continue
			}
			pairs = append(pairs, pair{next: i, prev: j, overlap: float64(n) * scale, dist: geo.Distance(sel.Centroid, prev[j].After)})
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.overlap != pb.overlap {
			return pa.overlap > pb.overlap
		}
		if pa.dist != pb.dist {
			return pa.dist < pb.dist
		}
		if pa.next != pb.next {
			return pa.next < pb.next
		}
		return pa.prev < pb.prev
	})
	for _, p := range pairs {
		if matchNext[p.next] < 0 && matchPrev[p.prev] < 0 {
			matchNext[p.next], matchPrev[p.prev] = p.prev, p.next
		}
	}

	tr := &Transition{}
	displayed := make([]*Handle, 0, len(next))

	for i, sel := range next {
		if j := matchNext[i]; j >= 0 {
			h := e.displayed[j]
			st := h.update(func(s *State) {
				s.Before = s.After
				attach(s, sel)
				s.Phase = PhaseDisplayed
				s.PopIn = false
			})
			tr.Continuing = append(tr.Continuing, Change{Handle: h, State: st})
			displayed = append(displayed, h)
			continue
		}

		j, found := best(prevOwner.votes(sel.Sample))
		h := e.acquire()
		st := h.update(func(s *State) {
			attach(s, sel)
			s.Phase = PhaseAppearing
			s.PendingRemoval = false
			s.NeedsRefresh = true
			if found {
				s.Before = prev[j].After
				s.PopIn = false
			} else {
				s.Before = sel.Centroid
				s.PopIn = e.popIn
			}
		})
		tr.Appearing = append(tr.Appearing, Change{Handle: h, State: st})
		displayed = append(displayed, h)
	}

	for j, h := range e.displayed {
		if matchPrev[j] >= 0 {
			continue
		}
		i, found := best(nextOwner.votes(prev[j].Sample))
		st := h.update(func(s *State) {
			s.Before = s.After
			if found {
				s.After = next[i].Centroid
			}
			s.Phase = PhaseDisappearing
			s.PendingRemoval = true
			s.PopIn = false
			s.NeedsRefresh = false
		})
		tr.Disappearing = append(tr.Disappearing, Change{Handle: h, State: st})
		e.pending = append(e.pending, h)
	}

	e.displayed = displayed
	e.tree = t
	e.byNode = make(map[kdtree.Ref]*Handle, len(displayed))
	e.bySample = make(map[string]*Handle, len(e.bySample))
	for i, h := range displayed {
		if !next[i].Node.IsZero() {
			e.byNode[next[i].Node] = h
		}
		for _, id := range next[i].Sample {
			e.bySample[id] = h
		}
	}
	return tr
}

// Complete finishes pending removals: each handle is parked at the
// off-screen sentinel and returned to the pool. It returns the number of
// handles released.
func (e *Engine) Complete() int {
	n := len(e.pending)
	for _, h := range e.pending {
		h.update(func(s *State) {
			id := s.ID
			*s = State{ID: id, Phase: PhaseAbsent, Before: geo.Offscreen, After: geo.Offscreen}
		})
		e.pool = append(e.pool, h)
	}
	e.pending = e.pending[:0]
	return n
}

func (e *Engine) acquire() *Handle {
	if n := len(e.pool); n > 0 {
		h := e.pool[n-1]
		e.pool = e.pool[:n-1]
		return h
	}
	return newHandle()
}

// HandleForItem returns the displayed handle representing the item. The
// item's ancestry in the displayed tree is walked until a displayed node
// is found; items outside the tree fall back to the selection samples.
func (e *Engine) HandleForItem(id string) (*Handle, bool) {
	var found *Handle
	if e.tree != nil {
		e.tree.Ancestry(id, func(r kdtree.Ref) bool {
			found = e.byNode[r]
			return found == nil
		})
	}
	if found != nil {
		return found, true
	}
	h, ok := e.bySample[id]
	return h, ok
}

// Displayed returns the handles currently on screen, excluding pending removals.
func (e *Engine) Displayed() []*Handle {
	return append([]*Handle(nil), e.displayed...)
}

// Pooled returns the number of handles available for reuse.
func (e *Engine) Pooled() int { return len(e.pool) }

// owners maps item IDs to the selection that represents them.
type owners struct {
	tree     *kdtree.Tree
	byRef    map[kdtree.Ref]int
	bySample map[string]int
}

func newOwners(t *kdtree.Tree, n int, ref func(int) kdtree.Ref, sample func(int) []string) *owners {
	o := &owners{tree: t, byRef: make(map[kdtree.Ref]int, n), bySample: make(map[string]int)}
	for k := 0; k < n; k++ {
		if r := ref(k); !r.IsZero() {
			o.byRef[r] = k
		}
		for _, id := range sample(k) {
			o.bySample[id] = k
		}
	}
	return o
}

// of returns the selection holding id: the nearest selected ancestor in the
// tree, otherwise the selection whose sample lists it.
func (o *owners) of(id string) (int, bool) {
	owner := -1
	if o.tree != nil {
		o.tree.Ancestry(id, func(r kdtree.Ref) bool {
			if k, ok := o.byRef[r]; ok {
				owner = k
				return false
			}
			return true
		})
	}
	if owner >= 0 {
		return owner, true
	}
	k, ok := o.bySample[id]
	return k, ok
}

// votes counts, per owner, how many of ids it holds.
func (o *owners) votes(ids []string) map[int]int {
	counts := make(map[int]int)
	if o == nil {
		return counts
	}
	for _, id := range ids {
		if k, ok := o.of(id); ok {
			counts[k]++
		}
	}
	return counts
}

// best returns the owner with the most votes, lowest index winning ties.
func best(votes map[int]int) (int, bool) {
	k, n := -1, 0
	for owner, c := range votes {
		if c > n || (c == n && owner < k) {
			k, n = owner, c
		}
	}
	return k, k >= 0
}
