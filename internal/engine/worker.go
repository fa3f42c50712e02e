package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/diff"
	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
	"github.com/sells-group/geocluster/internal/planner"
)

// mutationLoop applies index mutations one at a time, in submission order.
func (e *Engine) mutationLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.mutations.signal:
		}
		for {
			m, ok := e.mutations.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			e.applyMutation(ctx, m)
			if e.mutations.len() == 0 {
				e.RequestRefresh()
			}
		}
	}
}

func (e *Engine) applyMutation(ctx context.Context, m mutation) {
	if e.dirty {
		e.rebuild(ctx)
		return
	}

	switch m.kind {
	case mutationRebuild:
		e.rebuild(ctx)

	case mutationAdd:
		e.treeMu.RLock()
		rebuild := m.force || e.cfg.Policy.Rebuild(e.tree, m.point.Coord)
		e.treeMu.RUnlock()
		if rebuild {
			e.rebuild(ctx)
			return
		}

		// A re-added ID replaces the indexed leaf so its title and payload
		// follow the point set.
		e.treeMu.Lock()
		if _, ok := e.tree.NodeForItem(m.point.ID); ok {
			e.tree.Remove(m.point.ID)
		}
		inserted := e.tree.Insert(m.point)
		e.treeMu.Unlock()
		if inserted {
			e.stats.inserts.Add(1)
		}

	case mutationRemove:
		e.treeMu.Lock()
		removed := e.tree.Remove(m.id)
		e.treeMu.Unlock()
		if removed {
			e.stats.removes.Add(1)
		}
	}
}

// rebuild replaces the tree with one built from the current point set. The
// build runs without holding the tree lock; only the swap is exclusive.
func (e *Engine) rebuild(ctx context.Context) {
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.opMu.Lock()
	e.cancelBuild = cancel
	e.opMu.Unlock()

	points := e.snapshot()
	gen := e.gen.Load()
	e.emit(Event{Type: EventBuildStarted, Generation: gen, Points: len(points)})

	start := time.Now()
	tree, err := kdtree.Build(bctx, points, e.cfg.DiscriminationPower)
	if err != nil {
		e.dirty = true
		e.log.Debug("engine: build abandoned", zap.Int("points", len(points)), zap.Error(err))
		return
	}

	e.treeMu.Lock()
	e.tree = tree
	e.treeMu.Unlock()
	e.dirty = false
	e.stats.builds.Add(1)

	e.log.Info("engine: tree built",
		zap.Int("points", len(points)),
		zap.Int("depth", tree.Depth()),
		zap.Duration("elapsed", time.Since(start)),
	)
	e.emit(Event{Type: EventBuildFinished, Generation: gen, Points: len(points)})
}

func (e *Engine) queryLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.queries.signal:
		}
		for {
			q, ok := e.queries.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				q.cancel()
				return nil
			}
			e.runQuery(q)
		}
	}
}

func (e *Engine) stale(q query) bool {
	return q.ctx.Err() != nil || q.gen != e.gen.Load()
}

func (e *Engine) cancelled(q query) {
	e.stats.cancelled.Add(1)
	e.emit(Event{Type: EventClusteringCancelled, Generation: q.gen, Region: q.region})
}

func (e *Engine) runQuery(q query) {
	defer q.cancel()
	if e.stale(q) {
		e.cancelled(q)
		return
	}
	e.emit(Event{Type: EventClusteringStarted, Generation: q.gen, Region: q.region})

	e.treeMu.RLock()
	tree := e.tree
	region := q.region
	if !q.hasRegion {
		region, _ = tree.Bounds()
	}
	sel, err := e.planner.Plan(q.ctx, tree, planner.Request{
		Region:        region,
		Buffer:        e.cfg.Buffer,
		Target:        e.cfg.TargetCount,
		MinRegionSpan: e.cfg.MinRegionSpan,
	})
	e.treeMu.RUnlock()
	if err != nil {
		if q.ctx.Err() == nil {
			e.log.Error("engine: plan failed", zap.Uint64("generation", q.gen), zap.Error(err))
		}
		e.cancelled(q)
		return
	}

	e.publish(q, tree, region, sel)
}

// publish applies the diff only if q is still the latest request. The
// finished event is emitted under the display lock so transitions reach
// the channel in the order they were applied; the renderer is called
// after the lock is released so it may read handles back through the engine.
func (e *Engine) publish(q query, tree *kdtree.Tree, region geo.Region, sel []planner.Selection) {
	tr, ok := e.applyDiff(q, tree, region, sel)
	if !ok {
		e.cancelled(q)
		return
	}

	if e.renderer != nil {
		for _, c := range tr.Continuing {
			if c.State.NeedsRefresh {
				e.renderer.RefreshHandle(c.Handle)
			}
		}
	}
}

// applyDiff matches sel against the displayed handles. The tree read lock
// is held while the diff resolves item ownership, since tree may still be
// the live index.
func (e *Engine) applyDiff(q query, tree *kdtree.Tree, region geo.Region, sel []planner.Selection) (*diff.Transition, bool) {
	e.displayMu.Lock()
	defer e.displayMu.Unlock()
	if e.stale(q) {
		return nil, false
	}

	e.treeMu.RLock()
	tr := e.diff.Apply(tree, sel)
	e.treeMu.RUnlock()
	e.stats.published.Add(1)
	e.log.Debug("engine: clustering published",
		zap.Uint64("generation", q.gen),
		zap.Int("continuing", len(tr.Continuing)),
		zap.Int("appearing", len(tr.Appearing)),
		zap.Int("disappearing", len(tr.Disappearing)),
	)
	e.emit(Event{
		Type:       EventClusteringFinished,
		Generation: q.gen,
		Region:     region,
		Selection:  sel,
		Transition: tr,
		Animation:  e.cfg.Animation,
	})
	return tr, true
}
