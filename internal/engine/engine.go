// Package engine schedules index builds and viewport queries in the
// background and publishes the resulting cluster transitions.
//
// Every request that supersedes the displayed state takes a new value from
// a generation counter. Workers re-check the generation before publishing,
// so a stale query is dropped even if it already ran to completion.
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geocluster/internal/diff"
	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/kdtree"
	"github.com/sells-group/geocluster/internal/label"
	"github.com/sells-group/geocluster/internal/planner"
)

// Config holds the clustering parameters.
type Config struct {
	TargetCount         int
	Buffer              geo.BufferSize
	DiscriminationPower float64
	MinRegionSpan       float64
	AppearanceAnimated  bool
	Policy              RebuildPolicy
	Workers             int
	EventBuffer         int
	Labels              label.Options
	Animation           AnimationOptions
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TargetCount:         20,
		Buffer:              geo.BufferMedium,
		DiscriminationPower: kdtree.NeutralPower,
		MinRegionSpan:       0.0005,
		AppearanceAnimated:  true,
		Policy:              RebuildPolicy{Threshold: 1000, MaxDepthFactor: 3},
		Workers:             2,
		EventBuffer:         64,
		Labels:              label.Options{Title: label.DefaultTitle, ShowSubtitle: true, MaxTitles: 5},
	}
}

// Renderer is the rendering collaborator's refresh capability.
type Renderer interface {
	RefreshHandle(h *diff.Handle)
}

// ViewportSource maps the collaborator's current viewport to a region.
type ViewportSource interface {
	VisibleRegion() geo.Region
}

// Option configures an Engine.
type Option func(*Engine)

// WithRenderer installs the collaborator asked to refresh changed handles.
func WithRenderer(r Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithViewport makes queries read their region from v.
func WithViewport(v ViewportSource) Option {
	return func(e *Engine) { e.viewport = v }
}

// WithLogger overrides the global zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

type mutationKind int

const (
	mutationAdd mutationKind = iota
	mutationRemove
	mutationRebuild
)

type mutation struct {
	kind  mutationKind
	point geo.Point
	id    string
	force bool
}

type query struct {
	ctx       context.Context
	cancel    context.CancelFunc
	gen       uint64
	region    geo.Region
	hasRegion bool
}

// Stats counts engine activity.
type Stats struct {
	Builds        int64
	Inserts       int64
	Removes       int64
	Published     int64
	Cancelled     int64
	DroppedEvents int64
}

type counters struct {
	builds, inserts, removes, published, cancelled, droppedEvents atomic.Int64
}

// Engine owns the point set, the KD-tree and the displayed handles.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	planner  *planner.Planner
	renderer Renderer
	viewport ViewportSource

	base context.Context
	stop context.CancelFunc

	pointsMu sync.Mutex
	points   map[string]geo.Point
	seq      map[string]uint64
	nextSeq  uint64

	treeMu sync.RWMutex
	tree   *kdtree.Tree
	// dirty is owned by the mutation worker: a cancelled build leaves the
	// tree behind the point set until the next rebuild.
	dirty bool

	regionMu  sync.Mutex
	region    geo.Region
	hasRegion bool

	gen         atomic.Uint64
	opMu        sync.Mutex
	cancelQuery context.CancelFunc
	cancelBuild context.CancelFunc

	displayMu sync.Mutex
	diff      *diff.Engine

	mutations *jobQueue[mutation]
	queries   *jobQueue[query]
	events    chan Event
	stats     counters

	startOnce sync.Once
	group     *errgroup.Group
}

// New creates an idle engine. Requests may be submitted before Start; they
// run once the workers are started.
func New(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TargetCount <= 0 {
		cfg.TargetCount = def.TargetCount
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	base, stop := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		log:       zap.L(),
		planner:   planner.New(label.New(cfg.Labels)),
		base:      base,
		stop:      stop,
		points:    make(map[string]geo.Point),
		seq:       make(map[string]uint64),
		tree:      kdtree.New(cfg.DiscriminationPower),
		diff:      diff.NewEngine(cfg.AppearanceAnimated),
		mutations: newJobQueue[mutation](),
		queries:   newJobQueue[query](),
		events:    make(chan Event, cfg.EventBuffer),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(zap.String("component", "engine"))
	return e
}

// Start launches one mutation worker and cfg.Workers query workers. They
// stop when ctx is cancelled or Close is called.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		context.AfterFunc(e.base, cancel)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return e.mutationLoop(gctx) })
		for i := 0; i < e.cfg.Workers; i++ {
			g.Go(func() error { return e.queryLoop(gctx) })
		}
		e.group = g
		e.log.Debug("engine: started", zap.Int("workers", e.cfg.Workers))
	})
}

// Close cancels outstanding work and waits for the workers to exit.
func (e *Engine) Close() error {
	e.stop()
	e.opMu.Lock()
	if e.cancelBuild != nil {
		e.cancelBuild()
	}
	e.opMu.Unlock()
	if e.group == nil {
		return nil
	}
	if err := e.group.Wait(); err != nil && !eris.Is(err, context.Canceled) {
		return eris.Wrap(err, "engine: close")
	}
	return nil
}

// Events is the notification channel consumed by the renderer.
func (e *Engine) Events() <-chan Event { return e.events }

// Stats returns a snapshot of the activity counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Builds:        e.stats.builds.Load(),
		Inserts:       e.stats.inserts.Load(),
		Removes:       e.stats.removes.Load(),
		Published:     e.stats.published.Load(),
		Cancelled:     e.stats.cancelled.Load(),
		DroppedEvents: e.stats.droppedEvents.Load(),
	}
}

// Len returns the number of points accepted so far.
func (e *Engine) Len() int {
	e.pointsMu.Lock()
	defer e.pointsMu.Unlock()
	return len(e.points)
}

// AddPoint adds one point, inserting incrementally when the rebuild policy
// allows it.
func (e *Engine) AddPoint(p geo.Point) error {
	return e.AddPointRefresh(p, false)
}

// AddPointRefresh adds one point; force always takes the rebuild path.
func (e *Engine) AddPointRefresh(p geo.Point, force bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.store(p)
	e.supersede()
	e.mutations.push(mutation{kind: mutationAdd, point: p, force: force})
	return nil
}

// AddPoints adds a batch and always rebuilds. Invalid points are skipped;
// the returned error reports how many were rejected.
func (e *Engine) AddPoints(ps []geo.Point) (int, error) {
	accepted, rejected := 0, 0
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			rejected++
			e.log.Debug("engine: rejected point", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		e.store(p)
		accepted++
	}

	e.opMu.Lock()
	if e.cancelBuild != nil {
		e.cancelBuild()
	}
	e.opMu.Unlock()
	e.supersede()
	e.mutations.push(mutation{kind: mutationRebuild})

	if rejected > 0 {
		return accepted, eris.Wrapf(geo.ErrInvalidCoordinate, "engine: %d of %d points rejected", rejected, len(ps))
	}
	return accepted, nil
}

// RemovePoint removes the point with the given ID. Unknown IDs return false.
func (e *Engine) RemovePoint(id string) bool {
	e.pointsMu.Lock()
	_, ok := e.points[id]
	if ok {
		delete(e.points, id)
		delete(e.seq, id)
	}
	e.pointsMu.Unlock()
	if !ok {
		return false
	}
	e.supersede()
	e.mutations.push(mutation{kind: mutationRemove, id: id})
	return true
}

// SetViewport records the visible region and schedules a query for it.
func (e *Engine) SetViewport(region geo.Region) {
	e.regionMu.Lock()
	e.region, e.hasRegion = region, true
	e.regionMu.Unlock()
	e.RequestRefresh()
}

// RequestRefresh re-runs the query and diff pipeline without touching the index.
func (e *Engine) RequestRefresh() {
	q := query{}
	if e.viewport != nil {
		q.region, q.hasRegion = e.viewport.VisibleRegion(), true
	} else {
		e.regionMu.Lock()
		q.region, q.hasRegion = e.region, e.hasRegion
		e.regionMu.Unlock()
	}

	q.ctx, q.cancel = context.WithCancel(e.base)
	e.opMu.Lock()
	if e.cancelQuery != nil {
		e.cancelQuery()
	}
	e.cancelQuery = q.cancel
	q.gen = e.gen.Add(1)
	e.opMu.Unlock()

	e.queries.push(q)
}

// HandleForItem returns the displayed handle currently representing the item.
func (e *Engine) HandleForItem(id string) (*diff.Handle, bool) {
	e.displayMu.Lock()
	defer e.displayMu.Unlock()
	e.treeMu.RLock()
	defer e.treeMu.RUnlock()
	return e.diff.HandleForItem(id)
}

// Displayed returns the handles currently shown, excluding pending removals.
func (e *Engine) Displayed() []*diff.Handle {
	e.displayMu.Lock()
	defer e.displayMu.Unlock()
	return e.diff.Displayed()
}

// AnimationFinished releases handles whose removal animation completed.
func (e *Engine) AnimationFinished() int {
	e.displayMu.Lock()
	defer e.displayMu.Unlock()
	return e.diff.Complete()
}

// store records p in the authoritative point set.
func (e *Engine) store(p geo.Point) {
	e.pointsMu.Lock()
	defer e.pointsMu.Unlock()
	if _, ok := e.points[p.ID]; !ok {
		e.nextSeq++
		e.seq[p.ID] = e.nextSeq
	}
	e.points[p.ID] = p
}

// snapshot returns the point set in insertion order.
func (e *Engine) snapshot() []geo.Point {
	e.pointsMu.Lock()
	defer e.pointsMu.Unlock()
	out := make([]geo.Point, 0, len(e.points))
	for _, p := range e.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return e.seq[out[i].ID] < e.seq[out[j].ID] })
	return out
}

// supersede invalidates the displayed-state generation and cancels the
// in-flight query.
func (e *Engine) supersede() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.cancelQuery != nil {
		e.cancelQuery()
		e.cancelQuery = nil
	}
	e.gen.Add(1)
}
