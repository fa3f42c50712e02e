// Package kdtree implements the clustering KD-tree: a balanced two
// dimensional index whose internal nodes carry the weighted aggregate of
// their subtree. Nodes live in a slot arena and are addressed through
// generation-checked Refs, so a rebuild or a removal invalidates every
// outstanding reference instead of leaving it dangling.
package kdtree

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocluster/internal/geo"
)

const none int32 = -1

// cancelCheckEvery is how many node visits pass between context checks.
const cancelCheckEvery = 256

var epochs atomic.Uint64

// Ref addresses a node. The zero Ref addresses nothing.
type Ref struct {
	epoch uint64
	slot  int32 // slot index + 1
	gen   uint32
}

// IsZero reports whether r is the empty reference.
func (r Ref) IsZero() bool { return r.slot == 0 }

type node struct {
	live     bool
	gen      uint32
	axis     geo.Axis
	depth    int
	bounds   geo.Region
	count    int
	centroid geo.Coordinate
	key      string
	parent   int32
	left     int32
	right    int32
	point    geo.Point
}

func (n *node) leaf() bool { return n.left == none }

// Node is a read-only view of one tree node.
type Node struct {
	Ref      Ref
	Parent   Ref
	Axis     geo.Axis
	Depth    int
	Bounds   geo.Region
	Count    int
	Centroid geo.Coordinate
	// Key is the smallest point ID in the subtree. It identifies the
	// subtree across rebuilds of the same point set.
	Key  string
	Leaf bool
	// Point is set for leaves only.
	Point geo.Point
}

// Tree is a KD-tree over geo.Points. It is not safe for concurrent
// mutation; callers serialise Insert/Remove against readers.
type Tree struct {
	epoch    uint64
	power    float64
	nodes    []node
	free     []int32
	root     int32
	leaves   map[string]int32
	// depths counts leaves per depth; its length is the tree height.
	depths []int
}

// New returns an empty tree aggregating with the given discrimination power.
func New(power float64) *Tree {
	return &Tree{
		epoch:  epochs.Add(1),
		power:  power,
		root:   none,
		leaves: make(map[string]int32),
	}
}

// Build constructs a balanced tree from points. Points sharing an ID keep
// the first occurrence. An empty input yields an empty tree.
func Build(ctx context.Context, points []geo.Point, power float64) (*Tree, error) {
	t := New(power)
	if len(points) == 0 {
		return t, nil
	}

	order := make([]int, 0, len(points))
	seen := make(map[string]struct{}, len(points))
	for i, p := range points {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		order = append(order, i)
	}

	t.nodes = make([]node, 0, 2*len(order))
	b := &builder{ctx: ctx, tree: t, points: points}
	root, err := b.build(order, 0, none)
	if err != nil {
		return nil, err
	}
	t.root = root
	return t, nil
}

type builder struct {
	ctx    context.Context
	tree   *Tree
	points []geo.Point
	visits int
}

func (b *builder) build(idx []int, depth int, parent int32) (int32, error) {
	b.visits++
	if b.visits%cancelCheckEvery == 0 {
		if err := b.ctx.Err(); err != nil {
			return none, eris.Wrap(err, "kdtree: build cancelled")
		}
	}

	t := b.tree
	if len(idx) == 1 {
		return t.newLeaf(b.points[idx[0]], depth, parent), nil
	}

	axis := axisFor(depth)
	sort.Slice(idx, func(i, j int) bool {
		a, c := b.points[idx[i]].Coord.On(axis), b.points[idx[j]].Coord.On(axis)
		if a != c {
			return a < c
		}
		return idx[i] < idx[j]
	})

	slot := t.alloc()
	n := &t.nodes[slot]
	n.axis = axis
	n.depth = depth
	n.parent = parent

	mid := len(idx) / 2
	left, err := b.build(idx[:mid], depth+1, slot)
	if err != nil {
		return none, err
	}
	right, err := b.build(idx[mid:], depth+1, slot)
	if err != nil {
		return none, err
	}
	t.nodes[slot].left = left
	t.nodes[slot].right = right
	t.aggregate(slot)
	return slot, nil
}

// axisFor alternates split axes by depth parity.
func axisFor(depth int) geo.Axis {
	if depth%2 == 0 {
		return geo.AxisLatitude
	}
	return geo.AxisLongitude
}

func (t *Tree) alloc() int32 {
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		gen := t.nodes[slot].gen
		t.nodes[slot] = node{live: true, gen: gen, parent: none, left: none, right: none}
		return slot
	}
	t.nodes = append(t.nodes, node{live: true, parent: none, left: none, right: none})
	return int32(len(t.nodes) - 1)
}

func (t *Tree) release(slot int32) {
	n := &t.nodes[slot]
	gen := n.gen + 1
	*n = node{gen: gen, parent: none, left: none, right: none}
	t.free = append(t.free, slot)
}

func (t *Tree) newLeaf(p geo.Point, depth int, parent int32) int32 {
	slot := t.alloc()
	n := &t.nodes[slot]
	n.axis = axisFor(depth)
	n.depth = depth
	n.parent = parent
	n.point = p
	n.count = 1
	n.centroid = p.Coord
	n.bounds = geo.PointRegion(p.Coord)
	n.key = p.ID
	t.leaves[p.ID] = slot
	t.countLeaf(depth, 1)
	return slot
}

// countLeaf adjusts the leaf count at depth and trims empty trailing levels.
func (t *Tree) countLeaf(depth, delta int) {
	for len(t.depths) <= depth {
		t.depths = append(t.depths, 0)
	}
	t.depths[depth] += delta
	for n := len(t.depths); n > 0 && t.depths[n-1] == 0; n-- {
		t.depths = t.depths[:n-1]
	}
}

func (t *Tree) ref(slot int32) Ref {
	if slot == none {
		return Ref{}
	}
	return Ref{epoch: t.epoch, slot: slot + 1, gen: t.nodes[slot].gen}
}

// resolve maps a Ref to its slot, rejecting stale references.
func (t *Tree) resolve(r Ref) (int32, bool) {
	if r.IsZero() || r.epoch != t.epoch {
		return none, false
	}
	slot := r.slot - 1
	if int(slot) >= len(t.nodes) {
		return none, false
	}
	n := &t.nodes[slot]
	if !n.live || n.gen != r.gen {
		return none, false
	}
	return slot, true
}

func (t *Tree) view(slot int32) Node {
	n := &t.nodes[slot]
	v := Node{
		Ref:      t.ref(slot),
		Parent:   t.ref(n.parent),
		Axis:     n.axis,
		Depth:    n.depth,
		Bounds:   n.bounds,
		Count:    n.count,
		Centroid: n.centroid,
		Key:      n.key,
		Leaf:     n.leaf(),
	}
	if v.Leaf {
		v.Point = n.point
	}
	return v
}

// Epoch identifies this tree instance. Every Build produces a new epoch.
func (t *Tree) Epoch() uint64 { return t.epoch }

// Power is the discrimination power used for aggregation.
func (t *Tree) Power() float64 { return t.power }

// Len returns the number of indexed points.
func (t *Tree) Len() int { return len(t.leaves) }

// Depth returns the depth of the deepest current leaf.
func (t *Tree) Depth() int {
	if len(t.depths) == 0 {
		return 0
	}
	return len(t.depths) - 1
}

// Root returns the root node, if any.
func (t *Tree) Root() (Node, bool) {
	if t.root == none {
		return Node{}, false
	}
	return t.view(t.root), true
}

// Bounds returns the region covering every indexed point.
func (t *Tree) Bounds() (geo.Region, bool) {
	if t.root == none {
		return geo.Region{}, false
	}
	return t.nodes[t.root].bounds, true
}

// Node resolves r. Stale references report false.
func (t *Tree) Node(r Ref) (Node, bool) {
	slot, ok := t.resolve(r)
	if !ok {
		return Node{}, false
	}
	return t.view(slot), true
}

// Children returns the two children of an internal node.
func (t *Tree) Children(r Ref) (Node, Node, bool) {
	slot, ok := t.resolve(r)
	if !ok || t.nodes[slot].leaf() {
		return Node{}, Node{}, false
	}
	n := &t.nodes[slot]
	return t.view(n.left), t.view(n.right), true
}

// NodeForItem returns the leaf holding the point with the given ID.
func (t *Tree) NodeForItem(id string) (Node, bool) {
	slot, ok := t.leaves[id]
	if !ok {
		return Node{}, false
	}
	return t.view(slot), true
}

// IsAncestorOf reports whether a is a strict ancestor of b.
func (t *Tree) IsAncestorOf(a, b Ref) bool {
	as, ok := t.resolve(a)
	if !ok {
		return false
	}
	bs, ok := t.resolve(b)
	if !ok {
		return false
	}
	for p := t.nodes[bs].parent; p != none; p = t.nodes[p].parent {
		if p == as {
			return true
		}
	}
	return false
}

// ContainsItem reports whether the subtree at r holds the point with the given ID.
func (t *Tree) ContainsItem(r Ref, id string) bool {
	rs, ok := t.resolve(r)
	if !ok {
		return false
	}
	for s, ok := t.leaves[id]; ok && s != none; s = t.nodes[s].parent {
		if s == rs {
			return true
		}
	}
	return false
}

// Walk visits the points under r in left-to-right order until fn returns false.
func (t *Tree) Walk(r Ref, fn func(p geo.Point) bool) {
	slot, ok := t.resolve(r)
	if !ok {
		return
	}
	stack := []int32{slot}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[s]
		if n.leaf() {
			if !fn(n.point) {
				return
			}
			continue
		}
		stack = append(stack, n.right, n.left)
	}
}

// Sample returns up to k point IDs under r, spread across the subtree in
// proportion to child counts. It visits O(k·depth) nodes.
func (t *Tree) Sample(r Ref, k int) []string {
	slot, ok := t.resolve(r)
	if !ok || k <= 0 {
		return nil
	}
	if c := t.nodes[slot].count; k > c {
		k = c
	}
	ids := make([]string, 0, k)
	t.sample(slot, k, &ids)
	return ids
}

func (t *Tree) sample(slot int32, k int, ids *[]string) {
	if k <= 0 {
		return
	}
	n := &t.nodes[slot]
	if n.leaf() {
		*ids = append(*ids, n.point.ID)
		return
	}
	lc, rc := t.nodes[n.left].count, t.nodes[n.right].count
	kl := k * lc / n.count
	if kl == 0 && k > 1 {
		kl = 1
	}
	kr := k - kl
	if kr > rc {
		kr = rc
		kl = k - kr
	}
	t.sample(n.left, kl, ids)
	t.sample(n.right, kr, ids)
}

// Ancestry calls fn with the leaf holding id and then each of its ancestors
// up to the root, stopping early when fn returns false.
func (t *Tree) Ancestry(id string, fn func(r Ref) bool) {
	for s, ok := t.leaves[id]; ok && s != none; s = t.nodes[s].parent {
		if !fn(t.ref(s)) {
			return
		}
	}
}
