package kdtree

import (
	"github.com/sells-group/geocluster/internal/geo"
)

// Insert adds p without rebuilding. It descends toward the child whose
// bounds are closest to p, splits the reached leaf and re-aggregates every
// ancestor. It returns false if a point with the same ID is already indexed.
func (t *Tree) Insert(p geo.Point) bool {
	if _, ok := t.leaves[p.ID]; ok {
		return false
	}
	if t.root == none {
		t.root = t.newLeaf(p, 0, none)
		return true
	}

	cur := t.root
	for !t.nodes[cur].leaf() {
		n := &t.nodes[cur]
		cur = t.closerChild(n.left, n.right, p.Coord)
	}

	old := &t.nodes[cur]
	depth := old.depth
	parent := old.parent
	axis := axisFor(depth)
	oldCoord := old.point.Coord

	split := t.alloc()
	leaf := t.newLeaf(p, depth+1, split)
	t.nodes[cur].depth = depth + 1
	t.nodes[cur].axis = axisFor(depth + 1)
	t.countLeaf(depth, -1)
	t.countLeaf(depth+1, 1)
	t.nodes[cur].parent = split

	s := &t.nodes[split]
	s.axis = axis
	s.depth = depth
	s.parent = parent
	if p.Coord.On(axis) < oldCoord.On(axis) {
		s.left, s.right = leaf, cur
	} else {
		s.left, s.right = cur, leaf
	}
	t.replaceChild(parent, cur, split)
	t.reaggregate(split)
	return true
}

// closerChild picks the child whose bounds are nearer c. Ties go to the
// smaller subtree, then to the left.
func (t *Tree) closerChild(l, r int32, c geo.Coordinate) int32 {
	dl := geo.RegionDistance(t.nodes[l].bounds, c)
	dr := geo.RegionDistance(t.nodes[r].bounds, c)
	switch {
	case dl < dr:
		return l
	case dr < dl:
		return r
	case t.nodes[r].count < t.nodes[l].count:
		return r
	default:
		return l
	}
}

// replaceChild points parent at to instead of from; none makes to the root.
func (t *Tree) replaceChild(parent, from, to int32) {
	if parent == none {
		t.root = to
		return
	}
	p := &t.nodes[parent]
	if p.left == from {
		p.left = to
	} else {
		p.right = to
	}
}

// Remove deletes the point with the given ID. Its parent collapses into the
// sibling subtree. Removing an absent ID returns false.
func (t *Tree) Remove(id string) bool {
	slot, ok := t.leaves[id]
	if !ok {
		return false
	}
	delete(t.leaves, id)
	t.countLeaf(t.nodes[slot].depth, -1)

	parent := t.nodes[slot].parent
	if parent == none {
		t.root = none
		t.release(slot)
		return true
	}

	p := &t.nodes[parent]
	sibling := p.left
	if sibling == slot {
		sibling = p.right
	}
	grand := p.parent

	t.replaceChild(grand, parent, sibling)
	t.nodes[sibling].parent = grand
	t.shiftDepth(sibling, -1)

	t.release(slot)
	t.release(parent)
	if grand != none {
		t.reaggregate(grand)
	}
	return true
}

// shiftDepth moves every node under slot by delta levels, re-deriving its
// split axis from the new depth.
func (t *Tree) shiftDepth(slot int32, delta int) {
	stack := []int32{slot}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[s]
		if n.leaf() {
			t.countLeaf(n.depth, -1)
			t.countLeaf(n.depth+delta, 1)
		} else {
			stack = append(stack, n.left, n.right)
		}
		n.depth += delta
		n.axis = axisFor(n.depth)
	}
}
