package kdtree

import (
	"container/heap"
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocluster/internal/geo"
)

// Find returns at most n nodes whose subtrees intersect region and together
// cover every indexed point inside it. The descent always opens the
// intersecting node with the largest count next and stops as soon as
// opening it would exceed n. A node is either opened or returned, never
// both. Results are ordered by count descending, then by Key.
func (t *Tree) Find(ctx context.Context, n int, region geo.Region) ([]Node, error) {
	if n <= 0 || t.root == none || !t.nodes[t.root].bounds.Intersects(region) {
		return nil, nil
	}

	var leaves []int32
	frontier := &slotHeap{tree: t}
	t.collect(t.root, frontier, &leaves)

	visits := 0
	for frontier.Len() > 0 {
		visits++
		if visits%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "kdtree: find cancelled")
			}
		}

		top := frontier.slots[0]
		nd := &t.nodes[top]
		open := 0
		if t.nodes[nd.left].bounds.Intersects(region) {
			open++
		}
		if t.nodes[nd.right].bounds.Intersects(region) {
			open++
		}
		if frontier.Len()+len(leaves)-1+open > n {
			break
		}

		heap.Pop(frontier)
		for _, child := range [2]int32{nd.left, nd.right} {
			if t.nodes[child].bounds.Intersects(region) {
				t.collect(child, frontier, &leaves)
			}
		}
	}

	out := make([]Node, 0, frontier.Len()+len(leaves))
	for _, s := range frontier.slots {
		out = append(out, t.view(s))
	}
	for _, s := range leaves {
		out = append(out, t.view(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (t *Tree) collect(slot int32, frontier *slotHeap, leaves *[]int32) {
	if t.nodes[slot].leaf() {
		*leaves = append(*leaves, slot)
		return
	}
	heap.Push(frontier, slot)
}

// slotHeap is a max-heap of internal nodes by count, ties by key.
type slotHeap struct {
	tree  *Tree
	slots []int32
}

func (h *slotHeap) Len() int { return len(h.slots) }

func (h *slotHeap) Less(i, j int) bool {
	a, b := &h.tree.nodes[h.slots[i]], &h.tree.nodes[h.slots[j]]
	if a.count != b.count {
		return a.count > b.count
	}
	return a.key < b.key
}

func (h *slotHeap) Swap(i, j int) { h.slots[i], h.slots[j] = h.slots[j], h.slots[i] }

func (h *slotHeap) Push(x any) { h.slots = append(h.slots, x.(int32)) }

func (h *slotHeap) Pop() any {
	old := h.slots
	n := len(old)
	x := old[n-1]
	h.slots = old[:n-1]
	return x
}
