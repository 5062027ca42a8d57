package domain

import "sort"

// Placement pairs an item with its persisted order key.
type Placement struct {
	ID    string
	Order int
}

// Sequence is a container snapshot: the non-deleted items of one column (or
// the columns of one board) sorted ascending by order key. Keys may contain
// gaps left behind by soft deletes, so all positional comparisons use rank
// (the slice index), never the raw key.
type Sequence []Placement

// NewSequence sorts the given placements into a Sequence. The input slice
// is not modified.
func NewSequence(ps []Placement) Sequence {
	seq := make(Sequence, len(ps))
	copy(seq, ps)
	sort.SliceStable(seq, func(i, j int) bool { return seq[i].Order < seq[j].Order })
	return seq
}

// IndexOf returns the rank of the item with the given id, or -1.
func (s Sequence) IndexOf(id string) int {
	for i, p := range s {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Dense reports whether the order keys are exactly 0..n-1. This is the
// settled-state invariant; it may be temporarily false for a container that
// has seen soft deletes since its last move.
func (s Sequence) Dense() bool {
	for i, p := range s {
		if p.Order != i {
			return false
		}
	}
	return true
}

// NextOrder returns the order key for an item appended to the end. For a
// dense sequence this is the container size; when deletes have left gaps it
// continues past the highest key so keys stay strictly increasing.
func (s Sequence) NextOrder() int {
	n := len(s)
	if n == 0 {
		return 0
	}
	if last := s[n-1].Order + 1; last > n {
		return last
	}
	return n
}

// ClampTarget bounds a requested position to [0, max]. Out-of-range targets
// are tolerated rather than rejected; an overshooting drag means "the end".
func ClampTarget(target, max int) int {
	if target < 0 {
		return 0
	}
	if target > max {
		return max
	}
	return target
}

// OrderWrite is a single order-key assignment produced by planning.
type OrderWrite struct {
	ID       string
	ColumnID string
	Order    int
}

// MovePlan is the set of writes that realises one move. Writes always
// renumber every touched container to 0..n-1, which compacts any gaps left
// by earlier soft deletes as a side effect.
type MovePlan struct {
	Writes   []OrderWrite
	NewOrder int
	// Moved is false when the clamped target equals the item's current
	// rank in its current container. The writes may still be non-empty in
	// that case (lazy compaction), but no activity is recorded and no
	// event is broadcast: no item changed rank relative to any other.
	Moved bool
}

// PlanReorder places itemID at the clamped target rank within its current
// container. It reports false when the item is not in the sequence.
func PlanReorder(seq Sequence, columnID, itemID string, target int) (MovePlan, bool) {
	i := seq.IndexOf(itemID)
	if i < 0 {
		return MovePlan{}, false
	}

	rest := make(Sequence, 0, len(seq)-1)
	rest = append(rest, seq[:i]...)
	rest = append(rest, seq[i+1:]...)
	j := ClampTarget(target, len(rest))

	next := make(Sequence, 0, len(seq))
	next = append(next, rest[:j]...)
	next = append(next, seq[i])
	next = append(next, rest[j:]...)

	plan := MovePlan{NewOrder: j, Moved: j != i}
	for k, p := range next {
		if p.Order != k {
			plan.Writes = append(plan.Writes, OrderWrite{ID: p.ID, ColumnID: columnID, Order: k})
		}
	}
	return plan, true
}

// PlanTransfer moves itemID out of src into dst at the clamped target rank.
// src must contain the item and dst must not. The source container closes
// the gap left behind; the destination opens a slot.
func PlanTransfer(src Sequence, srcColumnID string, dst Sequence, dstColumnID, itemID string, target int) (MovePlan, bool) {
	i := src.IndexOf(itemID)
	if i < 0 || dst.IndexOf(itemID) >= 0 {
		return MovePlan{}, false
	}

	plan := MovePlan{Moved: true}

	rest := make(Sequence, 0, len(src)-1)
	rest = append(rest, src[:i]...)
	rest = append(rest, src[i+1:]...)
	for k, p := range rest {
		if p.Order != k {
			plan.Writes = append(plan.Writes, OrderWrite{ID: p.ID, ColumnID: srcColumnID, Order: k})
		}
	}

	j := ClampTarget(target, len(dst))
	next := make(Sequence, 0, len(dst)+1)
	next = append(next, dst[:j]...)
	next = append(next, Placement{ID: itemID})
	next = append(next, dst[j:]...)
	for k, p := range next {
		if p.ID == itemID || p.Order != k {
			plan.Writes = append(plan.Writes, OrderWrite{ID: p.ID, ColumnID: dstColumnID, Order: k})
		}
	}
	plan.NewOrder = j
	return plan, true
}
