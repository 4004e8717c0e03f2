package main

import (
	"slices"
	"strings"
	"time"

	"github.com/keilerkonzept/topk/heap"
)

// rankSource is the view of the busiest-topic sketch the ranker needs. Both
// calls must be safe to make without holding any dashboard lock.
type rankSource interface {
	// Sorted returns the sketch's current top-K, busiest first.
	Sorted() []heap.Item
	// Counts refreshes the Count of the first limit items in place.
	Counts(items []heap.Item, limit int)
}

// topicRanker keeps an ordered view of the busiest topics. A full re-rank
// pulls the whole top-K from the sketch; between full re-ranks only the
// leading items get fresh counts and are re-sorted among themselves.
type topicRanker struct {
	k           int
	fullRefresh time.Duration
	partialSize int

	lastFull time.Time
	items    []heap.Item
}

func newTopicRanker(k int, fullRefresh time.Duration, partialSize int) *topicRanker {
	return &topicRanker{
		k:           max(1, k),
		fullRefresh: max(0, fullRefresh),
		partialSize: max(0, partialSize),
	}
}

// Refresh returns the ranked topics and whether a full re-rank happened.
// visible caps the partial refresh to what the panel can show; 0 means all.
func (r *topicRanker) Refresh(now time.Time, visible int, src rankSource) ([]heap.Item, bool) {
	if r.needsFull(now) {
		r.items = src.Sorted()
		if len(r.items) > r.k {
			r.items = r.items[:r.k]
		}
		r.lastFull = now
		return slices.Clone(r.items), true
	}

	limit := len(r.items)
	if visible > 0 {
		limit = min(limit, visible)
	}
	if r.partialSize > 0 {
		limit = min(limit, r.partialSize)
	}
	src.Counts(r.items, limit)
	slices.SortStableFunc(r.items[:limit], byCountThenName)
	return slices.Clone(r.items), false
}

func (r *topicRanker) needsFull(now time.Time) bool {
	switch {
	case len(r.items) == 0, r.lastFull.IsZero(), r.fullRefresh == 0:
		return true
	default:
		return now.Sub(r.lastFull) >= r.fullRefresh
	}
}

// Reset forces the next Refresh to re-rank from scratch.
func (r *topicRanker) Reset() {
	r.items = nil
	r.lastFull = time.Time{}
}

func byCountThenName(a, b heap.Item) int {
	if a.Count != b.Count {
		if a.Count > b.Count {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Item, b.Item)
}
