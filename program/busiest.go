package main

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/keilerkonzept/topk"
	"github.com/keilerkonzept/topk/heap"
	"github.com/keilerkonzept/topk/sliding"
)

// busiestTopics counts deliveries per topic in a sliding top-K sketch. It is
// fed from the monitor's delivery observer and read by the dashboard.
type busiestTopics struct {
	tick   time.Duration
	window time.Duration

	mu     sync.Mutex
	sketch *sliding.Sketch
	latest time.Time
}

func newBusiestTopics(k int, window, tick time.Duration, width, depth int, decay float64, decayLUTSize int) *busiestTopics {
	return &busiestTopics{
		tick:   tick,
		window: window,
		sketch: sliding.New(k,
			int(window/tick),
			sliding.WithWidth(width),
			sliding.WithDepth(depth),
			sliding.WithDecay(float32(decay)),
			sliding.WithDecayLUTSize(decayLUTSize),
		),
	}
}

// observe counts one delivery on topic.
func (b *busiestTopics) observe(topic string, _ time.Time) {
	b.mu.Lock()
	b.sketch.Incr(topic)
	b.mu.Unlock()
}

// run advances the sketch window once per tick until ctx is done.
func (b *busiestTopics) run(ctx context.Context) error {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			b.mu.Lock()
			b.sketch.Ticks(1)
			b.latest = t.Truncate(b.tick)
			b.mu.Unlock()
		}
	}
}

func (b *busiestTopics) Sorted() []heap.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sketch.SortedSlice()
}

func (b *busiestTopics) Counts(items []heap.Item, limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range items[:limit] {
		items[i].Count = b.sketch.Count(items[i].Item)
	}
}

// historyLength is the number of tick buckets kept per counter.
func (b *busiestTopics) historyLength() int {
	return b.sketch.BucketHistoryLength
}

// latestTick is the start of the most recent tick, zero before the first.
func (b *busiestTopics) latestTick() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// fillSeries writes the per-tick counts of each topic into the matching
// series, oldest first. Topics the sketch no longer tracks get a flat line.
func (b *busiestTopics) fillSeries(items []heap.Item, series [][]float64, logScale bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, item := range items {
		b.fillOne(item, series[i], logScale)
	}
}

func (b *busiestTopics) fillOne(item heap.Item, series []float64, logScale bool) {
	s := b.sketch
	buckets := make([]int, 0, s.Depth)
	for k := 0; k < s.Depth; k++ {
		idx := topk.BucketIndex(item.Item, k, s.Width)
		if bk := s.Buckets[idx]; bk.Fingerprint == item.Fingerprint && len(bk.Counts) > 0 {
			buckets = append(buckets, idx)
		}
	}
	clear(series)
	if len(buckets) == 0 {
		return
	}
	for j := range series {
		var count uint32
		for _, idx := range buckets {
			bk := s.Buckets[idx]
			count = max(count, bk.Counts[(int(bk.First)+j)%len(bk.Counts)])
		}
		v := float64(count)
		if logScale {
			v = math.Log(max(1, v))
		}
		series[len(series)-1-j] = v
	}
}
