package main

import (
	"reflect"
	"testing"
	"time"

	"github.com/keilerkonzept/topk/heap"
)

type fakeRankSource struct {
	sorted      []heap.Item
	counts      map[string]uint32
	sortedCalls int
	countCalls  int
	lastLimit   int
}

func (f *fakeRankSource) Sorted() []heap.Item {
	f.sortedCalls++
	out := make([]heap.Item, len(f.sorted))
	copy(out, f.sorted)
	return out
}

func (f *fakeRankSource) Counts(items []heap.Item, limit int) {
	f.countCalls++
	f.lastLimit = limit
	for i := range items[:limit] {
		items[i].Count = f.counts[items[i].Item]
	}
}

func names(items []heap.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Item
	}
	return out
}

func TestTopicRanker_FullThenPartial(t *testing.T) {
	src := &fakeRankSource{
		sorted: []heap.Item{{Item: "/imu", Count: 90}, {Item: "/scan", Count: 15}, {Item: "/odom", Count: 50}, {Item: "/plan", Count: 1}},
		counts: map[string]uint32{"/imu": 10, "/scan": 40, "/odom": 20, "/plan": 99},
	}
	r := newTopicRanker(3, time.Minute, 0)
	t0 := time.Unix(100, 0)

	items, full := r.Refresh(t0, 0, src)
	if !full {
		t.Fatal("first refresh should be full")
	}
	if got := names(items); !reflect.DeepEqual(got, []string{"/imu", "/scan", "/odom"}) {
		t.Fatalf("full refresh = %v", got)
	}

	items, full = r.Refresh(t0.Add(time.Second), 0, src)
	if full {
		t.Fatal("second refresh should be partial")
	}
	// /plan is not in the ranked set, so it cannot appear without a full refresh.
	if got := names(items); !reflect.DeepEqual(got, []string{"/scan", "/odom", "/imu"}) {
		t.Fatalf("partial refresh = %v", got)
	}
	if src.sortedCalls != 1 {
		t.Fatalf("Sorted called %d times, want 1", src.sortedCalls)
	}

	if _, full = r.Refresh(t0.Add(time.Minute), 0, src); !full {
		t.Fatal("refresh after the full-refresh interval should be full")
	}
}

func TestTopicRanker_PartialLimit(t *testing.T) {
	tests := []struct {
		name        string
		partialSize int
		visible     int
		wantLimit   int
	}{
		{name: "all", wantLimit: 4},
		{name: "visible caps", visible: 2, wantLimit: 2},
		{name: "partial size caps", partialSize: 1, visible: 3, wantLimit: 1},
		{name: "visible beyond ranked", visible: 10, wantLimit: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeRankSource{
				sorted: []heap.Item{{Item: "a"}, {Item: "b"}, {Item: "c"}, {Item: "d"}},
				counts: map[string]uint32{},
			}
			r := newTopicRanker(10, time.Hour, tt.partialSize)
			now := time.Unix(0, 1)
			r.Refresh(now, tt.visible, src)
			r.Refresh(now, tt.visible, src)
			if src.lastLimit != tt.wantLimit {
				t.Fatalf("limit = %d, want %d", src.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestTopicRanker_ZeroFullRefreshAlwaysRanksFromScratch(t *testing.T) {
	src := &fakeRankSource{sorted: []heap.Item{{Item: "a", Count: 1}}}
	r := newTopicRanker(5, 0, 0)
	now := time.Unix(1, 0)
	for range 3 {
		if _, full := r.Refresh(now, 0, src); !full {
			t.Fatal("expected a full refresh")
		}
	}
	if src.countCalls != 0 {
		t.Fatalf("Counts called %d times", src.countCalls)
	}
}

func TestTopicRanker_TiesByName(t *testing.T) {
	src := &fakeRankSource{
		sorted: []heap.Item{{Item: "/b"}, {Item: "/a"}, {Item: "/c"}},
		counts: map[string]uint32{"/a": 5, "/b": 5, "/c": 7},
	}
	r := newTopicRanker(3, time.Hour, 0)
	now := time.Unix(1, 0)
	r.Refresh(now, 0, src)
	items, _ := r.Refresh(now, 0, src)
	if got := names(items); !reflect.DeepEqual(got, []string{"/c", "/a", "/b"}) {
		t.Fatalf("order = %v", got)
	}

	r.Reset()
	if _, full := r.Refresh(now, 0, src); !full {
		t.Fatal("Reset should force a full refresh")
	}
}

func TestTopicRanker_ResultDoesNotAlias(t *testing.T) {
	src := &fakeRankSource{sorted: []heap.Item{{Item: "a", Count: 2}}, counts: map[string]uint32{"a": 2}}
	r := newTopicRanker(1, time.Hour, 0)
	items, _ := r.Refresh(time.Unix(1, 0), 0, src)
	items[0].Item = "mutated"
	again, _ := r.Refresh(time.Unix(2, 0), 0, src)
	if again[0].Item != "a" {
		t.Fatalf("ranker state aliased: %v", again)
	}
}
