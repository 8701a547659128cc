package stream

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeSource serves canned pages and counts fetches.
type fakeSource struct {
	mu      sync.Mutex
	fetches int32
	pages   map[int]Page[string]
	err     error
	block   chan struct{}
}

func (f *fakeSource) FetchPage(ctx context.Context, topic Topic, page, limit int) (Page[string], error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Page[string]{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Page[string]{}, f.err
	}
	p, ok := f.pages[page]
	if !ok {
		return Page[string]{Page: page, Pages: len(f.pages)}, nil
	}
	return p, nil
}

func twoPageSource() *fakeSource {
	return &fakeSource{pages: map[int]Page[string]{
		1: {Items: []string{"c", "d"}, Page: 1, Pages: 2, Total: 4},
		2: {Items: []string{"a", "b"}, Page: 2, Pages: 2, Total: 4},
	}}
}

func TestPager_FirstThenNext(t *testing.T) {
	src := twoPageSource()
	p := NewPager[string](src, 2)
	p.Reset("conversations/a-b")

	items, err := p.LoadFirstPage(context.Background())
	if err != nil {
		t.Fatalf("LoadFirstPage: %v", err)
	}
	if len(items) != 2 || items[0] != "c" {
		t.Fatalf("unexpected first page: %v", items)
	}
	if !p.HasMore() {
		t.Fatalf("expected more pages after page 1 of 2")
	}

	items, loaded, err := p.LoadNextPage(context.Background())
	if err != nil || !loaded {
		t.Fatalf("LoadNextPage: loaded=%v err=%v", loaded, err)
	}
	if len(items) != 2 || items[0] != "a" {
		t.Fatalf("unexpected second page: %v", items)
	}
	if p.HasMore() {
		t.Fatalf("no pages should remain after page 2 of 2")
	}

	// Exhausted pager is a no-op, not an error.
	_, loaded, err = p.LoadNextPage(context.Background())
	if err != nil || loaded {
		t.Fatalf("exhausted pager: loaded=%v err=%v", loaded, err)
	}
	if n := atomic.LoadInt32(&src.fetches); n != 2 {
		t.Fatalf("fetches=%d want=2", n)
	}
}

func TestPager_NextBeforeFirstIsNoop(t *testing.T) {
	src := twoPageSource()
	p := NewPager[string](src, 2)
	p.Reset("conversations/a-b")

	_, loaded, err := p.LoadNextPage(context.Background())
	if err != nil || loaded {
		t.Fatalf("next before first: loaded=%v err=%v", loaded, err)
	}
	if n := atomic.LoadInt32(&src.fetches); n != 0 {
		t.Fatalf("fetches=%d want=0", n)
	}
}

func TestPager_InFlightGuard(t *testing.T) {
	src := twoPageSource()
	src.block = make(chan struct{})
	p := NewPager[string](src, 2)
	p.Reset("conversations/a-b")

	done := make(chan error, 1)
	go func() {
		_, err := p.LoadFirstPage(context.Background())
		done <- err
	}()

	// Wait for the fetch to be in flight, then pile on.
	for atomic.LoadInt32(&src.fetches) == 0 {
		runtime.Gosched()
	}
	items, err := p.LoadFirstPage(context.Background())
	if err != nil || items != nil {
		t.Fatalf("overlapping load must be a no-op: items=%v err=%v", items, err)
	}
	_, loaded, err := p.LoadNextPage(context.Background())
	if err != nil || loaded {
		t.Fatalf("overlapping next must be a no-op: loaded=%v err=%v", loaded, err)
	}

	close(src.block)
	if err := <-done; err != nil {
		t.Fatalf("LoadFirstPage: %v", err)
	}
	if n := atomic.LoadInt32(&src.fetches); n != 1 {
		t.Fatalf("fetches=%d want=1", n)
	}
}

func TestPager_ErrorLeavesCountersForRetry(t *testing.T) {
	src := twoPageSource()
	p := NewPager[string](src, 2)
	p.Reset("conversations/a-b")

	if _, err := p.LoadFirstPage(context.Background()); err != nil {
		t.Fatalf("LoadFirstPage: %v", err)
	}

	src.mu.Lock()
	src.err = errors.New("boom")
	src.mu.Unlock()

	_, loaded, err := p.LoadNextPage(context.Background())
	if loaded || !errors.Is(err, ErrPageFetch) {
		t.Fatalf("want ErrPageFetch, got loaded=%v err=%v", loaded, err)
	}
	if !p.HasMore() {
		t.Fatalf("failed fetch must not consume hasMore")
	}

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()

	items, loaded, err := p.LoadNextPage(context.Background())
	if err != nil || !loaded {
		t.Fatalf("retry: loaded=%v err=%v", loaded, err)
	}
	if len(items) != 2 || items[0] != "a" {
		t.Fatalf("retry must re-request the same page: %v", items)
	}
}

func TestPager_ResetSupersedesInFlight(t *testing.T) {
	src := twoPageSource()
	src.block = make(chan struct{})
	p := NewPager[string](src, 2)
	p.Reset("conversations/a-b")

	done := make(chan error, 1)
	go func() {
		_, err := p.LoadFirstPage(context.Background())
		done <- err
	}()
	for atomic.LoadInt32(&src.fetches) == 0 {
		runtime.Gosched()
	}

	p.Reset("conversations/c-d")
	close(src.block)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("want ErrSuperseded, got %v", err)
	}
}
