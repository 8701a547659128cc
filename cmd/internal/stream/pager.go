package stream

import (
	"context"
	"fmt"
	"sync"
)

// Page is one window of history returned by a Source.
// Page numbers start at 1; page 1 holds the most recent items. Items within
// a page are ascending by time.
type Page[T any] struct {
	Items []T
	Page  int
	Pages int
	Total int
}

// Source fetches paginated history for a topic.
type Source[T any] interface {
	FetchPage(ctx context.Context, topic Topic, page, limit int) (Page[T], error)
}

// Pager tracks history paging state for one topic.
//
// Concurrency: safe. The in-flight guard serializes page loads — calling
// LoadNextPage while a load is running is a no-op, and a failed fetch leaves
// the page counter and hasMore untouched so the next call retries the same
// page. Overlapping fetches are the classic infinite-scroll bug; the guard
// is deliberate, not incidental.
type Pager[T any] struct {
	source   Source[T]
	pageSize int

	mu      sync.Mutex
	topic   Topic
	page    int
	hasMore bool
	loading bool
}

// NewPager constructs a Pager. A non-positive pageSize falls back to the
// default; oversized requests are clamped.
func NewPager[T any](source Source[T], pageSize int) *Pager[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Pager[T]{source: source, pageSize: pageSize, hasMore: true}
}

// Reset rebinds the pager to a topic and clears all paging state.
func (p *Pager[T]) Reset(topic Topic) {
	p.mu.Lock()
	p.topic = topic
	p.page = 0
	p.hasMore = true
	p.loading = false
	p.mu.Unlock()
}

// LoadFirstPage fetches page 1, replacing whatever was buffered before.
// hasMore is reset optimistically, then derived from the response.
func (p *Pager[T]) LoadFirstPage(ctx context.Context) ([]T, error) {
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return nil, nil
	}
	p.loading = true
	p.hasMore = true
	topic := p.topic
	p.mu.Unlock()

	result, err := p.source.FetchPage(ctx, topic, 1, p.pageSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if p.topic != topic {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, fmt.Errorf("%w: page 1: %v", ErrPageFetch, err)
	}
	p.page = 1
	p.hasMore = result.Page < result.Pages
	return result.Items, nil
}

// LoadNextPage fetches the next older page. It returns loaded=false without
// side effects when there is nothing more to fetch or a load is already in
// flight.
func (p *Pager[T]) LoadNextPage(ctx context.Context) (items []T, loaded bool, err error) {
	p.mu.Lock()
	if !p.hasMore || p.loading || p.page == 0 {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.loading = true
	topic := p.topic
	next := p.page + 1
	p.mu.Unlock()

	result, fetchErr := p.source.FetchPage(ctx, topic, next, p.pageSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if p.topic != topic {
		return nil, false, ErrSuperseded
	}
	if fetchErr != nil {
		// Counter and hasMore stay put: the same page is retried next time.
		return nil, false, fmt.Errorf("%w: page %d: %v", ErrPageFetch, next, fetchErr)
	}
	p.page = next
	p.hasMore = result.Page < result.Pages
	return result.Items, true, nil
}

// HasMore reports whether older pages remain.
func (p *Pager[T]) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Loading reports whether a page fetch is in flight.
func (p *Pager[T]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}
