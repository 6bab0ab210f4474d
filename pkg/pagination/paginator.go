package pagination

import (
	"context"
	"fmt"
	"iter"

	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/Sternrassler/contractooor/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "contractooor_pages_fetched_total",
	Help: "Total pages fetched by paginated source",
}, []string{"source"})

// Cursor is an opaque continuation token. The empty cursor addresses the first
// page when fetching and marks the last page when returned as Page.Next.
type Cursor string

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items []T
	Next  Cursor
}

// Last reports whether no page follows this one.
func (p Page[T]) Last() bool {
	return p.Next == ""
}

// FetchFunc fetches the page addressed by cursor. It must be safe to call again
// with the same cursor.
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) (Page[T], error)

// Paginator walks a paginated listing one page per Next call.
type Paginator[T any] struct {
	fetch  FetchFunc[T]
	cfg    retry.Config
	logger zerolog.Logger

	next   Cursor
	cursor Cursor
	page   Page[T]
	pages  int
	done   bool
	err    error
}

// New creates a paginator that starts at the first page.
func New[T any](fetch FetchFunc[T], cfg retry.Config) *Paginator[T] {
	return Resume(fetch, cfg, "")
}

// Resume creates a paginator that starts at cursor.
func Resume[T any](fetch FetchFunc[T], cfg retry.Config, cursor Cursor) *Paginator[T] {
	return &Paginator[T]{
		fetch:  fetch,
		cfg:    cfg,
		next:   cursor,
		logger: logging.NewLogger("pagination").With().Str("source", cfg.Name).Logger(),
	}
}

// Next fetches the next page. It returns false once the last page has been
// consumed or a fetch failed; check Err to tell the two apart.
func (p *Paginator[T]) Next(ctx context.Context) bool {
	if p.done {
		return false
	}

	cursor := p.next
	page, err := retry.Do(ctx, p.cfg, func() (Page[T], error) {
		return p.fetch(ctx, cursor)
	})
	if err != nil {
		p.done = true
		p.err = fmt.Errorf("fetch page %d: %w", p.pages+1, err)
		p.logger.Warn().
			Err(err).
			Int("page", p.pages+1).
			Str("cursor", string(cursor)).
			Msg("Page fetch failed")
		return false
	}

	p.pages++
	p.cursor = cursor
	p.page = page
	p.next = page.Next
	p.done = page.Last()
	pagesFetchedTotal.WithLabelValues(p.cfg.Name).Inc()

	p.logger.Debug().
		Int("page", p.pages).
		Int("items", len(page.Items)).
		Bool("last", page.Last()).
		Msg("Fetched page")

	return true
}

// Page returns the page fetched by the most recent successful Next.
func (p *Paginator[T]) Page() Page[T] {
	return p.page
}

// Cursor returns the cursor that addressed the current page.
func (p *Paginator[T]) Cursor() Cursor {
	return p.cursor
}

// Pages returns the number of pages fetched so far.
func (p *Paginator[T]) Pages() int {
	return p.pages
}

// Err returns the error that stopped the paginator, if any.
func (p *Paginator[T]) Err() error {
	return p.err
}

// All returns an iterator over the remaining pages. A failed fetch is yielded
// once as the final element.
func (p *Paginator[T]) All(ctx context.Context) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		for p.Next(ctx) {
			if !yield(p.Page(), nil) {
				return
			}
		}
		if p.err != nil {
			yield(Page[T]{}, p.err)
		}
	}
}

// Collect drains p and returns all items in page order. On failure the items
// gathered before the failing page are returned with the error.
func Collect[T any](ctx context.Context, p *Paginator[T]) ([]T, error) {
	var items []T
	for p.Next(ctx) {
		items = append(items, p.Page().Items...)
	}
	if err := p.Err(); err != nil {
		return items, err
	}

	p.logger.Info().
		Int("pages", p.pages).
		Int("items", len(items)).
		Msg("Fetch complete")
	return items, nil
}
