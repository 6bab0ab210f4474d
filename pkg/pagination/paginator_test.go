package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/contractooor/pkg/retry"
	"github.com/Sternrassler/contractooor/pkg/transport"
)

func fastRetry(retries int) retry.Config {
	return retry.Config{
		Name:       "test",
		MaxRetries: retries,
		Delay:      time.Millisecond,
		Sleep:      func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

// scripted serves pages of ints keyed by cursor "", "1", "2", ...
type scripted struct {
	pages    [][]int
	calls    int
	cursors  []Cursor
	failures map[int]int // page index -> failures before success
}

func (s *scripted) fetch(ctx context.Context, cursor Cursor) (Page[int], error) {
	s.calls++
	s.cursors = append(s.cursors, cursor)

	idx := 0
	if cursor != "" {
		n, err := strconv.Atoi(string(cursor))
		if err != nil {
			return Page[int]{}, fmt.Errorf("bad cursor %q", cursor)
		}
		idx = n
	}
	if s.failures[idx] > 0 {
		s.failures[idx]--
		return Page[int]{}, errors.New("transient")
	}

	page := Page[int]{Items: s.pages[idx]}
	if idx+1 < len(s.pages) {
		page.Next = Cursor(strconv.Itoa(idx + 1))
	}
	return page, nil
}

func TestPaginator_Terminates(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("pages=%d", n), func(t *testing.T) {
			src := &scripted{}
			for i := 0; i < n; i++ {
				src.pages = append(src.pages, []int{i})
			}

			p := New(src.fetch, fastRetry(0))
			yielded := 0
			for p.Next(context.Background()) {
				yielded++
			}

			if err := p.Err(); err != nil {
				t.Fatalf("Err() = %v", err)
			}
			if yielded != n {
				t.Errorf("yielded %d pages, want %d", yielded, n)
			}
			if src.calls != n {
				t.Errorf("fetch called %d times, want %d", src.calls, n)
			}
			if p.Next(context.Background()) {
				t.Error("Next() after last page should return false")
			}
			if src.calls != n {
				t.Error("Next() after last page should not fetch again")
			}
		})
	}
}

func TestPaginator_StartsAtEmptyCursorAndThreadsCursor(t *testing.T) {
	src := &scripted{pages: [][]int{{1}, {2}, {3}}}
	p := New(src.fetch, fastRetry(0))

	var seen []Cursor
	for p.Next(context.Background()) {
		seen = append(seen, p.Cursor())
	}

	want := []Cursor{"", "1", "2"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("cursors = %v, want %v", seen, want)
	}
}

func TestPaginator_EmptyPageYielded(t *testing.T) {
	src := &scripted{pages: [][]int{{1, 2}, {}, {3}}}
	p := New(src.fetch, fastRetry(0))

	items, err := Collect(context.Background(), p)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if p.Pages() != 3 {
		t.Errorf("Pages() = %d, want 3", p.Pages())
	}
	if fmt.Sprint(items) != "[1 2 3]" {
		t.Errorf("items = %v, want [1 2 3]", items)
	}
}

func TestPaginator_RetriesTransientPage(t *testing.T) {
	src := &scripted{
		pages:    [][]int{{1}, {2}},
		failures: map[int]int{1: 3},
	}
	p := New(src.fetch, fastRetry(5))

	items, err := Collect(context.Background(), p)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("items = %v, want 2 items", items)
	}
	if src.calls != 5 {
		t.Errorf("fetch called %d times, want 5", src.calls)
	}
}

func TestPaginator_FailedPageStopsSequence(t *testing.T) {
	src := &scripted{
		pages:    [][]int{{1}, {2}, {3}},
		failures: map[int]int{1: 100},
	}
	p := New(src.fetch, fastRetry(2))

	items, err := Collect(context.Background(), p)
	if err == nil {
		t.Fatal("expected error")
	}
	if fmt.Sprint(items) != "[1]" {
		t.Errorf("partial items = %v, want [1]", items)
	}
	if p.Next(context.Background()) {
		t.Error("Next() after failure should return false")
	}
}

func TestPaginator_All(t *testing.T) {
	src := &scripted{
		pages:    [][]int{{1}, {2}, {3}},
		failures: map[int]int{2: 100},
	}
	p := New(src.fetch, fastRetry(0))

	var pages int
	var lastErr error
	for _, err := range p.All(context.Background()) {
		if err != nil {
			lastErr = err
			continue
		}
		pages++
	}

	if pages != 2 {
		t.Errorf("pages = %d, want 2", pages)
	}
	if lastErr == nil {
		t.Error("expected the failing page to be yielded as an error")
	}
}

func TestPaginator_Resume(t *testing.T) {
	src := &scripted{pages: [][]int{{1}, {2}, {3}}}
	p := Resume(src.fetch, fastRetry(0), "1")

	items, err := Collect(context.Background(), p)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if fmt.Sprint(items) != "[2 3]" {
		t.Errorf("items = %v, want [2 3]", items)
	}
}

type listing struct {
	Items []string `json:"items"`
	Next  string   `json:"next"`
}

func TestPaginator_OverTransportWithRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		resp := listing{Items: []string{"a"}}
		if r.URL.Query().Get("cursor") == "" {
			resp.Next = "page2"
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	var waits []time.Duration
	client := transport.New(transport.DefaultConfig(), transport.WithSleep(func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))

	p := New(func(ctx context.Context, c Cursor) (Page[string], error) {
		resp, err := transport.GetJSON[listing](ctx, client, server.URL+"?cursor="+string(c), fastRetry(0))
		if err != nil {
			return Page[string]{}, err
		}
		return Page[string]{Items: resp.Items, Next: Cursor(resp.Next)}, nil
	}, fastRetry(5))

	items, err := Collect(context.Background(), p)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("items = %v, want 2", items)
	}
	if len(waits) != 1 || waits[0] != 3*time.Second {
		t.Errorf("rate limit waits = %v, want [3s]", waits)
	}
}
