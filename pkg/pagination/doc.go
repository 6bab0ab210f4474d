// Package pagination provides a lazy, cursor-driven fetcher for remote list
// endpoints that hand out an opaque continuation token with every page.
//
// Example usage:
//
//	p := pagination.New(func(ctx context.Context, c pagination.Cursor) (pagination.Page[Asset], error) {
//		return api.AssetsPage(ctx, collection, c)
//	}, retry.Pagination())
//	for p.Next(ctx) {
//		handle(p.Page().Items)
//	}
//	if err := p.Err(); err != nil {
//		return err
//	}
//
// The paginator:
//   - Starts at the empty cursor
//   - Guards every page fetch with the retrier (reference: 5 retries, 250ms)
//   - Continues only while a page carries a non-empty next cursor
//   - Yields empty pages like any other page
//   - Stops in an error state on the first page that cannot be fetched
//
// A Paginator is forward-only and cannot be restarted. Construct a new one to
// start over, or seed Resume with a cursor recorded from Cursor().
package pagination
