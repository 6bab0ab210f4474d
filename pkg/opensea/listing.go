package opensea

import (
	"context"
	"net/url"

	"github.com/Sternrassler/contractooor/pkg/pagination"
	"github.com/Sternrassler/contractooor/pkg/transport"
)

type pager[T any] interface {
	page() pagination.Page[T]
}

func fetchPages[R pager[T], T any](c *Client, endpoint func(pagination.Cursor) string) pagination.FetchFunc[T] {
	return func(ctx context.Context, cursor pagination.Cursor) (pagination.Page[T], error) {
		resp, err := transport.FetchJSON[R](ctx, c.api, endpoint(cursor))
		if err != nil {
			return pagination.Page[T]{}, err
		}
		return resp.page(), nil
	}
}

func withCursor(query url.Values, cursor pagination.Cursor) url.Values {
	if cursor != "" {
		query.Set("cursor", string(cursor))
	}
	return query
}

// Assets walks the assets of collection starting at cursor. An empty cursor
// starts at the first page.
func (c *Client) Assets(collection string, cursor pagination.Cursor) *pagination.Paginator[Asset] {
	fetch := fetchPages[assetsPage, Asset](c, func(cur pagination.Cursor) string {
		return c.endpoint(c.config.BaseURL, withCursor(url.Values{"collection": {collection}}, cur), "assets")
	})
	return pagination.Resume(fetch, c.retryFor("assets"), cursor)
}

// AssetEvents walks the event history of one token.
func (c *Client) AssetEvents(contract, tokenID string) *pagination.Paginator[AssetEvent] {
	fetch := fetchPages[eventsPage, AssetEvent](c, func(cur pagination.Cursor) string {
		query := url.Values{
			"asset_contract_address": {contract},
			"token_id":               {tokenID},
		}
		return c.endpoint(c.config.BaseURL, withCursor(query, cur), "events")
	})
	return pagination.New(fetch, c.retryFor("asset_events"))
}

// AssetOwners walks the owners of one token.
func (c *Client) AssetOwners(contract, tokenID string) *pagination.Paginator[Owner] {
	fetch := fetchPages[ownersPage, Owner](c, func(cur pagination.Cursor) string {
		return c.endpoint(c.config.BaseURL, withCursor(url.Values{}, cur), "asset", contract, tokenID, "owners")
	})
	return pagination.New(fetch, c.retryFor("asset_owners"))
}
