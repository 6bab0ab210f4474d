package opensea

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/Sternrassler/contractooor/pkg/checkpoint"
	"github.com/Sternrassler/contractooor/pkg/pagination"
	"github.com/Sternrassler/contractooor/pkg/pipeline"
	"github.com/Sternrassler/contractooor/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// CursorStore records how far a collection download got.
// checkpoint.Store satisfies it.
type CursorStore interface {
	LoadCursor(ctx context.Context, source string) (string, error)
	SaveCursor(ctx context.Context, source, cursor string) error
}

// DownloadOptions configures DownloadCollection.
type DownloadOptions struct {
	// Concurrency bounds the assets processed at once within a page.
	Concurrency int

	// Cursors, when set, makes the download resumable at page granularity.
	Cursors CursorStore
}

// DownloadReport summarizes a collection download.
type DownloadReport struct {
	Pages    int
	Assets   int
	Failures []pipeline.Failure[Asset]
}

// DownloadCollection stores the image and a metadata document for every asset
// of collection. Each asset's image, events and owners are fetched together;
// an asset that fails is recorded in the report and the download continues.
//
// With opts.Cursors set, the cursor of the next page is recorded once a page
// is fully processed and a later call resumes from it.
func (c *Client) DownloadCollection(ctx context.Context, collection string, store ContentStore, opts DownloadOptions) (*DownloadReport, error) {
	source := "assets/" + collection
	logger := c.logger.With().Str("collection", collection).Logger()

	var start pagination.Cursor
	if opts.Cursors != nil {
		cursor, err := opts.Cursors.LoadCursor(ctx, source)
		switch {
		case err == nil:
			start = pagination.Cursor(cursor)
		case errors.Is(err, checkpoint.ErrNotFound):
		default:
			return nil, fmt.Errorf("load cursor: %w", err)
		}
		if start != "" {
			logger.Info().Str("cursor", string(start)).Msg("Resuming collection download")
		}
	}

	report := &DownloadReport{}
	pages := c.Assets(collection, start)
	for pages.Next(ctx) {
		page := pages.Page()
		report.Pages++
		report.Assets += len(page.Items)

		failures, err := pipeline.ForEach(ctx, slices.Values(page.Items), func(ctx context.Context, a Asset) error {
			return c.downloadAsset(ctx, a, store)
		}, pipeline.Options{Name: "opensea_download", Concurrency: opts.Concurrency, Policy: pipeline.IsolateFailures})
		report.Failures = append(report.Failures, failures...)
		if err != nil {
			return report, err
		}

		if opts.Cursors != nil {
			if err := opts.Cursors.SaveCursor(ctx, source, string(page.Next)); err != nil {
				return report, fmt.Errorf("save cursor: %w", err)
			}
		}
	}
	if err := pages.Err(); err != nil {
		return report, err
	}

	logger.Info().
		Int("pages", report.Pages).
		Int("assets", report.Assets).
		Int("failed", len(report.Failures)).
		Msg("Collection download complete")
	return report, nil
}

func (c *Client) downloadAsset(ctx context.Context, a Asset, store ContentStore) error {
	var (
		image  *transport.Response
		events []AssetEvent
		owners []Owner
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		image, err = c.fetchImage(gctx, a.ImageSource())
		if err != nil {
			return fmt.Errorf("image: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		events, err = pagination.Collect(gctx, c.AssetEvents(a.AssetContract.Address, a.TokenID))
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		owners, err = pagination.Collect(gctx, c.AssetOwners(a.AssetContract.Address, a.TokenID))
		if err != nil {
			return fmt.Errorf("owners: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		assetsTotal.WithLabelValues("download", "error").Inc()
		return fmt.Errorf("asset %s: %w", a.TokenID, err)
	}

	imageFile := a.TokenID + "." + Extension(image.ContentType)
	meta := Metadata{
		ID:                      a.TokenID,
		Name:                    a.Name,
		Description:             a.Description,
		Image:                   "./" + imageFile,
		OriginalContractAddress: a.AssetContract.Address,
		OriginalTokenID:         a.TokenID,
		Attributes:              a.Traits,
		Owners:                  owners,
		Events:                  events,
	}
	if err := c.write(ctx, store, a.TokenID, imageFile, image.Body, meta); err != nil {
		assetsTotal.WithLabelValues("download", "error").Inc()
		return err
	}

	assetsTotal.WithLabelValues("download", "ok").Inc()
	c.logger.Debug().
		Str("token_id", a.TokenID).
		Str("name", a.Name).
		Int("events", len(events)).
		Int("owners", len(owners)).
		Msg("Asset stored")
	return nil
}

func (c *Client) write(ctx context.Context, store ContentStore, tokenID, imageFile string, image []byte, meta Metadata) error {
	if err := store.Put(ctx, imageFile, image); err != nil {
		return fmt.Errorf("store image %s: %w", imageFile, err)
	}
	doc, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata %s: %w", tokenID, err)
	}
	if err := store.Put(ctx, tokenID+".json", doc); err != nil {
		return fmt.Errorf("store metadata %s: %w", tokenID, err)
	}
	return nil
}

// FetchAssets stores the v2 metadata document and image of each token id of
// contract, at most concurrency at a time. Failed tokens are returned.
func (c *Client) FetchAssets(ctx context.Context, contract string, tokenIDs iter.Seq[string], store ContentStore, concurrency int) ([]pipeline.Failure[string], error) {
	return pipeline.ForEach(ctx, tokenIDs, func(ctx context.Context, tokenID string) error {
		meta, err := transport.GetJSON[Metadata](ctx, c.api, c.endpoint(c.config.MetadataURL, nil, contract, tokenID), c.retryFor("metadata"))
		if err != nil {
			assetsTotal.WithLabelValues("fetch", "error").Inc()
			return fmt.Errorf("metadata %s: %w", tokenID, err)
		}
		image, err := c.fetchImage(ctx, meta.Image)
		if err != nil {
			assetsTotal.WithLabelValues("fetch", "error").Inc()
			return fmt.Errorf("image %s: %w", tokenID, err)
		}

		imageFile := tokenID + "." + Extension(image.ContentType)
		if err := c.write(ctx, store, tokenID, imageFile, image.Body, meta); err != nil {
			assetsTotal.WithLabelValues("fetch", "error").Inc()
			return err
		}
		assetsTotal.WithLabelValues("fetch", "ok").Inc()
		c.logger.Debug().Str("token_id", tokenID).Str("name", meta.Name).Msg("Asset stored")
		return nil
	}, pipeline.Options{Name: "opensea_fetch", Concurrency: concurrency, Policy: pipeline.IsolateFailures})
}
