// Package opensea pulls collection metadata, ownership and trading history from
// the OpenSea HTTP API.
//
// Every listing is walked with a pagination.Paginator over the rate-limit-aware
// transport, and per-asset work is fanned out through the bounded pipeline.
package opensea

import (
	"net/url"

	"github.com/Sternrassler/contractooor/pkg/logging"
	"github.com/Sternrassler/contractooor/pkg/retry"
	"github.com/Sternrassler/contractooor/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// API endpoints.
const (
	MainnetBaseURL     = "https://api.opensea.io/api/v1"
	TestnetBaseURL     = "https://testnets-api.opensea.io/api/v1"
	DefaultMetadataURL = "https://api.opensea.io/api/v2/metadata/matic"
	DefaultImageHost   = "lh3.googleusercontent.com"
)

var assetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "contractooor_opensea_assets_total",
	Help: "Total number of assets processed by operation and result",
}, []string{"operation", "result"})

// Config holds the client configuration.
type Config struct {
	// BaseURL is the v1 API root.
	BaseURL string

	// MetadataURL is the v2 metadata root, including the chain segment.
	MetadataURL string

	// APIKey is sent as X-API-KEY. Empty sends no key (testnets).
	APIKey string

	// ImageHost replaces the host of image URLs. Empty leaves them untouched.
	ImageHost string

	// Retry guards page and image fetches.
	Retry retry.Config

	// RefreshRetry guards refresh and owner verification requests.
	RefreshRetry retry.Config
}

// DefaultConfig returns the mainnet configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:      MainnetBaseURL,
		MetadataURL:  DefaultMetadataURL,
		ImageHost:    DefaultImageHost,
		Retry:        retry.Pagination(),
		RefreshRetry: retry.Refresh(),
	}
}

// Client is an OpenSea API client.
type Client struct {
	api    *transport.Client
	media  *transport.Client
	config Config
	logger zerolog.Logger
}

// New creates a client. opts are applied to both the API and the media
// transports.
func New(cfg Config, opts ...transport.Option) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.MetadataURL == "" {
		cfg.MetadataURL = defaults.MetadataURL
	}
	if cfg.Retry.Name == "" && cfg.Retry.MaxRetries == 0 && cfg.Retry.Delay == 0 {
		cfg.Retry = defaults.Retry
	}
	if cfg.RefreshRetry.Name == "" && cfg.RefreshRetry.MaxRetries == 0 && cfg.RefreshRetry.Delay == 0 {
		cfg.RefreshRetry = defaults.RefreshRetry
	}

	apiCfg := transport.DefaultConfig()
	if cfg.APIKey != "" {
		apiCfg.Headers = map[string]string{"X-API-KEY": cfg.APIKey}
	}

	return &Client{
		api:    transport.New(apiCfg, opts...),
		media:  transport.New(transport.DefaultConfig(), opts...),
		config: cfg,
		logger: logging.NewLogger("opensea"),
	}
}

// retryFor returns the page retry configuration labelled name.
func (c *Client) retryFor(name string) retry.Config {
	cfg := c.config.Retry
	cfg.Name = name
	if cfg.Retryable == nil {
		cfg.Retryable = transport.Retryable
	}
	return cfg
}

func (c *Client) endpoint(root string, query url.Values, segments ...string) string {
	u := root
	for _, s := range segments {
		u += "/" + url.PathEscape(s)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
