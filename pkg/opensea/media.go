package opensea

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/Sternrassler/contractooor/pkg/transport"
)

// imageExtensions pins the extension of common image types; the system mime
// table lists several for some of them in no stable order.
var imageExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpeg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
	"video/mp4":     "mp4",
}

// RewriteImageURL points a CDN image URL at host and requests the original
// resolution. An empty host returns raw unchanged.
func RewriteImageURL(raw, host string) (string, error) {
	if host == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	u.RawQuery = ""
	u.Host = host
	u.Path = strings.Replace(u.Path, "/gae/", "/", 1) + "=d"
	u.RawPath = ""
	return u.String(), nil
}

// Extension returns the file extension for contentType without the dot.
// Missing types default to png, unknown ones to bin.
func Extension(contentType string) string {
	if contentType == "" {
		return "png"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "bin"
	}
	if ext, ok := imageExtensions[mediaType]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

func (c *Client) fetchImage(ctx context.Context, raw string) (*transport.Response, error) {
	target, err := RewriteImageURL(raw, c.config.ImageHost)
	if err != nil {
		return nil, err
	}
	return transport.GetBytes(ctx, c.media, target, c.retryFor("image"))
}
