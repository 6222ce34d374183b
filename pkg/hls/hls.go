// Package hls expands adaptive-streaming master playlists into their
// concrete variant streams.
package hls

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/grafov/m3u8"
	"go.uber.org/zap"
)

// Fetcher fetches the manifest bytes. Implemented by fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// Variant is one concrete stream referenced by a master playlist.
type Variant struct {
	URL       string
	Bandwidth int64
}

type Client struct {
	fetcher Fetcher
	logger  *zap.Logger
}

func NewClient(fetcher Fetcher, logger *zap.Logger) *Client {
	return &Client{
		fetcher: fetcher,
		logger:  logger,
	}
}

// Variants fetches a playlist and returns its variant streams, with
// relative URIs resolved against the manifest URL. A media playlist (or
// a master playlist without variants) yields an empty result and no
// error, so callers can fall back to an alternate manifest location.
func (c *Client) Variants(ctx context.Context, manifestURL string, headers map[string]string) ([]Variant, error) {
	data, err := c.fetcher.Fetch(ctx, manifestURL, headers)
	if err != nil {
		return nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), true)
	if err != nil {
		return nil, fmt.Errorf("Couldn't decode M3U8 playlist %v: %v", manifestURL, err)
	}
	if listType != m3u8.MASTER {
		c.logger.Debug("Playlist is not a master playlist, no variants to expand", zap.String("url", manifestURL))
		return nil, nil
	}

	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("Couldn't parse manifest URL %v: %v", manifestURL, err)
	}

	master := playlist.(*m3u8.MasterPlaylist)
	var variants []Variant
	for _, variant := range master.Variants {
		if variant == nil || variant.URI == "" {
			continue
		}
		variantURL, err := base.Parse(variant.URI)
		if err != nil {
			c.logger.Warn("Couldn't resolve variant URI against manifest URL", zap.Error(err), zap.String("uri", variant.URI))
			continue
		}
		variants = append(variants, Variant{
			URL:       variantURL.String(),
			Bandwidth: int64(variant.Bandwidth),
		})
	}
	return variants, nil
}
