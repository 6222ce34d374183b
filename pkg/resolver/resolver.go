// Package resolver turns a video item into one or more concrete,
// ranked media streams plus an optional subtitle.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/mtgx-tools/viacat/pkg/catalog"
	"github.com/mtgx-tools/viacat/pkg/hls"
	"github.com/mtgx-tools/viacat/pkg/subtitle"
)

// The User-Agent must be consistent over all requests of one
// resolution, because the streaming servers bind the session to the
// identity of the first manifest request.
const streamUserAgent = "Mozilla/5.0 (Windows; U; Windows NT 6.1; en-GB; rv:1.9.2.13) Gecko/20101203 Firefox/3.6.13 (.NET CLR 3.5.30729)"

// ErrNoStreams means resolution ran to completion but no tier yielded a
// usable stream. The item stays unresolved and is reported unplayable.
var ErrNoStreams = errors.New("no playable streams found")

// Quality tiers of the detail document, in fixed priority order.
var tiers = []struct {
	name string
	rank int64
}{
	{"high", 3500},
	{"hls", 2700},
	{"medium", 2100},
}

type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// ManifestExpander expands an HLS master playlist into its variants.
type ManifestExpander interface {
	Variants(ctx context.Context, manifestURL string, headers map[string]string) ([]hls.Variant, error)
}

// SubtitleDownloader stores a subtitle reference and returns its local path.
type SubtitleDownloader interface {
	Download(ctx context.Context, ref string, format subtitle.Format, headers map[string]string) (string, error)
}

// URLVerifier rewrites a legacy-protocol stream URL into its verifiable
// form. See NewSWFVerifier.
type URLVerifier func(streamURL string) string

// NewSWFVerifier returns a verifier that attaches the player SWF to
// RTMP URLs so servers with SWF verification accept the connection.
func NewSWFVerifier(swfURL string) URLVerifier {
	return func(streamURL string) string {
		if !strings.HasPrefix(streamURL, "rtmp") {
			return streamURL
		}
		return fmt.Sprintf("%s swfurl=%s swfvfy=1", streamURL, swfURL)
	}
}

type Options struct {
	// ExtraHeaders are locally configured headers sent with every
	// request of one resolution, e.g. for upstream IP binding.
	ExtraHeaders map[string]string
	// Verify is applied to legacy-protocol URLs before they're
	// appended. Nil means no rewriting.
	Verify URLVerifier
}

type Resolver struct {
	fetcher      Fetcher
	manifests    ManifestExpander
	subtitles    SubtitleDownloader
	settings     catalog.Settings
	extraHeaders map[string]string
	verify       URLVerifier
	logger       *zap.Logger
}

func New(fetcher Fetcher, manifests ManifestExpander, subtitles SubtitleDownloader, settings catalog.Settings, opts Options, logger *zap.Logger) *Resolver {
	verify := opts.Verify
	if verify == nil {
		verify = func(streamURL string) string { return streamURL }
	}
	return &Resolver{
		fetcher:      fetcher,
		manifests:    manifests,
		subtitles:    subtitles,
		settings:     settings,
		extraHeaders: opts.ExtraHeaders,
		verify:       verify,
		logger:       logger,
	}
}

// Resolve fetches the item's detail document and attaches its streams.
// On success the item is marked resolved with streams ordered by
// descending quality rank. On failure the item stays unresolved and the
// error describes why; it never aborts a surrounding catalog walk.
func (r *Resolver) Resolve(ctx context.Context, item *catalog.Item) error {
	if item.Kind != catalog.KindVideo {
		return fmt.Errorf("item %q is not a video", item.Title)
	}
	zapFieldTitle := zap.String("title", item.Title)
	r.logger.Debug("Resolving streams...", zapFieldTitle, zap.String("url", item.Locator))

	nativeHLS := r.settings.PreferNativeHLS()
	headers := map[string]string{}
	if !nativeHLS {
		headers["User-Agent"] = streamUserAgent
	}
	for key, val := range r.extraHeaders {
		headers[key] = val
	}

	data, err := r.fetcher.Fetch(ctx, item.Locator, headers)
	if err != nil {
		return fmt.Errorf("Couldn't fetch detail document: %v", err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("detail document for %q is not valid JSON", item.Title)
	}
	doc := gjson.ParseBytes(data)

	// A subtitle attached during catalog construction wins over the
	// detail document's fields.
	subRef := item.Subtitle
	if subRef == "" {
		subRef = doc.Get("sami_path").String()
	}
	if subRef == "" {
		subRef = doc.Get("subtitles_webvtt").String()
	}
	item.Subtitle = ""
	if subRef != "" {
		if path, err := r.subtitles.Download(ctx, subRef, subtitle.FormatFor(subRef), headers); err != nil {
			r.logger.Warn("Couldn't download subtitle", zap.Error(err), zapFieldTitle)
		} else {
			item.Subtitle = path
		}
	}

	for _, tier := range tiers {
		streamURL := doc.Get("streams." + tier.name).String()
		if streamURL == "" {
			continue
		}
		if strings.Contains(streamURL, ".f4m") {
			// Legacy HDS manifests aren't playable anymore.
			continue
		}
		if strings.Contains(streamURL, "[empty]") {
			r.logger.Debug("Found post-live URL placeholder, ignoring it", zapFieldTitle)
			continue
		}

		switch {
		case strings.HasPrefix(streamURL, "http") && strings.Contains(streamURL, ".m3u8"):
			r.resolveManifest(ctx, item, streamURL, headers, nativeHLS)
		case strings.HasPrefix(streamURL, "rtmp"):
			r.appendRTMP(item, streamURL, tier.rank)
		default:
			item.AppendStream(catalog.Stream{URL: streamURL, QualityRank: tier.rank})
		}
	}

	if !nativeHLS {
		item.HTTPHeaders = headers
	}

	if len(item.Streams) == 0 {
		return ErrNoStreams
	}
	item.SortStreams()
	item.Resolved = true
	r.logger.Debug("Resolved streams", zap.Int("streamCount", len(item.Streams)), zapFieldTitle)
	return nil
}

// resolveManifest expands an HLS manifest into variant streams. Some
// encodes only publish the playlist under the alternate file name, so
// an empty "manifest.m3u8" is retried as "master.m3u8" once.
func (r *Resolver) resolveManifest(ctx context.Context, item *catalog.Item, manifestURL string, headers map[string]string, nativeHLS bool) {
	added := r.appendManifestStreams(ctx, item, manifestURL, headers, nativeHLS)
	if !added && strings.Contains(manifestURL, "manifest.m3u8") {
		r.logger.Warn("No streams found in manifest, trying alternative with 'master.m3u8'", zap.String("url", manifestURL))
		manifestURL = strings.Replace(manifestURL, "manifest.m3u8", "master.m3u8", 1)
		r.appendManifestStreams(ctx, item, manifestURL, headers, nativeHLS)
	}

	// The manifest query can smuggle in a subtitle reference.
	if item.Subtitle == "" && strings.Contains(manifestURL, "uri=") {
		r.attachManifestSubtitle(ctx, item, manifestURL, headers)
	}
}

func (r *Resolver) appendManifestStreams(ctx context.Context, item *catalog.Item, manifestURL string, headers map[string]string, nativeHLS bool) bool {
	variants, err := r.manifests.Variants(ctx, manifestURL, headers)
	if err != nil {
		r.logger.Warn("Couldn't expand manifest", zap.Error(err), zap.String("url", manifestURL))
		return false
	}
	if len(variants) == 0 {
		return false
	}
	if nativeHLS {
		// The player handles adaptive selection itself, so only the
		// main manifest is needed.
		item.AppendStream(catalog.Stream{URL: manifestURL, QualityRank: 0})
		return true
	}
	for _, variant := range variants {
		item.AppendStream(catalog.Stream{URL: variant.URL, QualityRank: variant.Bandwidth})
	}
	return true
}

// attachManifestSubtitle decodes the subtitle-delivery reference from
// the manifest's uri= parameter, fetches it and downloads the first
// HTTP line it lists as a WebVTT subtitle.
func (r *Resolver) attachManifestSubtitle(ctx context.Context, item *catalog.Item, manifestURL string, headers map[string]string) {
	encoded := manifestURL[strings.LastIndex(manifestURL, "uri=")+len("uri="):]
	subURL, err := url.QueryUnescape(encoded)
	if err != nil {
		r.logger.Warn("Couldn't decode subtitle reference from manifest URL", zap.Error(err))
		return
	}
	data, err := r.fetcher.Fetch(ctx, subURL, headers)
	if err != nil {
		r.logger.Warn("Couldn't fetch subtitle reference from manifest URL", zap.Error(err), zap.String("url", subURL))
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "http") {
			continue
		}
		path, err := r.subtitles.Download(ctx, strings.TrimSpace(line), subtitle.FormatWebVTT, headers)
		if err != nil {
			r.logger.Warn("Couldn't download subtitle", zap.Error(err), zap.String("url", line))
			return
		}
		item.Subtitle = path
		return
	}
}

// appendRTMP normalizes a legacy RTMP URL: default media extension,
// explicit play path for mp4-prefixed paths, then verification.
func (r *Resolver) appendRTMP(item *catalog.Item, streamURL string, rank int64) {
	original := streamURL
	if !strings.HasSuffix(streamURL, ".flv") && !strings.HasSuffix(streamURL, ".mp4") {
		streamURL += ".mp4"
	}

	playPath := ""
	if strings.Contains(streamURL, "/mp4:") {
		// The server needs the path set explicitly instead of the
		// inline mp4: prefix.
		parts := strings.SplitN(streamURL, "mp4:", 2)
		playPath = "mp4:" + parts[1]
		streamURL = fmt.Sprintf("%s playpath=%s", parts[0], playPath)
	}
	if original != streamURL {
		r.logger.Debug("Updated RTMP URL", zap.String("from", original), zap.String("to", streamURL))
	}

	streamURL = r.verify(streamURL)
	item.AppendStream(catalog.Stream{URL: streamURL, QualityRank: rank, PlayPath: playPath})
}
