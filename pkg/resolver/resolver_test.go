package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mtgx-tools/viacat/pkg/catalog"
	"github.com/mtgx-tools/viacat/pkg/hls"
	"github.com/mtgx-tools/viacat/pkg/subtitle"
)

type stubFetcher struct {
	responses map[string][]byte
	headers   map[string]map[string]string
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if f.headers == nil {
		f.headers = map[string]map[string]string{}
	}
	f.headers[url] = headers
	data, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("Couldn't GET %v: no such stub", url)
	}
	return data, nil
}

type stubExpander struct {
	variants map[string][]hls.Variant
	headers  map[string]map[string]string
	calls    []string
}

func (e *stubExpander) Variants(ctx context.Context, manifestURL string, headers map[string]string) ([]hls.Variant, error) {
	if e.headers == nil {
		e.headers = map[string]map[string]string{}
	}
	e.calls = append(e.calls, manifestURL)
	e.headers[manifestURL] = headers
	return e.variants[manifestURL], nil
}

type subtitleDownload struct {
	Ref    string
	Format subtitle.Format
}

type stubSubtitles struct {
	downloads []subtitleDownload
}

func (s *stubSubtitles) Download(ctx context.Context, ref string, format subtitle.Format, headers map[string]string) (string, error) {
	s.downloads = append(s.downloads, subtitleDownload{Ref: ref, Format: format})
	return "/subs/stored" + string(subtitle.FormatFor(ref)), nil
}

type stubSettings struct {
	hidePremium bool
	nativeHLS   bool
}

func (s stubSettings) HidePremium() bool {
	return s.hidePremium
}

func (s stubSettings) PreferNativeHLS() bool {
	return s.nativeHLS
}

func videoItem(locator string) catalog.Item {
	return catalog.Item{Kind: catalog.KindVideo, Title: "Test video", Locator: locator}
}

func TestResolveExpandsManifest(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/1"
	manifestURL := "https://host/path/manifest.m3u8"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"hls": "` + manifestURL + `"}}`),
	}}
	expander := &stubExpander{variants: map[string][]hls.Variant{
		manifestURL: {
			{URL: "https://host/path/v1.m3u8", Bandwidth: 800},
			{URL: "https://host/path/v2.m3u8", Bandwidth: 400},
		},
	}}
	r := New(fetcher, expander, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.True(t, item.Resolved)
	// The variants carry their own bitrates, not the tier's fixed rank.
	require.Equal(t, []catalog.Stream{
		{URL: "https://host/path/v1.m3u8", QualityRank: 800},
		{URL: "https://host/path/v2.m3u8", QualityRank: 400},
	}, item.Streams)
}

func TestResolveRetriesMasterManifest(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/2"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"hls": "https://host/path/manifest.m3u8"}}`),
	}}
	expander := &stubExpander{variants: map[string][]hls.Variant{
		"https://host/path/master.m3u8": {
			{URL: "https://host/path/v1.m3u8", Bandwidth: 1200},
		},
	}}
	r := New(fetcher, expander, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.Equal(t, []string{
		"https://host/path/manifest.m3u8",
		"https://host/path/master.m3u8",
	}, expander.calls)
	require.Len(t, item.Streams, 1)
	require.Equal(t, int64(1200), item.Streams[0].QualityRank)
}

func TestResolveUnplayableAfterRetry(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/3"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"hls": "https://host/path/manifest.m3u8"}}`),
	}}
	expander := &stubExpander{} // no variants for any manifest
	r := New(fetcher, expander, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	err := r.Resolve(context.Background(), &item)
	require.ErrorIs(t, err, ErrNoStreams)
	require.False(t, item.Resolved)
	require.Empty(t, item.Streams)
	require.Len(t, expander.calls, 2)
}

func TestResolveRTMPrewrite(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/4"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"high": "rtmp://mtgfs.fplive.net/mtg/mp4:flash/sweden/swe_skillcompetition"}}`),
	}}
	r := New(fetcher, &stubExpander{}, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.Len(t, item.Streams, 1)
	stream := item.Streams[0]
	require.Equal(t, "rtmp://mtgfs.fplive.net/mtg/ playpath=mp4:flash/sweden/swe_skillcompetition.mp4", stream.URL)
	require.Equal(t, "mp4:flash/sweden/swe_skillcompetition.mp4", stream.PlayPath)
	require.Equal(t, int64(3500), stream.QualityRank)
}

func TestResolveRTMPkeepsExistingExtension(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/5"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"high": "rtmp://host/app/video.flv"}}`),
	}}
	r := New(fetcher, &stubExpander{}, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.Equal(t, "rtmp://host/app/video.flv", item.Streams[0].URL)
}

func TestSWFVerifier(t *testing.T) {
	verify := NewSWFVerifier("http://player.example.org/player.swf")
	require.Equal(t,
		"rtmp://host/app/video.mp4 swfurl=http://player.example.org/player.swf swfvfy=1",
		verify("rtmp://host/app/video.mp4"))
	// Non-RTMP URLs pass through untouched.
	require.Equal(t, "https://host/video.mp4", verify("https://host/video.mp4"))
}

func TestResolveSkipsUnsupportedTiers(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/6"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {
			"high": "https://host/legacy/manifest.f4m",
			"hls": "https://host/live/[empty].m3u8",
			"medium": "https://host/direct/video.mp4"
		}}`),
	}}
	r := New(fetcher, &stubExpander{}, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.Equal(t, []catalog.Stream{
		{URL: "https://host/direct/video.mp4", QualityRank: 2100},
	}, item.Streams)
}

func TestResolveOrdersStreamsByRank(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/7"
	manifestURL := "https://host/path/master.m3u8"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {
			"hls": "` + manifestURL + `",
			"medium": "https://host/direct/medium.mp4"
		}}`),
	}}
	expander := &stubExpander{variants: map[string][]hls.Variant{
		manifestURL: {
			{URL: "https://host/path/low.m3u8", Bandwidth: 900},
			{URL: "https://host/path/high.m3u8", Bandwidth: 2800},
		},
	}}
	r := New(fetcher, expander, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.Len(t, item.Streams, 3)
	for i := 1; i < len(item.Streams); i++ {
		require.GreaterOrEqual(t, item.Streams[i-1].QualityRank, item.Streams[i].QualityRank)
	}
	require.Equal(t, "https://host/path/high.m3u8", item.Streams[0].URL)
}

func TestResolveIdempotent(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/8"
	manifestURL := "https://host/path/master.m3u8"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"hls": "` + manifestURL + `", "medium": "https://host/m.mp4"}}`),
	}}
	expander := &stubExpander{variants: map[string][]hls.Variant{
		manifestURL: {{URL: "https://host/path/v1.m3u8", Bandwidth: 800}},
	}}
	r := New(fetcher, expander, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	first := append([]catalog.Stream(nil), item.Streams...)

	require.NoError(t, r.Resolve(context.Background(), &item))
	require.True(t, cmp.Equal(first, item.Streams))
}

func TestResolveNativeHLS(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/9"
	manifestURL := "https://host/path/master.m3u8"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"hls": "` + manifestURL + `"}}`),
	}}
	expander := &stubExpander{variants: map[string][]hls.Variant{
		manifestURL: {
			{URL: "https://host/path/v1.m3u8", Bandwidth: 800},
			{URL: "https://host/path/v2.m3u8", Bandwidth: 400},
		},
	}}
	r := New(fetcher, expander, &stubSubtitles{}, stubSettings{nativeHLS: true}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	// The player selects variants itself, so only the manifest is delivered.
	require.Equal(t, []catalog.Stream{
		{URL: manifestURL, QualityRank: 0},
	}, item.Streams)
	// No User-Agent is forced in native mode.
	require.NotContains(t, fetcher.headers[detailURL], "User-Agent")
}

func TestResolveHeadersConsistent(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/10"
	manifestURL := "https://host/path/master.m3u8"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"hls": "` + manifestURL + `"}}`),
	}}
	expander := &stubExpander{variants: map[string][]hls.Variant{
		manifestURL: {{URL: "https://host/path/v1.m3u8", Bandwidth: 800}},
	}}
	r := New(fetcher, expander, &stubSubtitles{}, stubSettings{}, Options{
		ExtraHeaders: map[string]string{"X-Forwarded-For": "10.0.0.1"},
	}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))

	// The same identity must be used for the detail fetch and the
	// manifest expansion, and survive on the item for playback.
	want := map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows; U; Windows NT 6.1; en-GB; rv:1.9.2.13) Gecko/20101203 Firefox/3.6.13 (.NET CLR 3.5.30729)",
		"X-Forwarded-For": "10.0.0.1",
	}
	require.Equal(t, want, fetcher.headers[detailURL])
	require.Equal(t, want, expander.headers[manifestURL])
	require.Equal(t, want, item.HTTPHeaders)
}

func TestResolveSubtitlePreAttached(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/11"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{"streams": {"medium": "https://host/m.mp4"}}`),
	}}
	subs := &stubSubtitles{}
	r := New(fetcher, &stubExpander{}, subs, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	item.Subtitle = "http://subs.example.org/ep.vtt"
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.Equal(t, []subtitleDownload{
		{Ref: "http://subs.example.org/ep.vtt", Format: subtitle.FormatWebVTT},
	}, subs.downloads)
	require.NotEmpty(t, item.Subtitle)
}

func TestResolveSubtitleFromDetailDocument(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/12"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`{
			"streams": {"medium": "https://host/m.mp4"},
			"sami_path": "http://subs.example.org/ep.sami"
		}`),
	}}
	subs := &stubSubtitles{}
	r := New(fetcher, &stubExpander{}, subs, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.Equal(t, []subtitleDownload{
		{Ref: "http://subs.example.org/ep.sami", Format: subtitle.FormatDCSubtitle},
	}, subs.downloads)
}

func TestResolveSubtitleFromManifestURL(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/13"
	manifestURL := "https://host/path/master.m3u8?cc1=lang%3Dsv~uri=https%3A%2F%2Fsubs.example.org%2Flist"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL:                       []byte(`{"streams": {"hls": "` + manifestURL + `"}}`),
		"https://subs.example.org/list": []byte("#EXTM3U\nhttps://subs.example.org/ep1.vtt\n"),
	}}
	expander := &stubExpander{variants: map[string][]hls.Variant{
		manifestURL: {{URL: "https://host/path/v1.m3u8", Bandwidth: 800}},
	}}
	subs := &stubSubtitles{}
	r := New(fetcher, expander, subs, stubSettings{}, Options{}, zap.NewNop())

	item := videoItem(detailURL)
	require.NoError(t, r.Resolve(context.Background(), &item))
	require.Equal(t, []subtitleDownload{
		{Ref: "https://subs.example.org/ep1.vtt", Format: subtitle.FormatWebVTT},
	}, subs.downloads)
}

func TestResolveFetchFailure(t *testing.T) {
	r := New(&stubFetcher{}, &stubExpander{}, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())
	item := videoItem("http://playapi.example.org/v3/videos/stream/404")
	err := r.Resolve(context.Background(), &item)
	require.Error(t, err)
	require.False(t, item.Resolved)
}

func TestResolveMalformedDetailDocument(t *testing.T) {
	detailURL := "http://playapi.example.org/v3/videos/stream/14"
	fetcher := &stubFetcher{responses: map[string][]byte{
		detailURL: []byte(`<html>not json</html>`),
	}}
	r := New(fetcher, &stubExpander{}, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())
	item := videoItem(detailURL)
	err := r.Resolve(context.Background(), &item)
	require.Error(t, err)
	require.False(t, item.Resolved)
}

func TestResolveNonVideoItem(t *testing.T) {
	r := New(&stubFetcher{}, &stubExpander{}, &stubSubtitles{}, stubSettings{}, Options{}, zap.NewNop())
	item := catalog.Item{Kind: catalog.KindFolder, Title: "Folder"}
	require.Error(t, r.Resolve(context.Background(), &item))
}
