package subtitle

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	responses map[string][]byte
	calls     int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	f.calls++
	data, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("Couldn't GET %v: no such stub", url)
	}
	return data, nil
}

func TestFormatFor(t *testing.T) {
	require.Equal(t, FormatWebVTT, FormatFor("http://subs.example.org/ep.vtt"))
	require.Equal(t, FormatDCSubtitle, FormatFor("http://cdn-subtitles-viaplay.example.org/ep.sami"))
	require.Equal(t, FormatDCSubtitle, FormatFor("http://subs.example.org/ep"))
}

func TestDownloadStoresFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := &stubFetcher{responses: map[string][]byte{
		"http://subs.example.org/ep.vtt": []byte("WEBVTT\n\n00:00.000 --> 00:01.000\nHej\n"),
	}}
	store := NewStore(fs, "/cache/subtitles", fetcher, zap.NewNop())

	path, err := store.Download(context.Background(), "http://subs.example.org/ep.vtt", FormatWebVTT, nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, "/cache/subtitles/"))
	require.True(t, strings.HasSuffix(path, ".vtt"))

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.Contains(t, string(data), "WEBVTT")
}

func TestDownloadExtensionFollowsFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := &stubFetcher{responses: map[string][]byte{
		"http://subs.example.org/ep.sami": []byte("<dcsubtitle/>"),
	}}
	store := NewStore(fs, "/cache/subtitles", fetcher, zap.NewNop())

	path, err := store.Download(context.Background(), "http://subs.example.org/ep.sami", FormatDCSubtitle, nil)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, ".xml"))
}

func TestDownloadReusesStoredFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := &stubFetcher{responses: map[string][]byte{
		"http://subs.example.org/ep.vtt": []byte("WEBVTT"),
	}}
	store := NewStore(fs, "/cache/subtitles", fetcher, zap.NewNop())

	first, err := store.Download(context.Background(), "http://subs.example.org/ep.vtt", FormatWebVTT, nil)
	require.NoError(t, err)
	second, err := store.Download(context.Background(), "http://subs.example.org/ep.vtt", FormatWebVTT, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, fetcher.calls)
}

func TestDownloadEmptyReference(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/cache/subtitles", &stubFetcher{}, zap.NewNop())
	path, err := store.Download(context.Background(), "", FormatWebVTT, nil)
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestDownloadFetchFailure(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/cache/subtitles", &stubFetcher{}, zap.NewNop())
	_, err := store.Download(context.Background(), "http://subs.example.org/missing.vtt", FormatWebVTT, nil)
	require.Error(t, err)
}
