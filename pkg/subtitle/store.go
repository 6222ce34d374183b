// Package subtitle downloads subtitle resources and stores them locally
// so a player can pick them up next to the resolved streams.
package subtitle

import (
	"context"
	"crypto/md5"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Format tags the subtitle delivery format of a downloaded reference.
type Format string

const (
	FormatWebVTT Format = "webvtt"
	// FormatDCSubtitle is the site's XML-based subtitle delivery format.
	FormatDCSubtitle Format = "dcsubtitle"
)

// FormatFor picks the format for a subtitle reference by its extension.
func FormatFor(ref string) Format {
	if strings.HasSuffix(ref, ".vtt") {
		return FormatWebVTT
	}
	return FormatDCSubtitle
}

var extensions = map[Format]string{
	FormatWebVTT:     ".vtt",
	FormatDCSubtitle: ".xml",
}

// Fetcher fetches the subtitle bytes. Implemented by fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// Store downloads subtitle references into a directory. The filesystem
// is abstracted so tests can run against an in-memory one.
type Store struct {
	fs      afero.Fs
	dir     string
	fetcher Fetcher
	logger  *zap.Logger
}

func NewStore(fs afero.Fs, dir string, fetcher Fetcher, logger *zap.Logger) *Store {
	return &Store{
		fs:      fs,
		dir:     dir,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Download fetches the referenced subtitle and writes it to the store,
// returning the local path. An empty reference yields an empty path and
// no error. Download failures are returned, not fatal: callers keep the
// streams and just lose the subtitle.
func (s *Store) Download(ctx context.Context, ref string, format Format, headers map[string]string) (string, error) {
	if ref == "" {
		return "", nil
	}

	name := fmt.Sprintf("%x%s", md5.Sum([]byte(ref)), extensions[format])
	path := filepath.Join(s.dir, name)
	if exists, _ := afero.Exists(s.fs, path); exists {
		s.logger.Debug("Subtitle already stored", zap.String("path", path))
		return path, nil
	}

	data, err := s.fetcher.Fetch(ctx, ref, headers)
	if err != nil {
		return "", fmt.Errorf("Couldn't download subtitle %v: %v", ref, err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("Couldn't create subtitle directory: %v", err)
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("Couldn't write subtitle file: %v", err)
	}
	s.logger.Debug("Stored subtitle", zap.String("ref", ref), zap.String("path", path))
	return path, nil
}
