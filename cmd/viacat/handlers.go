package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mtgx-tools/viacat/pkg/catalog"
	"github.com/mtgx-tools/viacat/pkg/resolver"
)

func createHealthHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("healthHandler called")
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("Couldn't write response", zap.Error(err))
		}
	}
}

// createCatalogHandler serves one dispatched listing page: the items of
// the given URL, including a trailing page item when the listing
// continues.
func createCatalogHandler(walker *catalog.Walker, channel *catalog.Channel, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			url = channel.MainListURL()
		}
		items, matched, err := walker.Process(r.Context(), url, nil)
		if err != nil {
			logger.Error("Couldn't process URL", zap.Error(err), zap.String("url", url))
			http.Error(w, "Couldn't process URL", http.StatusBadGateway)
			return
		}
		writeItems(w, items, matched, logger)
	}
}

// createBrowseHandler serves a full listing with pagination followed to
// the end (bounded by the walker's page cap).
func createBrowseHandler(walker *catalog.Walker, channel *catalog.Channel, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			url = channel.MainListURL()
		}
		items, err := walker.Browse(r.Context(), url, nil)
		if err != nil {
			logger.Error("Couldn't browse URL", zap.Error(err), zap.String("url", url))
			http.Error(w, "Couldn't browse URL", http.StatusBadGateway)
			return
		}
		writeItems(w, items, true, logger)
	}
}

func createSearchHandler(walker *catalog.Walker, channel *catalog.Channel, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("term")
		if term == "" {
			http.Error(w, "Missing 'term' query parameter", http.StatusBadRequest)
			return
		}
		url := channel.SearchURL(term)
		items, matched, err := walker.Process(r.Context(), url, nil)
		if err != nil {
			logger.Error("Couldn't search", zap.Error(err), zap.String("term", term))
			http.Error(w, "Couldn't search", http.StatusBadGateway)
			return
		}
		writeItems(w, items, matched, logger)
	}
}

// createResolveHandler resolves a video item's streams. "No media
// found" is a regular outcome for expired or geo-fenced items, not a
// server error.
func createResolveHandler(streamResolver *resolver.Resolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			http.Error(w, "Missing 'url' query parameter", http.StatusBadRequest)
			return
		}
		item := catalog.Item{
			Kind:     catalog.KindVideo,
			Title:    r.URL.Query().Get("title"),
			Locator:  url,
			Subtitle: r.URL.Query().Get("subtitle"),
		}

		start := time.Now()
		err := streamResolver.Resolve(r.Context(), &item)
		resolveDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, resolver.ErrNoStreams) {
				http.Error(w, "No media found", http.StatusNotFound)
				return
			}
			logger.Error("Couldn't resolve streams", zap.Error(err), zap.String("url", url))
			http.Error(w, "Couldn't resolve streams", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(item); err != nil {
			logger.Error("Couldn't encode response", zap.Error(err))
		}
	}
}

type itemsResponse struct {
	Items  []catalog.Item `json:"items"`
	Parsed bool           `json:"parsed"`
}

func writeItems(w http.ResponseWriter, items []catalog.Item, parsed bool, logger *zap.Logger) {
	if items == nil {
		items = []catalog.Item{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(itemsResponse{Items: items, Parsed: parsed}); err != nil {
		logger.Error("Couldn't encode response", zap.Error(err))
	}
}
