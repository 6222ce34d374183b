package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mtgx-tools/viacat/pkg/catalog"
	"github.com/mtgx-tools/viacat/pkg/fetch"
	"github.com/mtgx-tools/viacat/pkg/hls"
	"github.com/mtgx-tools/viacat/pkg/resolver"
	"github.com/mtgx-tools/viacat/pkg/subtitle"
)

const version = "0.3.1"

// The site's legacy RTMP servers require SWF verification against the
// original player.
const swfPlayerURL = "http://flvplayer.viastream.viasat.tv/flvplayer/play/swf/MTGXPlayer-1.8.swf"

// settings backs the two user toggles the catalog and resolver consume.
type settings struct {
	hidePremium bool
	nativeHLS   bool
}

func (s settings) HidePremium() bool {
	return s.hidePremium
}

func (s settings) PreferNativeHLS() bool {
	return s.nativeHLS
}

func main() {
	logger, err := newLogger("debug", "console")
	if err != nil {
		panic(err)
	}

	logger.Info("Parsing config...")
	config := parseConfig(logger)
	config.validate(logger)
	configJSON, err := json.Marshal(config)
	if err != nil {
		logger.Fatal("Couldn't marshal config to JSON", zap.Error(err))
	}
	if logger, err = newLogger(config.LogLevel, config.LogEncoding); err != nil {
		logger.Fatal("Couldn't create logger from config", zap.Error(err))
	}
	logger.Info("Parsed config", zap.String("config", string(configJSON)), zap.String("version", version))

	// Create clients

	catalogFetcher, err := fetch.NewClient(fetch.ClientOptions{
		Timeout:           config.FetchTimeout,
		SocksProxyAddr:    config.SocksProxyAddr,
		MaxCacheBytes:     config.CacheMaxMB * 1000 * 1000,
		RequestsPerSecond: config.FetchRate,
	}, logger)
	if err != nil {
		logger.Fatal("Couldn't create catalog fetch client", zap.Error(err))
	}
	// Stream manifests are session-bound and time-limited, so the
	// resolver gets its own uncached client.
	streamFetcher, err := fetch.NewClient(fetch.ClientOptions{
		Timeout:           config.FetchTimeout,
		SocksProxyAddr:    config.SocksProxyAddr,
		RequestsPerSecond: config.FetchRate,
	}, logger)
	if err != nil {
		logger.Fatal("Couldn't create stream fetch client", zap.Error(err))
	}

	userSettings := settings{
		hidePremium: config.HidePremium,
		nativeHLS:   config.NativeHLS,
	}
	channel, err := catalog.NewChannel(catalog.ChannelOptions{Code: config.Channel}, userSettings, logger)
	if err != nil {
		logger.Fatal("Couldn't create channel", zap.Error(err), zap.String("channel", config.Channel))
	}
	walker := catalog.NewWalker(channel.Rules(), catalogFetcher, catalog.WalkerOptions{PageCap: config.PageCap}, logger)

	extraHeaders := map[string]string{}
	for _, header := range config.ExtraHeaders {
		parts := splitHeader(header)
		extraHeaders[parts[0]] = parts[1]
	}
	subtitleStore := subtitle.NewStore(afero.NewOsFs(), config.SubtitlePath, streamFetcher, logger)
	streamResolver := resolver.New(streamFetcher, hls.NewClient(streamFetcher, logger), subtitleStore, userSettings, resolver.Options{
		ExtraHeaders: extraHeaders,
		Verify:       resolver.NewSWFVerifier(swfPlayerURL),
	}, logger)

	// Set up the server

	router := mux.NewRouter()
	router.HandleFunc("/health", createHealthHandler(logger)).Methods(http.MethodGet)
	router.Handle("/metrics", createMetricsHandler()).Methods(http.MethodGet)
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/catalog", createCatalogHandler(walker, channel, logger)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/browse", createBrowseHandler(walker, channel, logger)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/search", createSearchHandler(walker, channel, logger)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/resolve", createResolveHandler(streamResolver, logger)).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = handlers.ProxyHeaders(handler)
	handler = metricsMiddleware(handler)
	handler = handlers.CORS(handlers.AllowedMethods([]string{http.MethodGet}))(handler)
	handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(handler)

	addr := config.BindAddr + ":" + strconv.Itoa(config.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	stopping := false
	go func() {
		logger.Info("Starting server", zap.String("address", addr), zap.String("channel", config.Channel))
		if err := srv.ListenAndServe(); err != nil {
			if !stopping {
				logger.Fatal("Couldn't start server", zap.Error(err))
			}
			logger.Info("Server shut down")
		}
	}()

	// Graceful shutdown

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	logger.Info("Received signal, shutting down server...", zap.Stringer("signal", sig))
	stopping = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Error shutting down server", zap.Error(err))
	}
}

func newLogger(level, encoding string) (*zap.Logger, error) {
	logLevel := zapcore.InfoLevel
	if err := logLevel.Set(level); err != nil {
		return nil, err
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(logLevel)
	logConfig.Encoding = encoding
	if encoding == "console" {
		logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return logConfig.Build()
}

// splitHeader splits a "Key: Value" header string. The config was
// validated, so the colon is guaranteed to be there.
func splitHeader(header string) [2]string {
	for i := 0; i < len(header); i++ {
		if header[i] == ':' {
			key := header[:i]
			val := header[i+1:]
			for len(val) > 0 && val[0] == ' ' {
				val = val[1:]
			}
			return [2]string{key, val}
		}
	}
	return [2]string{header, ""}
}
