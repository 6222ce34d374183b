package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type config struct {
	BindAddr       string        `json:"bindAddr"`
	Port           int           `json:"port"`
	Channel        string        `json:"channel"`
	LogLevel       string        `json:"logLevel"`
	LogEncoding    string        `json:"logEncoding"`
	SocksProxyAddr string        `json:"socksProxyAddr"`
	SubtitlePath   string        `json:"subtitlePath"`
	CacheMaxMB     int           `json:"cacheMaxMB"`
	FetchTimeout   time.Duration `json:"fetchTimeout"`
	FetchRate      float64       `json:"fetchRate"`
	PageCap        int           `json:"pageCap"`
	HidePremium    bool          `json:"hidePremium"`
	NativeHLS      bool          `json:"nativeHLS"`
	ExtraHeaders   []string      `json:"extraHeaders"`
	EnvPrefix      string        `json:"envPrefix"`
}

func parseConfig(logger *zap.Logger) config {
	result := config{}

	// Flags
	var (
		bindAddr       = flag.String("bindAddr", "localhost", `Local interface address to bind to. "localhost" only allows access from the local host. "0.0.0.0" binds to all network interfaces.`)
		port           = flag.Int("port", 8080, "Port to listen on")
		channel        = flag.String("channel", "viafreese", `Channel code that selects the site variant and its channel allow-list, for example "se3", "tv3dk" or "no3".`)
		logLevel       = flag.String("logLevel", "debug", `Log level to show only logs with the given and more severe levels. Can be "debug", "info", "warn", "error".`)
		logEncoding    = flag.String("logEncoding", "console", `Log encoding. Can be "console" or "json", where "json" makes more sense when using centralized logging solutions like ELK, Graylog or Loki.`)
		socksProxyAddr = flag.String("socksProxyAddr", "", `SOCKS5 proxy address for all upstream requests, for example "127.0.0.1:9050". Keep empty for direct connections.`)
		subtitlePath   = flag.String("subtitlePath", "", `Path for storing downloaded subtitles. An empty value will lead to 'os.UserCacheDir()+"/viacat/subtitles"'.`)
		cacheMaxMB     = flag.Int("cacheMaxMB", 32, "Max size (in MB) of the in-memory response cache for catalog documents. 0 disables the cache.")
		fetchTimeout   = flag.Duration("fetchTimeout", 10*time.Second, "Timeout for upstream HTTP requests. The format must be acceptable by Go's 'time.ParseDuration()', for example \"10s\".")
		fetchRate      = flag.Float64("fetchRate", 0, "Max upstream requests per second. 0 disables rate limiting.")
		pageCap        = flag.Int("pageCap", 100, "Max number of listing pages followed in one browse call")
		hidePremium    = flag.Bool("hidePremium", false, "Hide items that require an upstream login")
		nativeHLS      = flag.Bool("nativeHLS", false, "Prefer device-native adaptive playback: deliver the HLS manifest itself instead of enumerating its variant streams")
		extraHeaders   = flag.String("extraHeaders", "", `Additional HTTP request headers to send with stream resolution requests, in a format like "X-Forwarded-For: 1.2.3.4", separated by newline characters ("\n")`)
		envPrefix      = flag.String("envPrefix", "", "Prefix for environment variables")
	)

	flag.Parse()

	if *envPrefix != "" && !strings.HasSuffix(*envPrefix, "_") {
		*envPrefix += "_"
	}
	result.EnvPrefix = *envPrefix

	// Only overwrite the values by their env var counterparts that have not been set (and that *are* set via env var).
	var err error
	if !isArgSet("bindAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "BIND_ADDR"); ok {
			*bindAddr = val
		}
	}
	result.BindAddr = *bindAddr

	if !isArgSet("port") {
		if val, ok := os.LookupEnv(*envPrefix + "PORT"); ok {
			if *port, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "PORT"))
			}
		}
	}
	result.Port = *port

	if !isArgSet("channel") {
		if val, ok := os.LookupEnv(*envPrefix + "CHANNEL"); ok {
			*channel = val
		}
	}
	result.Channel = *channel

	if !isArgSet("logLevel") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_LEVEL"); ok {
			*logLevel = val
		}
	}
	result.LogLevel = *logLevel

	if !isArgSet("logEncoding") {
		if val, ok := os.LookupEnv(*envPrefix + "LOG_ENCODING"); ok {
			*logEncoding = val
		}
	}
	result.LogEncoding = *logEncoding

	if !isArgSet("socksProxyAddr") {
		if val, ok := os.LookupEnv(*envPrefix + "SOCKS_PROXY_ADDR"); ok {
			*socksProxyAddr = val
		}
	}
	result.SocksProxyAddr = *socksProxyAddr

	if !isArgSet("subtitlePath") {
		if val, ok := os.LookupEnv(*envPrefix + "SUBTITLE_PATH"); ok {
			*subtitlePath = val
		}
	}
	result.SubtitlePath = *subtitlePath

	if !isArgSet("cacheMaxMB") {
		if val, ok := os.LookupEnv(*envPrefix + "CACHE_MAX_MB"); ok {
			if *cacheMaxMB, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "CACHE_MAX_MB"))
			}
		}
	}
	result.CacheMaxMB = *cacheMaxMB

	if !isArgSet("fetchTimeout") {
		if val, ok := os.LookupEnv(*envPrefix + "FETCH_TIMEOUT"); ok {
			if *fetchTimeout, err = time.ParseDuration(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to time.Duration", zap.Error(err), zap.String("envVar", "FETCH_TIMEOUT"))
			}
		}
	}
	result.FetchTimeout = *fetchTimeout

	if !isArgSet("fetchRate") {
		if val, ok := os.LookupEnv(*envPrefix + "FETCH_RATE"); ok {
			if *fetchRate, err = strconv.ParseFloat(val, 64); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to float", zap.Error(err), zap.String("envVar", "FETCH_RATE"))
			}
		}
	}
	result.FetchRate = *fetchRate

	if !isArgSet("pageCap") {
		if val, ok := os.LookupEnv(*envPrefix + "PAGE_CAP"); ok {
			if *pageCap, err = strconv.Atoi(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to int", zap.Error(err), zap.String("envVar", "PAGE_CAP"))
			}
		}
	}
	result.PageCap = *pageCap

	if !isArgSet("hidePremium") {
		if val, ok := os.LookupEnv(*envPrefix + "HIDE_PREMIUM"); ok {
			if *hidePremium, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "HIDE_PREMIUM"))
			}
		}
	}
	result.HidePremium = *hidePremium

	if !isArgSet("nativeHLS") {
		if val, ok := os.LookupEnv(*envPrefix + "NATIVE_HLS"); ok {
			if *nativeHLS, err = strconv.ParseBool(val); err != nil {
				logger.Fatal("Couldn't convert environment variable from string to bool", zap.Error(err), zap.String("envVar", "NATIVE_HLS"))
			}
		}
	}
	result.NativeHLS = *nativeHLS

	if !isArgSet("extraHeaders") {
		if val, ok := os.LookupEnv(*envPrefix + "EXTRA_HEADERS"); ok {
			*extraHeaders = val
		}
	}
	if *extraHeaders != "" {
		headers := strings.Split(*extraHeaders, "\n")
		for _, header := range headers {
			header = strings.TrimSpace(header)
			if header != "" {
				result.ExtraHeaders = append(result.ExtraHeaders, header)
			}
		}
	}

	return result
}

func (c *config) validate(logger *zap.Logger) {
	if c.LogEncoding != "console" && c.LogEncoding != "json" {
		logger.Fatal(`logEncoding must be one of "console" or "json"`, zap.String("logEncoding", c.LogEncoding))
	}

	if c.SubtitlePath == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			logger.Fatal("Couldn't determine user cache directory via `os.UserCacheDir()`", zap.Error(err))
		}
		c.SubtitlePath = userCacheDir + "/viacat/subtitles"
	} else {
		c.SubtitlePath = strings.TrimSuffix(c.SubtitlePath, "/")
	}

	for _, extraHeader := range c.ExtraHeaders {
		colonIndex := strings.Index(extraHeader, ":")
		if colonIndex <= 0 || colonIndex == len(extraHeader)-1 {
			logger.Fatal(`extraHeaders elements must have a format like "X-Foo: bar"`, zap.String("header", extraHeader))
		}
	}
}

// isArgSet returns true if the argument you're looking for is actually set as command line argument.
// Pass without "-" prefix.
func isArgSet(arg string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == arg {
			found = true
		}
	})
	return found
}
