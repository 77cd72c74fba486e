package mediacache

import (
	"errors"
	"log/slog"
	nethttp "net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	mchttp "github.com/meigma/mediacache/http"
	"github.com/meigma/mediacache/ingest"
	"github.com/meigma/mediacache/metrics"
)

// Option configures a Client.
type Option func(*Client) error

// DefaultPartialMaxAge is the age after which leftover temp files from
// interrupted downloads are removed when a client starts.
const DefaultPartialMaxAge = time.Hour

// --- Storage Options ---

// WithCacheDir sets the cache root. Files are stored in dir/media-cache.
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		if dir == "" {
			return errors.New("cache dir is empty")
		}
		c.cacheDir = dir
		return nil
	}
}

// WithDirPerm sets the permissions used when creating the cache directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Client) error {
		c.dirPerm = mode
		return nil
	}
}

// WithPartialMaxAge sets the age after which leftover temp files are
// removed at startup. Zero disables the cleanup.
func WithPartialMaxAge(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("partial max age must be non-negative")
		}
		c.partialMaxAge = d
		return nil
	}
}

// --- Transport Options ---

// WithTimeout bounds each download. Zero disables the bound.
// Defaults to 60 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("timeout must be non-negative")
		}
		c.timeout = d
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(c *Client) error {
		if client == nil {
			return errors.New("http client is nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithUserAgent sets the User-Agent header for downloads.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.fetchOpts = append(c.fetchOpts, mchttp.WithUserAgent(ua))
		return nil
	}
}

// WithHeader sets a header sent with every download.
func WithHeader(key, value string) Option {
	return func(c *Client) error {
		c.fetchOpts = append(c.fetchOpts, mchttp.WithHeader(key, value))
		return nil
	}
}

// WithFetcher replaces the HTTP downloader. Transport options are ignored
// when a fetcher is set.
func WithFetcher(f ingest.Fetcher) Option {
	return func(c *Client) error {
		if f == nil {
			return errors.New("fetcher is nil")
		}
		c.fetcher = f
		return nil
	}
}

// --- Warmup Options ---

// WithWarmWorkers sets how many warm downloads run at once. Defaults to 4.
func WithWarmWorkers(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("warm workers must be positive")
		}
		c.warmWorkers = n
		return nil
	}
}

// WithWarmQueueSize sets how many warm requests may wait for a worker.
// Requests beyond that are dropped. Defaults to 256.
func WithWarmQueueSize(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return errors.New("warm queue size must be non-negative")
		}
		c.warmQueueSize = n
		return nil
	}
}

// --- Observability Options ---

// WithLogger sets a logger for cache warnings and diagnostics.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithObserver sets a metrics observer.
func WithObserver(o metrics.Observer) Option {
	return func(c *Client) error {
		c.observer = o
		return nil
	}
}

// WithPrometheus registers cache metrics on reg and records into them.
// A nil reg uses the default Prometheus registerer.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(c *Client) error {
		o, err := metrics.NewPrometheusObserver("", reg)
		if err != nil {
			return err
		}
		c.observer = o
		return nil
	}
}
