package mediacache

import (
	"context"
	"errors"
	"log/slog"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meigma/mediacache/cache/disk"
	mchttp "github.com/meigma/mediacache/http"
	"github.com/meigma/mediacache/ingest"
	"github.com/meigma/mediacache/key"
	"github.com/meigma/mediacache/metrics"
	"github.com/meigma/mediacache/warm"
)

// DirName is the directory created under the cache root to hold media files.
const DirName = "media-cache"

// Entry describes a cached media file.
type Entry = disk.Entry

// Result describes the cache entry for a URI.
type Result = ingest.Result

// Client resolves remote media URIs to cached local copies.
//
// All methods are safe for concurrent use.
type Client struct {
	cacheDir   string
	dirPerm    os.FileMode
	timeout    time.Duration
	httpClient *nethttp.Client
	fetchOpts  []mchttp.Option
	fetcher    ingest.Fetcher
	logger     *slog.Logger
	observer   metrics.Observer

	warmWorkers   int
	warmQueueSize int
	partialMaxAge time.Duration

	store  *disk.Store
	ingest *ingest.Service
	warm   *warm.Scheduler
}

// NewClient creates a Client with the given options.
//
// Without [WithCacheDir] the cache lives under the user cache directory.
// An unusable cache directory is logged, not returned: the client still
// works and serves original URIs until the directory becomes available.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		timeout:       ingest.DefaultTimeout,
		dirPerm:       0o700,
		warmWorkers:   warm.DefaultWorkers,
		warmQueueSize: warm.DefaultQueueSize,
		partialMaxAge: DefaultPartialMaxAge,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.cacheDir == "" {
		c.cacheDir = defaultCacheDir()
	}
	if c.observer == nil {
		c.observer = metrics.Nop()
	}

	store, err := disk.New(filepath.Join(c.cacheDir, DirName), disk.WithDirPerm(c.dirPerm))
	if err != nil {
		return nil, err
	}
	c.store = store

	fetcher := c.fetcher
	if fetcher == nil {
		fetchOpts := c.fetchOpts
		if c.httpClient != nil {
			fetchOpts = append([]mchttp.Option{mchttp.WithClient(c.httpClient)}, fetchOpts...)
		}
		fetcher = mchttp.NewFetcher(fetchOpts...)
	}
	c.ingest = ingest.New(store, fetcher,
		ingest.WithTimeout(c.timeout),
		ingest.WithLogger(c.log()),
		ingest.WithObserver(c.observer),
	)
	c.warm = warm.New(
		warm.WithWorkers(c.warmWorkers),
		warm.WithQueueSize(c.warmQueueSize),
		warm.WithLogger(c.log()),
		warm.WithObserver(c.observer),
	)

	c.prepareDir()
	return c, nil
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

func (c *Client) prepareDir() {
	if err := c.store.EnsureDir(); err != nil {
		c.log().Warn("media cache directory unavailable", slog.String("dir", c.store.Dir()), slog.Any("error", err))
		return
	}
	if c.partialMaxAge <= 0 {
		return
	}
	removed, err := c.store.RemovePartials(c.partialMaxAge)
	if err != nil {
		c.log().Warn("remove stale partial downloads", slog.String("dir", c.store.Dir()), slog.Any("error", err))
		return
	}
	if removed > 0 {
		c.log().Info("removed stale partial downloads", slog.Int("count", removed))
	}
}

// GetCachedURIIfExists returns the file:// URI of the cached copy of uri,
// or uri unchanged when there is none. It never performs network I/O.
func (c *Client) GetCachedURIIfExists(uri, fallbackExt string) string {
	if !cacheable(uri) {
		return uri
	}
	res, err := c.ingest.Lookup(uri, fallbackExt)
	if err != nil {
		c.log().Warn("media cache lookup failed", slog.String("uri", uri), slog.Any("error", err))
		return uri
	}
	if res.State != ingest.StatePresent {
		return uri
	}
	return res.URI
}

// CacheMedia returns the file:// URI of the cached copy of uri, downloading
// it first on a miss. On any failure it returns uri unchanged.
//
// Concurrent calls for the same uri share a single download. If ctx ends
// before the download finishes, CacheMedia returns uri and the download
// continues in the background for other callers.
func (c *Client) CacheMedia(ctx context.Context, uri, fallbackExt string) string {
	res, err := c.Ensure(ctx, uri, fallbackExt)
	if err != nil || res.URI == "" {
		return uri
	}
	return res.URI
}

// Ensure is CacheMedia with the outcome and error exposed.
//
// URIs that are not http or https are reported as missing without error.
func (c *Client) Ensure(ctx context.Context, uri, fallbackExt string) (Result, error) {
	if !cacheable(uri) {
		return Result{State: ingest.StateMissing}, nil
	}
	res, err := c.ingest.EnsureCached(ctx, uri, fallbackExt)
	if err != nil {
		if errors.Is(err, ErrDirectoryUnavailable) {
			c.log().Warn("media cache directory unavailable", slog.String("uri", uri), slog.Any("error", err))
		} else {
			c.log().Debug("serving remote media", slog.String("uri", uri), slog.Any("error", err))
		}
		return res, err
	}
	return res, nil
}

// WarmCache schedules a background download of uri and returns immediately.
//
// Results and errors are not reported to the caller; failures go to the
// client's logger and observer. Warming a uri that is already queued,
// downloading or cached does not start another transfer.
func (c *Client) WarmCache(uri, fallbackExt string) {
	if !cacheable(uri) {
		return
	}
	c.warm.Submit(key.FileName(uri, fallbackExt), func(ctx context.Context) error {
		_, err := c.ingest.EnsureCached(ctx, uri, fallbackExt)
		return err
	})
}

// Close stops accepting warm requests and waits for queued ones until ctx
// ends. Lookups and downloads keep working after Close.
func (c *Client) Close(ctx context.Context) error {
	return c.warm.Close(ctx)
}

// Dir returns the directory holding cached files.
func (c *Client) Dir() string {
	return c.store.Dir()
}

// Path returns the canonical path for uri whether or not it is cached.
func (c *Client) Path(uri, fallbackExt string) string {
	return c.store.Path(key.FileName(uri, fallbackExt))
}

// Entries lists the cached files.
func (c *Client) Entries() ([]Entry, error) {
	return c.store.Entries()
}

// cacheable reports whether uri is a remote resource this client can fetch.
func cacheable(uri string) bool {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Scheme, "http") || strings.EqualFold(u.Scheme, "https")
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mediacache")
}
