// Package ingest downloads media into the cache.
//
// At most one transfer per cache file runs at a time within a Service.
// Callers asking for a file that is already being fetched wait for that
// transfer and share its outcome. Transfers stream into a temp file and are
// published by rename, so a cache file is either absent or complete.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/mediacache/cache/disk"
	mchttp "github.com/meigma/mediacache/http"
	"github.com/meigma/mediacache/key"
	"github.com/meigma/mediacache/metrics"
)

// DefaultTimeout bounds a single transfer.
const DefaultTimeout = 60 * time.Second

// State is the observed state of a cache entry after an operation.
type State int

const (
	// StateMissing means no cached copy exists.
	StateMissing State = iota
	// StatePresent means the copy was already cached.
	StatePresent
	// StateDownloaded means the copy was fetched and published by this call's transfer.
	StateDownloaded
	// StateFailed means the copy could not be looked up or fetched.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StatePresent:
		return "present"
	case StateDownloaded:
		return "downloaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result describes the cache entry for a URI.
type Result struct {
	// URI is the file:// URI of the cached copy. Empty unless the state is
	// StatePresent or StateDownloaded.
	URI string
	// Path is the canonical path of the cache file.
	Path  string
	State State
	// Shared is set when the transfer was shared with other callers.
	Shared bool
}

// Fetcher streams a remote resource into dst.
type Fetcher interface {
	Fetch(ctx context.Context, url string, dst io.Writer) (mchttp.Response, error)
}

// Service fetches media into a disk store.
type Service struct {
	store    *disk.Store
	fetcher  Fetcher
	timeout  time.Duration
	logger   *slog.Logger
	observer metrics.Observer
	group    singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds each transfer. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithLogger sets the logger used to report failed transfers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o metrics.Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// New creates a Service writing into store and downloading with fetcher.
func New(store *disk.Store, fetcher Fetcher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		fetcher: fetcher,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	if s.observer == nil {
		s.observer = metrics.Nop()
	}
	return s
}

func (s *Service) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Store returns the underlying disk store.
func (s *Service) Store() *disk.Store {
	return s.store
}

// Lookup reports whether uri is cached without touching the network.
func (s *Service) Lookup(uri, fallbackExt string) (Result, error) {
	name := key.FileName(uri, fallbackExt)
	path := s.store.Path(name)

	if err := s.store.EnsureDir(); err != nil {
		return Result{Path: path, State: StateFailed}, err
	}
	ok, err := s.store.Exists(name)
	if err != nil {
		return Result{Path: path, State: StateFailed}, err
	}
	s.observer.RecordLookup(ok)
	if !ok {
		return Result{Path: path, State: StateMissing}, nil
	}
	return Result{URI: FileURI(path), Path: path, State: StatePresent}, nil
}

// EnsureCached returns the cached copy of uri, downloading it on a miss.
//
// Concurrent calls for the same cache file share one transfer. The transfer
// runs detached from ctx so that one caller giving up does not fail the
// others; when ctx ends first, EnsureCached returns ctx.Err() and the
// transfer carries on.
func (s *Service) EnsureCached(ctx context.Context, uri, fallbackExt string) (Result, error) {
	res, err := s.Lookup(uri, fallbackExt)
	if err != nil || res.State == StatePresent {
		return res, err
	}

	name := key.FileName(uri, fallbackExt)
	ch := s.group.DoChan(name, func() (any, error) {
		return s.download(context.WithoutCancel(ctx), uri, name)
	})

	select {
	case r := <-ch:
		if r.Shared {
			s.observer.RecordShared()
		}
		if r.Err != nil {
			return Result{Path: res.Path, State: StateFailed, Shared: r.Shared}, r.Err
		}
		out, _ := r.Val.(Result) //nolint:errcheck // type assertion always succeeds when err is nil
		out.Shared = r.Shared
		return out, nil
	case <-ctx.Done():
		return Result{Path: res.Path, State: StateFailed}, ctx.Err()
	}
}

func (s *Service) download(ctx context.Context, uri, name string) (Result, error) {
	path := s.store.Path(name)

	// A transfer for this name may have finished between the caller's lookup
	// and this flight starting.
	if ok, err := s.store.Exists(name); err == nil && ok {
		return Result{URI: FileURI(path), Path: path, State: StatePresent}, nil
	}

	w, err := s.store.Writer(name)
	if err != nil {
		s.observer.RecordDownload(0, 0, metrics.ResultUnavailable)
		s.log().Warn("media cache unavailable", slog.String("uri", uri), slog.Any("error", err))
		return Result{}, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.log().Debug("fetching media", slog.String("uri", uri), slog.String("file", name))
	resp, err := s.fetcher.Fetch(ctx, uri, w)
	if err == nil && !mchttp.Successful(resp.StatusCode) {
		err = &StatusError{URI: uri, StatusCode: resp.StatusCode}
	} else if err != nil {
		err = classify(uri, err)
	}
	if err == nil {
		if commitErr := w.Commit(); commitErr != nil {
			err = fmt.Errorf("publish %s: %w", name, commitErr)
		}
	} else {
		_ = w.Discard() //nolint:errcheck // best-effort temp file cleanup
	}

	elapsed := time.Since(start)
	result := resultLabel(err)
	s.observer.RecordDownload(elapsed, w.Written(), result)
	if err != nil {
		s.log().Warn("media download failed",
			slog.String("uri", uri),
			slog.String("result", result),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err))
		return Result{}, err
	}

	s.log().Debug("media cached",
		slog.String("uri", uri),
		slog.String("path", path),
		slog.Int64("bytes", w.Written()),
		slog.Duration("elapsed", elapsed))
	return Result{URI: FileURI(path), Path: path, State: StateDownloaded}, nil
}

func classify(uri string, err error) error {
	if mchttp.IsTimeout(err) {
		return fmt.Errorf("fetch %s: %w: %w", uri, ErrTimeout, err)
	}
	return fmt.Errorf("fetch %s: %w: %w", uri, ErrTransferFailed, err)
}

func resultLabel(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &statusErr):
		return metrics.ResultStatus
	case errors.Is(err, ErrTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, ErrTransferFailed):
		return metrics.ResultTransport
	default:
		return metrics.ResultUnavailable
	}
}

// FileURI returns the file:// URI for path.
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
