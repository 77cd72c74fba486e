// Package http provides the network downloader used to fill the media cache.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/klauspost/compress/gzhttp"
)

// DefaultUserAgent is sent when no User-Agent header is configured.
const DefaultUserAgent = "mediacache/1"

// Response describes a completed transfer.
type Response struct {
	// StatusCode is the HTTP status of the final response.
	StatusCode int
	// ContentLength is the declared body length, or -1 if unknown.
	ContentLength int64
	// Written is the number of body bytes copied to the destination.
	Written int64
}

// Fetcher streams remote resources into writers with HTTP GET.
type Fetcher struct {
	client  *nethttp.Client
	headers nethttp.Header
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return WithHeader("User-Agent", ua)
}

// NewFetcher creates a Fetcher.
//
// The default client decodes gzip and zstd Content-Encoding transparently,
// so the bytes written are always the decoded resource.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = DefaultClient()
	}
	return f
}

// DefaultClient returns an HTTP client whose transport negotiates and
// decodes compressed responses.
func DefaultClient() *nethttp.Client {
	return &nethttp.Client{Transport: gzhttp.Transport(nethttp.DefaultTransport)}
}

// Fetch issues a GET for url and copies the response body into dst.
//
// The body is copied only when the status is in [200, 400). Other statuses
// return with Written == 0 and a nil error; callers decide how to treat
// them from StatusCode. Transport failures, context expiry and a body
// shorter than its declared Content-Length are returned as errors.
func (f *Fetcher) Fetch(ctx context.Context, url string, dst io.Writer) (Response, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return Response{}, err
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	out := Response{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
	}
	if !Successful(resp.StatusCode) {
		return out, nil
	}

	n, err := io.Copy(dst, resp.Body)
	out.Written = n
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		return out, err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return out, fmt.Errorf("short body: got %d of %d bytes: %w", n, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	return out, nil
}

// Successful reports whether status is in [200, 400).
func Successful(status int) bool {
	return status >= 200 && status < 400
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
