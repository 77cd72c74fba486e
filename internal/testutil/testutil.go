// Package testutil provides fixtures shared by the media cache tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Asset is a resource served by a MediaServer.
type Asset struct {
	// Status defaults to 200.
	Status int
	Body   []byte
	// Truncate sends the full Content-Length but aborts the connection
	// halfway through the body.
	Truncate bool
	// Delay is slept before the response headers are written.
	Delay time.Duration
}

// MediaServer is an HTTP server serving fixed assets and counting requests.
type MediaServer struct {
	*httptest.Server

	mu     sync.Mutex
	assets map[string]Asset
	hits   map[string]int
	gate   chan struct{}
}

// NewMediaServer starts a MediaServer that is closed when tb finishes.
func NewMediaServer(tb testing.TB) *MediaServer {
	tb.Helper()
	s := &MediaServer{
		assets: make(map[string]Asset),
		hits:   make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// Set registers an asset at path and returns its URL.
func (s *MediaServer) Set(path string, a Asset) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[path] = a
	return s.Server.URL + path
}

// URL returns the absolute URL of path.
func (s *MediaServer) URL(path string) string {
	return s.Server.URL + path
}

// Hits returns the number of requests received for path.
func (s *MediaServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// TotalHits returns the number of requests received for all paths.
func (s *MediaServer) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

// Hold makes requests block after being counted until release is called.
func (s *MediaServer) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// WaitForHits waits until path has received at least n requests.
func (s *MediaServer) WaitForHits(tb testing.TB, path string, n int) {
	tb.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Hits(path) < n {
		if time.Now().After(deadline) {
			tb.Fatalf("timed out waiting for %d requests to %s (got %d)", n, path, s.Hits(path))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *MediaServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	a, ok := s.assets[r.URL.Path]
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-r.Context().Done():
			return
		}
	}

	status := a.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Body)))
	w.WriteHeader(status)
	if !a.Truncate {
		_, _ = w.Write(a.Body)
		return
	}
	_, _ = w.Write(a.Body[:len(a.Body)/2])
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	panic(http.ErrAbortHandler)
}
