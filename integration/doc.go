//go:build integration

// Package integration provides integration tests for the media cache.
//
// These tests require Docker and serve media from a real nginx container
// using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
