package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mediacache/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestResolveFetchList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	server := testutil.NewMediaServer(t)
	u := server.Set("/photos/abc.png", testutil.Asset{Body: []byte("png-bytes")})
	dir := t.TempDir()

	out, err := run(t, "resolve", "--cache-dir", dir, u)
	require.NoError(t, err)
	assert.Equal(t, []string{u}, lines(out))

	out, err = run(t, "fetch", "--cache-dir", dir, u)
	require.NoError(t, err)
	local := lines(out)[0]
	assert.True(t, strings.HasPrefix(local, "file://"), local)
	assert.True(t, strings.HasSuffix(local, ".png"), local)

	out, err = run(t, "resolve", "--cache-dir", dir, u)
	require.NoError(t, err)
	assert.Equal(t, []string{local}, lines(out))
	assert.Equal(t, 1, server.Hits("/photos/abc.png"))

	out, err = run(t, "list", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, ".png")
	assert.Contains(t, out, "1 files")
}

func TestFetchFailure(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	server := testutil.NewMediaServer(t)
	u := server.Set("/gone.jpg", testutil.Asset{Status: 404})
	dir := t.TempDir()

	out, err := run(t, "fetch", "--cache-dir", dir, u)
	require.NoError(t, err)
	assert.Equal(t, []string{u}, lines(out))

	_, err = run(t, "fetch", "--strict", "--cache-dir", dir, u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestWarmDrainsQueue(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	server := testutil.NewMediaServer(t)
	a := server.Set("/a.mp3", testutil.Asset{Body: []byte("a")})
	b := server.Set("/b", testutil.Asset{Body: []byte("b")})
	dir := t.TempDir()

	_, err := run(t, "warm", "--cache-dir", dir, "--fallback-ext", "mp4", a, b)
	require.NoError(t, err)

	out, err := run(t, "list", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, ".mp3")
	assert.Contains(t, out, ".mp4")
	assert.Contains(t, out, "2 files")
}

func TestInvalidSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := run(t, "list", "--cache-dir", t.TempDir(), "--workers", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
}

func TestRequiresArguments(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := run(t, "resolve")
	require.Error(t, err)
}
