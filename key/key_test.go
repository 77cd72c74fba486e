package key

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Derive("abc"))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Derive(""))
}

func TestDeriveStableAndDistinct(t *testing.T) {
	t.Parallel()

	a := Derive("https://cdn.x/photos/abc.png")
	b := Derive("https://cdn.x/photos/abc.png")
	c := Derive("https://cdn.x/photos/abd.png")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, Len)
}

func TestDeriveIsSafePathSegment(t *testing.T) {
	t.Parallel()

	uris := []string{
		"https://cdn.x/../../etc/passwd",
		"file:///a/b/c",
		`C:\Windows\system32`,
		"https://cdn.x/a b/ü.png?x=/y",
	}
	for _, uri := range uris {
		k := Derive(uri)
		assert.Equal(t, k, filepath.Base(k), "key for %q must be one segment", uri)
		assert.True(t, isHex(k), "key for %q must be hex", uri)
	}
}

func TestDeriveNoCollisions(t *testing.T) {
	t.Parallel()

	seen := make(map[string]string, 10000)
	for i := range 10000 {
		uri := fmt.Sprintf("https://cdn.x/media/%d.jpg", i)
		k := Derive(uri)
		prev, dup := seen[k]
		require.False(t, dup, "collision between %q and %q", prev, uri)
		seen[k] = uri
	}
}

func TestInferExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		uri      string
		fallback string
		want     string
	}{
		{"upper case with query", "https://cdn.x/y/IMAGE.JPG?v=2", ".bin", ".jpg"},
		{"no extension uses fallback", "https://cdn.x/y/asset?id=9", ".mp4", ".mp4"},
		{"fallback without dot", "https://cdn.x/y/asset", "mp4", ".mp4"},
		{"fragment ignored", "https://cdn.x/clip.mov#t=10", ".bin", ".mov"},
		{"unknown extension", "https://cdn.x/doc.pdf", ".bin", ".bin"},
		{"dot in directory only", "https://cdn.x/v1.2/asset", ".png", ".png"},
		{"trailing dot", "https://cdn.x/asset.", ".gif", ".gif"},
		{"query with extension", "https://cdn.x/img?name=a.png", ".bin", ".bin"},
		{"audio", "https://cdn.x/a/b/track.M4A", "", ".m4a"},
		{"empty fallback", "https://cdn.x/asset", "", ""},
		{"fallback with separator", "https://cdn.x/asset", "../x", ""},
		{"all whitelisted", "https://cdn.x/s.webp", "", ".webp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, InferExtension(tt.uri, tt.fallback))
		})
	}
}

func TestFileName(t *testing.T) {
	t.Parallel()

	uri := "https://cdn.x/photos/abc.png"
	assert.Equal(t, Derive(uri)+".png", FileName(uri, ".jpg"))
}

func TestIsMediaExtension(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{"jpg", ".jpeg", "PNG", ".WebP", "gif", "mp4", "mov", "m4a", "mp3", "wav", "aac"} {
		assert.True(t, IsMediaExtension(ext), ext)
	}
	for _, ext := range []string{"", ".", "bin", ".pdf", "jpgx"} {
		assert.False(t, IsMediaExtension(ext), ext)
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	name := FileName("https://cdn.x/a.mp3", "")
	k, ext, ok := Split(name)
	require.True(t, ok)
	assert.Equal(t, Derive("https://cdn.x/a.mp3"), k)
	assert.Equal(t, ".mp3", ext)

	k, ext, ok = Split(Derive("x"))
	require.True(t, ok)
	assert.Equal(t, Derive("x"), k)
	assert.Empty(t, ext)

	for _, bad := range []string{"", ".partial-0123", "short.png", Derive("x") + "png", Derive("x")[:63] + "g.png"} {
		_, _, ok := Split(bad)
		assert.False(t, ok, bad)
	}
}

func BenchmarkDerive(b *testing.B) {
	uri := "https://cdn.example.com/photos/2024/06/01/very-long-asset-name.jpeg?width=1024&quality=80"
	b.ReportAllocs()
	for b.Loop() {
		_ = FileName(uri, ".bin")
	}
}
