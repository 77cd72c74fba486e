// Package key derives cache file names from remote media URIs.
//
// A cache file name is the lowercase hex SHA-256 digest of the URI string
// followed by an extension inferred from the URI path. Digests are 64 hex
// characters, so the name is always a single safe path segment.
package key

import (
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// Len is the length of a derived key in characters.
const Len = 64

// mediaExtensions is the set of extensions recognized in a URI path.
var mediaExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
	"gif":  {},
	"mp4":  {},
	"mov":  {},
	"m4a":  {},
	"mp3":  {},
	"wav":  {},
	"aac":  {},
}

// Derive returns the cache key for uri.
//
// The same uri always yields the same key. The key contains only [0-9a-f].
func Derive(uri string) string {
	return digest.SHA256.FromString(uri).Encoded()
}

// InferExtension returns the lower-cased media extension of the last path
// segment of uri, including the leading dot.
//
// Query and fragment suffixes are ignored. If the segment has no extension or
// the extension is not a recognized media type, the fallback is returned with
// a leading dot added when missing. An empty fallback, or one containing a
// path separator, yields "".
func InferExtension(uri, fallback string) string {
	if ext, ok := extensionOf(uri); ok {
		return "." + ext
	}
	return normalize(fallback)
}

// FileName returns the cache file name for uri: its key plus its extension.
func FileName(uri, fallback string) string {
	return Derive(uri) + InferExtension(uri, fallback)
}

// IsMediaExtension reports whether ext (with or without a leading dot) is a
// recognized media extension. The comparison is case-insensitive.
func IsMediaExtension(ext string) bool {
	_, ok := mediaExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ok
}

// Split separates a cache file name into its key and extension.
// It reports false if name does not start with a well-formed key.
func Split(name string) (k, ext string, ok bool) {
	if len(name) < Len {
		return "", "", false
	}
	k, ext = name[:Len], name[Len:]
	if !isHex(k) {
		return "", "", false
	}
	if ext != "" && (ext[0] != '.' || strings.ContainsAny(ext, `/\`)) {
		return "", "", false
	}
	return k, ext, true
}

func extensionOf(uri string) (string, bool) {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		uri = uri[i+1:]
	}
	dot := strings.LastIndexByte(uri, '.')
	if dot < 0 || dot == len(uri)-1 {
		return "", false
	}
	ext := strings.ToLower(uri[dot+1:])
	if _, ok := mediaExtensions[ext]; !ok {
		return "", false
	}
	return ext, true
}

func normalize(fallback string) string {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" || strings.ContainsAny(fallback, "/\\\x00") {
		return ""
	}
	if !strings.HasPrefix(fallback, ".") {
		fallback = "." + fallback
	}
	return fallback
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
