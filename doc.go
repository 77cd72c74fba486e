// Package mediacache keeps local copies of remote media so that images,
// video and audio are downloaded once.
//
// A [Client] maps a remote URI to a file under its cache directory. The file
// name is the SHA-256 of the URI plus an extension inferred from the URI
// path, so the same URI always lands on the same file:
//
//	<cache dir>/media-cache/<sha256 hex><.ext>
//
// Every operation is best effort. When the cache cannot serve a request,
// because the directory is unwritable or the download fails, the original
// URI is returned and the caller loads the media from the network as it
// would without a cache.
//
// # Quick Start
//
//	c, err := mediacache.NewClient(mediacache.WithCacheDir("/var/cache/app"))
//	if err != nil {
//	    return err
//	}
//	defer c.Close(context.Background())
//
//	// Local file URI if cached, otherwise uri unchanged. No network I/O.
//	src := c.GetCachedURIIfExists(uri, ".jpg")
//
//	// Download on a miss; concurrent calls for the same uri share one transfer.
//	src = c.CacheMedia(ctx, uri, ".jpg")
//
//	// Fire and forget prefetch.
//	c.WarmCache(next, ".mp4")
//
// # Consistency
//
// Downloads stream into a temp file that is renamed into place only after
// the transfer completed with a status in [200, 400) and the full body.
// Readers therefore see either no file or a complete one. Published files
// are never modified or removed by this package.
package mediacache
