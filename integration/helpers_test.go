//go:build integration

package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/mediacache"
)

// nginxConf serves /usr/share/nginx/html with gzip enabled for every
// content type so compressed transfers are exercised.
const nginxConf = `server {
    listen 80;
    root /usr/share/nginx/html;
    absolute_redirect off;
    gzip on;
    gzip_types *;
    gzip_min_length 1;
    location /moved/ {
        rewrite ^/moved/(.*)$ /media/$1 redirect;
    }
}
`

// --- Media Server Container Setup ---

var (
	serverOnce sync.Once
	serverBase string
	serverErr  error

	// assets are copied into the container before it starts.
	assets = map[string][]byte{
		"/media/photo.png":   makeRandomContent(64 * 1024),
		"/media/clip.mp4":    makeRandomContent(512 * 1024),
		"/media/notes.txt":   makeCompressibleContent(128 * 1024),
		"/media/track":       makeRandomContent(16 * 1024),
		"/media/poster.jpeg": makeRandomContent(8 * 1024),
	}
)

// getServer returns the shared base URL, starting the container if needed.
// The container is shared across all tests for performance.
func getServer(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	serverOnce.Do(func() {
		serverBase, serverErr = startMediaContainer(context.Background())
	})

	if serverErr != nil {
		tb.Fatalf("start media container: %v", serverErr)
	}

	return serverBase
}

// startMediaContainer starts an nginx container serving assets and returns
// its base URL.
func startMediaContainer(ctx context.Context) (string, error) {
	files := []testcontainers.ContainerFile{{
		Reader:            bytes.NewReader([]byte(nginxConf)),
		ContainerFilePath: "/etc/nginx/conf.d/default.conf",
		FileMode:          0o644,
	}}
	for path, body := range assets {
		files = append(files, testcontainers.ContainerFile{
			Reader:            bytes.NewReader(body),
			ContainerFilePath: "/usr/share/nginx/html" + path,
			FileMode:          0o644,
		})
	}

	req := testcontainers.ContainerRequest{
		Image:        "nginx:1.27-alpine",
		ExposedPorts: []string{"80/tcp"},
		Files:        files,
		WaitingFor:   wait.ForHTTP("/media/poster.jpeg").WithPort("80/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start nginx container: %w", err)
	}

	// Container cleanup is handled by the testcontainers Reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve nginx host: %w", err)
	}

	port, err := container.MappedPort(ctx, "80/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve nginx port: %w", err)
	}

	return fmt.Sprintf("http://%s:%s", host, port.Port()), nil
}

// --- Test Helpers ---

func isOKStatus(status int) bool {
	return status == http.StatusOK
}

// newTestClient creates a client with an isolated cache directory.
func newTestClient(tb testing.TB, opts ...mediacache.Option) *mediacache.Client {
	tb.Helper()

	allOpts := append([]mediacache.Option{mediacache.WithCacheDir(tb.TempDir())}, opts...)
	client, err := mediacache.NewClient(allOpts...)
	require.NoError(tb, err)
	tb.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return client
}

// makeCompressibleContent creates content that compresses well.
func makeCompressibleContent(size int) []byte {
	pattern := []byte("mediacache integration test content ")
	content := make([]byte, size)
	for i := range content {
		content[i] = pattern[i%len(pattern)]
	}
	return content
}

// makeRandomContent creates random content that doesn't compress.
func makeRandomContent(size int) []byte {
	content := make([]byte, size)
	_, _ = rand.Read(content)
	return content
}
