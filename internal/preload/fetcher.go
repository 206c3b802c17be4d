package preload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sho7650/media-stage/internal/core"
)

// HTTPFetcher downloads media into a local spool directory so players can
// open it without waiting on the network.
type HTTPFetcher struct {
	Client   *http.Client
	SpoolDir string
}

// NewHTTPFetcher creates a fetcher spooling into dir. An empty dir uses the
// system temporary directory.
func NewHTTPFetcher(client *http.Client, dir string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &HTTPFetcher{Client: client, SpoolDir: dir}
}

// Fetch downloads media.SourceURL into a new spool file.
func (f *HTTPFetcher) Fetch(ctx context.Context, media core.MediaConfig) (Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, media.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", media.SourceURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", media.SourceURL, resp.Status)
	}

	if err := os.MkdirAll(f.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	file, err := os.CreateTemp(f.SpoolDir, spoolPrefix(media.Key)+"-*"+spoolExt(media.SourceURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	hash := sha256.New()
	size, copyErr := io.Copy(io.MultiWriter(file, hash), resp.Body)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(file.Name())
		if copyErr != nil {
			return nil, fmt.Errorf("failed to download %s: %w", media.SourceURL, copyErr)
		}
		return nil, fmt.Errorf("failed to write spool file: %w", closeErr)
	}

	return &FileHandle{
		path:     file.Name(),
		size:     size,
		checksum: "sha256:" + hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// spoolPrefix makes key safe to use as a file name prefix.
func spoolPrefix(key string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, key)
}

// spoolExt keeps the source extension so players can sniff the container.
func spoolExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

// FileHandle is a media resource spooled to disk.
type FileHandle struct {
	path     string
	size     int64
	checksum string

	once   sync.Once
	relErr error
}

// Path returns the spool file path.
func (h *FileHandle) Path() string {
	return h.path
}

// Location returns the spool file as a file:// URI.
func (h *FileHandle) Location() string {
	abs, err := filepath.Abs(h.path)
	if err != nil {
		abs = h.path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// Size returns the number of bytes spooled.
func (h *FileHandle) Size() int64 {
	return h.size
}

// Checksum returns the sha256 of the spooled content.
func (h *FileHandle) Checksum() string {
	return h.checksum
}

// Release removes the spool file. Repeated calls return the first result.
func (h *FileHandle) Release() error {
	h.once.Do(func() {
		if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
			h.relErr = fmt.Errorf("failed to remove spool file: %w", err)
		}
	})
	return h.relErr
}
