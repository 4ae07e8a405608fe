package media

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
)

// CachedFetcher resolves a video URL to a local file, serving repeat requests
// for the same URL from the TTL cache. The downloader must write into the
// cache directory for entries to be found on later lookups.
type CachedFetcher struct {
	cache      *Cache
	downloader *Downloader
	logger     *slog.Logger
}

// NewCachedFetcher wires a downloader behind a cache
func NewCachedFetcher(cache *Cache, downloader *Downloader, logger *slog.Logger) *CachedFetcher {
	return &CachedFetcher{
		cache:      cache,
		downloader: downloader,
		logger:     logger,
	}
}

// FetchVideo returns a local path for url, downloading on a cache miss
func (f *CachedFetcher) FetchVideo(ctx context.Context, url string) (string, error) {
	id := urlKey(url)

	if path, ok := f.cache.Lookup(id); ok {
		f.logger.Debug("Video cache hit",
			slog.String("url", url),
			slog.String("path", path),
		)
		return path, nil
	}

	return f.downloader.DownloadVideo(ctx, url, id+"_video")
}

// urlKey derives a stable cache id from a URL
func urlKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:8])
}
