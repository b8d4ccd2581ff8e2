package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// imageDownloadTimeout bounds a single CDN fetch (spec §5: 15s per image).
const imageDownloadTimeout = 15 * time.Second

// imageMaxBytes caps a single download (spec §5: 10 MB upload cap).
const imageMaxBytes = 10 << 20

var imageHTTPClient = &http.Client{Timeout: imageDownloadTimeout}

// persistImage downloads src (an ephemeral platform CDN URL) and re-uploads
// it to object storage under key, returning the durable URL. The platform's
// CDN links expire; this is the only reason the handler touches storage.
func persistImage(ctx domain.Context, storage domain.ObjectStorage, src, key string) (string, error) {
	if src == "" {
		return "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("handler: build image request: %w", err)
	}
	resp, err := imageHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("handler: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("handler: image download status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, imageMaxBytes))
	if err != nil {
		return "", fmt.Errorf("handler: read image body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url, err := storage.Put(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("handler: store image: %w", err)
	}
	return url, nil
}
