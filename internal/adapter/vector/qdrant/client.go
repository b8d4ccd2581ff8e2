// Package qdrant implements domain.VectorIndex against Qdrant's HTTP API.
package qdrant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// Client is a minimal Qdrant HTTP client sufficient for the Embedding
// Producer's write path.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	hc         *http.Client
}

// New constructs a Client targeting baseURL/collection.
func New(baseURL, apiKey, collection string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		collection: collection,
		hc:         &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// EnsureCollection creates the collection if it does not already exist,
// sized for domain.EmbeddingDimensions with cosine distance.
func (c *Client) EnsureCollection(ctx domain.Context) error {
	tracer := otel.Tracer("vector.qdrant")
	ctx, span := tracer.Start(ctx, "qdrant.EnsureCollection")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/collections/"+c.collection), nil)
	if err != nil {
		return fmt.Errorf("op=qdrant.ensure_collection.build_get: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.ensure_collection.get: %w: %w", err, domain.ErrTransient)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"vectors": map[string]any{"size": domain.EmbeddingDimensions, "distance": "Cosine"},
	})
	req, err = http.NewRequestWithContext(ctx, http.MethodPut, c.url("/collections/"+c.collection), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("op=qdrant.ensure_collection.build_put: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err = c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.ensure_collection.put: %w: %w", err, domain.ErrTransient)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.ensure_collection: status %d", resp.StatusCode)
	}
	return nil
}

// Upsert indexes id with vec and payload in the client's collection.
func (c *Client) Upsert(ctx domain.Context, id string, vec []float32, payload map[string]any) error {
	tracer := otel.Tracer("vector.qdrant")
	ctx, span := tracer.Start(ctx, "qdrant.Upsert")
	defer span.End()

	body, err := json.Marshal(map[string]any{
		"points": []map[string]any{
			{"id": id, "vector": vec, "payload": payload},
		},
	})
	if err != nil {
		return fmt.Errorf("op=qdrant.upsert.marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url("/collections/"+c.collection+"/points"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=qdrant.upsert.build: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=qdrant.upsert.do: %w: %w", err, domain.ErrTransient)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=qdrant.upsert: status %d: %w", resp.StatusCode, domain.ErrTransient)
	}
	return nil
}

func (c *Client) url(path string) string { return c.baseURL + path }

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
}
