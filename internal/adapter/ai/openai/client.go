// Package openai implements domain.BatchProvider and domain.EmbeddingProvider
// against the OpenAI-compatible Batch and Embeddings REST APIs using raw
// HTTP rather than a vendor SDK, matching the rest of this module's
// provider clients.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
)

// Client implements domain.BatchProvider and domain.EmbeddingProvider
// against an OpenAI-compatible API.
type Client struct {
	cfg              config.Config
	hc               *http.Client
	lastOutputFileID fileIDCache
}

// New constructs a Client.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 120 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type batchRequestLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     chatPayload `json:"body"`
}

type chatPayload struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// UploadAndCreateBatch renders requests as an OpenAI batch input file
// (one JSONL line per request), uploads it with purpose=batch, and creates
// a batch referencing it on the chat completions endpoint with the given
// completion window.
func (c *Client) UploadAndCreateBatch(ctx domain.Context, requests []domain.AIRequest, window time.Duration) (string, error) {
	tracer := otel.Tracer("ai.openai")
	ctx, span := tracer.Start(ctx, "openai.UploadAndCreateBatch")
	defer span.End()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range requests {
		line := batchRequestLine{
			CustomID: r.CustomID,
			Method:   http.MethodPost,
			URL:      "/v1/chat/completions",
			Body:     renderChatPayload(c.cfg, r),
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("op=openai.upload_and_create_batch.encode: %w", err)
		}
	}

	var fileID string
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		id, err := c.uploadFile(callCtx, buf.Bytes())
		if err != nil {
			return err
		}
		fileID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("op=openai.upload_and_create_batch.upload: %w", err)
	}

	windowLabel := "24h"
	if window > 0 && window <= 24*time.Hour {
		windowLabel = fmt.Sprintf("%dh", int(window.Hours()))
		if windowLabel == "0h" {
			windowLabel = "24h"
		}
	}

	var batchID string
	err = c.doWithRetry(ctx, func(callCtx context.Context) error {
		id, err := c.createBatch(callCtx, fileID, windowLabel)
		if err != nil {
			return err
		}
		batchID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("op=openai.upload_and_create_batch.create: %w", err)
	}
	return batchID, nil
}

func renderChatPayload(cfg config.Config, r domain.AIRequest) chatPayload {
	var content any = r.Prompt
	if len(r.ImageURLs) > 0 {
		parts := []contentPart{{Type: "text", Text: r.Prompt}}
		for _, u := range r.ImageURLs {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
		}
		content = parts
	}
	return chatPayload{
		Model:     cfg.AIModel,
		MaxTokens: cfg.AIMaxPromptTokens,
		Messages: []message{
			{Role: "user", Content: content},
		},
	}
}

func (c *Client) uploadFile(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("purpose", "batch"); err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: write purpose field: %w", err))
	}
	part, err := w.CreateFormFile("file", "batch_requests.jsonl")
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: create form file: %w", err))
	}
	if _, err := part.Write(data); err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: write form file: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: close multipart writer: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AIBaseURL+"/files", &body)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: build upload request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	respBody, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", classifyStatus(status, string(respBody))
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: decode upload response: %w", err))
	}
	return decoded.ID, nil
}

func (c *Client) createBatch(ctx context.Context, fileID, window string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"input_file_id":     fileID,
		"endpoint":          "/v1/chat/completions",
		"completion_window": window,
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: marshal create batch request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AIBaseURL+"/batches", bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: build create batch request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", classifyStatus(status, string(respBody))
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", backoff.Permanent(fmt.Errorf("openai: decode create batch response: %w", err))
	}
	return decoded.ID, nil
}

// BatchStatus retrieves the current status of a batch.
func (c *Client) BatchStatus(ctx domain.Context, batchID string) (domain.BatchStatus, error) {
	tracer := otel.Tracer("ai.openai")
	ctx, span := tracer.Start(ctx, "openai.BatchStatus")
	defer span.End()

	var status struct {
		Status         string `json:"status"`
		OutputFileID   string `json:"output_file_id"`
		ErrorFileID    string `json:"error_file_id"`
	}
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.cfg.AIBaseURL+"/batches/"+batchID, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("openai: build status request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey)

		body, code, err := c.do(req)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return classifyStatus(code, string(body))
		}
		return json.Unmarshal(body, &status)
	})
	if err != nil {
		return "", fmt.Errorf("op=openai.batch_status: %w", err)
	}

	c.lastOutputFileID.Store(batchID, status.OutputFileID)
	return domain.BatchStatus(status.Status), nil
}

// fileIDCache caches the output_file_id observed by the most recent
// BatchStatus call for a batch, since the provider only exposes it there
// and DownloadResults needs it to fetch the file content.
type fileIDCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (f *fileIDCache) Store(batchID, fileID string) {
	if fileID == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = map[string]string{}
	}
	f.m[batchID] = fileID
}

func (f *fileIDCache) Load(batchID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.m[batchID]
}

// DownloadResults retrieves and splits a completed batch's output file.
func (c *Client) DownloadResults(ctx domain.Context, batchID string) ([]string, error) {
	tracer := otel.Tracer("ai.openai")
	ctx, span := tracer.Start(ctx, "openai.DownloadResults")
	defer span.End()

	outputFileID := c.lastOutputFileID.Load(batchID)
	if outputFileID == "" {
		// BatchStatus was not called since process start (e.g. after a
		// restart); re-fetch the batch to learn its output_file_id.
		if _, err := c.BatchStatus(ctx, batchID); err != nil {
			return nil, fmt.Errorf("op=openai.download_results.refetch_status: %w", err)
		}
		outputFileID = c.lastOutputFileID.Load(batchID)
	}
	if outputFileID == "" {
		return nil, fmt.Errorf("op=openai.download_results: %w", domain.ErrInternal)
	}

	var content []byte
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.cfg.AIBaseURL+"/files/"+outputFileID+"/content", nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("openai: build download request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey)

		body, code, err := c.do(req)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return classifyStatus(code, string(body))
		}
		content = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=openai.download_results: %w", err)
	}
	return strings.Split(strings.TrimRight(string(content), "\n"), "\n"), nil
}

// Embed returns a 1536-dimension embedding vector for text.
func (c *Client) Embed(ctx domain.Context, text string) ([]float32, error) {
	tracer := otel.Tracer("ai.openai")
	ctx, span := tracer.Start(ctx, "openai.Embed")
	defer span.End()

	payload, err := json.Marshal(map[string]string{
		"model": c.cfg.EmbeddingsModel,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("op=openai.embed.marshal: %w", err)
	}

	var vec []float32
	err = c.doWithRetry(ctx, func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.AIBaseURL+"/embeddings", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("openai: build embed request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.EmbeddingsAPIKey)
		req.Header.Set("Content-Type", "application/json")

		body, code, err := c.do(req)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return classifyStatus(code, string(body))
		}

		var decoded struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("openai: decode embed response: %w", err))
		}
		if len(decoded.Data) == 0 {
			return backoff.Permanent(fmt.Errorf("openai: embed response had no data"))
		}
		vec = decoded.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=openai.embed: %w", err)
	}
	return vec, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: request failed: %w: %w", err, domain.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: read response: %w: %w", err, domain.ErrTransient)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) doWithRetry(ctx domain.Context, op func(context.Context) error) error {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	expo.MaxElapsedTime = maxElapsed

	bo := backoff.WithContext(expo, ctx)
	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) || errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrAuthentication) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, bo)
}

func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("openai: rate limited: %w", domain.ErrRateLimited)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("openai: auth failed (%d): %w", status, domain.ErrAuthentication))
	case status >= 500:
		return fmt.Errorf("openai: upstream %d: %w", status, domain.ErrTransient)
	case status >= 400:
		return backoff.Permanent(fmt.Errorf("openai: request rejected (%d): %s: %w", status, body, domain.ErrInvalidArgument))
	default:
		return backoff.Permanent(fmt.Errorf("openai: unexpected status %d", status))
	}
}
