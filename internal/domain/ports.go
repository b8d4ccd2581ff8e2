package domain

import "time"

// Scraper abstracts the scraping backend used by the full_scrape and
// discover handlers. Two interchangeable implementations exist behind this
// interface (spec §6); callers only depend on the typed error taxonomy.
type Scraper interface {
	// ScrapeProfile fetches and normalizes one account's profile.
	ScrapeProfile(ctx Context, username string) (ScrapedProfile, error)
	// Discover returns candidate users for a hashtag.
	Discover(ctx Context, hashtag string, minFollowers int64) ([]CandidateUser, error)
}

// BatchStatus mirrors the AI provider's observed batch lifecycle states.
type BatchStatus string

// Batch status values (spec §6).
const (
	BatchValidating  BatchStatus = "validating"
	BatchInProgress  BatchStatus = "in_progress"
	BatchFinalizing  BatchStatus = "finalizing"
	BatchCompleted   BatchStatus = "completed"
	BatchFailed      BatchStatus = "failed"
	BatchExpired     BatchStatus = "expired"
	BatchCancelled   BatchStatus = "cancelled"
)

// AIRequest is one per-task analysis request built by the batch submitter.
type AIRequest struct {
	CustomID string // the blog id
	Prompt   string
	ImageURLs []string
}

// BatchProvider abstracts the external asynchronous AI batch service: file
// upload, batch creation, status polling, and output retrieval.
type BatchProvider interface {
	// UploadAndCreateBatch uploads one request file and creates a batch
	// referencing it with the given completion window, returning the
	// provider's batch id.
	UploadAndCreateBatch(ctx Context, requests []AIRequest, window time.Duration) (batchID string, err error)
	// BatchStatus retrieves the current status of a batch.
	BatchStatus(ctx Context, batchID string) (BatchStatus, error)
	// DownloadResults retrieves the JSONL-style output of a completed batch,
	// one raw line per original request.
	DownloadResults(ctx Context, batchID string) ([]string, error)
}

// EmbeddingProvider abstracts the embedding backend.
type EmbeddingProvider interface {
	// Embed returns a fixed-length (1536) vector for text.
	Embed(ctx Context, text string) ([]float32, error)
}

// EmbeddingDimensions is the fixed vector length the system stores and
// indexes (spec §2, §4.7).
const EmbeddingDimensions = 1536

// ObjectStorage abstracts the image object store (avatar + post thumbnails).
type ObjectStorage interface {
	// Put uploads data under key, replacing any ephemeral CDN URL with a
	// stable stored reference, and returns the stored object's URL.
	Put(ctx Context, key string, data []byte, contentType string) (url string, err error)
	// Delete removes an object; used by the cleanup job.
	Delete(ctx Context, key string) error
	// List enumerates object keys under a prefix; used by the cleanup job
	// to find orphaned objects.
	List(ctx Context, prefix string) ([]string, error)
}

// VectorIndex abstracts the semantic-search sink that embeddings are also
// pushed to, in addition to being stored on the Blog row (spec §2: "embeddings
// for downstream search").
type VectorIndex interface {
	// Upsert indexes id with vec and an optional payload for retrieval.
	Upsert(ctx Context, id string, vec []float32, payload map[string]any) error
}
