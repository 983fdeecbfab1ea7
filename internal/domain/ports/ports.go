// Package ports defines interfaces for external dependencies.
// Usecases depend on these abstractions, not concrete implementations;
// adapters implement them.
package ports

import (
	"context"
	"errors"
	"strings"

	"docbot/internal/domain/entities"
)

// ModelRequest is a single chat-completion request.
type ModelRequest struct {
	Model  string
	System string
	Prompt string
}

// ModelClient issues raw requests against one language-model provider.
// Complete may return *RateLimitError; classification happens here so the
// invocation layer can decide on fallback without knowing provider details.
type ModelClient interface {
	// Complete returns the full response text for the request.
	Complete(ctx context.Context, req ModelRequest) (string, error)

	// CompleteStream returns the response incrementally as raw tokens.
	CompleteStream(ctx context.Context, req ModelRequest) (<-chan StreamToken, error)
}

// StreamToken is one raw fragment of a streaming model response.
type StreamToken struct {
	Content string
	Done    bool
	Err     error
}

// StreamChunk is one line-aligned fragment of the final answer, as delivered
// to the transport. Content never breaks inside a line of markdown.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// RateLimitError signals that a provider rejected a request for quota reasons.
type RateLimitError struct {
	Model      string
	StatusCode int
	Message    string
}

func (e *RateLimitError) Error() string {
	return "model " + e.Model + " rate limited: " + e.Message
}

// IsRateLimit reports whether err is a classified rate-limit failure.
// Besides the typed error it falls back to status/message pattern matching,
// since some providers only surface the condition as text.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentFilter scopes a search to one document. The match is a logical OR
// across the structured document key and the raw source filename, so both
// tagged and plain ingested documents stay retrievable.
type DocumentFilter struct {
	DocumentID string
}

// VectorIndex persists and queries document embeddings.
// Safe for concurrent reads; mutated only by the out-of-band ingestion path,
// which rebuilds it wholesale (last writer wins).
type VectorIndex interface {
	// Search returns up to topK passages ordered by descending score,
	// ties broken by ingestion order. A nil filter searches the full index.
	// Zero matches yields an empty slice, not an error.
	Search(ctx context.Context, embedding []float32, filter *DocumentFilter, topK int) ([]entities.Passage, error)

	// Discover enumerates the document catalog from indexed metadata.
	Discover(ctx context.Context) ([]entities.DocumentDescriptor, error)

	// Store saves chunks with their embeddings.
	Store(ctx context.Context, chunks []entities.Chunk) error

	// Clear removes all indexed data.
	Clear(ctx context.Context) error
}

// DocumentLoader reads a source document from disk.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*entities.Document, error)
	SupportedExtensions() []string
}

// FileWatcher monitors a directory for changes.
type FileWatcher interface {
	Watch(ctx context.Context, dir string) (<-chan FileEvent, error)
	Stop() error
}

// FileEvent represents a file system change.
type FileEvent struct {
	Path      string
	Operation FileOperation
}

// FileOperation is the type of file change.
type FileOperation int

const (
	FileCreated FileOperation = iota
	FileModified
	FileDeleted
)

func (op FileOperation) String() string {
	switch op {
	case FileCreated:
		return "created"
	case FileModified:
		return "modified"
	case FileDeleted:
		return "deleted"
	}
	return "unknown"
}
