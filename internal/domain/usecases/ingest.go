package usecases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
	"docbot/internal/observability"
)

const embedBatchSize = 50

// Ingestor rebuilds the vector index from the Markdown documents in a
// directory. Rebuilds are wholesale (clear, then store everything) and
// serialized against each other; queries keep working throughout, with
// last-writer-wins semantics.
type Ingestor struct {
	loader       ports.DocumentLoader
	embedder     ports.Embedder
	index        ports.VectorIndex
	chunkSize    int
	chunkOverlap int

	mu sync.Mutex
}

// NewIngestor creates an Ingestor with injected dependencies.
func NewIngestor(loader ports.DocumentLoader, embedder ports.Embedder, index ports.VectorIndex, chunkSize, chunkOverlap int) *Ingestor {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 200
	}
	return &Ingestor{
		loader:       loader,
		embedder:     embedder,
		index:        index,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// IngestDir loads every supported file in dir, chunks and embeds it, and
// replaces the index contents. Returns the number of chunks indexed.
func (ing *Ingestor) IngestDir(ctx context.Context, dir string) (int, error) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	log := observability.FromContext(ctx)

	paths, err := ing.listSources(dir)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		log.Warn("no source documents found", zap.String("dir", dir))
		return 0, ing.index.Clear(ctx)
	}

	var chunks []entities.Chunk
	for _, path := range paths {
		doc, err := ing.loader.Load(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("loading %s: %w", path, err)
		}
		docChunks := chunkDocument(doc, ing.chunkSize, ing.chunkOverlap)
		log.Info("document chunked",
			zap.String("source", doc.Name),
			zap.Int("chunks", len(docChunks)))
		chunks = append(chunks, docChunks...)
	}

	if err := ing.embedChunks(ctx, chunks); err != nil {
		return 0, err
	}

	if err := ing.index.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clearing index: %w", err)
	}
	if err := ing.index.Store(ctx, chunks); err != nil {
		return 0, fmt.Errorf("storing chunks: %w", err)
	}

	log.Info("ingestion complete",
		zap.Int("documents", len(paths)),
		zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

func (ing *Ingestor) listSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading data dir: %w", err)
	}

	supported := make(map[string]bool)
	for _, ext := range ing.loader.SupportedExtensions() {
		supported[ext] = true
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if supported[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (ing *Ingestor) embedChunks(ctx context.Context, chunks []entities.Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = chunks[start+i].Content
		}
		embeddings, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		for i, emb := range embeddings {
			chunks[start+i].Embedding = emb
		}
	}
	return nil
}

// chunkDocument splits a document into chunks, keeping tables whole and
// stamping each chunk with the document's metadata.
func chunkDocument(doc *entities.Document, size, overlap int) []entities.Chunk {
	var chunks []entities.Chunk
	index := 0

	add := func(content string, kind entities.ChunkKind) {
		chunk := entities.Chunk{
			ID:      uuid.NewString(),
			Source:  doc.Name,
			Content: content,
			Index:   index,
			Kind:    kind,
		}
		if doc.Key != nil {
			chunk.DocumentID = doc.Key.ID
			chunk.Code = doc.Key.Code
			chunk.Year = doc.Key.Year
			chunk.Standard = doc.Key.Standard
		}
		chunks = append(chunks, chunk)
		index++
	}

	for _, seg := range segmentMarkdown(doc.Content) {
		if strings.TrimSpace(seg.content) == "" {
			continue
		}
		if seg.table {
			add(seg.content, entities.ChunkTable)
			continue
		}
		for _, text := range splitText(seg.content, size, overlap) {
			add(text, entities.ChunkText)
		}
	}
	return chunks
}
