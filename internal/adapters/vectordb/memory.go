package vectordb

import (
	"context"
	"sort"
	"sync"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
)

// InMemoryIndex is a non-persistent vector index with the same semantics as
// SQLiteIndex. Used in tests and for local development without CGO.
type InMemoryIndex struct {
	mu     sync.RWMutex
	chunks []entities.Chunk // insertion order preserved for stable ties
}

// NewInMemoryIndex creates an empty in-memory index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

// Store saves chunks with their embeddings.
func (s *InMemoryIndex) Store(ctx context.Context, chunks []entities.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Search returns the topK most similar passages, filter semantics matching
// SQLiteIndex (document key OR source filename).
func (s *InMemoryIndex) Search(ctx context.Context, embedding []float32, filter *ports.DocumentFilter, topK int) ([]entities.Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		passage entities.Passage
		order   int
	}
	var results []scored
	for i, chunk := range s.chunks {
		if filter != nil && !matchesFilter(chunk, filter.DocumentID) {
			continue
		}
		results = append(results, scored{
			passage: entities.Passage{
				Content:    chunk.Content,
				DocumentID: chunk.DocumentID,
				Source:     chunk.Source,
				Score:      cosineSimilarity(embedding, chunk.Embedding),
			},
			order: i,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].passage.Score != results[j].passage.Score {
			return results[i].passage.Score > results[j].passage.Score
		}
		return results[i].order < results[j].order
	})
	if len(results) > topK {
		results = results[:topK]
	}

	passages := make([]entities.Passage, len(results))
	for i, r := range results {
		r.passage.Ordinal = i
		passages[i] = r.passage
	}
	return passages, nil
}

// Discover enumerates the catalog from stored chunk metadata.
func (s *InMemoryIndex) Discover(ctx context.Context) ([]entities.DocumentDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make(map[string]entities.DocumentDescriptor)
	for _, chunk := range s.chunks {
		var desc entities.DocumentDescriptor
		if chunk.DocumentID != "" {
			desc = entities.DocumentDescriptor{
				ID:       chunk.DocumentID,
				Code:     chunk.Code,
				Year:     chunk.Year,
				Standard: chunk.Standard,
			}
		} else {
			desc = DescriptorFromSource(chunk.Source)
		}
		if _, seen := docs[desc.ID]; !seen {
			docs[desc.ID] = desc
		}
	}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	catalog := make([]entities.DocumentDescriptor, len(ids))
	for i, id := range ids {
		catalog[i] = docs[id]
	}
	return catalog, nil
}

// Clear removes all indexed data.
func (s *InMemoryIndex) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = nil
	return nil
}

func matchesFilter(chunk entities.Chunk, documentID string) bool {
	return chunk.DocumentID == documentID ||
		chunk.Source == documentID+".md" ||
		chunk.Source == documentID
}
