package usecases

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
	"docbot/internal/observability"
)

// RetrievalStage embeds a query and searches the vector index, optionally
// scoped to one document. Zero matches is a valid outcome, never an error.
type RetrievalStage struct {
	embedder       ports.Embedder
	index          ports.VectorIndex
	topK           int
	scoreThreshold float64
}

// NewRetrievalStage creates a RetrievalStage.
func NewRetrievalStage(embedder ports.Embedder, index ports.VectorIndex, topK int, scoreThreshold float64) *RetrievalStage {
	if topK <= 0 {
		topK = 5
	}
	return &RetrievalStage{
		embedder:       embedder,
		index:          index,
		topK:           topK,
		scoreThreshold: scoreThreshold,
	}
}

// Retrieve returns up to topK passages for the query, highest relevance
// first. documentID scopes the search; empty searches the whole index.
func (r *RetrievalStage) Retrieve(ctx context.Context, query, documentID string) ([]entities.Passage, error) {
	log := observability.FromContext(ctx)

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var filter *ports.DocumentFilter
	if documentID != "" {
		filter = &ports.DocumentFilter{DocumentID: documentID}
	}

	passages, err := r.index.Search(ctx, embedding, filter, r.topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	kept := passages[:0]
	for _, p := range passages {
		if p.Score >= r.scoreThreshold {
			kept = append(kept, p)
		}
	}
	for i := range kept {
		kept[i].Ordinal = i
	}

	log.Info("retrieval done",
		zap.String("document", documentID),
		zap.Int("matches", len(kept)))
	return kept, nil
}

// Catalog enumerates the known documents via index discovery.
func (r *RetrievalStage) Catalog(ctx context.Context) ([]entities.DocumentDescriptor, error) {
	return r.index.Discover(ctx)
}
