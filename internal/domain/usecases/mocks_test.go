package usecases

import (
	"context"
	"errors"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
)

// fakeModelClient implements ports.ModelClient with scriptable behavior.
type fakeModelClient struct {
	completeFn func(req ports.ModelRequest) (string, error)
	streamFn   func(req ports.ModelRequest) (<-chan ports.StreamToken, error)
	calls      []ports.ModelRequest
}

func (f *fakeModelClient) Complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	f.calls = append(f.calls, req)
	if f.completeFn != nil {
		return f.completeFn(req)
	}
	return "", errors.New("no complete script")
}

func (f *fakeModelClient) CompleteStream(ctx context.Context, req ports.ModelRequest) (<-chan ports.StreamToken, error) {
	f.calls = append(f.calls, req)
	if f.streamFn != nil {
		return f.streamFn(req)
	}
	return nil, errors.New("no stream script")
}

// tokenStream turns canned tokens into a closed channel, the way a finished
// provider stream looks.
func tokenStream(tokens ...ports.StreamToken) <-chan ports.StreamToken {
	ch := make(chan ports.StreamToken, len(tokens))
	for _, tok := range tokens {
		ch <- tok
	}
	close(ch)
	return ch
}

// fakeEmbedder implements ports.Embedder with a fixed vector.
type fakeEmbedder struct {
	embedFn func(text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedFn != nil {
		return f.embedFn(text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// fakeIndex implements ports.VectorIndex with canned results and call capture.
type fakeIndex struct {
	passages   []entities.Passage
	catalog    []entities.DocumentDescriptor
	searchErr  error
	catalogErr error

	lastFilter *ports.DocumentFilter
	lastTopK   int
	stored     []entities.Chunk
	cleared    bool
}

func (f *fakeIndex) Search(ctx context.Context, embedding []float32, filter *ports.DocumentFilter, topK int) ([]entities.Passage, error) {
	f.lastFilter = filter
	f.lastTopK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]entities.Passage(nil), f.passages...), nil
}

func (f *fakeIndex) Discover(ctx context.Context) ([]entities.DocumentDescriptor, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.catalog, nil
}

func (f *fakeIndex) Store(ctx context.Context, chunks []entities.Chunk) error {
	f.stored = append(f.stored, chunks...)
	return nil
}

func (f *fakeIndex) Clear(ctx context.Context) error {
	f.cleared = true
	f.stored = nil
	return nil
}

func testCatalog() []entities.DocumentDescriptor {
	return []entities.DocumentDescriptor{
		{ID: "PCGH_2025_Eurovent", Code: "PCGH", Year: "2025", Standard: "Eurovent"},
		{ID: "GC_2026_Oposiciones", Code: "GC", Year: "2026", Standard: "Oposiciones"},
	}
}
