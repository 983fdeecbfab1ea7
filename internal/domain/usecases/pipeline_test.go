package usecases

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
)

func newTestPipeline(client *fakeModelClient, index *fakeIndex) *Pipeline {
	invoker := NewModelInvoker(client, "primary-model", "fallback-model")
	return NewPipeline(
		NewTriageStage(invoker),
		NewRetrievalStage(&fakeEmbedder{}, index, 5, 0.3),
		NewGenerationStage(invoker),
	)
}

// scriptedClient answers each Complete call with the next canned response.
func scriptedClient(responses ...string) *fakeModelClient {
	i := 0
	client := &fakeModelClient{}
	client.completeFn = func(req ports.ModelRequest) (string, error) {
		if i >= len(responses) {
			return "", errors.New("script exhausted")
		}
		out := responses[i]
		i++
		return out, nil
	}
	return client
}

func TestPipeline_FullTurn(t *testing.T) {
	client := scriptedClient(
		`{"language":"en","document_id":"GC_2026_Oposiciones","search_query":"GC 2026 age requirements"}`,
		"## Age\n\nApplicants must be **18**.",
	)
	index := &fakeIndex{
		catalog: testCatalog(),
		passages: []entities.Passage{
			{Content: "Minimum age is 18.", DocumentID: "GC_2026_Oposiciones", Score: 0.9},
		},
	}

	answer, err := newTestPipeline(client, index).Answer(context.Background(), "minimum age?", nil)
	require.NoError(t, err)
	assert.Contains(t, answer, "## Age")

	// Retrieval was scoped to the triaged document.
	require.NotNil(t, index.lastFilter)
	assert.Equal(t, "GC_2026_Oposiciones", index.lastFilter.DocumentID)
}

func TestPipeline_ClarificationEndsTurn(t *testing.T) {
	client := scriptedClient(
		`{"language":"en","clarification_question":"Which document do you mean: PCGH or GC?"}`,
	)
	index := &fakeIndex{catalog: testCatalog()}

	answer, err := newTestPipeline(client, index).Answer(context.Background(), "requirements?", nil)
	require.NoError(t, err)
	// The question is returned verbatim; no retrieval, no generation.
	assert.Equal(t, "Which document do you mean: PCGH or GC?", answer)
	assert.Nil(t, index.lastFilter)
	assert.Zero(t, index.lastTopK)
}

func TestPipeline_ListingRequest(t *testing.T) {
	client := scriptedClient(`{"language":"es","listing_request":true}`)
	index := &fakeIndex{catalog: testCatalog()}

	answer, err := newTestPipeline(client, index).Answer(context.Background(), "¿qué documentos tienes?", nil)
	require.NoError(t, err)
	assert.Contains(t, answer, "Documentos indexados:")
	assert.Contains(t, answer, "- **PCGH_2025_Eurovent**: PCGH (2025 - Eurovent)")
	assert.Contains(t, answer, "- **GC_2026_Oposiciones**: GC (2026 - Oposiciones)")
}

func TestPipeline_EmptyCatalog(t *testing.T) {
	client := &fakeModelClient{}
	index := &fakeIndex{}

	answer, err := newTestPipeline(client, index).Answer(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, entities.NoDocumentsMessage(entities.LanguageEnglish), answer)
	assert.Empty(t, client.calls, "no model calls for an empty catalog")
}

func TestPipeline_EmptyCatalogLocalized(t *testing.T) {
	client := &fakeModelClient{}
	index := &fakeIndex{}

	answer, err := newTestPipeline(client, index).Answer(context.Background(), "hola, ¿qué documentos tienes?", nil)
	require.NoError(t, err)
	assert.Equal(t, entities.NoDocumentsMessage(entities.LanguageSpanish), answer)
}

func TestPipeline_ListingReplyDoesNotArmClarification(t *testing.T) {
	catalog := testCatalog()
	history := []entities.Turn{
		{Role: entities.RoleUser, Content: "¿qué documentos tienes?"},
		{Role: entities.RoleAssistant, Content: listingAnswer(entities.LanguageSpanish, catalog)},
	}

	convCtx := ExtractContext(history, catalog)
	assert.False(t, convCtx.AwaitingClarification, "a catalog listing is an answer, not a question")
	assert.Empty(t, convCtx.OfferedOptions)
}

func TestPipeline_TriageRetriesOnceOnFormatError(t *testing.T) {
	client := scriptedClient(
		"not json at all",
		`{"language":"en","document_id":"GC_2026_Oposiciones"}`,
		"the answer",
	)
	index := &fakeIndex{catalog: testCatalog()}

	answer, err := newTestPipeline(client, index).Answer(context.Background(), "age?", nil)
	require.NoError(t, err)
	assert.Equal(t, "the answer", answer)

	// Second triage call carried the strict instruction.
	require.GreaterOrEqual(t, len(client.calls), 2)
	assert.NotContains(t, client.calls[0].System, "did not parse")
	assert.Contains(t, client.calls[1].System, "did not parse")
}

func TestPipeline_TriageFailingTwiceIsPipelineFailure(t *testing.T) {
	client := scriptedClient("garbage", "still garbage")
	index := &fakeIndex{catalog: testCatalog()}

	_, err := newTestPipeline(client, index).Answer(context.Background(), "age?", nil)
	require.Error(t, err)

	var failure *entities.Failure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, entities.ErrPipelineFailure)
	// Language detection never completed, so the fallback is English.
	assert.Equal(t, entities.LanguageEnglish, failure.Language)
}

func TestPipeline_GenerationRetriesOnEmptyAnswer(t *testing.T) {
	client := scriptedClient(
		`{"language":"en","document_id":"GC_2026_Oposiciones"}`,
		"",
		"recovered answer",
	)
	index := &fakeIndex{catalog: testCatalog()}

	answer, err := newTestPipeline(client, index).Answer(context.Background(), "age?", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered answer", answer)
}

func TestPipeline_RetrievalFailureIsLocalizedFailure(t *testing.T) {
	client := scriptedClient(`{"language":"es","document_id":"GC_2026_Oposiciones"}`)
	index := &fakeIndex{catalog: testCatalog(), searchErr: errors.New("index offline")}

	_, err := newTestPipeline(client, index).Answer(context.Background(), "¿edad?", nil)
	var failure *entities.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, entities.LanguageSpanish, failure.Language, "triage already detected the language")
	assert.ErrorIs(t, err, entities.ErrPipelineFailure)
	assert.Contains(t, failure.UserMessage(), "Lo siento")
}

func TestPipeline_CatalogFailure(t *testing.T) {
	client := &fakeModelClient{}
	index := &fakeIndex{catalogErr: errors.New("db locked")}

	_, err := newTestPipeline(client, index).Answer(context.Background(), "q", nil)
	var failure *entities.Failure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, entities.ErrPipelineFailure)
}

func TestPipeline_AnswerStream(t *testing.T) {
	client := scriptedClient(`{"language":"en","document_id":"GC_2026_Oposiciones"}`)
	client.streamFn = func(req ports.ModelRequest) (<-chan ports.StreamToken, error) {
		return tokenStream(
			ports.StreamToken{Content: "## Age\nApplicants must be **18**."},
			ports.StreamToken{Done: true},
		), nil
	}
	index := &fakeIndex{catalog: testCatalog()}

	chunks, err := newTestPipeline(client, index).AnswerStream(context.Background(), "age?", nil)
	require.NoError(t, err)

	got := collect(t, chunks)
	var text strings.Builder
	for _, c := range got {
		text.WriteString(c.Content)
	}
	assert.Equal(t, "## Age\nApplicants must be **18**.", text.String())
	assert.True(t, got[len(got)-1].Done)
}

func TestPipeline_AnswerStreamTerminal(t *testing.T) {
	client := scriptedClient(
		`{"language":"en","clarification_question":"Which document do you mean?\n1. PCGH\n2. GC"}`,
	)
	index := &fakeIndex{catalog: testCatalog()}

	chunks, err := newTestPipeline(client, index).AnswerStream(context.Background(), "requirements?", nil)
	require.NoError(t, err)

	got := collect(t, chunks)
	var text strings.Builder
	for _, c := range got {
		text.WriteString(c.Content)
	}
	// Terminal answers use the same line framing as generated ones.
	assert.Equal(t, "Which document do you mean?\n1. PCGH\n2. GC", text.String())
	for _, c := range got[:len(got)-1] {
		assert.NotContains(t, c.Content[1:], "\n", "newlines only as chunk prefixes")
	}
}

func TestPipeline_ClarificationAnswerResolvesAgainstOptions(t *testing.T) {
	// Turn two of the clarification flow: the user picks "the first one".
	client := scriptedClient(
		`{"language":"en","document_id":"PCGH_2025_Eurovent","search_query":"PCGH certification requirements"}`,
		"the pcgh answer",
	)
	index := &fakeIndex{catalog: testCatalog()}

	history := []entities.Turn{
		{Role: entities.RoleUser, Content: "certification requirements?"},
		{Role: entities.RoleAssistant, Content: "Which document do you mean?\n1. PCGH (2025 - Eurovent)\n2. GC (2026 - Oposiciones)"},
	}

	answer, err := newTestPipeline(client, index).Answer(context.Background(), "the first one", history)
	require.NoError(t, err)
	assert.Equal(t, "the pcgh answer", answer)

	// The triage prompt presented the offered options as a closed set.
	assert.Contains(t, client.calls[0].Prompt, "ONLY these offered options")
	assert.Contains(t, client.calls[0].Prompt, "1. PCGH_2025_Eurovent")
}
