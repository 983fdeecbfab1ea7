package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
	"docbot/internal/observability"
)

// Pipeline sequences triage, retrieval and generation for one request.
//
// States: START -> TRIAGE -> {CLARIFY | RETRIEVE -> GENERATE -> DONE}.
// A clarification ends the turn; the next user turn re-enters through the
// context extractor. Each request runs its own instance of the machine with
// no shared mutable state.
type Pipeline struct {
	triage     *TriageStage
	retrieval  *RetrievalStage
	generation *GenerationStage
}

// NewPipeline creates a Pipeline.
func NewPipeline(triage *TriageStage, retrieval *RetrievalStage, generation *GenerationStage) *Pipeline {
	return &Pipeline{triage: triage, retrieval: retrieval, generation: generation}
}

// turnPlan is the outcome of the front half of the state machine, shared by
// the blocking and streaming entry points.
type turnPlan struct {
	// terminal is a complete answer decided without generation
	// (clarification, catalog listing, empty catalog).
	terminal string

	triage   *entities.TriageResult
	passages []entities.Passage
}

// Answer runs the pipeline to completion and returns the final text.
func (p *Pipeline) Answer(ctx context.Context, message string, history []entities.Turn) (string, error) {
	plan, err := p.plan(ctx, message, history)
	if err != nil {
		return "", err
	}
	if plan.terminal != "" {
		return plan.terminal, nil
	}

	answer, err := p.generation.Generate(ctx, message, plan.triage.Language, plan.passages, history, false)
	var formatErr *entities.FormatError
	if errors.As(err, &formatErr) {
		observability.FromContext(ctx).Warn("generation output unusable, retrying strict", zap.Error(err))
		answer, err = p.generation.Generate(ctx, message, plan.triage.Language, plan.passages, history, true)
	}
	if err != nil {
		return "", p.fail(plan.triage.Language, err)
	}
	return answer, nil
}

// AnswerStream runs the same state machine but delivers the GENERATE step
// incrementally. The channel closes after an explicit Done chunk.
func (p *Pipeline) AnswerStream(ctx context.Context, message string, history []entities.Turn) (<-chan ports.StreamChunk, error) {
	plan, err := p.plan(ctx, message, history)
	if err != nil {
		return nil, err
	}
	if plan.terminal != "" {
		return staticStream(ctx, plan.terminal), nil
	}

	chunks, err := p.generation.GenerateStream(ctx, message, plan.triage.Language, plan.passages, history)
	if err != nil {
		return nil, p.fail(plan.triage.Language, err)
	}
	return chunks, nil
}

// plan executes START -> TRIAGE -> {CLARIFY | RETRIEVE}.
func (p *Pipeline) plan(ctx context.Context, message string, history []entities.Turn) (*turnPlan, error) {
	log := observability.FromContext(ctx)

	catalog, err := p.retrieval.Catalog(ctx)
	if err != nil {
		return nil, p.fail(entities.LanguageEnglish, fmt.Errorf("%w: discovering catalog: %v", entities.ErrPipelineFailure, err))
	}

	// No documents indexed is an informational answer, not an error.
	// Triage never ran, so the locale comes from surface features alone.
	if len(catalog) == 0 {
		log.Info("empty catalog, short-circuiting")
		return &turnPlan{terminal: entities.NoDocumentsMessage(entities.GuessLanguage(message))}, nil
	}

	convCtx := ExtractContext(history, catalog)

	tri, err := p.triage.Run(ctx, message, convCtx, catalog, false)
	var formatErr *entities.FormatError
	if errors.As(err, &formatErr) {
		log.Warn("triage output malformed, retrying strict", zap.Error(err))
		tri, err = p.triage.Run(ctx, message, convCtx, catalog, true)
	}
	if err != nil {
		// Language detection never completed; neutral fallback.
		return nil, p.fail(entities.LanguageEnglish, err)
	}

	if tri.ClarificationQuestion != "" {
		log.Info("clarification needed", zap.Strings("options", tri.CandidateOptions))
		return &turnPlan{terminal: tri.ClarificationQuestion, triage: tri}, nil
	}

	if tri.ListingRequest && tri.DocumentID == "" {
		return &turnPlan{terminal: listingAnswer(tri.Language, catalog), triage: tri}, nil
	}

	passages, err := p.retrieval.Retrieve(ctx, tri.SearchQuery, tri.DocumentID)
	if err != nil {
		return nil, p.fail(tri.Language, fmt.Errorf("%w: %v", entities.ErrPipelineFailure, err))
	}

	return &turnPlan{triage: tri, passages: passages}, nil
}

// fail wraps an internal error with the best-known language and normalizes
// escalation: repeated format failures become pipeline failures.
func (p *Pipeline) fail(lang entities.Language, err error) error {
	var formatErr *entities.FormatError
	if errors.As(err, &formatErr) {
		err = fmt.Errorf("%w: %v", entities.ErrPipelineFailure, err)
	}
	return &entities.Failure{Language: lang, Cause: err}
}

// listingAnswer renders the catalog as a markdown list for "what documents
// do you have" questions against a multi-document catalog. The headings must
// stay clear of clarificationMarkers: a listing reply is an answer, and the
// next turn must not be parsed as a clarification response.
func listingAnswer(lang entities.Language, catalog []entities.DocumentDescriptor) string {
	heading := "Indexed documents:"
	if lang == entities.LanguageSpanish {
		heading = "Documentos indexados:"
	}
	lines := make([]string, 0, len(catalog)+2)
	lines = append(lines, heading, "")
	for _, doc := range catalog {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", doc.ID, doc.Description()))
	}
	return strings.Join(lines, "\n")
}

// staticStream delivers an already-known answer with the same line framing
// the generation stream uses.
func staticStream(ctx context.Context, text string) <-chan ports.StreamChunk {
	out := make(chan ports.StreamChunk, 16)
	go func() {
		defer close(out)
		for i, line := range strings.Split(text, "\n") {
			content := line
			if i > 0 {
				content = "\n" + line
			}
			select {
			case out <- ports.StreamChunk{Content: content}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- ports.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out
}
