package usecases

import (
	"context"
	"fmt"
	"strings"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
)

const generateSystemPrompt = `You are an expert consultant. You answer questions using ONLY the provided document context.

%s

FORMAT YOUR RESPONSE LIKE THIS:

## Section Title

Use **bold** for key data: numbers, dates, requirements, limits.

- Use bullet points for lists of requirements or items

For structured data, use proper markdown tables:

| Column 1 | Column 2 |
|----------|----------|
| Data 1   | Data 2   |

RULES:
- Structure the answer with ## headers for each major topic
- Use **bold** for critical information (ages, scores, deadlines, requirements)
- Use tables ONLY when the data is truly tabular; never put notes or commentary inside table cells
- Include ALL specific numbers, dates, and conditions from the context; mention exceptions explicitly
- Do NOT add introductions, conclusions, disclaimers, or source citations
- Go straight to the useful content and stop when the information is complete`

const generateEmptyContextRule = `
- The context below is EMPTY: state clearly, in the required language, that no relevant information was found in the available documentation, and say nothing else`

const generateStrictSuffix = `
- Your previous answer was empty or unusable; produce the full markdown answer now`

var languageInstructions = map[entities.Language]string{
	entities.LanguageSpanish: "Responde siempre en ESPAÑOL.",
	entities.LanguageEnglish: "Always respond in ENGLISH.",
}

// GenerationStage turns a question plus retrieved passages into a grounded
// markdown answer, blocking or as a line-aligned stream.
type GenerationStage struct {
	invoker *ModelInvoker
}

// NewGenerationStage creates a GenerationStage.
func NewGenerationStage(invoker *ModelInvoker) *GenerationStage {
	return &GenerationStage{invoker: invoker}
}

// Generate produces the full answer text. An empty answer is a FormatError
// so the orchestrator can retry once with a stricter instruction.
func (g *GenerationStage) Generate(
	ctx context.Context,
	question string,
	lang entities.Language,
	passages []entities.Passage,
	history []entities.Turn,
	strict bool,
) (string, error) {
	res, err := g.invoker.Invoke(ctx, g.request(question, lang, passages, history, strict))
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(res.Output)
	if answer == "" {
		return "", &entities.FormatError{Stage: "generation", Cause: fmt.Errorf("model returned empty answer")}
	}
	return answer, nil
}

// GenerateStream produces the answer incrementally. Chunks are aligned to
// line boundaries: a chunk is emitted only once its line is complete, so
// markdown block structure (table rows in particular) never splits across
// chunk boundaries. Delivery stops promptly when ctx is cancelled.
func (g *GenerationStage) GenerateStream(
	ctx context.Context,
	question string,
	lang entities.Language,
	passages []entities.Passage,
	history []entities.Turn,
) (<-chan ports.StreamChunk, error) {
	tokens, _, err := g.invoker.InvokeStream(ctx, g.request(question, lang, passages, history, false))
	if err != nil {
		return nil, err
	}

	out := make(chan ports.StreamChunk, 16)
	go func() {
		defer close(out)
		relayLines(ctx, tokens, out)
	}()
	return out, nil
}

func (g *GenerationStage) request(
	question string,
	lang entities.Language,
	passages []entities.Passage,
	history []entities.Turn,
	strict bool,
) ports.ModelRequest {
	instruction, ok := languageInstructions[lang]
	if !ok {
		instruction = languageInstructions[entities.LanguageEnglish]
	}

	system := fmt.Sprintf(generateSystemPrompt, instruction)
	if len(passages) == 0 {
		system += generateEmptyContextRule
	}
	if strict {
		system += generateStrictSuffix
	}

	return ports.ModelRequest{
		System: system,
		Prompt: buildGeneratePrompt(question, passages, history),
	}
}

func buildGeneratePrompt(question string, passages []entities.Passage, history []entities.Turn) string {
	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "User Question: %s\n\nContext from Documents:\n", question)
	if len(passages) == 0 {
		sb.WriteString("(no relevant passages found)")
	} else {
		parts := make([]string, len(passages))
		for i, p := range passages {
			label := p.DocumentID
			if label == "" {
				label = p.Source
			}
			parts[i] = fmt.Sprintf("[%s | Relevance: %.2f]\n%s", label, p.Score, p.Content)
		}
		sb.WriteString(strings.Join(parts, "\n\n---\n\n"))
	}

	sb.WriteString("\n\nAnswer the user's question based on the document content above.")
	return sb.String()
}

// relayLines re-buffers raw model tokens into whole lines. The first emitted
// chunk carries its line bare; every later chunk is prefixed with the newline
// that separates it from the previous one, so plain concatenation of chunk
// contents reconstructs the exact answer text.
func relayLines(ctx context.Context, tokens <-chan ports.StreamToken, out chan<- ports.StreamChunk) {
	var pending string
	first := true

	emit := func(chunk ports.StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}
	emitLine := func(line string) bool {
		content := line
		if !first {
			content = "\n" + line
		}
		first = false
		return emit(ports.StreamChunk{Content: content})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case tok, ok := <-tokens:
			if !ok {
				if pending != "" && !emitLine(pending) {
					return
				}
				emit(ports.StreamChunk{Done: true})
				return
			}
			if tok.Err != nil {
				emit(ports.StreamChunk{Err: tok.Err, Done: true})
				return
			}
			pending += tok.Content
			for {
				nl := strings.IndexByte(pending, '\n')
				if nl < 0 {
					break
				}
				line := pending[:nl]
				pending = pending[nl+1:]
				if !emitLine(line) {
					return
				}
			}
			if tok.Done {
				if pending != "" && !emitLine(pending) {
					return
				}
				emit(ports.StreamChunk{Done: true})
				return
			}
		}
	}
}
