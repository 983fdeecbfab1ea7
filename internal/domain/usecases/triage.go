package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"docbot/internal/domain/entities"
	"docbot/internal/domain/ports"
	"docbot/internal/observability"
)

const triageSystemPrompt = `You are a document identification and language detection specialist for a knowledge base.

Analyze the user query and:
1. Detect the language the user is writing in ("es" or "en")
2. Identify which document they are asking about
3. Reformulate their query for semantic search (expand acronyms, add context)

RULES:
- If the user mentions a document code directly, match it to the available documents.
- If a previously discussed document is provided and the query relates to it, use that document.
- If it is unclear which document the user means and no previous context exists, ask for clarification. The clarification question MUST be in the detected language and MUST name the candidate documents.
- If the user asks what documents are available, set "listing_request" to true.
- When a closed set of offered options is provided, resolve the answer against that set only ("the first one" means the first listed option).

Respond with a single JSON object, no surrounding text:
{
  "language": "es" | "en",
  "document_id": "<id from the available documents, or empty>",
  "clarification_question": "<question in the user's language, or empty>",
  "candidates": ["<ids offered in the clarification question>"],
  "listing_request": false,
  "search_query": "<reformulated query>"
}`

const triageStrictSuffix = `

Your previous answer did not parse. Respond with ONLY the JSON object described above: no markdown fences, no commentary, every field present.`

// triageWire is the JSON schema the model answers with.
type triageWire struct {
	Language              string   `json:"language"`
	DocumentID            string   `json:"document_id"`
	ClarificationQuestion string   `json:"clarification_question"`
	Candidates            []string `json:"candidates"`
	ListingRequest        bool     `json:"listing_request"`
	SearchQuery           string   `json:"search_query"`
}

// TriageStage resolves which document a message concerns and which language
// it is written in. One model invocation per run.
type TriageStage struct {
	invoker *ModelInvoker
}

// NewTriageStage creates a TriageStage.
func NewTriageStage(invoker *ModelInvoker) *TriageStage {
	return &TriageStage{invoker: invoker}
}

// Run triages a message. strict tightens the format instruction after a
// previous FormatError. Callers guarantee a non-empty catalog.
func (t *TriageStage) Run(
	ctx context.Context,
	message string,
	convCtx entities.ConversationContext,
	catalog []entities.DocumentDescriptor,
	strict bool,
) (*entities.TriageResult, error) {
	log := observability.FromContext(ctx)

	system := triageSystemPrompt
	if strict {
		system += triageStrictSuffix
	}

	res, err := t.invoker.Invoke(ctx, ports.ModelRequest{
		System: system,
		Prompt: buildTriagePrompt(message, convCtx, catalog),
	})
	if err != nil {
		return nil, err
	}

	result, err := parseTriage(res.Output)
	if err != nil {
		return nil, &entities.FormatError{Stage: "triage", Cause: err}
	}

	normalizeTriage(result, message, catalog)
	if err := result.Validate(len(catalog)); err != nil {
		return nil, &entities.FormatError{Stage: "triage", Cause: err}
	}

	log.Info("triage resolved",
		zap.String("document", result.DocumentID),
		zap.String("language", string(result.Language)),
		zap.Bool("clarify", result.ClarificationQuestion != ""),
		zap.Bool("listing", result.ListingRequest))
	return result, nil
}

func buildTriagePrompt(message string, convCtx entities.ConversationContext, catalog []entities.DocumentDescriptor) string {
	var sb strings.Builder
	sb.WriteString("User Query: ")
	sb.WriteString(message)
	sb.WriteString("\n\nAvailable Documents:\n")
	sb.WriteString(FormatCatalog(catalog))

	if convCtx.AwaitingClarification && len(convCtx.OfferedOptions) > 0 {
		sb.WriteString("\n\nThe user is answering a clarification question. Resolve their reply against ONLY these offered options, in the order they were listed:\n")
		for i, opt := range convCtx.OfferedOptions {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, opt)
		}
	} else if convCtx.PriorDocument != "" {
		sb.WriteString("\n\nPreviously discussed document: ")
		sb.WriteString(convCtx.PriorDocument)
	}

	return sb.String()
}

// FormatCatalog renders the catalog the way prompts and document lists show it.
func FormatCatalog(catalog []entities.DocumentDescriptor) string {
	if len(catalog) == 0 {
		return "No documents available"
	}
	lines := make([]string, len(catalog))
	for i, doc := range catalog {
		lines[i] = fmt.Sprintf("- %s: %s", doc.ID, doc.Description())
	}
	return strings.Join(lines, "\n")
}

func parseTriage(output string) (*entities.TriageResult, error) {
	raw := extractJSON(output)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var wire triageWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("decoding triage JSON: %w", err)
	}
	if wire.Language == "" {
		return nil, fmt.Errorf("triage JSON missing language")
	}

	return &entities.TriageResult{
		Language:              entities.ParseLanguage(wire.Language),
		DocumentID:            strings.TrimSpace(wire.DocumentID),
		ClarificationQuestion: strings.TrimSpace(wire.ClarificationQuestion),
		CandidateOptions:      wire.Candidates,
		ListingRequest:        wire.ListingRequest,
		SearchQuery:           strings.TrimSpace(wire.SearchQuery),
	}, nil
}

// normalizeTriage applies the policies that do not belong to the model:
// the single-document shortcut, unknown-id rejection, and defaulting the
// search query to the raw message.
func normalizeTriage(r *entities.TriageResult, message string, catalog []entities.DocumentDescriptor) {
	if r.SearchQuery == "" {
		r.SearchQuery = message
	}

	// A catalog of one needs no ambiguity logic: resolve directly. Language
	// detection already happened above, so clarification text is dropped.
	if len(catalog) == 1 {
		r.DocumentID = catalog[0].ID
		r.ClarificationQuestion = ""
		r.CandidateOptions = nil
		r.ListingRequest = false
		return
	}

	// A resolved ID must name a real catalog entry; otherwise treat the
	// turn as unresolved so validation forces a clarification.
	if r.DocumentID != "" && !catalogContains(catalog, r.DocumentID) {
		r.DocumentID = ""
	}

	if r.ClarificationQuestion != "" {
		r.DocumentID = ""
		if len(r.CandidateOptions) == 0 {
			for _, doc := range catalog {
				r.CandidateOptions = append(r.CandidateOptions, doc.ID)
			}
		}
	}
}

func catalogContains(catalog []entities.DocumentDescriptor, id string) bool {
	for _, doc := range catalog {
		if doc.ID == id {
			return true
		}
	}
	return false
}

// extractJSON pulls the first balanced JSON object out of model output,
// tolerating markdown fences and prose around it.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
