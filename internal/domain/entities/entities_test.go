package entities

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, LanguageSpanish, ParseLanguage("es"))
	assert.Equal(t, LanguageSpanish, ParseLanguage(" ES-es "))
	assert.Equal(t, LanguageSpanish, ParseLanguage("Spanish"))
	assert.Equal(t, LanguageEnglish, ParseLanguage("en"))
	assert.Equal(t, LanguageEnglish, ParseLanguage("en-US"))

	// Unknown codes fall back to English.
	assert.Equal(t, LanguageEnglish, ParseLanguage("fr"))
	assert.Equal(t, LanguageEnglish, ParseLanguage(""))
}

func TestGuessLanguage(t *testing.T) {
	assert.Equal(t, LanguageSpanish, GuessLanguage("¿Qué documentos tienes?"))
	assert.Equal(t, LanguageSpanish, GuessLanguage("hola, necesito informacion"))
	assert.Equal(t, LanguageSpanish, GuessLanguage("cuánto cuesta el examen"))
	assert.Equal(t, LanguageEnglish, GuessLanguage("what documents do you have?"))
	assert.Equal(t, LanguageEnglish, GuessLanguage("how much is the exam fee"))

	// No signal at all stays on the neutral default.
	assert.Equal(t, LanguageEnglish, GuessLanguage(""))
	assert.Equal(t, LanguageEnglish, GuessLanguage("PCGH 2025"))
}

func TestTriageResult_Validate(t *testing.T) {
	tests := []struct {
		name        string
		result      TriageResult
		catalogSize int
		wantErr     bool
	}{
		{
			name:        "document resolved",
			result:      TriageResult{DocumentID: "PCGH_2025_Eurovent"},
			catalogSize: 3,
		},
		{
			name:        "clarification needed",
			result:      TriageResult{ClarificationQuestion: "Which document do you mean?"},
			catalogSize: 3,
		},
		{
			name:        "neither set",
			result:      TriageResult{},
			catalogSize: 3,
			wantErr:     true,
		},
		{
			name: "both set",
			result: TriageResult{
				DocumentID:            "PCGH_2025_Eurovent",
				ClarificationQuestion: "Which one?",
			},
			catalogSize: 3,
			wantErr:     true,
		},
		{
			name:        "listing request needs neither",
			result:      TriageResult{ListingRequest: true},
			catalogSize: 3,
		},
		{
			name:        "clarification against single document catalog",
			result:      TriageResult{ClarificationQuestion: "Which one?"},
			catalogSize: 1,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate(tt.catalogSize)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDocumentDescriptor_Description(t *testing.T) {
	full := DocumentDescriptor{
		ID:       "PCGH_2025_Eurovent",
		Code:     "PCGH",
		Year:     "2025",
		Standard: "Eurovent",
	}
	assert.Equal(t, "PCGH (2025 - Eurovent)", full.Description())

	untagged := DocumentDescriptor{ID: "notes", Standard: "notes"}
	assert.Equal(t, "notes", untagged.Description())

	bare := DocumentDescriptor{ID: "readme"}
	assert.Equal(t, "readme", bare.Description())
}

func TestFormatError_Unwrap(t *testing.T) {
	cause := errors.New("no JSON object in model output")
	err := &FormatError{Stage: "triage", Cause: cause}

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "triage")

	var formatErr *FormatError
	wrapped := fmt.Errorf("running stage: %w", err)
	require.ErrorAs(t, wrapped, &formatErr)
	assert.Equal(t, "triage", formatErr.Stage)
}

func TestFailure_UserMessage(t *testing.T) {
	cause := fmt.Errorf("%w: index offline", ErrPipelineFailure)

	es := &Failure{Language: LanguageSpanish, Cause: cause}
	assert.Contains(t, es.UserMessage(), "Lo siento")

	en := &Failure{Language: LanguageEnglish, Cause: cause}
	assert.Contains(t, en.UserMessage(), "Sorry")

	// The cause stays reachable for logging but never leaks into the
	// user-facing text.
	require.ErrorIs(t, es, ErrPipelineFailure)
	assert.NotContains(t, es.UserMessage(), "index offline")
}

func TestNoDocumentsMessage(t *testing.T) {
	assert.Contains(t, NoDocumentsMessage(LanguageSpanish), "No hay documentos")
	assert.Contains(t, NoDocumentsMessage(LanguageEnglish), "no documents")
}
