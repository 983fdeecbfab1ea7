// Package loader provides document loading adapters.
package loader

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"docbot/internal/domain/entities"
)

// keyPattern is the filename convention carrying structured metadata:
// CODE_YEAR_STANDARD.md, e.g. PCGH_2025_Eurovent.md.
var keyPattern = regexp.MustCompile(`^([A-Z0-9]+)_(\d{4})_([A-Za-z0-9]+)$`)

// MarkdownLoader loads Markdown documents and extracts filename metadata.
type MarkdownLoader struct{}

// NewMarkdownLoader creates a Markdown document loader.
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

// Load reads a Markdown document from the given path.
func (l *MarkdownLoader) Load(ctx context.Context, path string) (*entities.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	return &entities.Document{
		Name:    name,
		Path:    path,
		Content: string(content),
		Key:     ParseDocumentKey(name),
	}, nil
}

// SupportedExtensions returns file extensions this loader handles.
func (l *MarkdownLoader) SupportedExtensions() []string {
	return []string{".md", ".markdown"}
}

// ParseDocumentKey extracts structured metadata from a filename following
// the CODE_YEAR_STANDARD convention. Returns nil when the name does not
// match; such documents are still ingested, identified by source only.
func ParseDocumentKey(filename string) *entities.DocumentDescriptor {
	stem := filename
	if ext := filepath.Ext(stem); ext != "" {
		stem = stem[:len(stem)-len(ext)]
	}

	m := keyPattern.FindStringSubmatch(stem)
	if m == nil {
		return nil
	}
	return &entities.DocumentDescriptor{
		ID:       m[0],
		Code:     m[1],
		Year:     m[2],
		Standard: m[3],
	}
}
