package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/compozy/codebook/engine/codebook"
)

// sectionEntry is one record of a sections file.
type sectionEntry struct {
	codebook.Section
	Content string `json:"content"`
}

// loadSections reads a JSON array of sections and returns them with an
// extractor that serves their content by full section number.
func loadSections(path string) ([]codebook.Section, codebook.ExtractFunc, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("a sections file is required (--sections)")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sections file: %w", err)
	}
	var entries []sectionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to parse sections file %s: %w", path, err)
	}
	sections := make([]codebook.Section, 0, len(entries))
	content := make(map[string]string, len(entries))
	for i, entry := range entries {
		if err := entry.Section.Validate(); err != nil {
			return nil, nil, fmt.Errorf("sections file entry %d: %w", i, err)
		}
		sections = append(sections, entry.Section)
		content[entry.Section.FullNumber()] = entry.Content
	}
	extract := func(_ context.Context, fullSectionNumber string) codebook.ExtractResult {
		text, ok := content[fullSectionNumber]
		if !ok {
			return codebook.ExtractResult{Err: fmt.Sprintf("section %s not found in %s", fullSectionNumber, path)}
		}
		return codebook.ExtractResult{Content: text}
	}
	return sections, extract, nil
}
