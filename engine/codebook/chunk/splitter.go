package chunk

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/compozy/codebook/pkg/config"
)

// DefaultSeparator is the marker the section extractor places between sections.
const DefaultSeparator = "å—"

var newlinePattern = regexp.MustCompile(`\r\n|\r`)

// Settings configures chunk size and overlap in characters.
type Settings struct {
	Size      int
	Overlap   int
	Separator string
}

func DefaultSettings() Settings {
	return Settings{Size: 8000, Overlap: 500, Separator: DefaultSeparator}
}

func SettingsFromConfig(cfg config.ChunkingConfig) Settings {
	return Settings{Size: cfg.Size, Overlap: cfg.Overlap, Separator: cfg.Separator}
}

// Splitter cuts section text into overlapping chunks.
type Splitter struct {
	settings Settings
	splitter textsplitter.RecursiveCharacter
}

func NewSplitter(settings Settings) (*Splitter, error) {
	if settings.Size <= 0 {
		return nil, errors.New("chunk: size must be greater than zero")
	}
	if settings.Overlap < 0 {
		return nil, errors.New("chunk: overlap cannot be negative")
	}
	if settings.Overlap >= settings.Size {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than size %d", settings.Overlap, settings.Size)
	}
	return &Splitter{
		settings: settings,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(settings.Size),
			textsplitter.WithChunkOverlap(settings.Overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Split returns the chunks of text in order. Text on either side of the
// section separator never ends up in the same chunk and the separator itself
// is dropped. Empty input yields no chunks.
func (s *Splitter) Split(text string) ([]string, error) {
	text = newlinePattern.ReplaceAllString(text, "\n")
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	pieces := []string{text}
	if s.settings.Separator != "" {
		pieces = strings.Split(text, s.settings.Separator)
	}
	chunks := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		parts, err := s.splitter.SplitText(piece)
		if err != nil {
			return nil, fmt.Errorf("chunk: split text: %w", err)
		}
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				chunks = append(chunks, part)
			}
		}
	}
	return chunks, nil
}
