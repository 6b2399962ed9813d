package codebook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

var ErrInvalidDocument = errors.New("codebook: municipality and state are required")

// Document is a municipal code. Its ID names the vector collection that holds its chunks.
type Document struct {
	Municipality string `json:"municipality"`
	State        string `json:"state"`
}

func (d Document) ID() (string, error) {
	return DocumentID(d.Municipality, d.State)
}

// DocumentID derives the collection name, e.g. ("Fort Wayne", "IN") -> "fort_wayne_in".
func DocumentID(municipality, state string) (string, error) {
	m := normalizeIDPart(municipality)
	s := normalizeIDPart(state)
	if m == "" || s == "" {
		return "", ErrInvalidDocument
	}
	return m + "_" + s, nil
}

func normalizeIDPart(v string) string {
	return strings.ReplaceAll(slug.Make(strings.TrimSpace(v)), "-", "_")
}

// Section is a structural unit of a codebook such as §154.040.
type Section struct {
	ChapterNumber string `json:"chapterNumber"`
	SectionNumber string `json:"sectionNumber"`
	SectionName   string `json:"sectionName"`
}

// FullNumber returns the "{chapter}.{section}" identifier used by extractors.
func (s Section) FullNumber() string {
	return fmt.Sprintf("%s.%s", s.ChapterNumber, s.SectionNumber)
}

func (s Section) Validate() error {
	if strings.TrimSpace(s.ChapterNumber) == "" {
		return errors.New("section: chapter number is required")
	}
	if strings.TrimSpace(s.SectionNumber) == "" {
		return errors.New("section: section number is required")
	}
	return nil
}

// ExtractResult carries extracted section text or the extractor's error message.
type ExtractResult struct {
	Content string
	Err     string
}

func (r ExtractResult) Failed() bool {
	return r.Err != ""
}

// ExtractFunc resolves a full section number to its text.
type ExtractFunc func(ctx context.Context, fullSectionNumber string) ExtractResult
