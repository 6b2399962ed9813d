package codebook

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	PayloadChapterNumber = "chapterNumber"
	PayloadSectionName   = "sectionName"
	PayloadSectionNumber = "sectionNumber"
	PayloadText          = "text"
)

var ErrInvalidPayload = errors.New("codebook: invalid chunk payload")

// ChunkPayload is the metadata stored next to every chunk vector.
type ChunkPayload struct {
	ChapterNumber string `json:"chapterNumber"`
	SectionName   string `json:"sectionName"`
	SectionNumber string `json:"sectionNumber"`
	Text          string `json:"text"`
}

func NewChunkPayload(section Section, text string) ChunkPayload {
	return ChunkPayload{
		ChapterNumber: section.ChapterNumber,
		SectionName:   section.SectionName,
		SectionNumber: section.SectionNumber,
		Text:          text,
	}
}

func (p ChunkPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.ChapterNumber) == "":
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, PayloadChapterNumber)
	case strings.TrimSpace(p.SectionNumber) == "":
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, PayloadSectionNumber)
	case strings.TrimSpace(p.Text) == "":
		return fmt.Errorf("%w: missing %s", ErrInvalidPayload, PayloadText)
	}
	return nil
}

// SectionKey returns the "{chapter}.{section}" the chunk belongs to.
func (p ChunkPayload) SectionKey() string {
	return p.ChapterNumber + "." + p.SectionNumber
}

func (p ChunkPayload) ToMap() map[string]any {
	return map[string]any{
		PayloadChapterNumber: p.ChapterNumber,
		PayloadSectionName:   p.SectionName,
		PayloadSectionNumber: p.SectionNumber,
		PayloadText:          p.Text,
	}
}

// PayloadFromMap decodes a stored payload. Numeric identifiers written by
// older ingestion runs are converted to their string form.
func PayloadFromMap(m map[string]any) (ChunkPayload, error) {
	p := ChunkPayload{
		ChapterNumber: payloadString(m[PayloadChapterNumber]),
		SectionName:   payloadString(m[PayloadSectionName]),
		SectionNumber: payloadString(m[PayloadSectionNumber]),
		Text:          payloadString(m[PayloadText]),
	}
	if err := p.Validate(); err != nil {
		return ChunkPayload{}, err
	}
	return p, nil
}

func payloadString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

// Chunk is one stored point: a fragment of a section plus its embedding.
type Chunk struct {
	ID      string
	Vector  []float32
	Payload ChunkPayload
}
