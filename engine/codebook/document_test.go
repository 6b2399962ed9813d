package codebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentID(t *testing.T) {
	t.Run("Should join lower-cased municipality and state with underscores", func(t *testing.T) {
		id, err := DocumentID("Fort Wayne", "IN")
		require.NoError(t, err)
		assert.Equal(t, "fort_wayne_in", id)
	})

	t.Run("Should derive the same ID from a Document", func(t *testing.T) {
		id, err := Document{Municipality: "Grand Rapids", State: "MI"}.ID()
		require.NoError(t, err)
		assert.Equal(t, "grand_rapids_mi", id)
	})

	t.Run("Should reject blank parts", func(t *testing.T) {
		_, err := DocumentID("  ", "IN")
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})
}

func TestChunkPayload(t *testing.T) {
	section := Section{ChapterNumber: "154", SectionNumber: "040", SectionName: "PERMITTED USE TABLE"}

	t.Run("Should round trip through the stored map form", func(t *testing.T) {
		p := NewChunkPayload(section, "Table 154.040")
		decoded, err := PayloadFromMap(p.ToMap())
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
		assert.Equal(t, "154.040", decoded.SectionKey())
	})

	t.Run("Should reject payloads without text", func(t *testing.T) {
		err := NewChunkPayload(section, "   ").Validate()
		assert.ErrorIs(t, err, ErrInvalidPayload)
	})

	t.Run("Should stringify numeric identifiers", func(t *testing.T) {
		p, err := PayloadFromMap(map[string]any{
			PayloadChapterNumber: float64(154),
			PayloadSectionNumber: "040",
			PayloadText:          "x",
		})
		require.NoError(t, err)
		assert.Equal(t, "154", p.ChapterNumber)
	})
}

func TestClassifyCount(t *testing.T) {
	t.Run("Should classify counts against the threshold", func(t *testing.T) {
		assert.Equal(t, StatusEmpty, ClassifyCount(0, 10))
		assert.Equal(t, StatusUnderChunked, ClassifyCount(5, 10))
		assert.Equal(t, StatusIndexed, ClassifyCount(10, 10))
		assert.Equal(t, StatusIndexed, ClassifyCount(11, 10))
		assert.Equal(t, "UNDER_CHUNKED", StatusUnderChunked.String())
	})
}

func TestSection(t *testing.T) {
	t.Run("Should format the full section number", func(t *testing.T) {
		s := Section{ChapterNumber: "154", SectionNumber: "040"}
		assert.Equal(t, "154.040", s.FullNumber())
		assert.NoError(t, s.Validate())
		assert.Error(t, Section{ChapterNumber: "154"}.Validate())
	})
}
