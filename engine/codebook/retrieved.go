package codebook

// ChunkRef is the evidence record returned alongside answers.
type ChunkRef struct {
	ID            string `json:"id"`
	SectionNumber string `json:"sectionNumber"`
	ChapterNumber string `json:"chapterNumber"`
	SectionName   string `json:"sectionName"`
	Text          string `json:"text"`
}

func NewChunkRef(id string, p ChunkPayload) ChunkRef {
	return ChunkRef{
		ID:            id,
		SectionNumber: p.SectionNumber,
		ChapterNumber: p.ChapterNumber,
		SectionName:   p.SectionName,
		Text:          p.Text,
	}
}

// RetrievalResult is the context assembled for one query.
type RetrievalResult struct {
	Chunks      []ChunkRef `json:"chunks"`
	RawContent  string     `json:"raw_content"`
	SectionList []string   `json:"section_list"`
}
