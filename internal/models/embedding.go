package models

import "fmt"

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID       string
	FileID   string
	FileName string
	Page     int
	Index    int // position of the chunk within its page
	Offset   int // rune offset of the chunk within the page text
	Text     string
}

// Source returns the citation label used in prompts and answers.
func (c Chunk) Source() string {
	return SourceLabel(c.Page, c.Index)
}

func SourceLabel(page, index int) string {
	return fmt.Sprintf("%d-%d", page, index)
}

// Source is a chunk cited by an answer.
type Source struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Page  int     `json:"page"`
	Score float32 `json:"score"`
}

// QueryResult is the answer to one question plus the chunks it was grounded on,
// in retrieval order.
type QueryResult struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}
