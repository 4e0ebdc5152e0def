package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"knowledge-qa/internal/models"
)

// Config controls chunking. Both values are counted in runes.
type Config struct {
	Size    int // Maximum chunk length.
	Overlap int // Runes shared by consecutive chunks of a page.
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{Size: 300, Overlap: 0}
}

// Validate fails with models.ErrInvalidChunkConfig unless 0 <= Overlap < Size.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size %d must be positive", models.ErrInvalidChunkConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", models.ErrInvalidChunkConfig, c.Overlap, c.Size)
	}
	return nil
}

// separators are tried in order when looking for a split point. A split
// happens right after the separator.
var separators = []string{"\n\n", "\n", ". ", "! ", "? "}

// Split cuts every page of file into chunks of at most cfg.Size runes.
// Chunks never span pages. Nothing is trimmed: with Overlap 0 the chunks of a
// page concatenate back to the page text.
func Split(file *models.File, cfg Config) ([]models.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if file == nil {
		return nil, nil
	}

	var chunks []models.Chunk
	for _, page := range file.Pages {
		for i, span := range splitText(page.Text, cfg.Size, cfg.Overlap) {
			chunks = append(chunks, models.Chunk{
				ID:       fmt.Sprintf("%s:%s", file.ID, models.SourceLabel(page.Number, i)),
				FileID:   file.ID,
				FileName: file.Name,
				Page:     page.Number,
				Index:    i,
				Offset:   span.start,
				Text:     span.text,
			})
		}
	}
	return chunks, nil
}

type span struct {
	start int
	text  string
}

// splitText returns consecutive windows over text. Each window ends at the
// best separator inside (start+overlap, start+size], so every step advances.
func splitText(text string, size, overlap int) []span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var spans []span
	start := 0
	for {
		end := start + size
		if end >= n {
			spans = append(spans, span{start: start, text: string(runes[start:])})
			return spans
		}
		minEnd := start + overlap + 1
		end = splitPoint(runes, minEnd, max(minEnd, start+size/2), end)
		spans = append(spans, span{start: start, text: string(runes[start:end])})
		start = end - overlap
	}
}

// splitPoint picks the cut position in [lo, hi]. Separators only count in
// [preferFrom, hi]; failing those the whitespace nearest hi wins, and hi is
// the fallback.
func splitPoint(runes []rune, lo, preferFrom, hi int) int {
	for _, sep := range separators {
		if at := lastSeparatorEnd(runes, sep, preferFrom, hi); at > 0 {
			return at
		}
	}
	for i := hi; i >= lo; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return hi
}

// lastSeparatorEnd returns the largest position p in [lo, hi] such that the
// runes just before p spell sep, or -1.
func lastSeparatorEnd(runes []rune, sep string, lo, hi int) int {
	s := []rune(sep)
	for p := hi; p >= lo; p-- {
		if p < len(s) {
			break
		}
		if runesHaveSuffix(runes[:p], s) {
			return p
		}
	}
	return -1
}

func runesHaveSuffix(runes, suffix []rune) bool {
	if len(suffix) > len(runes) {
		return false
	}
	off := len(runes) - len(suffix)
	for i, r := range suffix {
		if runes[off+i] != r {
			return false
		}
	}
	return true
}

// Join rebuilds page text from chunks produced with the given overlap.
func Join(chunks []models.Chunk, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		text := []rune(c.Text)
		if i > 0 && chunks[i-1].Page == c.Page && overlap > 0 {
			text = text[min(overlap, len(text)):]
		}
		b.WriteString(string(text))
	}
	return b.String()
}
