package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"knowledge-qa/internal/models"
)

func testFile(pages ...string) *models.File {
	f := &models.File{ID: "abc", Name: "doc.txt", Type: models.FileTypeTXT}
	for i, p := range pages {
		f.Pages = append(f.Pages, models.Page{Number: i + 1, Text: p})
	}
	return f
}

func pageChunks(chunks []models.Chunk, page int) []models.Chunk {
	var out []models.Chunk
	for _, c := range chunks {
		if c.Page == page {
			out = append(out, c)
		}
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{Size: 300, Overlap: 0}, false},
		{Config{Size: 10, Overlap: 9}, false},
		{Config{Size: 0, Overlap: 0}, true},
		{Config{Size: -1, Overlap: 0}, true},
		{Config{Size: 10, Overlap: 10}, true},
		{Config{Size: 10, Overlap: 11}, true},
		{Config{Size: 10, Overlap: -1}, true},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.wantErr && !errors.Is(err, models.ErrInvalidChunkConfig) {
			t.Errorf("%+v: expected ErrInvalidChunkConfig, got %v", tt.cfg, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("%+v: unexpected error %v", tt.cfg, err)
		}
	}
}

func TestSplit_InvalidConfig(t *testing.T) {
	for _, cfg := range []Config{{Size: 0}, {Size: 10, Overlap: 10}} {
		_, err := Split(testFile("hello"), cfg)
		if !errors.Is(err, models.ErrInvalidChunkConfig) {
			t.Errorf("%+v: expected ErrInvalidChunkConfig, got %v", cfg, err)
		}
	}
}

func TestSplit_NoOverlapReconstructsExactly(t *testing.T) {
	page := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40) +
		"\nA second paragraph follows here! And a question? " +
		strings.Repeat("lorem ipsum dolor sit amet ", 30)
	cfg := Config{Size: 100, Overlap: 0}

	chunks, err := Split(testFile(page), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	var joined strings.Builder
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c.Text); n > cfg.Size {
			t.Errorf("chunk %d: %d runes exceeds %d", i, n, cfg.Size)
		}
		if c.Index != i {
			t.Errorf("chunk %d: expected index %d, got %d", i, i, c.Index)
		}
		joined.WriteString(c.Text)
	}
	if joined.String() != page {
		t.Errorf("concatenated chunks differ from the source text")
	}
}

func TestSplit_OverlapIsExact(t *testing.T) {
	page := strings.Repeat("alpha beta gamma delta epsilon ", 50)
	cfg := Config{Size: 60, Overlap: 15}

	chunks, err := Split(testFile(page), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		cur := []rune(chunks[i].Text)
		if len(cur) > cfg.Size {
			t.Errorf("chunk %d: %d runes exceeds %d", i, len(cur), cfg.Size)
		}
		tail := string(prev[len(prev)-cfg.Overlap:])
		head := string(cur[:cfg.Overlap])
		if tail != head {
			t.Errorf("chunk %d: expected overlap %q, got %q", i, tail, head)
		}
		if chunks[i].Offset != chunks[i-1].Offset+len(prev)-cfg.Overlap {
			t.Errorf("chunk %d: offset %d does not follow previous chunk", i, chunks[i].Offset)
		}
	}
	if got := Join(chunks, cfg.Overlap); got != page {
		t.Errorf("Join did not reconstruct the page")
	}
}

func TestSplit_PrefersWhitespace(t *testing.T) {
	page := "aaaa bbbb cccc dddd eeee ffff"
	chunks, err := Split(testFile(page), Config{Size: 12, Overlap: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c.Text, " ") {
			t.Errorf("chunk %d %q should end at a word boundary", i, c.Text)
		}
	}
}

func TestSplit_PrefersSentenceEnd(t *testing.T) {
	page := "One sentence here. Another one that runs on"
	chunks, err := Split(testFile(page), Config{Size: 30, Overlap: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks[0].Text != "One sentence here. " {
		t.Errorf("expected split after the sentence, got %q", chunks[0].Text)
	}
}

func TestSplit_HardSplitWithoutWhitespace(t *testing.T) {
	page := strings.Repeat("x", 25)
	chunks, err := Split(testFile(page), Config{Size: 10, Overlap: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != strings.Repeat("x", 10) || chunks[2].Text != strings.Repeat("x", 5) {
		t.Errorf("unexpected chunks %q", []string{chunks[0].Text, chunks[1].Text, chunks[2].Text})
	}
}

func TestSplit_MultiByteRunes(t *testing.T) {
	page := strings.Repeat("日本語のテキスト", 20)
	chunks, err := Split(testFile(page), Config{Size: 7, Overlap: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range chunks {
		if !utf8.ValidString(c.Text) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c.Text); n > 7 {
			t.Errorf("chunk %d: %d runes exceeds 7", i, n)
		}
	}
	if Join(chunks, 2) != page {
		t.Errorf("Join did not reconstruct the page")
	}
}

func TestSplit_PagesAndMetadata(t *testing.T) {
	file := testFile("first page text", "", strings.Repeat("third ", 20))
	chunks, err := Split(file, Config{Size: 50, Overlap: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := pageChunks(chunks, 1); len(got) != 1 || got[0].Text != "first page text" {
		t.Errorf("unexpected page 1 chunks: %+v", got)
	}
	if got := pageChunks(chunks, 2); len(got) != 0 {
		t.Errorf("expected no chunks for empty page, got %d", len(got))
	}
	third := pageChunks(chunks, 3)
	if len(third) < 2 {
		t.Fatalf("expected page 3 to split, got %d chunks", len(third))
	}
	if third[1].Source() != "3-1" {
		t.Errorf("expected source label 3-1, got %s", third[1].Source())
	}
	if third[1].ID != "abc:3-1" {
		t.Errorf("expected id abc:3-1, got %s", third[1].ID)
	}
	if third[0].FileName != "doc.txt" || third[0].FileID != "abc" {
		t.Errorf("file metadata not propagated: %+v", third[0])
	}
}

func TestSplit_Deterministic(t *testing.T) {
	file := testFile(strings.Repeat("repeatable content. ", 60))
	a, _ := Split(file, DefaultConfig())
	b, _ := Split(file, DefaultConfig())
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}
