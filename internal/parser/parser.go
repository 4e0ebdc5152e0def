package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"knowledge-qa/internal/models"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageNumber = 1
	maxFileBytes      = 64 << 20
)

var consecutiveNewlines = regexp.MustCompile(`[ \t\f\v\r]*\n\s*`)

// Reader converts uploaded bytes into a models.File.
type Reader interface {
	Read(data []byte, name string) (*models.File, error)
}

// ReadFile reads an uploaded document of the declared type. Unknown types
// fail with models.ErrUnsupportedFormat, malformed content with models.ErrParse.
func ReadFile(r io.Reader, name string, ft models.FileType) (*models.File, error) {
	reader, err := ForType(ft)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrParse, name, err)
	}
	if len(data) > maxFileBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", models.ErrParse, name, maxFileBytes)
	}

	file, err := reader.Read(data, name)
	if err != nil {
		return nil, err
	}
	file.ID = ContentHash(data)
	file.Name = name
	file.Type = ft
	for i := range file.Pages {
		file.Pages[i].Text = normalize(file.Pages[i].Text)
	}

	log.Debug().
		Str("file", name).
		Str("type", string(ft)).
		Int("pages", len(file.Pages)).
		Msg("Parsed document")
	return file, nil
}

// ForType returns the reader for a declared file type.
func ForType(ft models.FileType) (Reader, error) {
	switch ft {
	case models.FileTypePDF:
		return pdfReader{}, nil
	case models.FileTypeDOCX:
		return docxReader{}, nil
	case models.FileTypeTXT:
		return textReader{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ft)
	}
}

// Supported lists the accepted type tags.
func Supported() []string {
	out := make([]string, len(models.FileTypes))
	for i, ft := range models.FileTypes {
		out[i] = string(ft)
	}
	return out
}

// ContentHash is the hex sha256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type pdfReader struct{}

func (pdfReader) Read(data []byte, name string) (file *models.File, err error) {
	// ledongthuc/pdf panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			file = nil
			err = fmt.Errorf("%w: %s: %v", models.ErrParse, name, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrParse, name, err)
	}

	file = &models.File{}
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %v", models.ErrParse, name, i, err)
		}
		file.Pages = append(file.Pages, models.Page{Number: i, Text: pageText})
	}
	return file, nil
}

type docxReader struct{}

func (docxReader) Read(data []byte, name string) (*models.File, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrParse, name, err)
	}

	var blocks []string
	for _, item := range doc.Document.Body.Items {
		var text string
		switch it := item.(type) {
		case *docx.Paragraph:
			text = paragraphText(it)
		case *docx.Table:
			text = tableText(it)
		}
		if text != "" {
			blocks = append(blocks, text)
		}
	}

	return &models.File{
		Pages: []models.Page{{
			Number: defaultPageNumber, // DOCX has no page numbers
			Text:   strings.Join(blocks, "\n"),
		}},
	}, nil
}

func paragraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRun(&buf, c)
		case *docx.Hyperlink:
			writeRun(&buf, &c.Run)
		}
	}
	return strings.TrimSpace(buf.String())
}

func writeRun(buf *strings.Builder, run *docx.Run) {
	wrote := false
	for _, rc := range run.Children {
		switch x := rc.(type) {
		case *docx.Text:
			buf.WriteString(x.Text)
			wrote = true
		case *docx.Tab:
			buf.WriteByte('\t')
		case *docx.BarterRabbet:
			buf.WriteByte('\n')
		}
	}
	// links written by go-docx keep their label in instrText
	if !wrote && run.InstrText != "" {
		buf.WriteString(run.InstrText)
	}
}

// tableText renders one line per row with cells separated by tabs.
func tableText(table *docx.Table) string {
	var rows []string
	for _, tr := range table.TableRows {
		var cells []string
		for _, tc := range tr.TableCells {
			var paras []string
			for _, p := range tc.Paragraphs {
				if text := paragraphText(p); text != "" {
					paras = append(paras, text)
				}
			}
			for _, nested := range tc.Tables {
				if text := tableText(nested); text != "" {
					paras = append(paras, text)
				}
			}
			cells = append(cells, strings.Join(paras, " "))
		}
		if row := strings.TrimSpace(strings.Join(cells, "\t")); row != "" {
			rows = append(rows, row)
		}
	}
	return strings.Join(rows, "\n")
}

type textReader struct{}

func (textReader) Read(data []byte, name string) (*models.File, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", models.ErrParse, name)
	}
	return &models.File{
		Pages: []models.Page{{
			Number: defaultPageNumber, // TXT has no pages
			Text:   string(data),
		}},
	}, nil
}

// normalize collapses whitespace around line breaks into a single newline.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return consecutiveNewlines.ReplaceAllString(text, "\n")
}
