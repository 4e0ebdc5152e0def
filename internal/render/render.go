package render

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"knowledge-qa/internal/models"
)

const pageBreak = "<hr />\n"

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
		html.WithXHTML(),
	),
)

// Markdown converts text to HTML. Raw HTML in the input is not passed through.
func Markdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// DocumentHTML renders the parsed pages of file, separated by rules.
func DocumentHTML(file *models.File) (string, error) {
	if file == nil {
		return "", nil
	}
	pages := make([]string, 0, len(file.Pages))
	for _, p := range file.Pages {
		out, err := Markdown(p.Text)
		if err != nil {
			return "", err
		}
		pages = append(pages, out)
	}
	return strings.Join(pages, "\n"+pageBreak), nil
}

// AnswerHTML renders an answer.
func AnswerHTML(answer string) (string, error) {
	return Markdown(answer)
}
