package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileType is the declared type of an uploaded document.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeTXT  FileType = "txt"
)

// FileTypes lists the accepted upload types.
var FileTypes = []FileType{FileTypePDF, FileTypeDOCX, FileTypeTXT}

// ParseFileType accepts "pdf", ".PDF" and the like.
func ParseFileType(tag string) (FileType, error) {
	t := FileType(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), ".")))
	for _, ft := range FileTypes {
		if t == ft {
			return ft, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, tag)
}

// FileTypeFromName derives the type from a file name's extension.
func FileTypeFromName(name string) (FileType, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, name)
	}
	return ParseFileType(ext)
}

// Page is one ordered text segment of a document. DOCX and TXT files have a
// single page numbered 1.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// File is the normalized in-memory form of an uploaded document.
type File struct {
	ID    string   `json:"id"` // hex sha256 of the uploaded bytes
	Name  string   `json:"name"`
	Type  FileType `json:"type"`
	Pages []Page   `json:"pages"`
}

// Validate rejects documents without any selectable text.
func (f *File) Validate() error {
	if f == nil {
		return ErrEmptyDocument
	}
	for _, p := range f.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEmptyDocument, f.Name)
}

// Text joins all pages, separated by blank lines.
func (f *File) Text() string {
	parts := make([]string, 0, len(f.Pages))
	for _, p := range f.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}
