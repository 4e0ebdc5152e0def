package models

import "errors"

var (
	// ingestion
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrParse             = errors.New("failed to parse document")
	ErrEmptyDocument     = errors.New("cannot read document: make sure it has selectable text and is not empty")

	// chunking
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// indexing
	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrIndexBuild        = errors.New("failed to build index")

	// query
	ErrEmptyQuery    = errors.New("query is empty")
	ErrGeneration    = errors.New("answer generation failed")
	ErrNoIndex       = errors.New("no document has been indexed")
	ErrMissingAPIKey = errors.New("missing API key")

	// sessions
	ErrSessionClosed = errors.New("session is closed")
)
