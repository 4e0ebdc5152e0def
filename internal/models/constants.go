package models

const (
	SourcesMarker    = "SOURCES:"
	SourceLabelRegex = `\b\d+-\d+\b`
	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`
)

var (
	// ChunkPromptTemplate renders one retrieved chunk inside the grounding prompt.
	ChunkPromptTemplate = `Content: %s
Source: %s`

	// StuffPromptTemplate is filled with the retrieved chunks and the question.
	StuffPromptTemplate = `Write a final answer to the question below using only the document excerpts provided as sources.
The excerpts are given in no particular order. Always end your answer with a line starting with "SOURCES:"
followed by a comma separated list of the smallest set of source labels needed to answer the question.
If the excerpts do not contain the answer, say that there is not enough information in the document,
and leave the SOURCES list empty.

QUESTION: %s
=========
%s
=========
FINAL ANSWER:`
)
