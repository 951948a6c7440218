package model

import "time"

// DocumentKind is the artifact type produced by the document tools.
type DocumentKind string

const (
	DocumentKindText  DocumentKind = "text"
	DocumentKindCode  DocumentKind = "code"
	DocumentKindSheet DocumentKind = "sheet"
)

// Document is an artifact created or updated by the model's document tools.
type Document struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Title     string       `json:"title"`
	Kind      DocumentKind `json:"kind"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Suggestion is one improvement proposal produced by the suggestions tool.
type Suggestion struct {
	ID            string `json:"id"`
	DocumentID    string `json:"document_id"`
	OriginalText  string `json:"original_text"`
	SuggestedText string `json:"suggested_text"`
	Description   string `json:"description"`
}
