package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/internal/model"
	"github.com/parallax-ai/chat-platform/internal/store"
)

// SuggestionsTool asks a model for improvement suggestions on a document
// and streams each suggestion to the client as it is produced.
type SuggestionsTool struct {
	docs      DocumentWriter
	generator llm.Client
	model     string
}

// NewSuggestionsTool creates the suggestion generation tool.
func NewSuggestionsTool(docs DocumentWriter, generator llm.Client, generatorModel string) *SuggestionsTool {
	return &SuggestionsTool{docs: docs, generator: generator, model: generatorModel}
}

type suggestionsInput struct {
	DocumentID string `json:"documentId"`
}

// Definition declares the tool to the model.
func (t *SuggestionsTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "request_suggestions",
		Description: "Request writing suggestions for a document",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"documentId": {"type": "string", "description": "The ID of the document to request edits for"}
			},
			"required": ["documentId"]
		}`),
	}
}

const suggestionsSystemPrompt = `You are a writing assistant. Given a document, produce up to 5 improvement suggestions.
Respond with a JSON array only; each element has "original_text", "suggested_text" and "description" fields.`

// Execute generates suggestions for the document.
func (t *SuggestionsTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input suggestionsInput
	if err := json.Unmarshal(inv.Input, &input); err != nil {
		return nil, fmt.Errorf("invalid request_suggestions input: %w", err)
	}

	doc, err := t.docs.GetDocument(ctx, input.DocumentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("document not found: %s", input.DocumentID)
		}
		return nil, err
	}
	if doc.UserID != inv.UserID {
		return nil, fmt.Errorf("document not found: %s", input.DocumentID)
	}

	resp, err := t.generator.Complete(ctx, &llm.Request{
		Model:  t.model,
		System: suggestionsSystemPrompt,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: doc.Content},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("suggestion generation failed: %w", err)
	}

	suggestions, err := parseSuggestions(resp.Content, doc.ID)
	if err != nil {
		return nil, err
	}

	for i := range suggestions {
		data, _ := json.Marshal(suggestions[i])
		inv.Stream.Emit(ctx, &model.StreamEvent{Type: model.EventTypeData, Data: data})
	}

	return map[string]string{
		"id":      doc.ID,
		"title":   doc.Title,
		"kind":    string(doc.Kind),
		"message": "Suggestions have been added to the document.",
	}, nil
}

func parseSuggestions(content, documentID string) ([]model.Suggestion, error) {
	// Models sometimes wrap JSON in a code fence; strip it.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var suggestions []model.Suggestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &suggestions); err != nil {
		return nil, fmt.Errorf("failed to parse suggestions: %w", err)
	}
	for i := range suggestions {
		suggestions[i].ID = uuid.Must(uuid.NewV7()).String()
		suggestions[i].DocumentID = documentID
	}
	return suggestions, nil
}
