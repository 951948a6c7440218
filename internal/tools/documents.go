package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parallax-ai/chat-platform/internal/llm"
	"github.com/parallax-ai/chat-platform/internal/model"
	"github.com/parallax-ai/chat-platform/internal/store"
)

// DocumentWriter is the slice of the store the document tools need.
type DocumentWriter interface {
	SaveDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
}

func documentDataEvent(doc *model.Document) *model.StreamEvent {
	data, _ := json.Marshal(map[string]string{
		"document_id": doc.ID,
		"title":       doc.Title,
		"kind":        string(doc.Kind),
	})
	return &model.StreamEvent{Type: model.EventTypeData, Data: data}
}

// CreateDocumentTool creates a new artifact: the model supplies a title and
// kind, content is generated by a dedicated model call, and the client is
// notified over the data stream as the document materializes.
type CreateDocumentTool struct {
	docs      DocumentWriter
	generator llm.Client
	model     string
}

// NewCreateDocumentTool creates the document creation tool.
func NewCreateDocumentTool(docs DocumentWriter, generator llm.Client, generatorModel string) *CreateDocumentTool {
	return &CreateDocumentTool{docs: docs, generator: generator, model: generatorModel}
}

type createDocumentInput struct {
	Title string             `json:"title"`
	Kind  model.DocumentKind `json:"kind"`
}

// Definition declares the tool to the model.
func (t *CreateDocumentTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "create_document",
		Description: "Create a document for writing or content creation activities",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"kind": {"type": "string", "enum": ["text", "code", "sheet"]}
			},
			"required": ["title", "kind"]
		}`),
	}
}

// Execute generates and persists the document.
func (t *CreateDocumentTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input createDocumentInput
	if err := json.Unmarshal(inv.Input, &input); err != nil {
		return nil, fmt.Errorf("invalid create_document input: %w", err)
	}
	if input.Title == "" {
		return nil, fmt.Errorf("create_document requires a title")
	}
	if input.Kind == "" {
		input.Kind = model.DocumentKindText
	}

	resp, err := t.generator.Complete(ctx, &llm.Request{
		Model:  t.model,
		System: contentSystemPrompt(input.Kind),
		Messages: []llm.ChatMessage{
			{Role: "user", Content: input.Title},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("document generation failed: %w", err)
	}

	now := time.Now()
	doc := &model.Document{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    inv.UserID,
		Title:     input.Title,
		Kind:      input.Kind,
		Content:   resp.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.docs.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	inv.Stream.Emit(ctx, documentDataEvent(doc))

	return map[string]string{
		"id":      doc.ID,
		"title":   doc.Title,
		"kind":    string(doc.Kind),
		"content": "A document was created and is now visible to the user.",
	}, nil
}

// UpdateDocumentTool rewrites an existing artifact per the model's
// description of the change.
type UpdateDocumentTool struct {
	docs      DocumentWriter
	generator llm.Client
	model     string
}

// NewUpdateDocumentTool creates the document update tool.
func NewUpdateDocumentTool(docs DocumentWriter, generator llm.Client, generatorModel string) *UpdateDocumentTool {
	return &UpdateDocumentTool{docs: docs, generator: generator, model: generatorModel}
}

type updateDocumentInput struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Definition declares the tool to the model.
func (t *UpdateDocumentTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "update_document",
		Description: "Update a document with the given description of changes",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "The ID of the document to update"},
				"description": {"type": "string", "description": "The description of changes to make"}
			},
			"required": ["id", "description"]
		}`),
	}
}

// Execute applies the described change to the document.
func (t *UpdateDocumentTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input updateDocumentInput
	if err := json.Unmarshal(inv.Input, &input); err != nil {
		return nil, fmt.Errorf("invalid update_document input: %w", err)
	}

	doc, err := t.docs.GetDocument(ctx, input.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("document not found: %s", input.ID)
		}
		return nil, err
	}
	if doc.UserID != inv.UserID {
		return nil, fmt.Errorf("document not found: %s", input.ID)
	}

	resp, err := t.generator.Complete(ctx, &llm.Request{
		Model:  t.model,
		System: fmt.Sprintf("Rewrite the following %s document per the requested change. Output only the full updated document.\n\n%s", doc.Kind, doc.Content),
		Messages: []llm.ChatMessage{
			{Role: "user", Content: input.Description},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("document update generation failed: %w", err)
	}

	doc.Content = resp.Content
	doc.UpdatedAt = time.Now()
	if err := t.docs.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	inv.Stream.Emit(ctx, documentDataEvent(doc))

	return map[string]string{
		"id":      doc.ID,
		"title":   doc.Title,
		"kind":    string(doc.Kind),
		"content": "The document has been updated successfully.",
	}, nil
}

func contentSystemPrompt(kind model.DocumentKind) string {
	switch kind {
	case model.DocumentKindCode:
		return "You are a code generator. Write a self-contained, well-commented program for the given title. Output only the code."
	case model.DocumentKindSheet:
		return "You are a spreadsheet generator. Produce CSV data for the given title with meaningful column headers. Output only the CSV."
	default:
		return "You are a writing assistant. Write a well-structured markdown document about the given title."
	}
}
