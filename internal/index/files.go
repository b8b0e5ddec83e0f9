package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// FilesBackend keeps uploads in the Gemini Files API and answers by attaching the
// indexed file URIs to a chat model request. Its stores are logical labels.
type FilesBackend struct {
	client *genai.Client
	chat   model.BaseChatModel
}

func NewFilesBackend(client *genai.Client, chat model.BaseChatModel) *FilesBackend {
	return &FilesBackend{client: client, chat: chat}
}

func (b *FilesBackend) Name() string { return "files" }

func (b *FilesBackend) CreateStore(_ context.Context, displayName string) (string, error) {
	return "files/" + displayName, nil
}

func (b *FilesBackend) Submit(ctx context.Context, _ string, upload Upload) (*Job, error) {
	if b.client == nil {
		return nil, errors.New("genai client not configured")
	}
	file, err := b.client.Files.Upload(ctx, bytes.NewReader(upload.Content), &genai.UploadFileConfig{
		MIMEType:    upload.MIMEType,
		DisplayName: upload.DisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	return &Job{
		ID:       file.Name,
		FileName: file.Name,
		FileURI:  file.URI,
		MIMEType: upload.MIMEType,
	}, nil
}

// Status treats the file as indexed once the Files API reports it ACTIVE.
func (b *FilesBackend) Status(ctx context.Context, job *Job) (Status, error) {
	if b.client == nil {
		return Status{}, errors.New("genai client not configured")
	}
	file, err := b.client.Files.Get(ctx, job.FileName, nil)
	if err != nil {
		return Status{}, fmt.Errorf("get file %s: %w", job.FileName, err)
	}
	switch file.State {
	case genai.FileStateActive:
		if file.URI != "" {
			job.FileURI = file.URI
		}
		return Status{Done: true}, nil
	case genai.FileStateFailed:
		return Status{Done: true, Error: fmt.Sprintf("file %s processing failed", file.Name)}, nil
	default:
		return Status{}, nil
	}
}

func (b *FilesBackend) Query(ctx context.Context, _ string, question string, refs []FileRef) (string, error) {
	if len(refs) == 0 {
		return "", errors.New("no indexed files to ground the answer")
	}
	parts := []schema.ChatMessagePart{{
		Type: schema.ChatMessagePartTypeText,
		Text: buildPrompt(question),
	}}
	for _, ref := range refs {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeFileURL,
			FileURL: &schema.ChatMessageFileURL{
				URL:      ref.URI,
				URI:      ref.URI,
				MIMEType: ref.MIMEType,
				Name:     ref.DisplayName,
			},
		})
	}
	resp, err := b.chat.Generate(ctx, []*schema.Message{{
		Role:         schema.User,
		MultiContent: parts,
	}})
	if err != nil {
		return "", err
	}
	return orNoAnswer(resp.Content), nil
}
