package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// FileSearchBackend indexes into Gemini File Search stores and answers with the
// FileSearch tool scoped to the matter's store.
type FileSearchBackend struct {
	client *genai.Client
	model  string
}

func NewFileSearchBackend(client *genai.Client, model string) *FileSearchBackend {
	return &FileSearchBackend{client: client, model: model}
}

func (b *FileSearchBackend) Name() string { return "filesearch" }

func (b *FileSearchBackend) CreateStore(ctx context.Context, displayName string) (string, error) {
	store, err := b.client.FileSearchStores.Create(ctx, &genai.CreateFileSearchStoreConfig{
		DisplayName: displayName,
	})
	if err != nil {
		return "", fmt.Errorf("create file search store: %w", err)
	}
	return store.Name, nil
}

// Submit uploads the bytes through the Files API and imports the file into the store.
func (b *FileSearchBackend) Submit(ctx context.Context, storeName string, upload Upload) (*Job, error) {
	file, err := b.client.Files.Upload(ctx, bytes.NewReader(upload.Content), &genai.UploadFileConfig{
		MIMEType:    upload.MIMEType,
		DisplayName: upload.DisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	op, err := b.client.FileSearchStores.ImportFile(ctx, storeName, file.Name, nil)
	if err != nil {
		return nil, fmt.Errorf("import %s into %s: %w", file.Name, storeName, err)
	}
	return &Job{
		ID:       op.Name,
		FileName: file.Name,
		FileURI:  file.URI,
		MIMEType: upload.MIMEType,
		handle:   op,
	}, nil
}

func (b *FileSearchBackend) Status(ctx context.Context, job *Job) (Status, error) {
	op, ok := job.handle.(*genai.ImportFileOperation)
	if !ok {
		return Status{}, errors.New("job is not a file search import")
	}
	latest, err := b.client.Operations.GetImportFileOperation(ctx, op, nil)
	if err != nil {
		return Status{}, fmt.Errorf("get operation %s: %w", op.Name, err)
	}
	job.handle = latest
	status := Status{Done: latest.Done}
	if latest.Error != nil {
		status.Error = fmt.Sprint(latest.Error)
	}
	return status, nil
}

func (b *FileSearchBackend) Query(ctx context.Context, storeName, question string, _ []FileRef) (string, error) {
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(buildPrompt(question)), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{
			FileSearch: &genai.FileSearch{FileSearchStoreNames: []string{storeName}},
		}},
	})
	if err != nil {
		return "", err
	}
	return orNoAnswer(resp.Text()), nil
}
