package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"casedocs/internal/config"
)

// NewClient builds the shared genai client. It is safe for concurrent use.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("new genai client: %w", err)
	}
	return client, nil
}

// NewBackend selects the backend named by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.IndexConfig) (Backend, error) {
	switch cfg.Backend {
	case "memory":
		// local runs only: indexed content does not survive a restart
		return NewMemoryBackend(1), nil
	case "filesearch", "":
		client, err := NewClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		return NewFileSearchBackend(client, cfg.Model), nil
	case "files":
		client, err := NewClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		chat, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini chat model: %w", err)
		}
		return NewFilesBackend(client, chat), nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}
