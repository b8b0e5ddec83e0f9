// Package query answers natural-language questions about a matter from its indexed documents.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"casedocs/internal/index"
	"casedocs/internal/models"
)

var (
	ErrEmptyQuestion = errors.New("question is required")
	// ErrNotReady means the matter has no store or nothing indexed yet. It is a state, not a fault.
	ErrNotReady = errors.New("matter is not ready for questions")
)

// Catalog is the read/write surface the query service needs.
type Catalog interface {
	ListIndexed(ctx context.Context, matterID string) ([]*models.Document, error)
	AppendTurns(ctx context.Context, turns ...*models.ChatTurn) error
	ListTurns(ctx context.Context, matterID string, limit int) ([]*models.ChatTurn, error)
}

type Index interface {
	LookupStore(ctx context.Context, matterID string) (*models.IndexStore, error)
	Query(ctx context.Context, store *models.IndexStore, question string, refs []index.FileRef) (string, error)
}

// Answer is the response to Ask. Turn ids are zero when history could not be saved.
type Answer struct {
	Text            string `json:"answer"`
	UserTurnID      int64  `json:"user_turn_id"`
	AssistantTurnID int64  `json:"assistant_turn_id"`
	Sources         int    `json:"sources"`
}

type Service struct {
	catalog Catalog
	index   Index
}

func NewService(cat Catalog, idx Index) *Service {
	return &Service{catalog: cat, index: idx}
}

// Ask answers question using the matter's store and records the exchange.
func (s *Service) Ask(ctx context.Context, matterID, question, userID string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	store, err := s.index.LookupStore(ctx, matterID)
	if err != nil {
		if errors.Is(err, index.ErrStoreNotFound) {
			return nil, ErrNotReady
		}
		return nil, fmt.Errorf("lookup store: %w", err)
	}
	docs, err := s.catalog.ListIndexed(ctx, matterID)
	if err != nil {
		return nil, fmt.Errorf("list indexed documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotReady
	}

	refs := make([]index.FileRef, 0, len(docs))
	for _, d := range docs {
		ref := index.FileRef{Name: *d.IndexFileName, MIMEType: d.MimeType, DisplayName: d.FileName}
		if d.IndexFileURI != nil {
			ref.URI = *d.IndexFileURI
		}
		refs = append(refs, ref)
	}

	text, err := s.index.Query(ctx, store, question, refs)
	if err != nil {
		return nil, err
	}

	answer := &Answer{Text: text, Sources: len(refs)}
	userTurn := &models.ChatTurn{MatterID: matterID, Role: models.RoleUser, Content: question, UserID: userID}
	assistantTurn := &models.ChatTurn{MatterID: matterID, Role: models.RoleAssistant, Content: text}
	if err := s.catalog.AppendTurns(ctx, userTurn, assistantTurn); err != nil {
		log.Printf("query: chat history for matter %s not saved: %v", matterID, err)
		return answer, nil
	}
	answer.UserTurnID = userTurn.ID
	answer.AssistantTurnID = assistantTurn.ID
	return answer, nil
}

// History returns up to limit turns of the matter, oldest first.
func (s *Service) History(ctx context.Context, matterID string, limit int) ([]*models.ChatTurn, error) {
	turns, err := s.catalog.ListTurns(ctx, matterID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	return turns, nil
}
