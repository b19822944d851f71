package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/model"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type FragmentSearcher interface {
	Search(ctx context.Context, kbID string, query []float32, topK int, minScore float64) ([]model.SearchHit, error)
	SearchMultiple(ctx context.Context, kbIDs []string, query []float32, topK int, minScore float64) ([]model.SearchHit, error)
}

type KnowledgeBaseReader interface {
	GetByID(ctx context.Context, tenantID, kbID string) (*model.KnowledgeBase, error)
}

type SearchService struct {
	embedder  QueryEmbedder
	fragments FragmentSearcher
	kbs       KnowledgeBaseReader
}

func NewSearchService(embedder QueryEmbedder, fragments FragmentSearcher, kbs KnowledgeBaseReader) *SearchService {
	return &SearchService{
		embedder:  embedder,
		fragments: fragments,
		kbs:       kbs,
	}
}

// Search embeds the query and ranks fragments of one knowledge base.
func (s *SearchService) Search(ctx context.Context, tenantID, kbID, query string, topK int, minScore float64) ([]model.SearchHit, error) {
	if err := validateSearchParams(query, topK, minScore); err != nil {
		return nil, err
	}
	if _, err := s.kbs.GetByID(ctx, tenantID, kbID); err != nil {
		return nil, err
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.fragments.Search(ctx, kbID, vec, topK, minScore)
}

// SearchMultiple ranks across several knowledge bases at once. Bases the
// tenant does not own are silently skipped; an empty effective set yields
// an empty result, not an error.
func (s *SearchService) SearchMultiple(ctx context.Context, tenantID string, kbIDs []string, query string, topK int, minScore float64) ([]model.SearchHit, error) {
	if err := validateSearchParams(query, topK, minScore); err != nil {
		return nil, err
	}
	owned := make([]string, 0, len(kbIDs))
	for _, kbID := range kbIDs {
		if _, err := s.kbs.GetByID(ctx, tenantID, kbID); err != nil {
			if appErr.IsNotFound(err) {
				logutil.GetLogger(ctx).Debug("skip unknown knowledge base", zap.String("kb_id", kbID))
				continue
			}
			return nil, err
		}
		owned = append(owned, kbID)
	}
	if len(owned) == 0 {
		return []model.SearchHit{}, nil
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.fragments.SearchMultiple(ctx, owned, vec, topK, minScore)
}

func validateSearchParams(query string, topK int, minScore float64) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query must not be empty", appErr.ErrInvalid)
	}
	if topK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", appErr.ErrInvalid, topK)
	}
	if minScore < 0 || minScore > 1 {
		return fmt.Errorf("%w: min_score must be within [0, 1], got %v", appErr.ErrInvalid, minScore)
	}
	return nil
}
