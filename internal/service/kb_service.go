package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/filestore"
	"github.com/quarrylabs/quarry/internal/model"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
	"github.com/quarrylabs/quarry/internal/pkg/timeutil"
	"github.com/quarrylabs/quarry/internal/repo"
)

type KnowledgeBaseService struct {
	kbs       *repo.KnowledgeBaseRepo
	docs      *repo.DocumentRepo
	fragments *repo.FragmentRepo
	blobs     filestore.Store
}

func NewKnowledgeBaseService(kbs *repo.KnowledgeBaseRepo, docs *repo.DocumentRepo, fragments *repo.FragmentRepo, blobs filestore.Store) *KnowledgeBaseService {
	return &KnowledgeBaseService{
		kbs:       kbs,
		docs:      docs,
		fragments: fragments,
		blobs:     blobs,
	}
}

// Upsert creates or renames a knowledge base. An id held by another tenant
// reads back as missing after the guarded upsert, which surfaces as a
// conflict rather than a silent takeover.
func (s *KnowledgeBaseService) Upsert(ctx context.Context, tenantID, kbID, name string) (*model.KnowledgeBase, error) {
	now := timeutil.NowUnix()
	kb := &model.KnowledgeBase{
		ID:       kbID,
		TenantID: tenantID,
		Name:     name,
		Ctime:    now,
		Mtime:    now,
	}
	if err := s.kbs.Upsert(ctx, kb); err != nil {
		return nil, err
	}
	stored, err := s.kbs.GetByID(ctx, tenantID, kbID)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, appErr.ErrConflict
		}
		return nil, err
	}
	return stored, nil
}

func (s *KnowledgeBaseService) Get(ctx context.Context, tenantID, kbID string) (*model.KnowledgeBase, error) {
	return s.kbs.GetByID(ctx, tenantID, kbID)
}

func (s *KnowledgeBaseService) List(ctx context.Context, tenantID string) ([]model.KnowledgeBase, error) {
	return s.kbs.ListByTenant(ctx, tenantID)
}

// Delete tears down the knowledge base: fragments, document rows, stored
// blobs, then the base itself. Blob removal is best effort; a dangling blob
// costs disk, a dangling row costs correctness.
func (s *KnowledgeBaseService) Delete(ctx context.Context, tenantID, kbID string) error {
	if _, err := s.kbs.GetByID(ctx, tenantID, kbID); err != nil {
		return err
	}
	docs, err := s.docs.ListByKnowledgeBase(ctx, tenantID, kbID, 0, 0)
	if err != nil {
		return err
	}
	if err := s.fragments.DeleteByKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
			logutil.GetLogger(ctx).Warn("delete blob failed", zap.String("storage_key", doc.StorageKey), zap.Error(err))
		}
	}
	if err := s.docs.DeleteByKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	return s.kbs.Delete(ctx, tenantID, kbID)
}
