package service

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/filestore"
	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pkg/timeutil"
	"github.com/quarrylabs/quarry/internal/queue"
	"github.com/quarrylabs/quarry/internal/repo"
)

const JobKindProcessDocument = "process_document"

type ProcessDocumentPayload struct {
	DocumentID string `json:"document_id"`
}

type DocumentService struct {
	docs       *repo.DocumentRepo
	fragments  *repo.FragmentRepo
	kbs        *repo.KnowledgeBaseRepo
	blobs      filestore.Store
	dispatcher queue.Dispatcher
}

func NewDocumentService(docs *repo.DocumentRepo, fragments *repo.FragmentRepo, kbs *repo.KnowledgeBaseRepo, blobs filestore.Store, dispatcher queue.Dispatcher) *DocumentService {
	return &DocumentService{
		docs:       docs,
		fragments:  fragments,
		kbs:        kbs,
		blobs:      blobs,
		dispatcher: dispatcher,
	}
}

// Upload stores the raw file, records the document as pending and queues a
// processing job. When the dispatcher runs inline the job executes before
// Upload returns, so the returned document may already be indexed or failed.
func (s *DocumentService) Upload(ctx context.Context, tenantID, kbID, fileName, declaredType string, size int64, r io.Reader, priority queue.Priority) (*model.Document, error) {
	if _, err := s.kbs.GetByID(ctx, tenantID, kbID); err != nil {
		return nil, err
	}
	now := timeutil.NowUnix()
	docID := newID()
	doc := &model.Document{
		ID:           docID,
		KBID:         kbID,
		TenantID:     tenantID,
		FileName:     fileName,
		DeclaredType: declaredType,
		SizeBytes:    size,
		StorageKey:   storageKey(docID, fileName),
		Status:       model.DocumentStatusPending,
		Ctime:        now,
		Mtime:        now,
	}
	if err := s.blobs.Save(ctx, doc.StorageKey, r, size); err != nil {
		return nil, err
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if derr := s.blobs.Delete(ctx, doc.StorageKey); derr != nil {
			logutil.GetLogger(ctx).Warn("clean up blob after create failure", zap.String("storage_key", doc.StorageKey), zap.Error(derr))
		}
		return nil, err
	}
	s.dispatchOrFail(ctx, docID, priority)
	fresh, err := s.docs.GetByID(ctx, tenantID, docID)
	if err != nil {
		return doc, nil
	}
	return fresh, nil
}

// Reprocess puts a document back through the pipeline. The status returns
// to pending and the previous error is cleared before the job is queued.
func (s *DocumentService) Reprocess(ctx context.Context, tenantID, docID string, priority queue.Priority) (*model.Document, error) {
	if err := s.docs.ResetForReprocess(ctx, tenantID, docID, timeutil.NowUnix()); err != nil {
		return nil, err
	}
	s.dispatchOrFail(ctx, docID, priority)
	return s.docs.GetByID(ctx, tenantID, docID)
}

func (s *DocumentService) Get(ctx context.Context, tenantID, docID string) (*model.Document, error) {
	return s.docs.GetByID(ctx, tenantID, docID)
}

func (s *DocumentService) List(ctx context.Context, tenantID, kbID string, limit, offset uint) ([]model.Document, error) {
	return s.docs.ListByKnowledgeBase(ctx, tenantID, kbID, limit, offset)
}

// Delete removes the document, its fragments and its stored blob, then
// refreshes the knowledge base vector count.
func (s *DocumentService) Delete(ctx context.Context, tenantID, docID string) error {
	doc, err := s.docs.GetByID(ctx, tenantID, docID)
	if err != nil {
		return err
	}
	if err := s.fragments.DeleteByDocument(ctx, docID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
		logutil.GetLogger(ctx).Warn("delete blob failed", zap.String("storage_key", doc.StorageKey), zap.Error(err))
	}
	if err := s.docs.Delete(ctx, tenantID, docID); err != nil {
		return err
	}
	s.refreshVectorCount(ctx, doc.KBID)
	return nil
}

// dispatchOrFail queues the processing job. A dispatch error must not leave
// the document parked in pending with no job behind it, so the document is
// marked failed and stays recoverable through reprocess. With the inline
// dispatcher a returned error means the pipeline itself failed; the document
// already carries that failure, re-marking it is harmless.
func (s *DocumentService) dispatchOrFail(ctx context.Context, docID string, priority queue.Priority) {
	payload, err := json.Marshal(ProcessDocumentPayload{DocumentID: docID})
	if err == nil {
		err = s.dispatcher.Dispatch(ctx, &queue.Job{
			Kind:     JobKindProcessDocument,
			Payload:  payload,
			Priority: priority,
		})
	}
	if err == nil {
		return
	}
	logutil.GetLogger(ctx).Error("dispatch processing job failed", zap.String("document_id", docID), zap.Error(err))
	if merr := s.docs.MarkFailed(ctx, docID, failureMessage(err), timeutil.NowUnix()); merr != nil {
		logutil.GetLogger(ctx).Error("record dispatch failure failed", zap.String("document_id", docID), zap.Error(merr))
	}
}

func (s *DocumentService) refreshVectorCount(ctx context.Context, kbID string) {
	count, err := s.fragments.CountByKnowledgeBase(ctx, kbID)
	if err != nil {
		logutil.GetLogger(ctx).Warn("count knowledge base failed", zap.String("kb_id", kbID), zap.Error(err))
		return
	}
	if err := s.kbs.SetVectorCount(ctx, kbID, count, timeutil.NowUnix()); err != nil {
		logutil.GetLogger(ctx).Warn("refresh vector count failed", zap.String("kb_id", kbID), zap.Error(err))
	}
}

// ProcessJobHandler adapts the processor to the queue's handler signature.
func ProcessJobHandler(p *Processor) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload ProcessDocumentPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		return p.Process(ctx, payload.DocumentID)
	}
}

// storageKey derives a flat blob key from the document id plus the original
// file extension, so the local store never sees path separators.
func storageKey(docID, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if len(ext) > 16 || strings.ContainsAny(ext, "/\\") {
		ext = ""
	}
	return docID + ext
}
