package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/chunker"
	"github.com/quarrylabs/quarry/internal/filestore"
	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/parser"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
	"github.com/quarrylabs/quarry/internal/pkg/timeutil"
)

type DocumentStore interface {
	Get(ctx context.Context, docID string) (*model.Document, error)
	MarkProcessing(ctx context.Context, docID string, mtime int64) error
	MarkIndexed(ctx context.Context, docID string, fragmentCount int, mtime int64) error
	MarkFailed(ctx context.Context, docID, message string, mtime int64) error
}

type FragmentStore interface {
	InsertBatch(ctx context.Context, frags []model.Fragment) error
	DeleteByDocument(ctx context.Context, documentID string) error
	CountByDocument(ctx context.Context, documentID string) (int64, error)
	CountByKnowledgeBase(ctx context.Context, kbID string) (int64, error)
}

type KnowledgeBaseCounter interface {
	SetVectorCount(ctx context.Context, kbID string, count int64, mtime int64) error
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Processor runs the ingestion pipeline for one document: download, parse,
// chunk, embed, then swap the stored fragments and refresh the counts. The
// document is moved to processing before any I/O starts so observers see it
// leave pending immediately; every failure path lands it in failed with the
// cause recorded.
type Processor struct {
	docs      DocumentStore
	fragments FragmentStore
	kbs       KnowledgeBaseCounter
	blobs     filestore.Store
	embedder  Embedder
	chunkCfg  chunker.Config
}

func NewProcessor(docs DocumentStore, fragments FragmentStore, kbs KnowledgeBaseCounter, blobs filestore.Store, embedder Embedder, chunkCfg chunker.Config) *Processor {
	return &Processor{
		docs:      docs,
		fragments: fragments,
		kbs:       kbs,
		blobs:     blobs,
		embedder:  embedder,
		chunkCfg:  chunkCfg,
	}
}

func (p *Processor) Process(ctx context.Context, docID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	doc, err := p.docs.Get(ctx, docID)
	if err != nil {
		return err
	}
	if err := p.docs.MarkProcessing(ctx, docID, timeutil.NowUnix()); err != nil {
		return err
	}
	if err := p.run(ctx, doc); err != nil {
		logger.Error("document processing failed", zap.String("kb_id", doc.KBID), zap.Error(err))
		if merr := p.docs.MarkFailed(ctx, docID, failureMessage(err), timeutil.NowUnix()); merr != nil {
			logger.Error("record failure state failed", zap.Error(merr))
		}
		return err
	}
	logger.Info("document indexed", zap.String("kb_id", doc.KBID))
	return nil
}

func (p *Processor) run(ctx context.Context, doc *model.Document) error {
	data, err := p.blobs.Download(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("%w: download blob: %v", appErr.ErrStorageFailure, err)
	}
	text, err := parser.Parse(ctx, data, doc.DeclaredType, doc.FileName)
	if err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrParseFailure, err)
	}
	// An empty parse result must not produce an indexed document with zero
	// fragments; it fails so the uploader learns the file had no text.
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: document has no extractable text", appErr.ErrParseFailure)
	}
	chunks, err := chunker.Split(text, p.chunkCfg)
	if err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrChunkingFailure, err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: chunking produced no content", appErr.ErrChunkingFailure)
	}
	vectors, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return err
	}
	now := timeutil.NowUnix()
	frags := make([]model.Fragment, 0, len(chunks))
	for i, chunk := range chunks {
		frags = append(frags, model.Fragment{
			ID:         newID(),
			DocumentID: doc.ID,
			KBID:       doc.KBID,
			ChunkIndex: i,
			Content:    chunk,
			Embedding:  vectors[i],
			Metadata: map[string]interface{}{
				"file_name":      doc.FileName,
				"declared_type":  doc.DeclaredType,
				"content_length": len(chunk),
			},
			Ctime: now,
		})
	}
	// Old fragments are dropped only now, after embedding succeeded: an
	// embedding outage must leave the previous index intact.
	if err := p.fragments.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("%w: clear old fragments: %v", appErr.ErrStorageFailure, err)
	}
	if err := p.fragments.InsertBatch(ctx, frags); err != nil {
		return fmt.Errorf("%w: insert fragments: %v", appErr.ErrStorageFailure, err)
	}
	count, err := p.fragments.CountByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("%w: count fragments: %v", appErr.ErrStorageFailure, err)
	}
	kbCount, err := p.fragments.CountByKnowledgeBase(ctx, doc.KBID)
	if err != nil {
		return fmt.Errorf("%w: count knowledge base: %v", appErr.ErrStorageFailure, err)
	}
	if err := p.kbs.SetVectorCount(ctx, doc.KBID, kbCount, timeutil.NowUnix()); err != nil && !appErr.IsNotFound(err) {
		return fmt.Errorf("%w: refresh knowledge base count: %v", appErr.ErrStorageFailure, err)
	}
	if err := p.docs.MarkIndexed(ctx, doc.ID, int(count), timeutil.NowUnix()); err != nil {
		return fmt.Errorf("%w: mark indexed: %v", appErr.ErrStorageFailure, err)
	}
	return nil
}

func failureMessage(err error) string {
	if err == nil {
		return "processing failed"
	}
	msg := err.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	return msg
}
