package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/model"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
	"github.com/quarrylabs/quarry/internal/pkg/timeutil"
	"github.com/quarrylabs/quarry/internal/queue"
	"github.com/quarrylabs/quarry/internal/service"
)

const reconcileBatchSize = 100

type StuckDocumentStore interface {
	ListStuckProcessing(ctx context.Context, cutoff int64, limit uint) ([]model.Document, error)
	ResetStuckToPending(ctx context.Context, docID string, mtime int64) error
}

// ReconcileDocumentsJob requeues documents that a crashed worker left in
// processing. Anything older than maxAge goes back to pending with a fresh
// job behind it.
type ReconcileDocumentsJob struct {
	docs       StuckDocumentStore
	dispatcher queue.Dispatcher
	maxAge     time.Duration
}

func NewReconcileDocumentsJob(docs StuckDocumentStore, dispatcher queue.Dispatcher, maxAge time.Duration) *ReconcileDocumentsJob {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &ReconcileDocumentsJob{docs: docs, dispatcher: dispatcher, maxAge: maxAge}
}

func (j *ReconcileDocumentsJob) Name() string {
	return "reconcile_documents"
}

func (j *ReconcileDocumentsJob) Run(ctx context.Context) error {
	cutoff := timeutil.NowUnix() - int64(j.maxAge.Seconds())
	docs, err := j.docs.ListStuckProcessing(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		return err
	}
	requeued := 0
	for _, doc := range docs {
		logger := logutil.GetLogger(ctx).With(zap.String("document_id", doc.ID))
		if err := j.docs.ResetStuckToPending(ctx, doc.ID, timeutil.NowUnix()); err != nil {
			if appErr.IsNotFound(err) {
				continue
			}
			logger.Error("reset stuck document failed", zap.Error(err))
			continue
		}
		payload, err := json.Marshal(service.ProcessDocumentPayload{DocumentID: doc.ID})
		if err != nil {
			return err
		}
		if err := j.dispatcher.Dispatch(ctx, &queue.Job{
			Kind:     service.JobKindProcessDocument,
			Payload:  payload,
			Priority: queue.PriorityLow,
		}); err != nil {
			logger.Error("requeue stuck document failed", zap.Error(err))
			continue
		}
		logger.Info("requeued stuck document")
		requeued++
	}
	if requeued > 0 {
		logutil.GetLogger(ctx).Info("reconcile pass done", zap.Int("requeued", requeued))
	}
	return nil
}
