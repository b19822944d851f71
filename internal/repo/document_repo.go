package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pkg/dbutil"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

var documentFields = []string{
	"id", "kb_id", "tenant_id", "file_name", "declared_type", "size_bytes",
	"storage_key", "status", "fragment_count", "error_message", "ctime", "mtime",
}

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":             doc.ID,
		"kb_id":          doc.KBID,
		"tenant_id":      doc.TenantID,
		"file_name":      doc.FileName,
		"declared_type":  doc.DeclaredType,
		"size_bytes":     doc.SizeBytes,
		"storage_key":    doc.StorageKey,
		"status":         doc.Status,
		"fragment_count": doc.FragmentCount,
		"error_message":  nullableString(doc.ErrorMessage),
		"ctime":          doc.Ctime,
		"mtime":          doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, tenantID, docID string) (*model.Document, error) {
	where := map[string]interface{}{
		"id":        docID,
		"tenant_id": tenantID,
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanDocument(rows)
}

// Get loads a document by id alone. Pipeline workers carry no tenant scope;
// the tenant was checked when the job was enqueued.
func (r *DocumentRepo) Get(ctx context.Context, docID string) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", map[string]interface{}{"id": docID}, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanDocument(rows)
}

func (r *DocumentRepo) ListByKnowledgeBase(ctx context.Context, tenantID, kbID string, limit, offset uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"kb_id":     kbID,
		"tenant_id": tenantID,
		"_orderby":  "ctime desc, id asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) MarkProcessing(ctx context.Context, docID string, mtime int64) error {
	update := map[string]interface{}{
		"status":        model.DocumentStatusProcessing,
		"error_message": nil,
		"mtime":         mtime,
	}
	return r.updateByID(ctx, docID, update)
}

func (r *DocumentRepo) MarkIndexed(ctx context.Context, docID string, fragmentCount int, mtime int64) error {
	update := map[string]interface{}{
		"status":         model.DocumentStatusIndexed,
		"fragment_count": fragmentCount,
		"error_message":  nil,
		"mtime":          mtime,
	}
	return r.updateByID(ctx, docID, update)
}

func (r *DocumentRepo) MarkFailed(ctx context.Context, docID, message string, mtime int64) error {
	if message == "" {
		message = "processing failed"
	}
	update := map[string]interface{}{
		"status":        model.DocumentStatusFailed,
		"error_message": message,
		"mtime":         mtime,
	}
	return r.updateByID(ctx, docID, update)
}

// ResetForReprocess moves a document back to pending and clears the previous
// failure. The fragment count is left alone: old fragments stay searchable
// until the new run replaces them.
func (r *DocumentRepo) ResetForReprocess(ctx context.Context, tenantID, docID string, mtime int64) error {
	where := map[string]interface{}{
		"id":        docID,
		"tenant_id": tenantID,
	}
	update := map[string]interface{}{
		"status":        model.DocumentStatusPending,
		"error_message": nil,
		"mtime":         mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, tenantID, docID string) error {
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{
		"id":        docID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// DeleteByKnowledgeBase clears all document rows of a knowledge base.
// Idempotent; tenant ownership is checked by the caller.
func (r *DocumentRepo) DeleteByKnowledgeBase(ctx context.Context, kbID string) error {
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{"kb_id": kbID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DocumentRepo) CountByKnowledgeBase(ctx context.Context, tenantID, kbID string) (int64, error) {
	sqlStr := `SELECT COUNT(1) FROM documents WHERE kb_id = ? AND tenant_id = ?`
	args := []interface{}{kbID, tenantID}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var count int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListStuckProcessing returns documents that have sat in processing since
// before cutoff, oldest first. Used by the reconcile job to recover work
// lost to crashed workers.
func (r *DocumentRepo) ListStuckProcessing(ctx context.Context, cutoff int64, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"status":   model.DocumentStatusProcessing,
		"mtime <": cutoff,
		"_orderby": "mtime asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// ResetStuckToPending moves a processing document back to pending, but only
// if it still is processing: a worker that finished in the meantime wins.
func (r *DocumentRepo) ResetStuckToPending(ctx context.Context, docID string, mtime int64) error {
	where := map[string]interface{}{
		"id":     docID,
		"status": model.DocumentStatusProcessing,
	}
	update := map[string]interface{}{
		"status": model.DocumentStatusPending,
		"mtime":  mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) updateByID(ctx context.Context, docID string, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("documents", map[string]interface{}{"id": docID}, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

type documentScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(s documentScanner) (*model.Document, error) {
	var doc model.Document
	var errMsg sql.NullString
	if err := s.Scan(
		&doc.ID,
		&doc.KBID,
		&doc.TenantID,
		&doc.FileName,
		&doc.DeclaredType,
		&doc.SizeBytes,
		&doc.StorageKey,
		&doc.Status,
		&doc.FragmentCount,
		&errMsg,
		&doc.Ctime,
		&doc.Mtime,
	); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		doc.ErrorMessage = errMsg.String
	}
	return &doc, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
