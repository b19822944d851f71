package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pkg/dbutil"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

type KnowledgeBaseRepo struct {
	db *sql.DB
}

func NewKnowledgeBaseRepo(db *sql.DB) *KnowledgeBaseRepo {
	return &KnowledgeBaseRepo{db: db}
}

// Upsert creates the knowledge base or renames an existing one. The tenant
// guard on the conflict branch keeps one tenant from grabbing an id already
// owned by another: such a call simply updates nothing.
func (r *KnowledgeBaseRepo) Upsert(ctx context.Context, kb *model.KnowledgeBase) error {
	const query = `
		INSERT INTO knowledge_bases (id, tenant_id, name, vector_count, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			mtime = EXCLUDED.mtime
		WHERE knowledge_bases.tenant_id = EXCLUDED.tenant_id
	`
	_, err := r.db.ExecContext(ctx, query,
		kb.ID,
		kb.TenantID,
		kb.Name,
		kb.VectorCount,
		kb.Ctime,
		kb.Mtime,
	)
	return err
}

func (r *KnowledgeBaseRepo) GetByID(ctx context.Context, tenantID, kbID string) (*model.KnowledgeBase, error) {
	where := map[string]interface{}{
		"id":        kbID,
		"tenant_id": tenantID,
	}
	sqlStr, args, err := builder.BuildSelect("knowledge_bases", where, []string{"id", "tenant_id", "name", "vector_count", "ctime", "mtime"})
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
	return scanKnowledgeBase(rows)
}

func (r *KnowledgeBaseRepo) ListByTenant(ctx context.Context, tenantID string) ([]model.KnowledgeBase, error) {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"_orderby":  "ctime desc, id asc",
	}
	sqlStr, args, err := builder.BuildSelect("knowledge_bases", where, []string{"id", "tenant_id", "name", "vector_count", "ctime", "mtime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.KnowledgeBase, 0)
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *kb)
	}
	return items, rows.Err()
}

// SetVectorCount refreshes the denormalized fragment total after an
// ingestion or deletion changed the knowledge base contents.
func (r *KnowledgeBaseRepo) SetVectorCount(ctx context.Context, kbID string, count int64, mtime int64) error {
	update := map[string]interface{}{
		"vector_count": count,
		"mtime":        mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("knowledge_bases", map[string]interface{}{"id": kbID}, update)
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

func (r *KnowledgeBaseRepo) Delete(ctx context.Context, tenantID, kbID string) error {
	sqlStr, args, err := builder.BuildDelete("knowledge_bases", map[string]interface{}{
		"id":        kbID,
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

type kbScanner interface {
	Scan(dest ...interface{}) error
}

func scanKnowledgeBase(s kbScanner) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := s.Scan(
		&kb.ID,
		&kb.TenantID,
		&kb.Name,
		&kb.VectorCount,
		&kb.Ctime,
		&kb.Mtime,
	); err != nil {
		return nil, err
	}
	return &kb, nil
}
