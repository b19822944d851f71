package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pkg/dbutil"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

const fragmentInsertBatchSize = 100

type FragmentRepo struct {
	db *sql.DB
}

func NewFragmentRepo(db *sql.DB) *FragmentRepo {
	return &FragmentRepo{db: db}
}

// InsertBatch writes fragments in batches of 100. All-zero embeddings are
// stored as NULL vectors: cosine distance against a zero vector is undefined,
// so such rows must never participate in similarity ranking.
func (r *FragmentRepo) InsertBatch(ctx context.Context, frags []model.Fragment) error {
	for start := 0; start < len(frags); start += fragmentInsertBatchSize {
		end := start + fragmentInsertBatchSize
		if end > len(frags) {
			end = len(frags)
		}
		if err := r.insertChunk(ctx, frags[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *FragmentRepo) insertChunk(ctx context.Context, frags []model.Fragment) error {
	rows := make([]map[string]interface{}, 0, len(frags))
	for _, f := range frags {
		var embedding interface{}
		if !isZeroVector(f.Embedding) {
			embedding = pgvector.NewVector(f.Embedding)
		}
		var metadata interface{}
		if len(f.Metadata) > 0 {
			blob, err := json.Marshal(f.Metadata)
			if err != nil {
				return err
			}
			// string, not []byte: pq would ship bytes as bytea, which a
			// jsonb column refuses.
			metadata = string(blob)
		}
		rows = append(rows, map[string]interface{}{
			"id":          f.ID,
			"document_id": f.DocumentID,
			"kb_id":       f.KBID,
			"chunk_index": f.ChunkIndex,
			"content":     f.Content,
			"embedding":   embedding,
			"metadata":    metadata,
			"ctime":       f.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("fragments", rows)
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

// Search ranks fragments of one knowledge base by cosine similarity to the
// query vector. Score is 1 - cosine distance; rows below minScore are cut,
// ties break by chunk_index then document_id so results are deterministic.
func (r *FragmentRepo) Search(ctx context.Context, kbID string, query []float32, topK int, minScore float64) ([]model.SearchHit, error) {
	const sqlStr = `
		SELECT id, document_id, kb_id, chunk_index, content, metadata, 1 - (embedding <=> $1) AS score
		FROM fragments
		WHERE kb_id = $2 AND embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $3
		ORDER BY score DESC, chunk_index ASC, document_id ASC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, sqlStr, pgvector.NewVector(query), kbID, minScore, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHits(rows)
}

// SearchMultiple ranks across a set of knowledge bases and returns one
// globally ordered list, as if all their fragments lived in a single index.
func (r *FragmentRepo) SearchMultiple(ctx context.Context, kbIDs []string, query []float32, topK int, minScore float64) ([]model.SearchHit, error) {
	if len(kbIDs) == 0 {
		return []model.SearchHit{}, nil
	}
	const sqlStr = `
		SELECT id, document_id, kb_id, chunk_index, content, metadata, 1 - (embedding <=> $1) AS score
		FROM fragments
		WHERE kb_id = ANY($2) AND embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $3
		ORDER BY score DESC, chunk_index ASC, document_id ASC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, sqlStr, pgvector.NewVector(query), pq.Array(kbIDs), minScore, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHits(rows)
}

// DeleteByDocument is idempotent: deleting a document with no fragments
// succeeds with nothing to do.
func (r *FragmentRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	sqlStr, args, err := builder.BuildDelete("fragments", map[string]interface{}{"document_id": documentID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *FragmentRepo) DeleteByKnowledgeBase(ctx context.Context, kbID string) error {
	sqlStr, args, err := builder.BuildDelete("fragments", map[string]interface{}{"kb_id": kbID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// CountByDocument counts all fragments of a document, NULL-embedding rows
// included: they are real chunks even though search skips them.
func (r *FragmentRepo) CountByDocument(ctx context.Context, documentID string) (int64, error) {
	sqlStr := `SELECT COUNT(1) FROM fragments WHERE document_id = ?`
	args := []interface{}{documentID}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var count int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *FragmentRepo) CountByKnowledgeBase(ctx context.Context, kbID string) (int64, error) {
	sqlStr := `SELECT COUNT(1) FROM fragments WHERE kb_id = ?`
	args := []interface{}{kbID}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var count int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type hitScanner interface {
	Scan(dest ...interface{}) error
}

func scanHit(s hitScanner) (*model.SearchHit, error) {
	var hit model.SearchHit
	var metadata []byte
	if err := s.Scan(
		&hit.FragmentID,
		&hit.DocumentID,
		&hit.KBID,
		&hit.ChunkIndex,
		&hit.Content,
		&metadata,
		&hit.Score,
	); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &hit.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of fragment %s: %w", hit.FragmentID, err)
		}
	}
	return &hit, nil
}

func collectHits(rows *sql.Rows) ([]model.SearchHit, error) {
	hits := make([]model.SearchHit, 0)
	for rows.Next() {
		hit, err := scanHit(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, *hit)
	}
	return hits, rows.Err()
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
