package model

// Fragment is one embedded chunk of a document. Embedding is all-zero for
// chunks whose source text was empty after trimming; the store persists
// those with a NULL vector so search never sees them.
type Fragment struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	KBID       string                 `json:"kb_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Embedding  []float32              `json:"embedding,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Ctime      int64                  `json:"ctime"`
}

type SearchHit struct {
	FragmentID string                 `json:"fragment_id"`
	DocumentID string                 `json:"document_id"`
	KBID       string                 `json:"kb_id"`
	ChunkIndex int                    `json:"chunk_index"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Score      float64                `json:"score"`
}
