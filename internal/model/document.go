package model

const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusIndexed    = "indexed"
	DocumentStatusFailed     = "failed"
)

type Document struct {
	ID            string `json:"id"`
	KBID          string `json:"kb_id"`
	TenantID      string `json:"tenant_id"`
	FileName      string `json:"file_name"`
	DeclaredType  string `json:"declared_type"`
	SizeBytes     int64  `json:"size_bytes"`
	StorageKey    string `json:"storage_key"`
	Status        string `json:"status"`
	FragmentCount int    `json:"fragment_count"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
}
