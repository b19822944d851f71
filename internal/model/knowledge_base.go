package model

type KnowledgeBase struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	VectorCount int64  `json:"vector_count"`
	Ctime       int64  `json:"ctime"`
	Mtime       int64  `json:"mtime"`
}
