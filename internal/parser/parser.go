package parser

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Parser turns raw file bytes into plain text ready for chunking.
type Parser interface {
	Parse(ctx context.Context, data []byte, fileName string) (string, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Parser{}
)

func Register(fileType string, p Parser) {
	key := strings.ToLower(strings.TrimSpace(fileType))
	if key == "" || p == nil {
		return
	}
	registryMu.Lock()
	registry[key] = p
	registryMu.Unlock()
}

// Parse resolves a parser from the declared type, falling back to the
// file extension and finally to a plain UTF-8 decode for unknown types.
func Parse(ctx context.Context, data []byte, declaredType, fileName string) (string, error) {
	key := normalizeType(declaredType)
	if key == "" {
		key = normalizeType(strings.TrimPrefix(filepath.Ext(fileName), "."))
	}
	registryMu.RLock()
	p := registry[key]
	registryMu.RUnlock()
	if p == nil {
		logutil.GetLogger(ctx).Warn("no parser for type, falling back to plain text",
			zap.String("declared_type", declaredType),
			zap.String("file_name", fileName),
		)
		p = plainTextParser{}
	}
	return p.Parse(ctx, data, fileName)
}

// normalizeType collapses MIME types and extensions to registry keys.
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return ""
	}
	if idx := strings.Index(t, ";"); idx >= 0 {
		t = strings.TrimSpace(t[:idx])
	}
	if idx := strings.LastIndex(t, "/"); idx >= 0 {
		t = t[idx+1:]
	}
	t = strings.TrimPrefix(t, "x-")
	t = strings.TrimPrefix(t, "vnd.openxmlformats-officedocument.wordprocessingml.")
	switch t {
	case "plain", "text":
		return "txt"
	case "markdown":
		return "md"
	case "document":
		return "docx"
	}
	return t
}
