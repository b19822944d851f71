package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/quarrylabs/quarry/internal/config"
)

// Store holds uploaded document blobs between upload and processing.
// Delete is idempotent: removing a missing key is not an error.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Factory builds a Store from the raw file_store.data block.
type Factory func(args interface{}) (Store, error)

var backends = struct {
	sync.RWMutex
	m map[string]Factory
}{m: make(map[string]Factory)}

func Register(name string, factory Factory) {
	name = normalizeName(name)
	if name == "" || factory == nil {
		return
	}
	backends.Lock()
	defer backends.Unlock()
	backends.m[name] = factory
}

func lookup(name string) (Factory, bool) {
	backends.RLock()
	defer backends.RUnlock()
	factory, ok := backends.m[name]
	return factory, ok
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// New builds the store named by cfg.Type. Backends register themselves
// from init, so every compiled-in type is resolvable here.
func New(cfg config.FileStoreConfig) (Store, error) {
	name := normalizeName(cfg.Type)
	if name == "" {
		return nil, fmt.Errorf("file_store.type is required")
	}
	factory, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("unsupported file store type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("store config is required")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}
