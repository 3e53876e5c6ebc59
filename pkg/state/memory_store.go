package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a minimal in-memory Store implementation intended for tests
// and examples. It uses Ref.Identifier() as its deterministic key and makes no
// persistence assumptions beyond that.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	raw  string
	meta Meta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]memoryRecord{}}
}

func (s *MemoryStore) Load(_ context.Context, ref Ref) (string, Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return "", Meta{}, false, err
	}

	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return "", Meta{}, false, nil
	}
	return record.raw, cloneMeta(record.meta), true, nil
}

func (s *MemoryStore) Save(_ context.Context, ref Ref, raw string, meta Meta, want Precondition) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.records[key]
	if err := want.Check(current.meta.ETag, exists); err != nil {
		return Meta{}, err
	}
	s.records[key] = memoryRecord{raw: raw, meta: cloneMeta(meta)}
	return cloneMeta(meta), nil
}

func (s *MemoryStore) Delete(_ context.Context, ref Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

func cloneMeta(meta Meta) Meta {
	out := meta
	if meta.Extra == nil {
		return out
	}
	out.Extra = make(map[string]string, len(meta.Extra))
	for k, v := range meta.Extra {
		out.Extra[k] = v
	}
	return out
}

// List returns the stored document keys in lexical order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
