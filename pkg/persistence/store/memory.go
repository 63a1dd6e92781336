package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Records implementation.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

var _ Records = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[rec.Collection]
	if !ok {
		c = make(map[string][]byte)
		m.collections[rec.Collection] = c
	}
	if _, exists := c[rec.ID]; exists {
		return false, nil
	}
	c[rec.ID] = append([]byte(nil), rec.Data...)
	return true, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.collections[collection][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{Collection: collection, ID: id, Data: append([]byte(nil), data...)}, nil
}

func (m *Memory) List(ctx context.Context, collection string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.collections[collection]
	out := make([]Record, 0, len(c))
	for id, data := range c {
		out = append(out, Record{Collection: collection, ID: id, Data: append([]byte(nil), data...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[collection]; ok {
		delete(c, id)
		if len(c) == 0 {
			delete(m.collections, collection)
		}
	}
	return nil
}
