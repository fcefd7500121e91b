package sandbox

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend keeps blobs in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	sites map[string]map[string]map[string]*Object
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sites: make(map[string]map[string]map[string]*Object)}
}

func (m *MemoryBackend) Get(ctx context.Context, site, store, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.sites[site][store][key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneObject(obj), nil
}

func (m *MemoryBackend) Put(ctx context.Context, site, store, key string, obj *Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stores := m.sites[site]
	if stores == nil {
		stores = make(map[string]map[string]*Object)
		m.sites[site] = stores
	}
	blobs := stores[store]
	if blobs == nil {
		blobs = make(map[string]*Object)
		stores[store] = blobs
	}
	blobs[key] = cloneObject(obj)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, site, store, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	blobs := m.sites[site][store]
	if _, ok := blobs[key]; !ok {
		return ErrNotFound
	}
	delete(blobs, key)
	if len(blobs) == 0 {
		delete(m.sites[site], store)
	}
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, site, store, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0)
	for key, obj := range m.sites[site][store] {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, Entry{Key: key, ETag: obj.ETag})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *MemoryBackend) Stores(ctx context.Context, site, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0)
	for name := range m.sites[site] {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func cloneObject(obj *Object) *Object {
	if obj == nil {
		return nil
	}
	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	return &cp
}
