package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with full CAS semantics. It backs the
// test suite and local development (no bucket required).
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]*memObject
	etagSeq int

	// GetCount tracks reads per key, letting tests assert cache-first
	// behavior (no registry I/O on warm boot).
	GetCount map[string]int
}

type memObject struct {
	data         []byte
	etag         string
	metadata     map[string]string
	lastModified time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string]*memObject),
		GetCount: make(map[string]int),
	}
}

func (m *MemoryStore) nextETag() string {
	m.etagSeq++
	return fmt.Sprintf("\"etag-%d\"", m.etagSeq)
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCount[key]++
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return &Object{
		Key:          key,
		Data:         data,
		ETag:         obj.etag,
		Metadata:     obj.metadata,
		LastModified: obj.lastModified,
	}, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key] = &memObject{
		data:         stored,
		etag:         m.nextETag(),
		metadata:     metadata,
		lastModified: time.Now(),
	}
	return nil
}

func (m *MemoryStore) PutIf(ctx context.Context, key string, data []byte, etag string) (CASOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.objects[key]
	if etag == "" {
		if exists {
			return PreconditionFailed, nil
		}
	} else {
		if !exists || existing.etag != etag {
			return PreconditionFailed, nil
		}
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key] = &memObject{
		data:         stored,
		etag:         m.nextETag(),
		lastModified: time.Now(),
	}
	return Committed, nil
}

func (m *MemoryStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified}, nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, ObjectInfo{
				Key:          key,
				Size:         int64(len(obj.data)),
				LastModified: obj.lastModified,
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
