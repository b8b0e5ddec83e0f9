package blob

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	// Clock overrides time.Now for object timestamps.
	Clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func (m *MemoryStore) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

func memKey(bucket, objectPath string) string {
	return bucket + "/" + objectPath
}

func (m *MemoryStore) Put(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	cleaned, err := cleanKey(bucket, objectPath)
	if err != nil {
		return wrap("put", bucket, objectPath, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(bucket, cleaned)
	if _, ok := m.objects[key]; ok {
		return wrap("put", bucket, cleaned, ErrExists)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = memObject{data: buf, contentType: contentType, modTime: m.now()}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	cleaned, err := cleanKey(bucket, objectPath)
	if err != nil {
		return nil, wrap("get", bucket, objectPath, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[memKey(bucket, cleaned)]
	if !ok {
		return nil, wrap("get", bucket, cleaned, ErrNotFound)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// ContentType reports the content type recorded at Put.
func (m *MemoryStore) ContentType(bucket, objectPath string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[memKey(bucket, objectPath)]
	return obj.contentType, ok
}

func (m *MemoryStore) Delete(ctx context.Context, bucket, objectPath string) error {
	cleaned, err := cleanKey(bucket, objectPath)
	if err != nil {
		return wrap("delete", bucket, objectPath, err)
	}
	m.mu.Lock()
	delete(m.objects, memKey(bucket, cleaned))
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var objects []Object
	for key, obj := range m.objects {
		p, ok := strings.CutPrefix(key, bucket+"/")
		if !ok || !strings.HasPrefix(p, prefix) {
			continue
		}
		objects = append(objects, Object{Bucket: bucket, Path: p, Size: int64(len(obj.data)), ModTime: obj.modTime})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	return objects, nil
}

func (m *MemoryStore) SignedURL(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	cleaned, err := cleanKey(bucket, objectPath)
	if err != nil {
		return "", wrap("sign", bucket, objectPath, err)
	}
	q := url.Values{}
	q.Set("expires", fmt.Sprint(m.now().Add(ttl).Unix()))
	return "memory://" + bucket + "/" + cleaned + "?" + q.Encode(), nil
}
