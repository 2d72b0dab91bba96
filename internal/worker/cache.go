package worker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// CachedResponse is a stored copy of a response.
type CachedResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// HTTPResponse rebuilds a readable *http.Response for req.
func (c *CachedResponse) HTTPResponse(req *http.Request) *http.Response {
	h := c.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Length", strconv.Itoa(len(c.Body)))
	return &http.Response{
		Status:        strconv.Itoa(c.Status) + " " + http.StatusText(c.Status),
		StatusCode:    c.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// Cache is one named partition keyed by request.
type Cache interface {
	Match(ctx context.Context, key string) (*CachedResponse, bool, error)
	Put(ctx context.Context, key string, resp *CachedResponse) error
	Keys(ctx context.Context) ([]string, error)
}

// CacheStorage holds the named partitions. Match searches every partition
// in creation order.
type CacheStorage interface {
	Open(ctx context.Context, name string) (Cache, error)
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
	Match(ctx context.Context, key string) (*CachedResponse, bool, error)
}

// RequestKey identifies a request inside a cache partition. Fragments never
// reach the network and are ignored.
func RequestKey(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// MemoryStorage is the in-process CacheStorage.
type MemoryStorage struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]*memoryCache
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: map[string]*memoryCache{}}
}

func (m *MemoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[name]
	if !ok {
		c = &memoryCache{entries: map[string]*CachedResponse{}}
		m.caches[name] = c
		m.order = append(m.order, name)
	}
	return c, nil
}

func (m *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out, nil
}

func (m *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; !ok {
		return false, nil
	}
	delete(m.caches, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStorage) Match(ctx context.Context, key string) (*CachedResponse, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.order {
		if resp, ok, _ := m.caches[name].Match(ctx, key); ok {
			return resp, true, nil
		}
	}
	return nil, false, nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
	keys    []string
}

func (c *memoryCache) Match(ctx context.Context, key string) (*CachedResponse, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return clone(resp), true, nil
}

func (c *memoryCache) Put(ctx context.Context, key string, resp *CachedResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.entries[key] = clone(resp)
	return nil
}

func (c *memoryCache) Keys(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out, nil
}

func clone(r *CachedResponse) *CachedResponse {
	dup := *r
	dup.Header = r.Header.Clone()
	dup.Body = append([]byte(nil), r.Body...)
	return &dup
}
