package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fetcherFunc func(*http.Request) (*http.Response, error)

func (f fetcherFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// fakeNet answers from a fixed table and can be switched offline.
type fakeNet struct {
	mu      sync.Mutex
	offline bool
	pages   map[string]string
	seen    []*http.Request
}

func (n *fakeNet) Do(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, req)
	if n.offline {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	body, ok := n.pages[req.URL.String()]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
		body = "missing"
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func (n *fakeNet) setOffline(v bool) {
	n.mu.Lock()
	n.offline = v
	n.mu.Unlock()
}

func (n *fakeNet) last() *http.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seen[len(n.seen)-1]
}

const (
	apiBase = "https://story-api.dicoding.dev/v1"
	appBase = "http://localhost:5173"
)

func shellPages() map[string]string {
	return map[string]string{
		appBase + "/StoryAPI/":              "<html>shell</html>",
		appBase + "/StoryAPI/index.html":    "<html>shell</html>",
		appBase + "/StoryAPI/manifest.json": "{}",
		appBase + "/StoryAPI/favicon.png":   "PNGDATA",
	}
}

func newTestWorker(t *testing.T, net Fetcher, caches CacheStorage) *Worker {
	t.Helper()
	cfg, err := NewConfig("v1", apiBase, appBase, "StoryAPI")
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if caches == nil {
		caches = NewMemoryStorage()
	}
	w := New(cfg, caches, net, nil, nil)
	w.SetLogger(func(string, ...any) {})
	return w
}

func get(t *testing.T, rawURL string, header map[string]string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestConfigNames(t *testing.T) {
	cfg, err := NewConfig("v7", apiBase, appBase+"/ignored", "/StoryAPI")
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	want := []string{"story-app-v7", "story-app-dynamic-v7", "story-app-api-v7"}
	for i, n := range cfg.CacheNames() {
		if n != want[i] {
			t.Fatalf("CacheNames()[%d] = %q, want %q", i, n, want[i])
		}
	}
	if got := cfg.FallbackImage(); got != appBase+"/StoryAPI/favicon.png" {
		t.Fatalf("FallbackImage() = %q", got)
	}
	if _, err := NewConfig("v1", "not a url", appBase, "/"); err == nil {
		t.Fatalf("NewConfig accepted a bad api url")
	}
}

func TestInstall_AllOrNothing(t *testing.T) {
	pages := shellPages()
	delete(pages, appBase+"/StoryAPI/manifest.json")
	net := &fakeNet{pages: pages}
	caches := NewMemoryStorage()
	w := newTestWorker(t, net, caches)

	if err := w.Install(context.Background()); err == nil {
		t.Fatalf("Install succeeded with a missing manifest entry")
	}
	if _, ok, _ := caches.Match(context.Background(), appBase+"/StoryAPI/index.html"); ok {
		t.Fatalf("partial install left entries in the cache")
	}
	if w.Installed() {
		t.Fatalf("Installed() = true after failure")
	}

	net.pages = shellPages()
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	static, _ := caches.Open(context.Background(), "story-app-v1")
	keys, _ := static.Keys(context.Background())
	if len(keys) != 4 {
		t.Fatalf("static cache keys = %v, want 4 entries", keys)
	}
	if w.State() != StateIdle {
		t.Fatalf("State() = %s after install, want idle", w.State())
	}
}

func TestActivate_PurgesStalePartitions(t *testing.T) {
	ctx := context.Background()
	caches := NewMemoryStorage()
	for _, n := range []string{"story-app-v0", "story-app-v1", "story-app-api-v0", "story-app-api-v1", "other"} {
		if _, err := caches.Open(ctx, n); err != nil {
			t.Fatalf("Open(%s): %v", n, err)
		}
	}
	w := newTestWorker(t, &fakeNet{}, caches)

	deleted, err := w.Activate(ctx)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if strings.Join(deleted, ",") != "story-app-v0,story-app-api-v0,other" {
		t.Fatalf("deleted = %v", deleted)
	}
	names, _ := caches.Keys(ctx)
	if strings.Join(names, ",") != "story-app-v1,story-app-api-v1" {
		t.Fatalf("remaining = %v", names)
	}
}

func TestFetch_APIImageCacheFirstCredentialless(t *testing.T) {
	imgURL := "https://story-api.dicoding.dev/images/stories/photo-1.jpg"
	net := &fakeNet{pages: map[string]string{imgURL: "JPEG"}}
	w := newTestWorker(t, net, nil)
	ctx := context.Background()

	resp := w.HandleFetch(ctx, get(t, imgURL, map[string]string{"Cookie": "sid=1", "Authorization": "Bearer x"}))
	if resp.Header.Get(SourceHeader) != SourceNetwork || readBody(t, resp) != "JPEG" {
		t.Fatalf("first fetch not served from network")
	}
	if sent := net.last(); sent.Header.Get("Cookie") != "" || sent.Header.Get("Authorization") != "" {
		t.Fatalf("credentials forwarded on image fetch: %v", sent.Header)
	}

	net.setOffline(true)
	resp = w.HandleFetch(ctx, get(t, imgURL, nil))
	if resp.Header.Get(SourceHeader) != SourceCache || readBody(t, resp) != "JPEG" {
		t.Fatalf("second fetch not served from cache")
	}
}

func TestFetch_OfflineImageFallback(t *testing.T) {
	net := &fakeNet{pages: shellPages()}
	w := newTestWorker(t, net, nil)
	ctx := context.Background()
	if err := w.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	net.setOffline(true)

	resp := w.HandleFetch(ctx, get(t, "https://story-api.dicoding.dev/images/stories/never-seen.png", nil))
	if resp.StatusCode != http.StatusOK || resp.Header.Get(SourceHeader) != SourceFallback {
		t.Fatalf("status %d source %q, want fallback", resp.StatusCode, resp.Header.Get(SourceHeader))
	}
	if body := readBody(t, resp); body != "PNGDATA" {
		t.Fatalf("fallback body = %q", body)
	}
}

func TestFetch_ImageTotalFailureIs404(t *testing.T) {
	net := &fakeNet{offline: true}
	w := newTestWorker(t, net, nil)

	resp := w.HandleFetch(context.Background(), get(t, "https://story-api.dicoding.dev/images/x.png", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestFetch_APINetworkFirst(t *testing.T) {
	listURL := apiBase + "/stories?page=1"
	net := &fakeNet{pages: map[string]string{listURL: `{"listStory":[]}`}}
	w := newTestWorker(t, net, nil)
	ctx := context.Background()

	if resp := w.HandleFetch(ctx, get(t, listURL, nil)); resp.Header.Get(SourceHeader) != SourceNetwork {
		t.Fatalf("online GET not from network")
	}

	net.setOffline(true)
	resp := w.HandleFetch(ctx, get(t, listURL, nil))
	if resp.Header.Get(SourceHeader) != SourceCache || readBody(t, resp) != `{"listStory":[]}` {
		t.Fatalf("offline GET not served from cache")
	}

	resp = w.HandleFetch(ctx, get(t, apiBase+"/stories?page=2", nil))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("uncached offline GET status = %d, want 503", resp.StatusCode)
	}

	post, _ := http.NewRequest(http.MethodPost, listURL, strings.NewReader("x"))
	resp = w.HandleFetch(ctx, post)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("offline POST status = %d, want 503", resp.StatusCode)
	}
	var body struct {
		Error   bool   `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Error || body.Message != "Network error" {
		t.Fatalf("body = %+v", body)
	}
	if resp.Header.Get(SourceHeader) != SourceSynthesized {
		t.Fatalf("mutating request served from %q", resp.Header.Get(SourceHeader))
	}
}

func TestFetch_APIDoesNotCacheNon200(t *testing.T) {
	net := &fakeNet{pages: map[string]string{}}
	w := newTestWorker(t, net, nil)
	ctx := context.Background()
	u := apiBase + "/stories/missing"

	if resp := w.HandleFetch(ctx, get(t, u, nil)); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 passthrough", resp.StatusCode)
	}
	net.setOffline(true)
	if resp := w.HandleFetch(ctx, get(t, u, nil)); resp.Header.Get(SourceHeader) != SourceSynthesized {
		t.Fatalf("404 response was cached")
	}
}

func TestFetch_DocumentFallsBackToShell(t *testing.T) {
	net := &fakeNet{pages: shellPages()}
	w := newTestWorker(t, net, nil)
	ctx := context.Background()
	if err := w.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	net.setOffline(true)

	resp := w.HandleFetch(ctx, get(t, appBase+"/StoryAPI/about", map[string]string{"Sec-Fetch-Mode": "navigate"}))
	if resp.StatusCode != http.StatusOK || readBody(t, resp) != "<html>shell</html>" {
		t.Fatalf("navigation offline not served from shell")
	}
}

func TestFetch_StaticCacheFirstIntoDynamic(t *testing.T) {
	jsURL := appBase + "/StoryAPI/assets/app.js"
	net := &fakeNet{pages: map[string]string{jsURL: "console.log(1)"}}
	caches := NewMemoryStorage()
	w := newTestWorker(t, net, caches)
	ctx := context.Background()

	w.HandleFetch(ctx, get(t, jsURL, nil))
	dyn, _ := caches.Open(ctx, "story-app-dynamic-v1")
	if _, ok, _ := dyn.Match(ctx, jsURL); !ok {
		t.Fatalf("static asset not stored in dynamic cache")
	}

	net.setOffline(true)
	resp := w.HandleFetch(ctx, get(t, jsURL+"#frag", nil))
	if resp.Header.Get(SourceHeader) != SourceCache {
		t.Fatalf("cached asset not served offline")
	}

	resp = w.HandleFetch(ctx, get(t, appBase+"/StoryAPI/assets/other.css", nil))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("uncached static status = %d, want 503", resp.StatusCode)
	}
}

func TestFetch_MutatingRequestsSkipCache(t *testing.T) {
	pageURL := appBase + "/StoryAPI/page"
	imgURL := "https://story-api.dicoding.dev/images/a.jpg"
	net := &fakeNet{pages: map[string]string{pageURL: "GET page", imgURL: "JPEG"}}
	w := newTestWorker(t, net, nil)
	ctx := context.Background()

	w.HandleFetch(ctx, get(t, pageURL, nil))
	w.HandleFetch(ctx, get(t, imgURL, nil))

	for _, tc := range []struct {
		method, url string
	}{
		{http.MethodPost, pageURL},
		{http.MethodDelete, imgURL},
	} {
		req, err := http.NewRequest(tc.method, tc.url, nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		before := len(net.seen)
		resp := w.HandleFetch(ctx, req)
		if src := resp.Header.Get(SourceHeader); src != SourceNetwork {
			t.Fatalf("%s %s source = %q, want network", tc.method, tc.url, src)
		}
		if len(net.seen) != before+1 || net.last().Method != tc.method {
			t.Fatalf("%s %s did not reach the network", tc.method, tc.url)
		}
	}

	net.setOffline(true)
	req, _ := http.NewRequest(http.MethodDelete, imgURL, nil)
	resp := w.HandleFetch(ctx, req)
	if resp.StatusCode != http.StatusServiceUnavailable || resp.Header.Get(SourceHeader) != SourceSynthesized {
		t.Fatalf("offline DELETE image: status %d source %q", resp.StatusCode, resp.Header.Get(SourceHeader))
	}
	if body := readBody(t, resp); !strings.Contains(body, "Network error") {
		t.Fatalf("offline DELETE image body = %q", body)
	}

	req, _ = http.NewRequest(http.MethodPost, pageURL, nil)
	resp = w.HandleFetch(ctx, req)
	if resp.StatusCode != http.StatusServiceUnavailable || resp.Header.Get(SourceHeader) != SourceSynthesized {
		t.Fatalf("offline POST page: status %d source %q", resp.StatusCode, resp.Header.Get(SourceHeader))
	}
}

func TestHandleFetch_StateDuringRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var w *Worker
	net := fetcherFunc(func(req *http.Request) (*http.Response, error) {
		close(entered)
		<-release
		return nil, errors.New("offline")
	})
	w = newTestWorker(t, net, nil)

	done := make(chan struct{})
	go func() {
		w.HandleFetch(context.Background(), get(t, apiBase+"/stories", nil))
		close(done)
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("request never reached the network")
	}
	if got := w.State(); got != StateHandlingRequest {
		t.Fatalf("State() = %s, want handling-request", got)
	}
	close(release)
	<-done
	if got := w.State(); got != StateIdle {
		t.Fatalf("State() = %s after request, want idle", got)
	}
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("STORY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STORY_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	prefix := "story-test-" + time.Now().Format("150405.000000")
	storage := NewRedisStorage(rdb, prefix)
	defer rdb.Del(ctx, prefix+":caches", prefix+":cache:a", prefix+":cache:b")

	a, err := storage.Open(ctx, "a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := a.Put(ctx, "k", &CachedResponse{Status: 200, Body: []byte("v")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := storage.Open(ctx, "b"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	hit, ok, err := storage.Match(ctx, "k")
	if err != nil || !ok || string(hit.Body) != "v" {
		t.Fatalf("Match = %v, %v, %v", hit, ok, err)
	}
	names, _ := storage.Keys(ctx)
	if strings.Join(names, ",") != "a,b" {
		t.Fatalf("Keys = %v, want creation order", names)
	}
	if removed, err := storage.Delete(ctx, "a"); err != nil || !removed {
		t.Fatalf("Delete = %v, %v", removed, err)
	}
	if _, ok, _ := storage.Match(ctx, "k"); ok {
		t.Fatalf("entry survived partition delete")
	}
}
