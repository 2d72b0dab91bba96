// Package worker is the network interception layer. Every outgoing request of
// the application passes through HandleFetch, which applies a cache strategy
// chosen by request class and always produces a response. Install and
// Activate manage the versioned cache partitions; HandlePush and
// HandleNotificationClick turn push messages into notifications and route
// clicks back into an application window.
//
// The worker is an explicit state machine:
//
//	installing -> idle
//	idle -> handling-request -> idle
//	idle -> handling-push -> idle
//
// handling-request and handling-push are counted, so concurrent requests keep
// the worker in handling-request until the last one returns.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type State string

const (
	StateInstalling      State = "installing"
	StateIdle            State = "idle"
	StateHandlingRequest State = "handling-request"
	StateHandlingPush    State = "handling-push"
)

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes the origins and scope the worker serves.
type Config struct {
	// Version suffixes the cache partition names; bump it to invalidate.
	Version   string
	APIOrigin *url.URL
	AppOrigin *url.URL
	// Scope is the registration path, always with a trailing slash.
	Scope string
}

func (c Config) StaticCache() string  { return "story-app-" + c.Version }
func (c Config) DynamicCache() string { return "story-app-dynamic-" + c.Version }
func (c Config) APICache() string     { return "story-app-api-" + c.Version }

// CacheNames are the three current partitions.
func (c Config) CacheNames() []string {
	return []string{c.StaticCache(), c.DynamicCache(), c.APICache()}
}

// ScopeURL is the absolute registration scope, e.g. http://localhost:5173/StoryAPI/.
func (c Config) ScopeURL() string {
	return origin(c.AppOrigin) + c.Scope
}

// Manifest lists the app shell cached at install time.
func (c Config) Manifest() []string {
	base := c.ScopeURL()
	return []string{base, base + "index.html", base + "manifest.json", base + "favicon.png"}
}

// FallbackImage is served when an image cannot be loaded at all.
func (c Config) FallbackImage() string {
	return c.ScopeURL() + "favicon.png"
}

// NewConfig builds a Config from raw origins. Paths on the origins are ignored.
func NewConfig(version, apiBaseURL, appOrigin, scope string) (Config, error) {
	api, err := url.Parse(apiBaseURL)
	if err != nil || api.Host == "" {
		return Config{}, fmt.Errorf("api base url %q: invalid", apiBaseURL)
	}
	app, err := url.Parse(appOrigin)
	if err != nil || app.Host == "" {
		return Config{}, fmt.Errorf("app origin %q: invalid", appOrigin)
	}
	if !strings.HasPrefix(scope, "/") {
		scope = "/" + scope
	}
	if !strings.HasSuffix(scope, "/") {
		scope += "/"
	}
	if version == "" {
		version = "v1"
	}
	return Config{
		Version:   version,
		APIOrigin: &url.URL{Scheme: api.Scheme, Host: api.Host},
		AppOrigin: &url.URL{Scheme: app.Scheme, Host: app.Host},
		Scope:     scope,
	}, nil
}

func origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Worker intercepts requests and handles push events.
type Worker struct {
	cfg      Config
	caches   CacheStorage
	fetcher  Fetcher
	notifier Notifier
	clients  Clients
	logger   func(format string, v ...any)
	now      func() time.Time

	mu         sync.Mutex
	installing bool
	installed  bool
	requests   int
	pushes     int
}

// New builds a worker. notifier and clients may be nil.
func New(cfg Config, caches CacheStorage, fetcher Fetcher, notifier Notifier, clients Clients) *Worker {
	if fetcher == nil {
		fetcher = &http.Client{Timeout: 30 * time.Second}
	}
	return &Worker{
		cfg:      cfg,
		caches:   caches,
		fetcher:  fetcher,
		notifier: notifier,
		clients:  clients,
		logger:   log.Printf,
		now:      time.Now,
	}
}

// SetLogger allows injecting a simple printf-like logger.
func (w *Worker) SetLogger(l func(format string, v ...any)) {
	if l == nil {
		return
	}
	w.logger = l
}

func (w *Worker) Config() Config { return w.cfg }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.installing:
		return StateInstalling
	case w.pushes > 0:
		return StateHandlingPush
	case w.requests > 0:
		return StateHandlingRequest
	default:
		return StateIdle
	}
}

// Installed reports whether the app shell has been cached.
func (w *Worker) Installed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.installed
}

func (w *Worker) enter(counter *int) func() {
	w.mu.Lock()
	*counter++
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		*counter--
		w.mu.Unlock()
	}
}

var ErrInstalling = errors.New("worker is already installing")

// Install fetches the app shell manifest into the static cache. It is all or
// nothing: if any entry fails, nothing is stored.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	if w.installing {
		w.mu.Unlock()
		return ErrInstalling
	}
	w.installing = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.installing = false
		w.mu.Unlock()
	}()

	manifest := w.cfg.Manifest()
	fetched := make([]*CachedResponse, 0, len(manifest))
	for _, u := range manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("install %s: %w", u, err)
		}
		resp, err := w.fetch(ctx, req, false)
		if err != nil {
			return fmt.Errorf("install %s: %w", u, err)
		}
		if resp.Status < 200 || resp.Status >= 300 {
			return fmt.Errorf("install %s: status %d", u, resp.Status)
		}
		fetched = append(fetched, resp)
	}

	static, err := w.caches.Open(ctx, w.cfg.StaticCache())
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	for i, u := range manifest {
		if err := static.Put(ctx, u, fetched[i]); err != nil {
			return fmt.Errorf("install %s: %w", u, err)
		}
	}

	w.mu.Lock()
	w.installed = true
	w.mu.Unlock()
	w.logger("worker installed %d app shell entries into %s", len(manifest), w.cfg.StaticCache())
	return nil
}

// Activate deletes every partition whose name is not one of the current three.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	names, err := w.caches.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	keep := map[string]bool{}
	for _, n := range w.cfg.CacheNames() {
		keep[n] = true
	}
	var deleted []string
	for _, n := range names {
		if keep[n] {
			continue
		}
		if _, err := w.caches.Delete(ctx, n); err != nil {
			return deleted, fmt.Errorf("activate: %w", err)
		}
		deleted = append(deleted, n)
	}
	if len(deleted) > 0 {
		w.logger("worker activated; purged stale caches %v", deleted)
	}
	return deleted, nil
}
