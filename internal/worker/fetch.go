package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// SourceHeader tells the application where a response came from.
const SourceHeader = "X-Worker-Source"

const (
	SourceNetwork     = "network"
	SourceCache       = "cache"
	SourceFallback    = "fallback"
	SourceSynthesized = "synthesized"
)

type requestClass int

const (
	classStatic requestClass = iota
	classAPIImage
	classAPI
	classDocument
)

func (c requestClass) String() string {
	switch c {
	case classAPIImage:
		return "api-image"
	case classAPI:
		return "api"
	case classDocument:
		return "document"
	default:
		return "static"
	}
}

var imageExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|svg)$`)

func destination(req *http.Request) string {
	return strings.ToLower(req.Header.Get("Sec-Fetch-Dest"))
}

func isImageRequest(req *http.Request) bool {
	return destination(req) == "image" || imageExt.MatchString(req.URL.Path)
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func (w *Worker) classify(req *http.Request) requestClass {
	if origin(req.URL) == origin(w.cfg.APIOrigin) {
		if strings.Contains(req.URL.Path, "/images/") || isImageRequest(req) {
			return classAPIImage
		}
		return classAPI
	}
	if destination(req) == "document" || req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return classDocument
	}
	return classStatic
}

// HandleFetch applies the strategy for req's class. It never fails: when
// network and cache both miss, a fallback asset or a synthesized error
// response is returned.
func (w *Worker) HandleFetch(ctx context.Context, req *http.Request) *http.Response {
	done := w.enter(&w.requests)
	defer done()

	if w.State() == StateInstalling {
		return w.networkOnly(ctx, req)
	}

	switch w.classify(req) {
	case classAPIImage:
		return w.cacheFirstImage(ctx, req)
	case classAPI:
		return w.networkFirstAPI(ctx, req)
	case classDocument:
		return w.networkFirstDocument(ctx, req)
	default:
		return w.cacheFirstStatic(ctx, req)
	}
}

func (w *Worker) networkOnly(ctx context.Context, req *http.Request) *http.Response {
	return w.passthrough(ctx, req, unavailable)
}

// passthrough sends req to the network without consulting or filling any
// cache. Mutating requests always take this path.
func (w *Worker) passthrough(ctx context.Context, req *http.Request, otherwise func(*http.Request) *http.Response) *http.Response {
	resp, err := w.fetch(ctx, req, false)
	if err != nil {
		w.logger("fetch %s %s: %v", req.Method, req.URL, err)
		return otherwise(req)
	}
	return tagged(resp, req, SourceNetwork)
}

func (w *Worker) cacheFirstImage(ctx context.Context, req *http.Request) *http.Response {
	if !isReadOnly(req.Method) {
		return w.passthrough(ctx, req, networkError)
	}
	key := RequestKey(req)
	cache, err := w.caches.Open(ctx, w.cfg.APICache())
	if err != nil {
		w.logger("open %s: %v", w.cfg.APICache(), err)
	}
	if cache != nil {
		if hit, ok, err := cache.Match(ctx, key); err != nil {
			w.logger("cache match %s: %v", key, err)
		} else if ok {
			return tagged(hit, req, SourceCache)
		}
	}

	resp, err := w.fetch(ctx, req, true)
	if err == nil {
		if cache != nil && req.Method == http.MethodGet && resp.Status >= 200 && resp.Status < 300 {
			w.put(ctx, cache, key, resp)
		}
		return tagged(resp, req, SourceNetwork)
	}
	w.logger("image fetch %s failed: %v", req.URL, err)
	return w.fallbackImage(ctx, req, func() *http.Response {
		return synthesized(req, http.StatusNotFound, "", nil)
	})
}

func (w *Worker) networkFirstAPI(ctx context.Context, req *http.Request) *http.Response {
	key := RequestKey(req)
	cache, err := w.caches.Open(ctx, w.cfg.APICache())
	if err != nil {
		w.logger("open %s: %v", w.cfg.APICache(), err)
	}

	resp, err := w.fetch(ctx, req, false)
	if err == nil {
		if cache != nil && req.Method == http.MethodGet && resp.Status == http.StatusOK {
			w.put(ctx, cache, key, resp)
		}
		return tagged(resp, req, SourceNetwork)
	}
	w.logger("api fetch %s %s failed: %v", req.Method, req.URL, err)

	if isReadOnly(req.Method) && cache != nil {
		if hit, ok, err := cache.Match(ctx, key); err != nil {
			w.logger("cache match %s: %v", key, err)
		} else if ok {
			return tagged(hit, req, SourceCache)
		}
	}
	return networkError(req)
}

func (w *Worker) networkFirstDocument(ctx context.Context, req *http.Request) *http.Response {
	resp, err := w.fetch(ctx, req, false)
	if err == nil {
		return tagged(resp, req, SourceNetwork)
	}
	w.logger("document fetch %s failed: %v", req.URL, err)

	for _, key := range []string{RequestKey(req), w.cfg.ScopeURL(), w.cfg.ScopeURL() + "index.html"} {
		hit, ok, err := w.caches.Match(ctx, key)
		if err != nil {
			w.logger("cache match %s: %v", key, err)
			continue
		}
		if ok {
			return tagged(hit, req, SourceCache)
		}
	}
	return unavailable(req)
}

func (w *Worker) cacheFirstStatic(ctx context.Context, req *http.Request) *http.Response {
	if !isReadOnly(req.Method) {
		return w.passthrough(ctx, req, unavailable)
	}
	key := RequestKey(req)
	if hit, ok, err := w.caches.Match(ctx, key); err != nil {
		w.logger("cache match %s: %v", key, err)
	} else if ok {
		return tagged(hit, req, SourceCache)
	}

	resp, err := w.fetch(ctx, req, false)
	if err == nil {
		if req.Method == http.MethodGet && resp.Status == http.StatusOK {
			if dyn, err := w.caches.Open(ctx, w.cfg.DynamicCache()); err != nil {
				w.logger("open %s: %v", w.cfg.DynamicCache(), err)
			} else {
				w.put(ctx, dyn, key, resp)
			}
		}
		return tagged(resp, req, SourceNetwork)
	}
	w.logger("static fetch %s failed: %v", req.URL, err)

	if isImageRequest(req) {
		return w.fallbackImage(ctx, req, func() *http.Response { return unavailable(req) })
	}
	return unavailable(req)
}

func (w *Worker) fallbackImage(ctx context.Context, req *http.Request, otherwise func() *http.Response) *http.Response {
	hit, ok, err := w.caches.Match(ctx, w.cfg.FallbackImage())
	if err != nil {
		w.logger("cache match fallback image: %v", err)
	}
	if ok {
		return tagged(hit, req, SourceFallback)
	}
	return otherwise()
}

func (w *Worker) put(ctx context.Context, cache Cache, key string, resp *CachedResponse) {
	if err := cache.Put(ctx, key, resp); err != nil {
		w.logger("cache put %s: %v", key, err)
	}
}

// fetch performs req on the network and buffers the response.
// Credential-less requests drop cookies and authorization.
func (w *Worker) fetch(ctx context.Context, req *http.Request, credentialless bool) (*CachedResponse, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	if credentialless {
		out.Header.Del("Cookie")
		out.Header.Del("Authorization")
	}
	resp, err := w.fetcher.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	h := resp.Header.Clone()
	h.Del(SourceHeader)
	return &CachedResponse{Status: resp.StatusCode, Header: h, Body: body, StoredAt: w.now()}, nil
}

func tagged(c *CachedResponse, req *http.Request, source string) *http.Response {
	resp := c.HTTPResponse(req)
	resp.Header.Set(SourceHeader, source)
	return resp
}

func synthesized(req *http.Request, status int, contentType string, body []byte) *http.Response {
	c := &CachedResponse{Status: status, Header: http.Header{}, Body: body}
	if contentType != "" {
		c.Header.Set("Content-Type", contentType)
	}
	return tagged(c, req, SourceSynthesized)
}

func networkError(req *http.Request) *http.Response {
	return synthesized(req, http.StatusServiceUnavailable, "application/json",
		[]byte(`{"error":true,"message":"Network error"}`))
}

func unavailable(req *http.Request) *http.Response {
	return synthesized(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8",
		[]byte("offline and no cached copy available\n"))
}
