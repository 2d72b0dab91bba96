package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/story_service/internal/auth"
	"github.com/nitesh/story_service/internal/clients"
	"github.com/nitesh/story_service/internal/offlinesync"
	"github.com/nitesh/story_service/internal/remote"
	"github.com/nitesh/story_service/internal/service"
	"github.com/nitesh/story_service/internal/store"
	"github.com/nitesh/story_service/internal/worker"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)

type online bool

func (o online) Online() bool { return bool(o) }

type env struct {
	router  *gin.Engine
	store   *store.Store
	session *auth.Session
	created *atomic.Int32
	apiSrv  *httptest.Server
}

func quiet(string, ...any) {}

// newEnv wires the full stack against a fake story API and a fake app origin.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	created := &atomic.Int32{}
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/stories":
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":true,"message":"Missing authentication"}`))
				return
			}
			created.Add(1)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"error":false,"message":"Story created successfully"}`))
		case r.URL.Path == "/login":
			w.Write([]byte(`{"error":false,"message":"success","loginResult":{"userId":"user-1","name":"Dimas","token":"opaque-token"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":true,"message":"not found"}`))
		}
	}))
	t.Cleanup(apiSrv.Close)

	appSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Write([]byte("console.log('" + r.URL.Path + "')"))
	}))
	t.Cleanup(appSrv.Close)

	dir := t.TempDir()
	st, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(dir, "stories.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	session, err := auth.NewSession(filepath.Join(dir, "session.json"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	rc := remote.NewClient(apiSrv.URL, session, nil)
	rc.SetLogger(quiet)

	svc := service.NewService(st, rc, session, online(true))
	coord := offlinesync.NewCoordinator(st, svc, session, online(true))
	coord.SetLogger(quiet)

	cfg, err := worker.NewConfig("v1", apiSrv.URL, appSrv.URL, "/")
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	hub := clients.NewHub()
	hub.SetLogger(quiet)
	w := worker.New(cfg, worker.NewMemoryStorage(), http.DefaultClient, nil, hub)
	w.SetLogger(quiet)

	r := gin.New()
	RegisterRoutes(r, NewHandler(svc, coord, w, hub, rc, session))
	return &env{router: r, store: st, session: session, created: created, apiSrv: apiSrv}
}

func (e *env) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) login(t *testing.T) {
	t.Helper()
	if err := e.session.Save("opaque-token", &auth.User{UserID: "user-1", Name: "Dimas"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func storyForm(t *testing.T) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("description", "sunset at the beach")
	mw.WriteField("lat", "-6.2")
	mw.WriteField("lon", "106.8")
	part, err := mw.CreateFormFile("photo", "photo.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(pngBytes)
	mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func TestFavoritesRoutes(t *testing.T) {
	e := newEnv(t)
	story := []byte(`{"id":"story-abc","name":"Dimas","description":"beach day","photoUrl":"https://x/p.jpg","createdAt":"2024-01-02T03:04:05.000Z","lat":-6.2,"lon":106.8}`)

	if rec := e.do(t, http.MethodPost, "/v1/favorites", story, "application/json"); rec.Code != http.StatusCreated {
		t.Fatalf("POST favorite = %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodPost, "/v1/favorites", story, "application/json"); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate POST = %d, want 409", rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/v1/favorites/story-abc/status", nil, "")
	var status struct {
		Favorite bool `json:"favorite"`
	}
	json.Unmarshal(rec.Body.Bytes(), &status)
	if rec.Code != http.StatusOK || !status.Favorite {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodGet, "/v1/favorites?q=BEACH", nil, "")
	var list struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Meta.Count != 1 {
		t.Fatalf("search count = %d, body %s", list.Meta.Count, rec.Body)
	}

	if rec := e.do(t, http.MethodGet, "/v1/favorites?sort=bogus", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad sort field = %d, want 400", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/favorites/nearby?lat=-6.2&lon=106.8&radius=5", nil, ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "story-abc") {
		t.Fatalf("nearby = %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodDelete, "/v1/favorites/story-abc", nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/favorites/story-abc", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("GET after delete = %d, want 404", rec.Code)
	}
}

func TestCreateStoryQueuesWhenAPIUnreachable(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	e.apiSrv.Close()

	body, ct := storyForm(t)
	rec := e.do(t, http.MethodPost, "/v1/stories", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST story = %d %s, want 202", rec.Code, rec.Body)
	}
	var res service.SubmitResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if !res.Queued || res.TempID == 0 {
		t.Fatalf("result = %+v, want queued", res)
	}

	pending, err := e.store.GetUnsyncedStories(context.Background())
	if err != nil || len(pending) != 1 || !bytes.Equal(pending[0].Photo, pngBytes) {
		t.Fatalf("pending = %v, %v", pending, err)
	}
}

func TestCreateStoryValidation(t *testing.T) {
	e := newEnv(t)
	e.login(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("description", "")
	mw.Close()
	if rec := e.do(t, http.MethodPost, "/v1/stories", buf.Bytes(), mw.FormDataContentType()); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid story = %d, want 400", rec.Code)
	}
}

func TestSyncRoute(t *testing.T) {
	e := newEnv(t)

	if rec := e.do(t, http.MethodPost, "/v1/sync", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated sync = %d, want 401", rec.Code)
	}

	e.login(t)
	body, ct := storyForm(t)
	if rec := e.do(t, http.MethodPost, "/v1/offline-stories", body, ct); rec.Code != http.StatusCreated {
		t.Fatalf("queue = %d %s", rec.Code, rec.Body)
	}

	rec := e.do(t, http.MethodPost, "/v1/sync", nil, "")
	var res offlinesync.Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if rec.Code != http.StatusOK || res.Results.Synced != 1 || res.Message != "Synced 1 out of 1 stories" {
		t.Fatalf("sync = %d %s", rec.Code, rec.Body)
	}
	if e.created.Load() != 1 {
		t.Fatalf("remote creates = %d, want 1", e.created.Load())
	}

	rec = e.do(t, http.MethodGet, "/v1/sync/status", nil, "")
	if !strings.Contains(rec.Body.String(), `"unsynced":0`) {
		t.Fatalf("status = %s", rec.Body)
	}
	if rec := e.do(t, http.MethodDelete, "/v1/offline-stories/synced", nil, ""); !strings.Contains(rec.Body.String(), `"deleted":1`) {
		t.Fatalf("cleanup = %s", rec.Body)
	}
}

func TestLoginStoresSession(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/auth/login", []byte(`{"email":"a@b.c","password":"secret12"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rec.Code, rec.Body)
	}
	if e.session.Token() != "opaque-token" || !e.session.IsAuthenticated() {
		t.Fatalf("session not stored")
	}
	if rec := e.do(t, http.MethodPost, "/v1/auth/logout", nil, ""); rec.Code != http.StatusNoContent || e.session.IsAuthenticated() {
		t.Fatalf("logout = %d", rec.Code)
	}
}

func TestPushRoute(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/push", []byte(`{"title":"New","body":"check story-xyz"}`), "application/json")
	var res struct {
		Data worker.Notification `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &res)
	if rec.Code != http.StatusOK || res.Data.Data.StoryID != "story-xyz" || !strings.HasSuffix(res.Data.Data.URL, "/#/story/story-xyz") {
		t.Fatalf("push = %d %s", rec.Code, rec.Body)
	}
}

func TestInterceptRoutesThroughWorker(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/assets/app.js?v=2", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "console.log('/assets/app.js')" {
		t.Fatalf("intercept = %d %q", rec.Code, rec.Body)
	}
	if src := rec.Header().Get(worker.SourceHeader); src != worker.SourceNetwork {
		t.Fatalf("source = %q, want network", src)
	}
	rec = e.do(t, http.MethodGet, "/assets/app.js?v=2", nil, "")
	if src := rec.Header().Get(worker.SourceHeader); src != worker.SourceCache {
		t.Fatalf("second source = %q, want cache", src)
	}
}

func TestWorkerRoutes(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/v1/worker", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"idle"`) {
		t.Fatalf("worker status = %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodPost, "/v1/worker/install", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("install = %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodPost, "/v1/worker/activate", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("activate = %d %s", rec.Code, rec.Body)
	}
}

func TestParseLimit(t *testing.T) {
	cases := map[string]int{"": 10, "abc": 10, "-1": 10, "5": 5, "500": 200}
	for in, want := range cases {
		if got := parseLimit(in); got != want {
			t.Fatalf("parseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCorsAllowsConfiguredOrigin(t *testing.T) {
	e := newEnv(t)
	h := CorsSettings([]string{"http://localhost:5173"}).Handler(e.router)

	req := httptest.NewRequest(http.MethodGet, "/v1/worker", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/worker", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}
