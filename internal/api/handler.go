package api

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/story_service/internal/apperr"
	"github.com/nitesh/story_service/internal/auth"
	"github.com/nitesh/story_service/internal/clients"
	"github.com/nitesh/story_service/internal/offlinesync"
	"github.com/nitesh/story_service/internal/remote"
	"github.com/nitesh/story_service/internal/service"
	"github.com/nitesh/story_service/internal/worker"
	"github.com/nitesh/story_service/pkg/models"
)

// Accounts is the part of the remote API that deals with users and push.
type Accounts interface {
	Login(ctx context.Context, email, password string) (remote.LoginResult, error)
	Register(ctx context.Context, name, email, password string) (remote.Response, error)
	SubscribePush(ctx context.Context, sub remote.PushSubscription) (remote.Response, error)
	UnsubscribePush(ctx context.Context, endpoint string) (remote.Response, error)
}

type Session interface {
	IsAuthenticated() bool
	User() *auth.User
	Save(token string, user *auth.User) error
	Logout() error
}

type Handler struct {
	svc       *service.Service
	sync      *offlinesync.Coordinator
	worker    *worker.Worker
	hub       *clients.Hub
	accounts  Accounts
	session   Session
	appOrigin *url.URL
}

func NewHandler(svc *service.Service, sync *offlinesync.Coordinator, w *worker.Worker, hub *clients.Hub, accounts Accounts, session Session) *Handler {
	return &Handler{
		svc:       svc,
		sync:      sync,
		worker:    w,
		hub:       hub,
		accounts:  accounts,
		session:   session,
		appOrigin: w.Config().AppOrigin,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	{
		v1.GET("/favorites", h.ListFavorites)
		v1.POST("/favorites", h.AddFavorite)
		v1.GET("/favorites/nearby", h.NearbyFavorites)
		v1.GET("/favorites/:id", h.GetFavorite)
		v1.DELETE("/favorites/:id", h.RemoveFavorite)
		v1.GET("/favorites/:id/status", h.FavoriteStatus)

		v1.GET("/stories", h.ListStories)
		v1.GET("/stories/:id", h.StoryDetail)
		v1.POST("/stories", h.CreateStory)

		v1.GET("/offline-stories", h.ListOfflineStories)
		v1.GET("/offline-stories/unsynced", h.ListUnsyncedStories)
		v1.POST("/offline-stories", h.QueueStory)
		v1.DELETE("/offline-stories/synced", h.CleanupSynced)
		v1.DELETE("/offline-stories/:tempId", h.DeleteOfflineStory)

		v1.POST("/sync", h.Sync)
		v1.GET("/sync/status", h.SyncStatus)

		v1.POST("/auth/login", h.Login)
		v1.POST("/auth/register", h.Register)
		v1.POST("/auth/logout", h.Logout)

		v1.POST("/push", h.Push)
		v1.POST("/notifications/click", h.NotificationClick)
		v1.POST("/notifications/subscribe", h.Subscribe)
		v1.DELETE("/notifications/subscribe", h.Unsubscribe)

		v1.GET("/events", h.Events)

		v1.GET("/worker", h.WorkerStatus)
		v1.POST("/worker/install", h.WorkerInstall)
		v1.POST("/worker/activate", h.WorkerActivate)
	}
	r.NoRoute(h.Intercept)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		ve *apperr.ValidationError
		ae *apperr.AuthRequiredError
		ip *apperr.AlreadyInProgressError
		ne *apperr.NetworkError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrDuplicateKey), errors.As(err, &ip):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNoConnection):
		return http.StatusServiceUnavailable
	case errors.As(err, &ne):
		switch ne.Status {
		case http.StatusUnauthorized:
			return http.StatusUnauthorized
		case http.StatusBadRequest:
			return http.StatusBadRequest
		case http.StatusNotFound:
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// ListFavorites: GET /v1/favorites?q=beach or ?sort=name&order=asc
func (h *Handler) ListFavorites(c *gin.Context) {
	q := c.Query("q")
	field := c.DefaultQuery("sort", "savedAt")
	order := c.DefaultQuery("order", "desc")
	res, err := h.svc.Favorites(c.Request.Context(), q, field, order)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{
			"query": q,
			"sort":  field,
			"order": order,
			"count": len(res),
		},
		"data": res,
	})
}

// AddFavorite: POST /v1/favorites
// Body: the remote story JSON
func (h *Handler) AddFavorite(c *gin.Context) {
	var story models.Story
	if err := c.BindJSON(&story); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	fav, err := h.svc.AddFavorite(c.Request.Context(), story)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": fav})
}

func (h *Handler) GetFavorite(c *gin.Context) {
	fav, err := h.svc.Favorite(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fav})
}

// RemoveFavorite: DELETE /v1/favorites/:id
// Removing an id that is not a favorite succeeds.
func (h *Handler) RemoveFavorite(c *gin.Context) {
	if err := h.svc.RemoveFavorite(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) FavoriteStatus(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.svc.IsFavorite(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "favorite": ok})
}

// NearbyFavorites: GET /v1/favorites/nearby?lat=-6.2&lon=106.8&radius=10&limit=20
func (h *Handler) NearbyFavorites(c *gin.Context) {
	q := c.Request.URL.Query()

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	radius, radiusErr := strconv.ParseFloat(q.Get("radius"), 64)
	limit := parseLimit(c.DefaultQuery("limit", "20"))

	if latErr != nil || lonErr != nil || radiusErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing lat/lon/radius parameters"})
		return
	}
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 || radius <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lat/lon/radius values"})
		return
	}

	results, err := h.svc.NearbyFavorites(c.Request.Context(), lat, lon, radius, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{
			"count":     len(results),
			"radius_km": radius,
			"limit":     limit,
		},
		"data": results,
	})
}

// ListStories: GET /v1/stories?page=1&size=10&location=1
func (h *Handler) ListStories(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size := parseLimit(c.DefaultQuery("size", "10"))
	location, _ := strconv.Atoi(c.DefaultQuery("location", "0"))
	res, err := h.svc.Stories(c.Request.Context(), remote.ListQuery{Page: page, Size: size, Location: location})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{"page": page, "size": size, "count": len(res)},
		"data": res,
	})
}

func (h *Handler) StoryDetail(c *gin.Context) {
	story, err := h.svc.Story(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": story})
}

// CreateStory: POST /v1/stories (multipart: description, photo, lat, lon)
// ?guest=1 posts without a session. Signed-in stories fall back to the
// offline queue when the API is unreachable.
func (h *Handler) CreateStory(c *gin.Context) {
	in, err := readStoryForm(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if isTruthy(c.Query("guest")) {
		resp, err := h.svc.SubmitGuestStory(c.Request.Context(), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"queued": false, "message": resp.Message})
		return
	}
	res, err := h.svc.SubmitStory(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

func (h *Handler) QueueStory(c *gin.Context) {
	in, err := readStoryForm(c)
	if err != nil {
		writeError(c, err)
		return
	}
	id, err := h.svc.QueueStory(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tempId": id})
}

func readStoryForm(c *gin.Context) (models.StoryInput, error) {
	in := models.StoryInput{Description: c.PostForm("description")}
	if fh, err := c.FormFile("photo"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return in, &apperr.ValidationError{Field: "photo", Reason: err.Error()}
		}
		defer f.Close()
		// one byte past the limit is enough for validation to reject it
		photo, err := io.ReadAll(io.LimitReader(f, service.MaxPhotoBytes+1))
		if err != nil {
			return in, &apperr.ValidationError{Field: "photo", Reason: err.Error()}
		}
		in.Photo = photo
	}
	var err error
	if in.Lat, err = optionalFloat(c.PostForm("lat")); err != nil {
		return in, &apperr.ValidationError{Field: "lat", Reason: "must be a number"}
	}
	if in.Lon, err = optionalFloat(c.PostForm("lon")); err != nil {
		return in, &apperr.ValidationError{Field: "lon", Reason: "must be a number"}
	}
	return in, nil
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (h *Handler) ListOfflineStories(c *gin.Context) {
	h.listPending(c, false)
}

func (h *Handler) ListUnsyncedStories(c *gin.Context) {
	h.listPending(c, true)
}

func (h *Handler) listPending(c *gin.Context, unsyncedOnly bool) {
	res, err := h.svc.PendingStories(c.Request.Context(), unsyncedOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{"count": len(res), "unsyncedOnly": unsyncedOnly},
		"data": res,
	})
}

func (h *Handler) DeleteOfflineStory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("tempId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tempId"})
		return
	}
	if err := h.svc.DeletePending(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CleanupSynced(c *gin.Context) {
	n, err := h.svc.CleanupSynced(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meta": gin.H{"deleted": n}})
}

// Sync: POST /v1/sync
// Runs one sync and tells open windows about the outcome.
func (h *Handler) Sync(c *gin.Context) {
	res := h.sync.SyncOfflineStories(c.Request.Context())
	if !res.Success {
		status := http.StatusInternalServerError
		if res.Err != nil {
			status = statusFor(res.Err)
		}
		c.JSON(status, res)
		return
	}
	h.hub.Broadcast(clients.EventSync, res)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) SyncStatus(c *gin.Context) {
	n, err := h.sync.GetUnsyncedCount(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"syncing": h.sync.Syncing(), "unsynced": n})
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	res, err := h.accounts.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	user := &auth.User{UserID: res.UserID, Name: res.Name}
	if err := h.session.Save(res.Token, user); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (h *Handler) Register(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, email and password are required"})
		return
	}
	res, err := h.accounts.Register(c.Request.Context(), body.Name, body.Email, body.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.session.Logout(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Push: POST /v1/push
// The raw body is the push payload.
func (h *Handler) Push(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.worker.HandlePush(c.Request.Context(), worker.PushEvent{Data: data})
	if err != nil {
		// shown nowhere, but the notification is still valid
		c.JSON(http.StatusAccepted, gin.H{"data": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": n})
}

func (h *Handler) NotificationClick(c *gin.Context) {
	var ev worker.ClickEvent
	if err := c.BindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	out, err := h.worker.HandleNotificationClick(c.Request.Context(), ev)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"outcome": out, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": out})
}

func (h *Handler) Subscribe(c *gin.Context) {
	var sub remote.PushSubscription
	if err := c.BindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	res, err := h.accounts.SubscribePush(c.Request.Context(), sub)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	var body struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}
	res, err := h.accounts.UnsubscribePush(c.Request.Context(), body.Endpoint)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Events: GET /v1/events?url=<window location>
// Registers the caller as an open window and streams server-sent events.
func (h *Handler) Events(c *gin.Context) {
	client := h.hub.Register(c.DefaultQuery("url", origin(h.appOrigin)+h.worker.Config().Scope))
	defer h.hub.Unregister(client.ID())

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("ready", gin.H{"id": client.ID()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-client.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		}
	})
}

func (h *Handler) WorkerStatus(c *gin.Context) {
	cfg := h.worker.Config()
	c.JSON(http.StatusOK, gin.H{
		"state":     h.worker.State(),
		"installed": h.worker.Installed(),
		"version":   cfg.Version,
		"scope":     cfg.ScopeURL(),
		"caches":    cfg.CacheNames(),
	})
}

func (h *Handler) WorkerInstall(c *gin.Context) {
	if err := h.worker.Install(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"installed": true})
}

func (h *Handler) WorkerActivate(c *gin.Context) {
	deleted, err := h.worker.Activate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if deleted == nil {
		deleted = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// parseLimit ensures a sane integer limit, with bounds
func parseLimit(s string) int {
	l, err := strconv.Atoi(s)
	if err != nil || l <= 0 {
		return 10
	}
	if l > 200 {
		return 200
	}
	return l
}

func isTruthy(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
