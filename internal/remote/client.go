package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nitesh/story_service/internal/apperr"
	"github.com/nitesh/story_service/pkg/models"
)

const DefaultBaseURL = "https://story-api.dicoding.dev/v1"

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// Client is a thin client for the story REST API.
type Client struct {
	baseURL string
	hc      *http.Client
	tokens  TokenSource
	logger  func(format string, v ...any)
}

// NewClient creates a new client. If httpClient is nil, a default with timeout is used.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      httpClient,
		tokens:  tokens,
		logger:  func(format string, v ...any) {},
	}
}

// SetLogger allows injecting a simple printf-like logger for debugging.
func (c *Client) SetLogger(l func(format string, v ...any)) {
	if l == nil {
		return
	}
	c.logger = l
}

// LoginResult is the session data returned by a successful login.
type LoginResult struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

type envelope struct {
	Error       bool           `json:"error"`
	Message     string         `json:"message"`
	LoginResult *LoginResult   `json:"loginResult,omitempty"`
	ListStory   []models.Story `json:"listStory,omitempty"`
	Story       *models.Story  `json:"story,omitempty"`
}

// Response is the generic {error, message} acknowledgement of the API.
type Response struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

func (c *Client) Register(ctx context.Context, name, email, password string) (Response, error) {
	var env envelope
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.doJSON(ctx, "register", http.MethodPost, "/register", body, false, &env); err != nil {
		return Response{}, err
	}
	return Response{Error: env.Error, Message: env.Message}, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var env envelope
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, "login", http.MethodPost, "/login", body, false, &env); err != nil {
		return LoginResult{}, err
	}
	if env.LoginResult == nil {
		return LoginResult{}, &apperr.NetworkError{Op: "login", Status: http.StatusOK, Message: "response carried no loginResult"}
	}
	return *env.LoginResult, nil
}

// ListQuery pages through the story listing. Location=1 keeps only geotagged stories.
type ListQuery struct {
	Page     int
	Size     int
	Location int
}

func (c *Client) ListStories(ctx context.Context, q ListQuery) ([]models.Story, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Size <= 0 {
		q.Size = 10
	}
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("size", strconv.Itoa(q.Size))
	v.Set("location", strconv.Itoa(q.Location))

	var env envelope
	if err := c.doJSON(ctx, "list stories", http.MethodGet, "/stories?"+v.Encode(), nil, false, &env); err != nil {
		return nil, err
	}
	if env.ListStory == nil {
		return []models.Story{}, nil
	}
	return env.ListStory, nil
}

func (c *Client) StoryDetail(ctx context.Context, id string) (models.Story, error) {
	if c.token() == "" {
		return models.Story{}, &apperr.AuthRequiredError{Action: "story detail"}
	}
	var env envelope
	if err := c.doJSON(ctx, "story detail", http.MethodGet, "/stories/"+url.PathEscape(id), nil, true, &env); err != nil {
		return models.Story{}, err
	}
	if env.Story == nil {
		return models.Story{}, &apperr.NetworkError{Op: "story detail", Status: http.StatusOK, Message: "response carried no story"}
	}
	return *env.Story, nil
}

// CreateStory posts an authenticated multipart story.
func (c *Client) CreateStory(ctx context.Context, description string, photo []byte, lat, lon *float64) (Response, error) {
	if c.token() == "" {
		return Response{}, &apperr.AuthRequiredError{Action: "create story"}
	}
	return c.postStory(ctx, "create story", "/stories", description, photo, lat, lon, true)
}

// CreateStoryGuest posts a story without a session.
func (c *Client) CreateStoryGuest(ctx context.Context, description string, photo []byte, lat, lon *float64) (Response, error) {
	return c.postStory(ctx, "create guest story", "/stories/guest", description, photo, lat, lon, false)
}

func (c *Client) postStory(ctx context.Context, op, path, description string, photo []byte, lat, lon *float64, auth bool) (Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("description", description); err != nil {
		return Response{}, fmt.Errorf("%s: build form: %w", op, err)
	}

	mt := mimetype.Detect(photo)
	h := make(textproto.MIMEHeader)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="photo"; filename="photo%s"`, mt.Extension())}
	h["Content-Type"] = []string{mt.String()}
	part, err := mw.CreatePart(h)
	if err != nil {
		return Response{}, fmt.Errorf("%s: build form: %w", op, err)
	}
	if _, err := part.Write(photo); err != nil {
		return Response{}, fmt.Errorf("%s: build form: %w", op, err)
	}
	if lat != nil {
		_ = mw.WriteField("lat", strconv.FormatFloat(*lat, 'f', -1, 64))
	}
	if lon != nil {
		_ = mw.WriteField("lon", strconv.FormatFloat(*lon, 'f', -1, 64))
	}
	if err := mw.Close(); err != nil {
		return Response{}, fmt.Errorf("%s: build form: %w", op, err)
	}

	var env envelope
	if err := c.do(ctx, op, http.MethodPost, path, &buf, mw.FormDataContentType(), auth, &env); err != nil {
		return Response{}, err
	}
	return Response{Error: env.Error, Message: env.Message}, nil
}

// PushSubscription is the browser push subscription registered with the API.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (c *Client) SubscribePush(ctx context.Context, sub PushSubscription) (Response, error) {
	if c.token() == "" {
		return Response{}, &apperr.AuthRequiredError{Action: "subscribe notifications"}
	}
	var env envelope
	if err := c.doJSON(ctx, "subscribe notifications", http.MethodPost, "/notifications/subscribe", sub, true, &env); err != nil {
		return Response{}, err
	}
	return Response{Error: env.Error, Message: env.Message}, nil
}

func (c *Client) UnsubscribePush(ctx context.Context, endpoint string) (Response, error) {
	if c.token() == "" {
		return Response{}, &apperr.AuthRequiredError{Action: "unsubscribe notifications"}
	}
	var env envelope
	body := map[string]string{"endpoint": endpoint}
	if err := c.doJSON(ctx, "unsubscribe notifications", http.MethodDelete, "/notifications/subscribe", body, true, &env); err != nil {
		return Response{}, err
	}
	return Response{Error: env.Error, Message: env.Message}, nil
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body any, auth bool, out *envelope) error {
	var rdr io.Reader
	contentType := ""
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, rdr, contentType, auth, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, auth bool, out *envelope) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.token(); tok != "" && auth {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	c.logger("remote %s %s err=%v latency=%s", method, path, err, time.Since(start))
	if err != nil {
		return &apperr.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.NetworkError{Op: op, Err: err}
	}

	parseErr := json.Unmarshal(respBody, out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(out.Message)
		if parseErr != nil || msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return &apperr.NetworkError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if parseErr != nil {
		return &apperr.NetworkError{Op: op, Status: resp.StatusCode, Message: "invalid json response", Err: parseErr}
	}
	return nil
}
