package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultTitle = "Story App"
	defaultBody  = "New story available!"

	ActionView    = "view"
	ActionDismiss = "dismiss"

	// MessageNotificationClick is posted to a focused window after a click.
	MessageNotificationClick = "NOTIFICATION_CLICK"
)

var storyIDPattern = regexp.MustCompile(`story-[a-zA-Z0-9_-]+`)

// PushEvent is an inbound push message. Data is producer controlled and may
// be empty, JSON, or plain text.
type PushEvent struct {
	Data []byte
}

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type NotificationData struct {
	DateOfArrival int64  `json:"dateOfArrival"`
	StoryID       string `json:"storyId,omitempty"`
	URL           string `json:"url"`
}

type Notification struct {
	Tag     string               `json:"tag"`
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier displays notifications to the user.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// ClickEvent is a click on a shown notification. Action is empty when the
// notification body itself was clicked.
type ClickEvent struct {
	Action       string       `json:"action"`
	Notification Notification `json:"notification"`
}

// ClickMessage is what a focused window receives.
type ClickMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// WindowClient is one open application window.
type WindowClient interface {
	ID() string
	URL() string
	PostMessage(msg any) error
	Focus() error
}

// Clients enumerates open windows and opens new ones.
type Clients interface {
	MatchAll(ctx context.Context) []WindowClient
	OpenWindow(ctx context.Context, url string) error
}

type ClickOutcome string

const (
	ClickFocused ClickOutcome = "focused"
	ClickOpened  ClickOutcome = "opened"
	ClickNone    ClickOutcome = "none"
)

// HandlePush builds a notification from ev and shows it. The notification is
// returned even when showing it fails.
func (w *Worker) HandlePush(ctx context.Context, ev PushEvent) (Notification, error) {
	done := w.enter(&w.pushes)
	defer done()

	n := w.buildNotification(ev.Data)
	if w.notifier == nil {
		return n, nil
	}
	if err := w.notifier.Show(ctx, n); err != nil {
		return n, fmt.Errorf("show notification: %w", err)
	}
	return n, nil
}

func (w *Worker) buildNotification(data []byte) Notification {
	payload := map[string]any{}
	if text := strings.TrimSpace(string(data)); text != "" {
		if err := json.Unmarshal(data, &payload); err != nil {
			payload = map[string]any{"body": text}
		}
	}

	title := firstString(payload, []string{"title"})
	if title == "" {
		title = defaultTitle
	}
	body := firstString(payload, []string{"body"}, []string{"options", "body"})
	if body == "" {
		body = defaultBody
	}
	storyID := firstString(payload,
		[]string{"storyId"},
		[]string{"options", "storyId"},
		[]string{"data", "storyId"},
		[]string{"options", "data", "id"},
	)
	if storyID == "" {
		storyID = storyIDPattern.FindString(body)
	}

	target := w.cfg.ScopeURL() + "#/stories"
	if storyID != "" {
		target = w.cfg.ScopeURL() + "#/story/" + storyID
	}
	icon := w.cfg.ScopeURL() + "favicon.png"

	return Notification{
		Tag:     uuid.NewString(),
		Title:   title,
		Body:    body,
		Icon:    icon,
		Badge:   icon,
		Vibrate: []int{200, 100, 200},
		Data: NotificationData{
			DateOfArrival: w.now().UnixMilli(),
			StoryID:       storyID,
			URL:           target,
		},
		Actions: []NotificationAction{
			{Action: ActionView, Title: "View Story"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
	}
}

// firstString returns the first non-empty string found at one of paths.
func firstString(m map[string]any, paths ...[]string) string {
	for _, p := range paths {
		if s := lookupString(m, p); s != "" {
			return s
		}
	}
	return ""
}

func lookupString(m map[string]any, path []string) string {
	var cur any = m
	for _, k := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[k]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// HandleNotificationClick routes a click back into the application: an open
// window on the app origin is told the target and focused, otherwise a new
// window is opened. Dismiss does nothing.
func (w *Worker) HandleNotificationClick(ctx context.Context, ev ClickEvent) (ClickOutcome, error) {
	done := w.enter(&w.pushes)
	defer done()

	if ev.Action != "" && ev.Action != ActionView {
		return ClickNone, nil
	}
	target := ev.Notification.Data.URL
	if target == "" {
		target = w.cfg.ScopeURL() + "#/stories"
	}
	if w.clients == nil {
		return ClickNone, nil
	}

	appOrigin := origin(w.cfg.AppOrigin)
	for _, c := range w.clients.MatchAll(ctx) {
		u, err := url.Parse(c.URL())
		if err != nil || origin(u) != appOrigin {
			continue
		}
		if err := c.PostMessage(ClickMessage{Type: MessageNotificationClick, URL: target}); err != nil {
			w.logger("post click to client %s: %v", c.ID(), err)
			continue
		}
		if err := c.Focus(); err != nil {
			w.logger("focus client %s: %v", c.ID(), err)
		}
		return ClickFocused, nil
	}

	if err := w.clients.OpenWindow(ctx, target); err != nil {
		return ClickNone, fmt.Errorf("open window: %w", err)
	}
	return ClickOpened, nil
}
