// Package notify shows push notifications on the desktop and in connected
// application windows.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/nitesh/story_service/internal/worker"
)

// EventNotification is the stream event carrying a shown notification.
const EventNotification = "notification"

const maxBodyLen = 200

// Desktop shows notifications through the OS notification service.
type Desktop struct {
	send func(title, body string) error
}

func NewDesktop() *Desktop {
	return &Desktop{send: func(title, body string) error {
		return beeep.Notify(title, body, "")
	}}
}

func (d *Desktop) Show(ctx context.Context, n worker.Notification) error {
	return d.send(n.Title, truncate(n.Body, maxBodyLen))
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// Broadcaster delivers an event to every open window.
type Broadcaster interface {
	Broadcast(name string, data any) int
}

// Windows forwards notifications to open application windows so they can
// render them in-page.
type Windows struct {
	b Broadcaster
}

func NewWindows(b Broadcaster) *Windows {
	return &Windows{b: b}
}

func (w *Windows) Show(ctx context.Context, n worker.Notification) error {
	w.b.Broadcast(EventNotification, n)
	return nil
}

// Multi shows a notification on every notifier and joins their errors.
type Multi []worker.Notifier

func (m Multi) Show(ctx context.Context, n worker.Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Show(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
