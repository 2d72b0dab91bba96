// Package lifecycle connects connectivity transitions and process startup to
// the sync coordinator and tells open windows what happened.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nitesh/story_service/internal/clients"
	"github.com/nitesh/story_service/internal/offlinesync"
)

const DefaultStartupDelay = 2 * time.Second

// Syncer is the part of the coordinator the glue drives.
type Syncer interface {
	SyncOfflineStories(ctx context.Context) offlinesync.Result
	HasUnsyncedData(ctx context.Context) (bool, error)
	GetUnsyncedCount(ctx context.Context) (int, error)
}

type Announcer interface {
	Announce(level, message string)
}

// Transitions is implemented by connectivity.Monitor.
type Transitions interface {
	OnOnline(fn func())
	OnOffline(fn func())
}

type Glue struct {
	syncer Syncer
	auth   offlinesync.Authenticator
	net    offlinesync.Connectivity
	ann    Announcer
	logger func(format string, v ...any)
	wg     sync.WaitGroup
}

func New(syncer Syncer, auth offlinesync.Authenticator, net offlinesync.Connectivity, ann Announcer) *Glue {
	return &Glue{syncer: syncer, auth: auth, net: net, ann: ann, logger: log.Printf}
}

func (g *Glue) SetLogger(l func(format string, v ...any)) {
	if l != nil {
		g.logger = l
	}
}

// HandleOnline announces the transition and, when signed in, runs a sync.
func (g *Glue) HandleOnline(ctx context.Context) offlinesync.Result {
	g.ann.Announce(clients.LevelInfo, "Back online! Syncing...")
	if !g.auth.IsAuthenticated() {
		return offlinesync.Result{}
	}
	res := g.syncer.SyncOfflineStories(ctx)
	if res.Success && res.Results.Synced > 0 {
		g.ann.Announce(clients.LevelSuccess, fmt.Sprintf("%d stories synced successfully!", res.Results.Synced))
	} else if !res.Success {
		g.logger("sync after reconnect: %s", res.Message)
	}
	return res
}

func (g *Glue) HandleOffline() {
	g.ann.Announce(clients.LevelWarning, "You are offline. Stories will be saved locally.")
}

// CheckUnsynced syncs leftovers from an earlier run when signed in and online.
// It reports whether a sync was attempted.
func (g *Glue) CheckUnsynced(ctx context.Context) bool {
	if !g.auth.IsAuthenticated() {
		return false
	}
	has, err := g.syncer.HasUnsyncedData(ctx)
	if err != nil {
		g.logger("startup unsynced check: %v", err)
		return false
	}
	if !has || !g.net.Online() {
		return false
	}
	count, err := g.syncer.GetUnsyncedCount(ctx)
	if err != nil {
		g.logger("startup unsynced count: %v", err)
		return false
	}
	g.ann.Announce(clients.LevelInfo, fmt.Sprintf("You have %d unsynced story(ies). Syncing...", count))

	res := g.syncer.SyncOfflineStories(ctx)
	if res.Success && res.Results.Synced > 0 {
		g.ann.Announce(clients.LevelSuccess, fmt.Sprintf("%d stories synced!", res.Results.Synced))
	}
	return true
}

// Attach subscribes to t. Online handling runs on its own goroutine so a long
// sync does not stall the prober.
func (g *Glue) Attach(ctx context.Context, t Transitions) {
	t.OnOnline(func() {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.HandleOnline(ctx)
		}()
	})
	t.OnOffline(g.HandleOffline)
}

// StartupCheck runs CheckUnsynced once after delay unless ctx ends first.
func (g *Glue) StartupCheck(ctx context.Context, delay time.Duration) {
	if delay < 0 {
		delay = DefaultStartupDelay
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		g.CheckUnsynced(ctx)
	}()
}

// Wait blocks until background work started by the glue has returned.
func (g *Glue) Wait() {
	g.wg.Wait()
}
