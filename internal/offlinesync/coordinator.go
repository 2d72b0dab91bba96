// Package offlinesync replays pending offline submissions against the remote API.
package offlinesync

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/nitesh/story_service/internal/apperr"
	"github.com/nitesh/story_service/pkg/models"
)

// PendingStore is the slice of the Local Store the coordinator needs.
// The coordinator only reads and marks synced; it never creates or deletes.
type PendingStore interface {
	GetUnsyncedStories(ctx context.Context) ([]models.PendingSubmission, error)
	MarkStorySynced(ctx context.Context, tempID int64) error
}

// StoryCreator performs the remote creation of one story.
type StoryCreator interface {
	CreateStory(ctx context.Context, description string, photo []byte, lat, lon *float64) error
}

// StoryCreatorFunc adapts a function to StoryCreator.
type StoryCreatorFunc func(ctx context.Context, description string, photo []byte, lat, lon *float64) error

func (f StoryCreatorFunc) CreateStory(ctx context.Context, description string, photo []byte, lat, lon *float64) error {
	return f(ctx, description, photo, lat, lon)
}

type Authenticator interface {
	IsAuthenticated() bool
}

type Connectivity interface {
	Online() bool
}

// ItemError records why one pending submission failed during a run.
type ItemError struct {
	StoryID int64  `json:"storyId"`
	Error   string `json:"error"`
}

// RunResults counts what happened to the snapshot of one run.
type RunResults struct {
	Total  int         `json:"total"`
	Synced int         `json:"synced"`
	Failed int         `json:"failed"`
	Errors []ItemError `json:"errors"`
}

// Result is the outcome of SyncOfflineStories. Success means the run
// completed, not that every item was accepted.
type Result struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Results RunResults `json:"results"`
	Err     error      `json:"-"`
}

// Coordinator drains pending submissions with at most one run in flight.
type Coordinator struct {
	store   PendingStore
	creator StoryCreator
	auth    Authenticator
	net     Connectivity
	syncing atomic.Bool
	logger  func(format string, v ...any)
}

func NewCoordinator(store PendingStore, creator StoryCreator, auth Authenticator, net Connectivity) *Coordinator {
	return &Coordinator{
		store:   store,
		creator: creator,
		auth:    auth,
		net:     net,
		logger:  log.Printf,
	}
}

// SetLogger allows injecting a simple printf-like logger.
func (c *Coordinator) SetLogger(l func(format string, v ...any)) {
	if l == nil {
		return
	}
	c.logger = l
}

// Syncing reports whether a run is in flight.
func (c *Coordinator) Syncing() bool {
	return c.syncing.Load()
}

// SyncOfflineStories replays every unsynced submission once, sequentially.
// A concurrent call returns immediately with AlreadyInProgressError.
func (c *Coordinator) SyncOfflineStories(ctx context.Context) (res Result) {
	res.Results.Errors = []ItemError{}
	if !c.syncing.CompareAndSwap(false, true) {
		c.logger("sync already in progress")
		return reject(&apperr.AlreadyInProgressError{Operation: "sync"}, "Sync already in progress")
	}
	defer c.syncing.Store(false)

	if c.auth == nil || !c.auth.IsAuthenticated() {
		return reject(&apperr.AuthRequiredError{Action: "sync"}, "Authentication required")
	}
	if c.net != nil && !c.net.Online() {
		return reject(apperr.ErrNoConnection, "No internet connection")
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Success: false,
				Message: fmt.Sprint(r),
				Results: RunResults{Errors: []ItemError{}},
				Err:     fmt.Errorf("sync panicked: %v", r),
			}
		}
	}()

	// The run is not cancellable once started; it is bounded by the snapshot.
	runCtx := context.WithoutCancel(ctx)

	pending, err := c.store.GetUnsyncedStories(runCtx)
	if err != nil {
		return Result{Success: false, Message: err.Error(), Results: RunResults{Errors: []ItemError{}}, Err: err}
	}
	res.Results.Total = len(pending)
	if len(pending) == 0 {
		res.Success = true
		res.Message = "No stories to sync"
		return res
	}

	for _, p := range pending {
		if err := c.replay(runCtx, p); err != nil {
			c.logger("failed to sync story temp_id=%d: %v", p.TempID, err)
			res.Results.Failed++
			res.Results.Errors = append(res.Results.Errors, ItemError{StoryID: p.TempID, Error: err.Error()})
			continue
		}
		res.Results.Synced++
	}

	res.Success = true
	res.Message = fmt.Sprintf("Synced %d out of %d stories", res.Results.Synced, res.Results.Total)
	return res
}

func (c *Coordinator) replay(ctx context.Context, p models.PendingSubmission) (err error) {
	// a panicking item fails alone; the rest of the snapshot still runs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay panicked: %v", r)
		}
	}()
	if err := c.creator.CreateStory(ctx, p.Description, p.Photo, p.Lat.Ptr(), p.Lon.Ptr()); err != nil {
		return err
	}
	if err := c.store.MarkStorySynced(ctx, p.TempID); err != nil {
		return fmt.Errorf("created remotely but not marked synced: %w", err)
	}
	return nil
}

func reject(err error, msg string) Result {
	return Result{Success: false, Message: msg, Results: RunResults{Errors: []ItemError{}}, Err: err}
}

func (c *Coordinator) HasUnsyncedData(ctx context.Context) (bool, error) {
	n, err := c.GetUnsyncedCount(ctx)
	return n > 0, err
}

func (c *Coordinator) GetUnsyncedCount(ctx context.Context) (int, error) {
	pending, err := c.store.GetUnsyncedStories(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}
