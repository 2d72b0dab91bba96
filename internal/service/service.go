package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nitesh/story_service/internal/apperr"
	"github.com/nitesh/story_service/internal/remote"
	"github.com/nitesh/story_service/pkg/models"
)

const (
	MaxDescriptionLen = 1000
	MaxPhotoBytes     = 1024 * 1024
)

// StoryStore is the local persistence the service needs.
type StoryStore interface {
	AddFavorite(ctx context.Context, fav models.FavoriteRecord) (models.FavoriteRecord, error)
	RemoveFavorite(ctx context.Context, id string) error
	GetAllFavorites(ctx context.Context) ([]models.FavoriteRecord, error)
	GetFavorite(ctx context.Context, id string) (models.FavoriteRecord, error)
	IsFavorite(ctx context.Context, id string) (bool, error)
	SearchFavorites(ctx context.Context, query string) ([]models.FavoriteRecord, error)
	SortFavorites(ctx context.Context, field, direction string) ([]models.FavoriteRecord, error)

	AddOfflineStory(ctx context.Context, in models.StoryInput) (int64, error)
	GetOfflineStories(ctx context.Context) ([]models.PendingSubmission, error)
	GetUnsyncedStories(ctx context.Context) ([]models.PendingSubmission, error)
	DeleteOfflineStory(ctx context.Context, tempID int64) error
	DeleteSyncedStories(ctx context.Context) (int64, error)
}

// StoryAPI is the remote story API.
type StoryAPI interface {
	ListStories(ctx context.Context, q remote.ListQuery) ([]models.Story, error)
	StoryDetail(ctx context.Context, id string) (models.Story, error)
	CreateStory(ctx context.Context, description string, photo []byte, lat, lon *float64) (remote.Response, error)
	CreateStoryGuest(ctx context.Context, description string, photo []byte, lat, lon *float64) (remote.Response, error)
}

type Authenticator interface {
	IsAuthenticated() bool
}

type Connectivity interface {
	Online() bool
}

type Service struct {
	repo   StoryStore
	api    StoryAPI
	auth   Authenticator
	net    Connectivity
	logger func(format string, v ...any)
}

func NewService(repo StoryStore, api StoryAPI, auth Authenticator, net Connectivity) *Service {
	return &Service{repo: repo, api: api, auth: auth, net: net, logger: func(string, ...any) {}}
}

func (s *Service) SetLogger(l func(format string, v ...any)) {
	if l != nil {
		s.logger = l
	}
}

// SubmitResult tells the caller whether a story reached the API or was queued.
type SubmitResult struct {
	Queued  bool   `json:"queued"`
	TempID  int64  `json:"tempId,omitempty"`
	Message string `json:"message"`
}

// ValidateStory checks a story before it is sent or queued. All problems are
// returned joined; each one is a *apperr.ValidationError.
func ValidateStory(in models.StoryInput) error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &apperr.ValidationError{Field: field, Reason: reason})
	}
	if strings.TrimSpace(in.Description) == "" {
		add("description", "Description is required")
	} else if utf8.RuneCountInString(in.Description) > MaxDescriptionLen {
		add("description", fmt.Sprintf("Description must be less than %d characters", MaxDescriptionLen))
	}
	switch {
	case len(in.Photo) == 0:
		add("photo", "Photo is required")
	case len(in.Photo) > MaxPhotoBytes:
		add("photo", "Photo size must be less than 1MB")
	case !strings.HasPrefix(mimetype.Detect(in.Photo).String(), "image/"):
		add("photo", "File must be an image")
	}
	if in.Lat == nil || in.Lon == nil {
		add("location", "Location is required")
	} else if math.Abs(*in.Lat) > 90 || math.Abs(*in.Lon) > 180 {
		add("location", "Location is out of range")
	}
	return errors.Join(errs...)
}

// ValidateGuestStory is ValidateStory restricted to JPEG, PNG and GIF photos.
func ValidateGuestStory(in models.StoryInput) error {
	err := ValidateStory(in)
	if len(in.Photo) > 0 && len(in.Photo) <= MaxPhotoBytes {
		mt := mimetype.Detect(in.Photo)
		if !mt.Is("image/jpeg") && !mt.Is("image/png") && !mt.Is("image/gif") {
			err = errors.Join(err, &apperr.ValidationError{Field: "photo", Reason: "Photo must be JPG, PNG, or GIF"})
		}
	}
	return err
}

// SubmitStory sends a story to the API. When the API cannot be reached the
// story is queued locally instead and Queued is set.
func (s *Service) SubmitStory(ctx context.Context, in models.StoryInput) (SubmitResult, error) {
	if err := ValidateStory(in); err != nil {
		return SubmitResult{}, err
	}
	if !s.auth.IsAuthenticated() {
		return SubmitResult{}, &apperr.AuthRequiredError{Action: "create story"}
	}

	if s.net != nil && !s.net.Online() {
		return s.queue(ctx, in, apperr.ErrNoConnection)
	}
	if _, err := s.api.CreateStory(ctx, in.Description, in.Photo, in.Lat, in.Lon); err != nil {
		if apperr.IsOffline(err) {
			return s.queue(ctx, in, err)
		}
		return SubmitResult{}, fmt.Errorf("share story: %w", err)
	}
	return SubmitResult{Message: "Story shared successfully!"}, nil
}

func (s *Service) queue(ctx context.Context, in models.StoryInput, cause error) (SubmitResult, error) {
	s.logger("story queued offline: %v", cause)
	id, err := s.repo.AddOfflineStory(ctx, in)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("save offline: %w", err)
	}
	return SubmitResult{Queued: true, TempID: id, Message: "Saved offline! Will sync when online."}, nil
}

// SubmitGuestStory posts without a session. Guest stories are never queued.
func (s *Service) SubmitGuestStory(ctx context.Context, in models.StoryInput) (remote.Response, error) {
	if err := ValidateGuestStory(in); err != nil {
		return remote.Response{}, err
	}
	return s.api.CreateStoryGuest(ctx, in.Description, in.Photo, in.Lat, in.Lon)
}

// QueueStory stores a story for a later sync without trying the API.
func (s *Service) QueueStory(ctx context.Context, in models.StoryInput) (int64, error) {
	if err := ValidateStory(in); err != nil {
		return 0, err
	}
	return s.repo.AddOfflineStory(ctx, in)
}

// CreateStory is the replay path used by the sync coordinator.
func (s *Service) CreateStory(ctx context.Context, description string, photo []byte, lat, lon *float64) error {
	_, err := s.api.CreateStory(ctx, description, photo, lat, lon)
	return err
}

func (s *Service) Stories(ctx context.Context, q remote.ListQuery) ([]models.Story, error) {
	return s.api.ListStories(ctx, q)
}

func (s *Service) Story(ctx context.Context, id string) (models.Story, error) {
	return s.api.StoryDetail(ctx, id)
}

// Favorites lists favorites. A non-empty query searches; otherwise the list
// is sorted by field and direction.
func (s *Service) Favorites(ctx context.Context, query, field, direction string) ([]models.FavoriteRecord, error) {
	if strings.TrimSpace(query) != "" {
		return s.repo.SearchFavorites(ctx, query)
	}
	return s.repo.SortFavorites(ctx, field, direction)
}

func (s *Service) AddFavorite(ctx context.Context, story models.Story) (models.FavoriteRecord, error) {
	if strings.TrimSpace(story.ID) == "" {
		return models.FavoriteRecord{}, &apperr.ValidationError{Field: "id", Reason: "story id is required"}
	}
	return s.repo.AddFavorite(ctx, models.FavoriteFromStory(story))
}

func (s *Service) RemoveFavorite(ctx context.Context, id string) error {
	return s.repo.RemoveFavorite(ctx, id)
}

func (s *Service) Favorite(ctx context.Context, id string) (models.FavoriteRecord, error) {
	return s.repo.GetFavorite(ctx, id)
}

func (s *Service) IsFavorite(ctx context.Context, id string) (bool, error) {
	return s.repo.IsFavorite(ctx, id)
}

// NearbyFavorites returns geotagged favorites within radiusKm of (lat, lon),
// closest first.
func (s *Service) NearbyFavorites(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]models.FavoriteRecord, error) {
	all, err := s.repo.GetAllFavorites(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.FavoriteRecord{}
	for _, f := range all {
		if !f.Lat.Valid || !f.Lon.Valid {
			continue
		}
		dist := haversineKm(lat, lon, f.Lat.Float64, f.Lon.Float64)
		if dist <= radiusKm {
			f.DistanceKm = dist
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) PendingStories(ctx context.Context, unsyncedOnly bool) ([]models.PendingSubmission, error) {
	if unsyncedOnly {
		return s.repo.GetUnsyncedStories(ctx)
	}
	return s.repo.GetOfflineStories(ctx)
}

func (s *Service) DeletePending(ctx context.Context, tempID int64) error {
	return s.repo.DeleteOfflineStory(ctx, tempID)
}

func (s *Service) CleanupSynced(ctx context.Context) (int64, error) {
	return s.repo.DeleteSyncedStories(ctx)
}

// helpers
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
