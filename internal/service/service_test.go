package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nitesh/story_service/internal/apperr"
	dbtypes "github.com/nitesh/story_service/internal/db"
	"github.com/nitesh/story_service/internal/remote"
	"github.com/nitesh/story_service/pkg/models"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)

type memStore struct {
	favs    []models.FavoriteRecord
	pending []models.PendingSubmission
	addErr  error
}

func (m *memStore) AddFavorite(ctx context.Context, fav models.FavoriteRecord) (models.FavoriteRecord, error) {
	for _, f := range m.favs {
		if f.ID == fav.ID {
			return models.FavoriteRecord{}, apperr.ErrDuplicateKey
		}
	}
	m.favs = append(m.favs, fav)
	return fav, nil
}
func (m *memStore) RemoveFavorite(ctx context.Context, id string) error { return nil }
func (m *memStore) GetAllFavorites(ctx context.Context) ([]models.FavoriteRecord, error) {
	return m.favs, nil
}
func (m *memStore) GetFavorite(ctx context.Context, id string) (models.FavoriteRecord, error) {
	return models.FavoriteRecord{}, apperr.ErrNotFound
}
func (m *memStore) IsFavorite(ctx context.Context, id string) (bool, error) { return false, nil }
func (m *memStore) SearchFavorites(ctx context.Context, q string) ([]models.FavoriteRecord, error) {
	return []models.FavoriteRecord{{ID: "searched"}}, nil
}
func (m *memStore) SortFavorites(ctx context.Context, field, dir string) ([]models.FavoriteRecord, error) {
	return []models.FavoriteRecord{{ID: "sorted"}}, nil
}
func (m *memStore) AddOfflineStory(ctx context.Context, in models.StoryInput) (int64, error) {
	if m.addErr != nil {
		return 0, m.addErr
	}
	id := int64(len(m.pending) + 1)
	m.pending = append(m.pending, models.PendingSubmission{TempID: id, Description: in.Description})
	return id, nil
}
func (m *memStore) GetOfflineStories(ctx context.Context) ([]models.PendingSubmission, error) {
	return m.pending, nil
}
func (m *memStore) GetUnsyncedStories(ctx context.Context) ([]models.PendingSubmission, error) {
	return m.pending, nil
}
func (m *memStore) DeleteOfflineStory(ctx context.Context, id int64) error { return nil }
func (m *memStore) DeleteSyncedStories(ctx context.Context) (int64, error) { return 0, nil }

type fakeAPI struct {
	createErr error
	creates   int
}

func (f *fakeAPI) ListStories(ctx context.Context, q remote.ListQuery) ([]models.Story, error) {
	return nil, nil
}
func (f *fakeAPI) StoryDetail(ctx context.Context, id string) (models.Story, error) {
	return models.Story{ID: id}, nil
}
func (f *fakeAPI) CreateStory(ctx context.Context, d string, p []byte, lat, lon *float64) (remote.Response, error) {
	f.creates++
	return remote.Response{Message: "Story created successfully"}, f.createErr
}
func (f *fakeAPI) CreateStoryGuest(ctx context.Context, d string, p []byte, lat, lon *float64) (remote.Response, error) {
	return remote.Response{}, nil
}

type flag bool

func (f flag) IsAuthenticated() bool { return bool(f) }
func (f flag) Online() bool          { return bool(f) }

func f64(v float64) *float64 { return &v }

func validInput() models.StoryInput {
	return models.StoryInput{Description: "sunset at the beach", Photo: pngBytes, Lat: f64(-6.2), Lon: f64(106.8)}
}

func TestValidateStory(t *testing.T) {
	if err := ValidateStory(validInput()); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	in := models.StoryInput{Description: "  ", Photo: []byte("plain text, not an image")}
	err := ValidateStory(in)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	for _, want := range []string{"Description is required", "File must be an image", "Location is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err %q missing %q", err, want)
		}
	}

	long := validInput()
	long.Description = strings.Repeat("é", MaxDescriptionLen+1)
	if err := ValidateStory(long); err == nil {
		t.Fatalf("over-long description accepted")
	}
	big := validInput()
	big.Photo = append(append([]byte(nil), pngBytes...), make([]byte, MaxPhotoBytes)...)
	if err := ValidateStory(big); err == nil || !strings.Contains(err.Error(), "1MB") {
		t.Fatalf("oversized photo err = %v", err)
	}
}

func TestSubmitStory_OnlineSuccess(t *testing.T) {
	store, api := &memStore{}, &fakeAPI{}
	svc := NewService(store, api, flag(true), flag(true))
	res, err := svc.SubmitStory(context.Background(), validInput())
	if err != nil || res.Queued {
		t.Fatalf("SubmitStory = %+v, %v", res, err)
	}
	if len(store.pending) != 0 {
		t.Fatalf("online success queued a pending story")
	}
}

func TestSubmitStory_OfflineErrorQueues(t *testing.T) {
	store := &memStore{}
	api := &fakeAPI{createErr: &apperr.NetworkError{Op: "create story", Err: errors.New("connection refused")}}
	svc := NewService(store, api, flag(true), flag(true))

	res, err := svc.SubmitStory(context.Background(), validInput())
	if err != nil {
		t.Fatalf("SubmitStory: %v", err)
	}
	if !res.Queued || res.TempID != 1 || len(store.pending) != 1 {
		t.Fatalf("res = %+v pending = %d, want queued", res, len(store.pending))
	}
}

func TestSubmitStory_KnownOfflineSkipsAPI(t *testing.T) {
	store, api := &memStore{}, &fakeAPI{}
	svc := NewService(store, api, flag(true), flag(false))
	res, err := svc.SubmitStory(context.Background(), validInput())
	if err != nil || !res.Queued {
		t.Fatalf("SubmitStory = %+v, %v", res, err)
	}
	if api.creates != 0 {
		t.Fatalf("API called while offline")
	}
}

func TestSubmitStory_ServerRejectionIsNotQueued(t *testing.T) {
	store := &memStore{}
	api := &fakeAPI{createErr: &apperr.NetworkError{Op: "create story", Status: 413, Message: "Payload too large"}}
	svc := NewService(store, api, flag(true), flag(true))

	_, err := svc.SubmitStory(context.Background(), validInput())
	var ne *apperr.NetworkError
	if !errors.As(err, &ne) || ne.Status != 413 {
		t.Fatalf("err = %v, want 413 NetworkError", err)
	}
	if len(store.pending) != 0 {
		t.Fatalf("rejected story was queued")
	}
}

func TestSubmitStory_QueueFailureSurfaces(t *testing.T) {
	storageErr := &apperr.StorageError{Op: "add offline story", Err: errors.New("disk full")}
	store := &memStore{addErr: storageErr}
	svc := NewService(store, &fakeAPI{}, flag(true), flag(false))
	if _, err := svc.SubmitStory(context.Background(), validInput()); !errors.Is(err, storageErr) {
		t.Fatalf("err = %v, want storage error", err)
	}
}

func TestSubmitStory_RequiresAuth(t *testing.T) {
	svc := NewService(&memStore{}, &fakeAPI{}, flag(false), flag(true))
	_, err := svc.SubmitStory(context.Background(), validInput())
	var ae *apperr.AuthRequiredError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AuthRequiredError", err)
	}
}

func TestFavoritesSearchOrSort(t *testing.T) {
	svc := NewService(&memStore{}, &fakeAPI{}, flag(true), flag(true))
	got, _ := svc.Favorites(context.Background(), "beach", "", "")
	if got[0].ID != "searched" {
		t.Fatalf("query did not search")
	}
	got, _ = svc.Favorites(context.Background(), "", "name", "asc")
	if got[0].ID != "sorted" {
		t.Fatalf("empty query did not sort")
	}
}

func TestNearbyFavorites(t *testing.T) {
	store := &memStore{favs: []models.FavoriteRecord{
		{ID: "far", Lat: dbtypes.FloatPtr(f64(-7.25)), Lon: dbtypes.FloatPtr(f64(112.75))},
		{ID: "near", Lat: dbtypes.FloatPtr(f64(-6.21)), Lon: dbtypes.FloatPtr(f64(106.85))},
		{ID: "nowhere"},
		{ID: "close", Lat: dbtypes.FloatPtr(f64(-6.30)), Lon: dbtypes.FloatPtr(f64(106.80))},
	}}
	svc := NewService(store, &fakeAPI{}, flag(true), flag(true))

	got, err := svc.NearbyFavorites(context.Background(), -6.2, 106.84, 50, 10)
	if err != nil {
		t.Fatalf("NearbyFavorites: %v", err)
	}
	if len(got) != 2 || got[0].ID != "near" || got[1].ID != "close" {
		t.Fatalf("got %+v, want near then close", got)
	}
	if got[0].DistanceKm <= 0 || got[0].DistanceKm > got[1].DistanceKm {
		t.Fatalf("distances not ordered: %v %v", got[0].DistanceKm, got[1].DistanceKm)
	}

	got, _ = svc.NearbyFavorites(context.Background(), -6.2, 106.84, 50, 1)
	if len(got) != 1 {
		t.Fatalf("limit ignored: %d results", len(got))
	}
}

func TestHaversine(t *testing.T) {
	// Jakarta to Surabaya is roughly 660 km.
	d := haversineKm(-6.2088, 106.8456, -7.2575, 112.7521)
	if d < 640 || d > 680 {
		t.Fatalf("haversineKm = %.1f, want about 660", d)
	}
}
