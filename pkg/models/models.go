package models

import (
	dbtypes "github.com/nitesh/story_service/internal/db"
)

// Story is a story as returned by the remote API.
type Story struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PhotoURL    string   `json:"photoUrl"`
	CreatedAt   string   `json:"createdAt"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
}

// FavoriteRecord is a denormalized copy of a remote story the user favorited.
type FavoriteRecord struct {
	ID          string            `db:"id" json:"id"`
	Name        string            `db:"name" json:"name"`
	Description string            `db:"description" json:"description"`
	PhotoURL    string            `db:"photo_url" json:"photoUrl"`
	CreatedAt   string            `db:"created_at" json:"createdAt"`
	Lat         dbtypes.NullFloat `db:"lat" json:"lat"`
	Lon         dbtypes.NullFloat `db:"lon" json:"lon"`
	SavedAt     dbtypes.ISOTime   `db:"saved_at" json:"savedAt"`

	// DistanceKm is set at runtime by the nearby query (not persisted).
	DistanceKm float64 `db:"-" json:"distanceKm,omitempty"`
}

// FavoriteFromStory copies the remote fields of s. SavedAt is left for the store.
func FavoriteFromStory(s Story) FavoriteRecord {
	return FavoriteRecord{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		PhotoURL:    s.PhotoURL,
		CreatedAt:   s.CreatedAt,
		Lat:         dbtypes.FloatPtr(s.Lat),
		Lon:         dbtypes.FloatPtr(s.Lon),
	}
}

// PendingSubmission is a story creation captured while offline.
// TempID is local only and never sent to the remote API.
type PendingSubmission struct {
	TempID      int64             `db:"temp_id" json:"tempId"`
	Description string            `db:"description" json:"description"`
	Photo       []byte            `db:"photo" json:"photo,omitempty"`
	Lat         dbtypes.NullFloat `db:"lat" json:"lat"`
	Lon         dbtypes.NullFloat `db:"lon" json:"lon"`
	Synced      bool              `db:"synced" json:"synced"`
	CreatedAt   dbtypes.ISOTime   `db:"created_at" json:"createdAt"`
}

// StoryInput is the payload of a story creation, online or offline.
type StoryInput struct {
	Description string
	Photo       []byte
	Lat         *float64
	Lon         *float64
}
