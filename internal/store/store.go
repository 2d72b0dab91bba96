package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nitesh/story_service/internal/apperr"
	dbtypes "github.com/nitesh/story_service/internal/db"
	"github.com/nitesh/story_service/pkg/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store owns the favorites and offline_stories collections.
type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open opens the database behind dsn and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, &apperr.ValidationError{Field: "db_driver", Reason: fmt.Sprintf("unsupported driver %q", driver)}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &apperr.StorageError{Op: "open", Err: err}
	}
	if driver == DriverSQLite {
		// one writer at a time; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &apperr.StorageError{Op: "open", Err: err}
	}
	s := New(db, driver)
	if err := s.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database. Callers must run RunMigrations.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: sqlx.NewDb(db, driver), driver: driver, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &apperr.StorageError{Op: op, Err: err}
}

const favoriteColumns = `id, name, description, photo_url, created_at, lat, lon, saved_at`

// AddFavorite inserts fav with SavedAt set to now. An existing id fails with
// apperr.ErrDuplicateKey and leaves the stored record untouched.
func (s *Store) AddFavorite(ctx context.Context, fav models.FavoriteRecord) (models.FavoriteRecord, error) {
	if strings.TrimSpace(fav.ID) == "" {
		return fav, &apperr.ValidationError{Field: "id", Reason: "is required"}
	}
	fav.SavedAt = dbtypes.NewISOTime(s.now())
	_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO favorites (`+favoriteColumns+`)
VALUES (?,?,?,?,?,?,?,?)`),
		fav.ID, fav.Name, fav.Description, fav.PhotoURL, fav.CreatedAt, fav.Lat, fav.Lon, fav.SavedAt)
	if isUniqueViolation(err) {
		return fav, fmt.Errorf("add favorite id=%s: %w", fav.ID, apperr.ErrDuplicateKey)
	}
	if err != nil {
		return fav, storageErr("add favorite", err)
	}
	return fav, nil
}

// isUniqueViolation reports a primary key or unique constraint failure from
// either engine.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}

// RemoveFavorite deletes the favorite; a missing id is not an error.
func (s *Store) RemoveFavorite(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM favorites WHERE id = ?`), id)
	return storageErr("remove favorite", err)
}

func (s *Store) GetAllFavorites(ctx context.Context) ([]models.FavoriteRecord, error) {
	rows := []models.FavoriteRecord{}
	err := s.db.SelectContext(ctx, &rows, `SELECT `+favoriteColumns+` FROM favorites`)
	if err != nil {
		return nil, storageErr("get favorites", err)
	}
	return rows, nil
}

// GetFavorite returns apperr.ErrNotFound when id is not a favorite.
func (s *Store) GetFavorite(ctx context.Context, id string) (models.FavoriteRecord, error) {
	var fav models.FavoriteRecord
	err := s.db.GetContext(ctx, &fav, s.q(`SELECT `+favoriteColumns+` FROM favorites WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return fav, fmt.Errorf("favorite id=%s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return fav, storageErr("get favorite", err)
	}
	return fav, nil
}

// IsFavorite is defined in terms of GetFavorite so both always agree.
func (s *Store) IsFavorite(ctx context.Context, id string) (bool, error) {
	_, err := s.GetFavorite(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SearchFavorites matches query case-insensitively as a substring of name or
// description. An empty query matches everything.
func (s *Store) SearchFavorites(ctx context.Context, query string) ([]models.FavoriteRecord, error) {
	all, err := s.GetAllFavorites(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	out := make([]models.FavoriteRecord, 0, len(all))
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.Name), needle) ||
			strings.Contains(strings.ToLower(f.Description), needle) {
			out = append(out, f)
		}
	}
	return out, nil
}

var sortColumns = map[string]string{
	"savedAt":     "saved_at",
	"createdAt":   "created_at",
	"name":        "name",
	"description": "description",
	"id":          "id",
}

// SortFavorites orders all favorites by field. Ties break on id ascending.
func (s *Store) SortFavorites(ctx context.Context, field, direction string) ([]models.FavoriteRecord, error) {
	if field == "" {
		field = "savedAt"
	}
	col, ok := sortColumns[field]
	if !ok {
		return nil, &apperr.ValidationError{Field: "sort", Reason: fmt.Sprintf("unknown field %q", field)}
	}
	dir := strings.ToLower(direction)
	switch dir {
	case "":
		dir = "desc"
	case "asc", "desc":
	default:
		return nil, &apperr.ValidationError{Field: "order", Reason: fmt.Sprintf("unknown direction %q", direction)}
	}

	rows := []models.FavoriteRecord{}
	query := fmt.Sprintf(`SELECT %s FROM favorites ORDER BY %s %s, id ASC`, favoriteColumns, col, strings.ToUpper(dir))
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, storageErr("sort favorites", err)
	}
	return rows, nil
}

// AddOfflineStory stores a pending submission and returns its temp id.
func (s *Store) AddOfflineStory(ctx context.Context, in models.StoryInput) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, s.q(`
INSERT INTO offline_stories (description, photo, lat, lon, synced, created_at)
VALUES (?,?,?,?,?,?)
RETURNING temp_id`),
		in.Description, in.Photo, dbtypes.FloatPtr(in.Lat), dbtypes.FloatPtr(in.Lon), false, dbtypes.NewISOTime(s.now()))
	if err != nil {
		return 0, storageErr("add offline story", err)
	}
	return id, nil
}

const offlineColumns = `temp_id, description, photo, lat, lon, synced, created_at`

// GetUnsyncedStories returns pending submissions in insertion order.
func (s *Store) GetUnsyncedStories(ctx context.Context) ([]models.PendingSubmission, error) {
	rows := []models.PendingSubmission{}
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+offlineColumns+` FROM offline_stories WHERE synced = ? ORDER BY temp_id ASC`), false)
	if err != nil {
		return nil, storageErr("get unsynced stories", err)
	}
	return rows, nil
}

// GetOfflineStories returns every pending submission, synced ones included.
func (s *Store) GetOfflineStories(ctx context.Context) ([]models.PendingSubmission, error) {
	rows := []models.PendingSubmission{}
	err := s.db.SelectContext(ctx, &rows, `SELECT `+offlineColumns+` FROM offline_stories ORDER BY temp_id ASC`)
	if err != nil {
		return nil, storageErr("get offline stories", err)
	}
	return rows, nil
}

// MarkStorySynced flips synced to true. Missing or already synced records are a no-op.
func (s *Store) MarkStorySynced(ctx context.Context, tempID int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE offline_stories SET synced = ? WHERE temp_id = ? AND synced = ?`), true, tempID, false)
	return storageErr("mark story synced", err)
}

func (s *Store) DeleteOfflineStory(ctx context.Context, tempID int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM offline_stories WHERE temp_id = ?`), tempID)
	return storageErr("delete offline story", err)
}

// DeleteSyncedStories removes terminal records and reports how many went.
func (s *Store) DeleteSyncedStories(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM offline_stories WHERE synced = ?`), true)
	if err != nil {
		return 0, storageErr("delete synced stories", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete synced stories", err)
	}
	return n, nil
}
