package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/logging"
	"github.com/luthierworks/luthier/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)"

// SQLiteStore stores testimonials and settings in one SQLite file in WAL mode.
type SQLiteStore struct {
	db       *sql.DB
	logger   *logging.Logger
	settings *SQLiteSettingsStore
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+sqlitePragmas)
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:       db,
		logger:   logging.NewLogger(),
		settings: NewSQLiteSettingsStore(db),
	}, nil
}

// SetLogger replaces the store's logger.
func (s *SQLiteStore) SetLogger(logger *logging.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

var migrations = []struct {
	version int
	up      string
}{
	{
		version: 1,
		up: `
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS testimonials (
				id TEXT PRIMARY KEY,
				client_name TEXT NOT NULL,
				client_photo_url TEXT,
				testimonial_text TEXT NOT NULL,
				rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
				service_id TEXT,
				is_featured INTEGER NOT NULL DEFAULT 0,
				display_order INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_testimonials_order
				ON testimonials(is_featured DESC, display_order ASC, created_at DESC);
		`,
	},
	{
		version: 2,
		up: `
			ALTER TABLE testimonials ADD COLUMN external_review_id TEXT;

			CREATE UNIQUE INDEX IF NOT EXISTS idx_testimonials_external_review_id
				ON testimonials(external_review_id) WHERE external_review_id IS NOT NULL;
		`,
	},
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.Exec(m.up); err != nil {
			return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Settings returns the settings store.
func (s *SQLiteStore) Settings() SettingsStore {
	return s.settings
}

const testimonialColumns = `id, client_name, client_photo_url, testimonial_text, rating,
	external_review_id, service_id, is_featured, display_order, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTestimonial(row rowScanner) (*models.Testimonial, error) {
	var (
		t        models.Testimonial
		photo    sql.NullString
		external sql.NullString
		service  sql.NullString
	)
	err := row.Scan(&t.ID, &t.ClientName, &photo, &t.Text, &t.Rating,
		&external, &service, &t.IsFeatured, &t.DisplayOrder, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ClientPhotoURL = photo.String
	t.ExternalReviewID = external.String
	t.ServiceID = service.String
	return &t, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if stderrors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetTestimonial retrieves a testimonial by ID.
func (s *SQLiteStore) GetTestimonial(ctx context.Context, id string) (*models.Testimonial, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+testimonialColumns+" FROM testimonials WHERE id = ?", id)
	t, err := scanTestimonial(row)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "testimonial", ID: id}
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get testimonial", Err: err}
	}
	return t, nil
}

// FindByExternalReviewID looks a testimonial up by the review it was imported from.
func (s *SQLiteStore) FindByExternalReviewID(ctx context.Context, externalID string) (*models.Testimonial, bool, error) {
	if externalID == "" {
		return nil, false, nil
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+testimonialColumns+" FROM testimonials WHERE external_review_id = ?", externalID)
	t, err := scanTestimonial(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &errors.ErrDatabaseQuery{Operation: "find testimonial by external id", Err: err}
	}
	return t, true, nil
}

// CreateTestimonial inserts t. A second row for the same external review
// yields ErrConflict.
func (s *SQLiteStore) CreateTestimonial(ctx context.Context, t *models.Testimonial) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO testimonials (`+testimonialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ClientName, nullable(t.ClientPhotoURL), t.Text, t.Rating,
		nullable(t.ExternalReviewID), nullable(t.ServiceID), t.IsFeatured, t.DisplayOrder,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			key := t.ExternalReviewID
			if key == "" {
				key = t.ID
			}
			return &errors.ErrConflict{Resource: "testimonial", Key: key}
		}
		return &errors.ErrDatabaseQuery{Operation: "insert testimonial", Err: err}
	}
	return nil
}

// UpdateTestimonial overwrites every column of an existing testimonial.
func (s *SQLiteStore) UpdateTestimonial(ctx context.Context, t *models.Testimonial) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE testimonials SET
			client_name = ?,
			client_photo_url = ?,
			testimonial_text = ?,
			rating = ?,
			external_review_id = ?,
			service_id = ?,
			is_featured = ?,
			display_order = ?,
			updated_at = ?
		WHERE id = ?
	`, t.ClientName, nullable(t.ClientPhotoURL), t.Text, t.Rating, nullable(t.ExternalReviewID),
		nullable(t.ServiceID), t.IsFeatured, t.DisplayOrder, t.UpdatedAt, t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &errors.ErrConflict{Resource: "testimonial", Key: t.ExternalReviewID}
		}
		return &errors.ErrDatabaseQuery{Operation: "update testimonial", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.ErrNotFound{Resource: "testimonial", ID: t.ID}
	}
	return nil
}

// DeleteTestimonial removes a testimonial by ID.
func (s *SQLiteStore) DeleteTestimonial(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM testimonials WHERE id = ?", id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete testimonial", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.ErrNotFound{Resource: "testimonial", ID: id}
	}
	return nil
}

// ListTestimonials returns testimonials matching filter in display order.
func (s *SQLiteStore) ListTestimonials(ctx context.Context, filter models.TestimonialFilter) ([]*models.Testimonial, error) {
	query := "SELECT " + testimonialColumns + " FROM testimonials"
	var (
		where []string
		args  []interface{}
	)
	if filter.FeaturedOnly {
		where = append(where, "is_featured = 1")
	}
	if filter.ServiceID != "" {
		where = append(where, "service_id = ?")
		args = append(args, filter.ServiceID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY is_featured DESC, display_order ASC, created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list testimonials", Err: err}
	}
	defer rows.Close()

	var result []*models.Testimonial
	for rows.Next() {
		t, err := scanTestimonial(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan testimonial", Err: err}
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list testimonials", Err: err}
	}
	return result, nil
}

// Stats returns row counts. Query failures are logged and reported as zero.
func (s *SQLiteStore) Stats() StoreStats {
	var stats StoreStats
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN external_review_id IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(is_featured), 0)
		FROM testimonials
	`).Scan(&stats.TestimonialCount, &stats.ImportedCount, &stats.FeaturedCount)
	if err != nil {
		s.logger.Error("failed to read store stats", "error", err.Error())
		return StoreStats{}
	}
	return stats
}

var _ Store = (*SQLiteStore)(nil)
