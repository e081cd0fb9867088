package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database, sets file permissions, and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Set pragmas for performance and safety.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	// Set file permissions to 0600.
	if err := os.Chmod(dsn, 0600); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("setting file permissions: %w", err)
	}

	// Run migrations.
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying database connection for migration commands.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *WeatherRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_records (
			id, date, location, notes,
			temperature, description, humidity, wind_speed,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Date, rec.Location, rec.Notes,
		rec.Temperature, rec.Description, rec.Humidity, rec.WindSpeed,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting weather record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*WeatherRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, date, location, notes,
			temperature, description, humidity, wind_speed,
			created_at, updated_at
		FROM weather_records
		WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting weather record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]WeatherRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, location, notes,
			temperature, description, humidity, wind_speed,
			created_at, updated_at
		FROM weather_records
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing weather records: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanRecords(rows)
}

func (s *SQLiteStore) SearchByLocation(ctx context.Context, substring string, limit int) ([]WeatherRecord, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, location, notes,
			temperature, description, humidity, wind_speed,
			created_at, updated_at
		FROM weather_records
		WHERE LOWER(location) LIKE LOWER(?) ESCAPE '\'
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, "%"+escapeLike(substring)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching weather records: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanRecords(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT location), COALESCE(AVG(temperature), 0)
		FROM weather_records`).Scan(
		&stats.TotalRecords, &stats.UniqueLocations, &stats.AverageTemperature)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	stats.AverageTemperature = roundToOneDecimal(stats.AverageTemperature)

	stats.MostCommonLocation = "None"
	if stats.TotalRecords > 0 {
		err = s.db.QueryRowContext(ctx, `
			SELECT location
			FROM weather_records
			GROUP BY location
			ORDER BY COUNT(*) DESC, location ASC
			LIMIT 1`).Scan(&stats.MostCommonLocation)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("querying most common location: %w", err)
		}
	}

	return &stats, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Shared helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func roundToOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// parseTimestamp handles both time.Time and string timestamp values from SQLite.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05Z",
			"2006-01-02 15:04:05.999999999+00:00",
			"2006-01-02 15:04:05+00:00",
			"2006-01-02 15:04:05 +0000 UTC",
			"2006-01-02 15:04:05",
		} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse timestamp: %q", t)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type: %T", v)
	}
}

func scanRecord(row scanner) (*WeatherRecord, error) {
	var rec WeatherRecord
	var createdRaw, updatedRaw any
	err := row.Scan(
		&rec.ID, &rec.Date, &rec.Location, &rec.Notes,
		&rec.Temperature, &rec.Description, &rec.Humidity, &rec.WindSpeed,
		&createdRaw, &updatedRaw,
	)
	if err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTimestamp(createdRaw); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTimestamp(updatedRaw); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]WeatherRecord, error) {
	var result []WeatherRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning weather record: %w", err)
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}
