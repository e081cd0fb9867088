package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed pgmigrations/*.sql
var pgMigrations embed.FS

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a PostgreSQL connection and runs migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	goose.SetBaseFS(pgMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "pgmigrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB returns the underlying database connection for migration commands.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, rec *WeatherRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_records (
			id, date, location, notes,
			temperature, description, humidity, wind_speed,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Date, rec.Location, rec.Notes,
		rec.Temperature, rec.Description, rec.Humidity, rec.WindSpeed,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting weather record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*WeatherRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, date, location, notes,
			temperature, description, humidity, wind_speed,
			created_at, updated_at
		FROM weather_records
		WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting weather record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]WeatherRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, location, notes,
			temperature, description, humidity, wind_speed,
			created_at, updated_at
		FROM weather_records
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing weather records: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanRecords(rows)
}

func (s *PostgresStore) SearchByLocation(ctx context.Context, substring string, limit int) ([]WeatherRecord, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, location, notes,
			temperature, description, humidity, wind_speed,
			created_at, updated_at
		FROM weather_records
		WHERE location ILIKE $1 ESCAPE '\'
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, "%"+escapeLike(substring)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching weather records: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanRecords(rows)
}

func (s *PostgresStore) Stats(ctx context.Context) (*DashboardStats, error) {
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
