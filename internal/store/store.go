package store

import (
	"context"
	"time"
)

// Store defines the interface for weather record storage.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	// Insert persists a fully-populated record (id and timestamps already
	// assigned by the caller). Fails on duplicate id or connectivity errors.
	Insert(ctx context.Context, rec *WeatherRecord) error

	// GetByID retrieves a single record by id. Returns (nil, nil) when absent.
	GetByID(ctx context.Context, id string) (*WeatherRecord, error)

	// ListRecent returns at most limit records ordered by created_at descending.
	// A limit <= 0 falls back to the default of 50. Equal timestamps are
	// tie-broken on id so the ordering is deterministic.
	ListRecent(ctx context.Context, limit int) ([]WeatherRecord, error)

	// SearchByLocation returns records whose location contains substring
	// (case-insensitive), newest first, at most limit rows.
	SearchByLocation(ctx context.Context, substring string, limit int) ([]WeatherRecord, error)

	// Stats returns aggregate dashboard statistics over all records.
	Stats(ctx context.Context) (*DashboardStats, error)

	// Close closes the database connection.
	Close() error
}

// DefaultListLimit caps ListRecent when the caller does not supply a limit.
const DefaultListLimit = 50

// DefaultSearchLimit caps SearchByLocation results.
const DefaultSearchLimit = 10

// WeatherRecord is the database model for a stored weather lookup.
// Temperature, description, humidity, and wind speed come from the weather
// provider; date, location, and notes are caller-supplied.
type WeatherRecord struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	Location    string    `json:"location"`
	Notes       string    `json:"notes"`
	Temperature float64   `json:"temperature"`
	Description string    `json:"description"`
	Humidity    float64   `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DashboardStats holds aggregate statistics over all stored records.
// MostCommonLocation is "None" and the numeric fields are zero when the
// table is empty. Ties for the most common location resolve to the
// lexicographically smallest location.
type DashboardStats struct {
	TotalRecords       int     `json:"total_records"`
	UniqueLocations    int     `json:"unique_locations"`
	AverageTemperature float64 `json:"average_temperature"`
	MostCommonLocation string  `json:"most_common_location"`
}
