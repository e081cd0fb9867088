package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/wxdash/wxdashd/internal/provider"
	"github.com/wxdash/wxdashd/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	records   map[string]*store.WeatherRecord
	insertErr error
	statsErr  error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*store.WeatherRecord)}
}

func (m *mockStore) Insert(_ context.Context, rec *store.WeatherRecord) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("duplicate id %s", rec.ID)
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockStore) GetByID(_ context.Context, id string) (*store.WeatherRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) ListRecent(_ context.Context, limit int) ([]store.WeatherRecord, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	result := m.sorted()
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockStore) SearchByLocation(_ context.Context, substring string, limit int) ([]store.WeatherRecord, error) {
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	var result []store.WeatherRecord
	for _, rec := range m.sorted() {
		if strings.Contains(strings.ToLower(rec.Location), strings.ToLower(substring)) {
			result = append(result, rec)
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *mockStore) Stats(_ context.Context) (*store.DashboardStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	stats := &store.DashboardStats{MostCommonLocation: "None"}
	counts := make(map[string]int)
	var sum float64
	for _, rec := range m.records {
		stats.TotalRecords++
		counts[rec.Location]++
		sum += rec.Temperature
	}
	stats.UniqueLocations = len(counts)
	if stats.TotalRecords > 0 {
		stats.AverageTemperature = sum / float64(stats.TotalRecords)
	}
	best := 0
	for loc, n := range counts {
		if n > best || (n == best && loc < stats.MostCommonLocation) {
			best = n
			stats.MostCommonLocation = loc
		}
	}
	return stats, nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) sorted() []store.WeatherRecord {
	var result []store.WeatherRecord
	for _, rec := range m.records {
		result = append(result, *rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

// mockFetcher implements WeatherFetcher.
type mockFetcher struct {
	cond provider.Conditions
	err  error
}

func (m *mockFetcher) Fetch(_ context.Context, _ string) (provider.Conditions, error) {
	return m.cond, m.err
}

func newTestHandlers(s store.Store, f WeatherFetcher) *Handlers {
	return &Handlers{
		Store:     s,
		Provider:  f,
		Logger:    slog.Default(),
		StartTime: time.Now(),
	}
}

func createBody(t *testing.T, date, location, notes string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]string{"date": date, "location": location, "notes": notes})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestCreateWeatherRecord(t *testing.T) {
	ms := newMockStore()
	h := newTestHandlers(ms, &mockFetcher{cond: provider.Conditions{
		Temperature: 15,
		Description: "Cloudy",
		Humidity:    80,
		WindSpeed:   10,
	}})

	req := httptest.NewRequest(http.MethodPost, "/weather", createBody(t, "2025-06-15", "London", "trip day"))
	w := httptest.NewRecorder()
	h.CreateWeatherRecord(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var rec store.WeatherRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected generated id")
	}
	if rec.Location != "London" || rec.Date != "2025-06-15" || rec.Notes != "trip day" {
		t.Errorf("echoed fields wrong: %+v", rec)
	}
	if rec.Temperature != 15 || rec.Description != "Cloudy" || rec.Humidity != 80 || rec.WindSpeed != 10 {
		t.Errorf("provider fields wrong: %+v", rec)
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("timestamps wrong: created=%v updated=%v", rec.CreatedAt, rec.UpdatedAt)
	}

	stored, _ := ms.GetByID(context.Background(), rec.ID)
	if stored == nil {
		t.Fatal("record not persisted")
	}
}

func TestCreateWeatherRecord_NotesOptional(t *testing.T) {
	h := newTestHandlers(newMockStore(), &mockFetcher{cond: provider.Conditions{Description: "Sunny"}})

	// Explicit null notes must normalize to the empty string.
	req := httptest.NewRequest(http.MethodPost, "/weather",
		strings.NewReader(`{"date":"2025-06-15","location":"London","notes":null}`))
	w := httptest.NewRecorder()
	h.CreateWeatherRecord(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var rec store.WeatherRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if rec.Notes != "" {
		t.Errorf("notes = %q, want empty", rec.Notes)
	}
}

func TestCreateWeatherRecord_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing date", `{"location":"London"}`},
		{"missing location", `{"date":"2025-06-15"}`},
		{"blank location", `{"date":"2025-06-15","location":"   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newMockStore()
			h := newTestHandlers(ms, &mockFetcher{})

			req := httptest.NewRequest(http.MethodPost, "/weather", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.CreateWeatherRecord(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(ms.records) != 0 {
				t.Error("nothing should be stored on validation failure")
			}
		})
	}
}

func TestCreateWeatherRecord_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"provider business error", &provider.ProviderError{Code: 615, Type: "request_failed", Info: "failed"}, http.StatusBadRequest},
		{"timeout", fmt.Errorf("fetching: %w", provider.ErrTimeout), http.StatusRequestTimeout},
		{"unexpected", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newMockStore()
			h := newTestHandlers(ms, &mockFetcher{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/weather", createBody(t, "2025-06-15", "London", ""))
			w := httptest.NewRecorder()
			h.CreateWeatherRecord(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if len(ms.records) != 0 {
				t.Error("nothing should be stored when the provider fails")
			}

			var apiErr apiError
			if err := json.NewDecoder(w.Body).Decode(&apiErr); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if apiErr.Code != tt.wantStatus {
				t.Errorf("body code = %d, want %d", apiErr.Code, tt.wantStatus)
			}
		})
	}
}

func TestCreateWeatherRecord_StoreFailure(t *testing.T) {
	ms := newMockStore()
	ms.insertErr = errors.New("disk full")
	h := newTestHandlers(ms, &mockFetcher{cond: provider.Conditions{Description: "Sunny"}})

	req := httptest.NewRequest(http.MethodPost, "/weather", createBody(t, "2025-06-15", "London", ""))
	w := httptest.NewRecorder()
	h.CreateWeatherRecord(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestGetWeatherRecord(t *testing.T) {
	ms := newMockStore()
	now := time.Now().UTC()
	ms.records["abc"] = &store.WeatherRecord{ID: "abc", Location: "Paris", CreatedAt: now, UpdatedAt: now}
	h := newTestHandlers(ms, &mockFetcher{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /weather/{id}", h.GetWeatherRecord)

	req := httptest.NewRequest(http.MethodGet, "/weather/abc", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var rec store.WeatherRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if rec.ID != "abc" || rec.Location != "Paris" {
		t.Errorf("got %+v", rec)
	}
}

func TestGetWeatherRecord_NotFound(t *testing.T) {
	h := newTestHandlers(newMockStore(), &mockFetcher{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /weather/{id}", h.GetWeatherRecord)

	req := httptest.NewRequest(http.MethodGet, "/weather/nope", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListWeatherRecords(t *testing.T) {
	ms := newMockStore()
	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("rec-%d", i)
		ms.records[id] = &store.WeatherRecord{ID: id, Location: "London", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
	}
	h := newTestHandlers(ms, &mockFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/weather?limit=2", nil)
	w := httptest.NewRecorder()
	h.ListWeatherRecords(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var records []store.WeatherRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "rec-4" {
		t.Errorf("first = %s, want rec-4 (newest first)", records[0].ID)
	}
}

func TestListWeatherRecords_Empty(t *testing.T) {
	h := newTestHandlers(newMockStore(), &mockFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	w := httptest.NewRecorder()
	h.ListWeatherRecords(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	// Empty list must serialize as [], not null.
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestSearchByLocation(t *testing.T) {
	ms := newMockStore()
	now := time.Now().UTC()
	ms.records["r1"] = &store.WeatherRecord{ID: "r1", Location: "Paris", CreatedAt: now}
	ms.records["r2"] = &store.WeatherRecord{ID: "r2", Location: "London", CreatedAt: now}
	h := newTestHandlers(ms, &mockFetcher{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /weather/location/{q}", h.SearchByLocation)

	req := httptest.NewRequest(http.MethodGet, "/weather/location/par", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var records []store.WeatherRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(records) != 1 || records[0].Location != "Paris" {
		t.Errorf("got %+v, want just Paris", records)
	}
}

func TestDashboardStats(t *testing.T) {
	ms := newMockStore()
	now := time.Now().UTC()
	ms.records["r1"] = &store.WeatherRecord{ID: "r1", Location: "Paris", Temperature: 10, CreatedAt: now}
	ms.records["r2"] = &store.WeatherRecord{ID: "r2", Location: "Paris", Temperature: 20, CreatedAt: now}
	h := newTestHandlers(ms, &mockFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/dashboard/stats", nil)
	w := httptest.NewRecorder()
	h.DashboardStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var stats store.DashboardStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.TotalRecords != 2 || stats.UniqueLocations != 1 {
		t.Errorf("got %+v", stats)
	}
	if stats.AverageTemperature != 15 {
		t.Errorf("avg = %v, want 15", stats.AverageTemperature)
	}
	if stats.MostCommonLocation != "Paris" {
		t.Errorf("most common = %q, want Paris", stats.MostCommonLocation)
	}
}

func TestIndex(t *testing.T) {
	h := newTestHandlers(newMockStore(), &mockFetcher{})
	h.Version = "1.2.3"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.Index(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Name      string            `json:"name"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Name != "wxdashd" || resp.Version != "1.2.3" {
		t.Errorf("got name=%q version=%q", resp.Name, resp.Version)
	}
	if len(resp.Endpoints) == 0 {
		t.Error("expected endpoint descriptions")
	}
}

func TestHealth(t *testing.T) {
	ms := newMockStore()
	now := time.Now().UTC()
	ms.records["r1"] = &store.WeatherRecord{ID: "r1", Location: "Paris", CreatedAt: now}
	h := newTestHandlers(ms, &mockFetcher{})
	h.StorageDriver = "sqlite"

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Status   string `json:"status"`
		Database struct {
			Driver       string `json:"driver"`
			Status       string `json:"status"`
			TotalRecords int    `json:"total_records"`
		} `json:"database"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Database.Driver != "sqlite" || resp.Database.TotalRecords != 1 {
		t.Errorf("database = %+v", resp.Database)
	}
}

func TestHealth_StatsError(t *testing.T) {
	ms := newMockStore()
	ms.statsErr = errors.New("db gone")
	h := newTestHandlers(ms, &mockFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Database struct {
			Status string `json:"status"`
		} `json:"database"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Database.Status != "error" {
		t.Errorf("database status = %q, want error", resp.Database.Status)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h 30m"},
		{25*time.Hour + 5*time.Minute, "1d 1h 5m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
