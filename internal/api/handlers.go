package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wxdash/wxdashd/internal/hub"
	"github.com/wxdash/wxdashd/internal/provider"
	"github.com/wxdash/wxdashd/internal/store"
)

// WeatherFetcher is the provider surface the handlers depend on.
// Satisfied by *provider.Client; mocked in tests.
type WeatherFetcher interface {
	Fetch(ctx context.Context, location string) (provider.Conditions, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Store         store.Store
	Provider      WeatherFetcher
	Hub           *hub.Hub
	Logger        *slog.Logger
	StartTime     time.Time
	StorageDriver string
	Version       string
}

// apiError is a JSON error response.
type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg, Code: status})
}

// createRequest is the POST /weather body. Notes is optional; both an absent
// field and an explicit null normalize to the empty string.
type createRequest struct {
	Date     string `json:"date"`
	Location string `json:"location"`
	Notes    string `json:"notes"`
}

// recordNotification is the live-update message pushed to subscribers on
// every successful create.
type recordNotification struct {
	Type string           `json:"type"`
	Data notificationData `json:"data"`
}

type notificationData struct {
	ID          string  `json:"id"`
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
}

// CreateWeatherRecord handles POST /weather.
// Orchestration: validate, fetch conditions from the provider, persist,
// broadcast, return the full record. A provider failure short-circuits
// before anything is stored; a storage failure after a successful provider
// call is surfaced as a 500 with no compensating action.
func (h *Handlers) CreateWeatherRecord(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Date) == "" {
		writeError(w, http.StatusBadRequest, "'date' is required")
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		writeError(w, http.StatusBadRequest, "'location' is required")
		return
	}

	cond, err := h.Provider.Fetch(r.Context(), req.Location)
	if err != nil {
		var perr *provider.ProviderError
		switch {
		case errors.As(err, &perr):
			writeError(w, http.StatusBadRequest, perr.Error())
		case errors.Is(err, provider.ErrTimeout):
			writeError(w, http.StatusRequestTimeout, "weather provider request timed out")
		default:
			h.Logger.Error("provider fetch failed", "location", req.Location, "error", err)
			writeError(w, http.StatusInternalServerError, "weather provider request failed")
		}
		return
	}

	now := time.Now().UTC()
	rec := &store.WeatherRecord{
		ID:          uuid.New().String(),
		Date:        req.Date,
		Location:    req.Location,
		Notes:       req.Notes,
		Temperature: cond.Temperature,
		Description: cond.Description,
		Humidity:    cond.Humidity,
		WindSpeed:   cond.WindSpeed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.Store.Insert(r.Context(), rec); err != nil {
		h.Logger.Error("failed to insert weather record", "id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store weather record")
		return
	}

	h.notifySubscribers(rec)

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) notifySubscribers(rec *store.WeatherRecord) {
	if h.Hub == nil {
		return
	}
	msg, err := json.Marshal(recordNotification{
		Type: "new_weather_record",
		Data: notificationData{
			ID:          rec.ID,
			Location:    rec.Location,
			Temperature: rec.Temperature,
			Description: rec.Description,
		},
	})
	if err != nil {
		h.Logger.Error("failed to marshal notification", "id", rec.ID, "error", err)
		return
	}
	h.Hub.Broadcast(msg)
}

// GetWeatherRecord handles GET /weather/{id}
func (h *Handlers) GetWeatherRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get weather record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "weather record not found")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListWeatherRecords handles GET /weather
func (h *Handlers) ListWeatherRecords(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	records, err := h.Store.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list weather records")
		return
	}
	if records == nil {
		records = []store.WeatherRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// SearchByLocation handles GET /weather/location/{q}
func (h *Handlers) SearchByLocation(w http.ResponseWriter, r *http.Request) {
	q := r.PathValue("q")

	records, err := h.Store.SearchByLocation(r.Context(), q, store.DefaultSearchLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to search weather records")
		return
	}
	if records == nil {
		records = []store.WeatherRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// DashboardStats handles GET /dashboard/stats
func (h *Handlers) DashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Index handles GET /
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	type indexResponse struct {
		Name      string            `json:"name"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}

	writeJSON(w, http.StatusOK, indexResponse{
		Name:    "wxdashd",
		Version: h.Version,
		Endpoints: map[string]string{
			"POST /weather":             "create a weather record from {date, location, notes?}",
			"GET /weather/{id}":         "fetch a weather record by id",
			"GET /weather?limit=":       "list recent records, newest first",
			"GET /weather/location/{q}": "substring search on location, newest first",
			"GET /dashboard/stats":      "aggregate statistics",
			"GET /ws":                   "live updates for newly created records",
			"GET /healthz":              "service health",
		},
	})
}

// Health handles GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type dbHealth struct {
		Driver       string `json:"driver"`
		Status       string `json:"status"`
		TotalRecords int    `json:"total_records"`
	}
	type healthResponse struct {
		Status      string   `json:"status"`
		Version     string   `json:"version"`
		Uptime      string   `json:"uptime"`
		Subscribers int      `json:"subscribers"`
		Database    dbHealth `json:"database"`
	}

	resp := healthResponse{
		Status:  "healthy",
		Version: h.Version,
		Uptime:  formatUptime(time.Since(h.StartTime)),
		Database: dbHealth{
			Driver: h.StorageDriver,
			Status: "ok",
		},
	}
	if h.Hub != nil {
		resp.Subscribers = h.Hub.Len()
	}

	if stats, err := h.Store.Stats(r.Context()); err == nil {
		resp.Database.TotalRecords = stats.TotalRecords
	} else {
		resp.Database.Status = "error"
	}

	writeJSON(w, http.StatusOK, resp)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return strconv.Itoa(days) + "d " + strconv.Itoa(hours) + "h " + strconv.Itoa(minutes) + "m"
	}
	if hours > 0 {
		return strconv.Itoa(hours) + "h " + strconv.Itoa(minutes) + "m"
	}
	return strconv.Itoa(minutes) + "m"
}
