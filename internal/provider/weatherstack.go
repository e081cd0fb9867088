// Package provider integrates with the weatherstack current-conditions API.
// It issues one outbound request per lookup, bounded by a timeout, and maps
// provider responses and failures into a small error taxonomy the API layer
// can translate into status codes.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the weatherstack current-conditions endpoint.
const DefaultBaseURL = "http://api.weatherstack.com/current"

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is returned when the provider does not answer within the
// configured timeout.
var ErrTimeout = errors.New("weather provider request timed out")

// ProviderError is a business error reported by the provider itself
// (e.g. unknown location, invalid access key). The API layer maps it to 400.
type ProviderError struct {
	Code int
	Type string
	Info string
}

func (e *ProviderError) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("weather provider error: %s", e.Info)
	}
	return fmt.Sprintf("weather provider error: %s (code %d)", e.Type, e.Code)
}

// Conditions is the normalized subset of the provider response consumed by
// this service.
type Conditions struct {
	Temperature float64
	Description string
	Humidity    float64
	WindSpeed   float64
}

// Config holds client construction parameters. APIKey is required; the
// zero value of every other field selects a sensible default.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client fetches current conditions from weatherstack.
type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	http    *http.Client
	circuit *gobreaker.CircuitBreaker
}

// NewClient creates a weatherstack client with a circuit breaker around the
// outbound call. The breaker trips after repeated transport failures so a
// dead provider fails fast instead of tying up request handlers.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weatherstack",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		circuit: cb,
	}
}

// weatherstack returns HTTP 200 even for business errors; failure is
// signalled by a top-level "error" object instead of the status code.
type currentResponse struct {
	Error *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
	Current struct {
		Temperature         float64  `json:"temperature"`
		WeatherDescriptions []string `json:"weather_descriptions"`
		Humidity            float64  `json:"humidity"`
		WindSpeed           float64  `json:"wind_speed"`
	} `json:"current"`
}

// Fetch looks up current conditions for the given location query.
// Error mapping: provider error payload -> *ProviderError, deadline
// exceeded -> ErrTimeout, anything else -> a wrapped descriptive error.
func (c *Client) Fetch(ctx context.Context, location string) (Conditions, error) {
	if c.apiKey == "" {
		return Conditions{}, fmt.Errorf("weatherstack api key is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	values := url.Values{}
	values.Set("access_key", c.apiKey)
	values.Set("query", location)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return Conditions{}, fmt.Errorf("building provider request: %w", err)
	}

	result, err := c.circuit.Execute(func() (any, error) {
		resp, doErr := c.http.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected provider status: %d", resp.StatusCode)
		}

		var payload currentResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&payload); decErr != nil {
			return nil, fmt.Errorf("decoding provider response: %w", decErr)
		}
		return &payload, nil
	})
	if err != nil {
		if isTimeout(err) {
			return Conditions{}, fmt.Errorf("fetching conditions for %q: %w", location, ErrTimeout)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Conditions{}, fmt.Errorf("weather provider unavailable: %w", err)
		}
		return Conditions{}, fmt.Errorf("fetching conditions for %q: %w", location, err)
	}

	payload := result.(*currentResponse)
	if payload.Error != nil {
		return Conditions{}, &ProviderError{
			Code: payload.Error.Code,
			Type: payload.Error.Type,
			Info: payload.Error.Info,
		}
	}

	// A success payload with no descriptions is malformed; surface it as an
	// unexpected error rather than storing an empty description.
	if len(payload.Current.WeatherDescriptions) == 0 {
		return Conditions{}, fmt.Errorf("provider returned no weather descriptions for %q", location)
	}

	return Conditions{
		Temperature: payload.Current.Temperature,
		Description: payload.Current.WeatherDescriptions[0],
		Humidity:    payload.Current.Humidity,
		WindSpeed:   payload.Current.WindSpeed,
	}, nil
}

// isTimeout reports whether err stems from the request deadline rather than
// some other transport failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
