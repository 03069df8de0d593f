package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/heat-surveillance-etl/internal/domain"
	"github.com/couchcryptid/heat-surveillance-etl/internal/observability"
)

// Client implements domain.TemperatureSource using the Open-Meteo archive API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timezone   string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an archive client. Days are cut in the location's own
// timezone.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  baseURL,
		timezone: "auto",
		metrics:  metrics,
		logger:   logger,
	}
}

// DailyMaxTemperatures fetches temperature_2m_max for every day in [from, to].
// Days the archive reports without a value come back as faults, not as
// observations.
func (c *Client) DailyMaxTemperatures(ctx context.Context, lat, lon float64, from, to time.Time) ([]domain.DailyObservation, []domain.RecordError, error) {
	from, to = domain.CivilDate(from), domain.CivilDate(to)
	if to.Before(from) {
		return nil, nil, fmt.Errorf("invalid range %s to %s", domain.FormatDate(from), domain.FormatDate(to))
	}

	params := url.Values{
		"latitude":   {strconv.FormatFloat(lat, 'f', 4, 64)},
		"longitude":  {strconv.FormatFloat(lon, 'f', 4, 64)},
		"start_date": {domain.FormatDate(from)},
		"end_date":   {domain.FormatDate(to)},
		"daily":      {"temperature_2m_max"},
		"timezone":   {c.timezone},
	}

	start := time.Now()
	resp, err := c.doRequest(ctx, c.baseURL+"?"+params.Encode())
	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FetchRequests.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	obs, faults, err := resp.observations()
	if err != nil {
		c.metrics.FetchRequests.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	outcome := "success"
	if len(faults) > 0 {
		outcome = "partial"
		c.logger.Warn("archive returned days without temperature",
			"missing", len(faults), "from", domain.FormatDate(from), "to", domain.FormatDate(to))
	}
	c.metrics.FetchRequests.WithLabelValues(outcome).Inc()
	return obs, faults, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("archive request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
			return response{}, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, apiErr.Reason)
		}
		return response{}, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, body)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// Open-Meteo API response types.

type response struct {
	Daily daily `json:"daily"`
}

type daily struct {
	Time             []string   `json:"time"`
	Temperature2mMax []*float64 `json:"temperature_2m_max"` // null when the archive has no value
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func (r response) observations() ([]domain.DailyObservation, []domain.RecordError, error) {
	if len(r.Daily.Time) != len(r.Daily.Temperature2mMax) {
		return nil, nil, fmt.Errorf("decode response: %d dates but %d temperatures",
			len(r.Daily.Time), len(r.Daily.Temperature2mMax))
	}

	obs := make([]domain.DailyObservation, 0, len(r.Daily.Time))
	var faults []domain.RecordError
	for i, s := range r.Daily.Time {
		date, err := domain.ParseDate(s)
		if err != nil {
			return nil, nil, fmt.Errorf("decode response: %w", err)
		}
		v := r.Daily.Temperature2mMax[i]
		if v == nil {
			faults = append(faults, domain.RecordError{
				Date: date,
				Ref:  "open-meteo",
				Err:  fmt.Errorf("%w: no temperature_2m_max", domain.ErrMalformedInput),
			})
			continue
		}
		obs = append(obs, domain.DailyObservation{Date: date, TMax: *v})
	}
	return obs, faults, nil
}
