package aqi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aqimebaby/aqialert/pkg/model"
	"github.com/aqimebaby/aqialert/pkg/ratelimit"
)

// DefaultBaseURL is the World Air Quality Index feed API.
const DefaultBaseURL = "https://api.waqi.info"

// Feed status values reported in Reading.Status besides the provider's own.
const (
	StatusOK        = "ok"
	StatusTransport = "transport_error"
	StatusHTTP      = "http_error"
	StatusMalformed = "malformed"
	StatusNoData    = "no_data"
	StatusCancelled = "cancelled"
)

// maxBodyBytes bounds how much of a feed response is read.
const maxBodyBytes = 1 << 20

// ErrNoData is returned when a station reports no current index value.
var ErrNoData = errors.New("station reports no AQI value")

// Client queries the air-quality feed by coordinates. Every request first
// waits on the pacer, so consecutive requests are spaced regardless of how
// the previous one ended.
type Client struct {
	baseURL string
	token   string
	pacer   ratelimit.Pacer
	client  *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithBaseURL points the client at a different feed host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// NewClient creates a feed client that paces requests through pacer.
func NewClient(token string, pacer ratelimit.Pacer, timeout time.Duration, opts ...Option) *Client {
	if pacer == nil {
		pacer = ratelimit.Unlimited{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		pacer:   pacer,
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the current reading for a coordinate pair. Failures are
// reported in the Reading, never as a Go error.
func (c *Client) Fetch(ctx context.Context, lat, lng float64) model.Reading {
	if err := c.pacer.Wait(ctx); err != nil {
		return model.FailedReading(StatusCancelled, fmt.Errorf("wait for rate limit: %w", err))
	}

	endpoint := fmt.Sprintf("%s/feed/geo:%s;%s/?token=%s",
		c.baseURL,
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lng, 'f', -1, 64),
		url.QueryEscape(c.token),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.FailedReading(StatusTransport, fmt.Errorf("create feed request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.FailedReading(StatusTransport, fmt.Errorf("query feed: %w", c.redact(err)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return model.FailedReading(StatusTransport, fmt.Errorf("read feed response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return model.FailedReading(StatusHTTP, fmt.Errorf("feed returned status %d", resp.StatusCode))
	}

	return ParseFeed(body)
}

// ParseFeed decodes a feed response body into a Reading.
func ParseFeed(body []byte) model.Reading {
	var envelope feedResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return model.FailedReading(StatusMalformed, fmt.Errorf("decode feed response: %w", err))
	}

	if envelope.Status != StatusOK {
		status := envelope.Status
		if status == "" {
			status = StatusMalformed
		}
		var msg string
		_ = json.Unmarshal(envelope.Data, &msg)
		return model.FailedReading(status, fmt.Errorf("feed status %q: %s", envelope.Status, msg))
	}

	var data feedData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return model.FailedReading(StatusMalformed, fmt.Errorf("decode feed data: %w", err))
	}

	value, err := parseIndex(data.AQI)
	if err != nil {
		status := StatusMalformed
		if errors.Is(err, ErrNoData) {
			status = StatusNoData
		}
		return model.FailedReading(status, err)
	}

	return model.Reading{
		OK:        true,
		Status:    StatusOK,
		Value:     value,
		Station:   data.City.Name,
		FetchedAt: time.Now().UTC(),
	}
}

// parseIndex keeps fractional values as reported so a reading just past the
// level is not rounded back onto it.
func parseIndex(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0, fmt.Errorf("invalid aqi value %v", v)
		}
		return v, nil
	case string:
		if v == "" || v == "-" {
			return 0, ErrNoData
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
			return 0, fmt.Errorf("invalid aqi value %q", v)
		}
		return n, nil
	case nil:
		return 0, ErrNoData
	default:
		return 0, fmt.Errorf("unexpected aqi type %T", raw)
	}
}

func (c *Client) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && c.token != "" {
		uerr.URL = strings.ReplaceAll(uerr.URL, url.QueryEscape(c.token), "REDACTED")
	}
	return err
}

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI  any `json:"aqi"`
	City struct {
		Name string `json:"name"`
	} `json:"city"`
}
