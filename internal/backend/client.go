// Package backend is the HTTP client for the remote record API that owns the
// client queue and the appointment calendar.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"concierge/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	queuePath        = "/api/client-queue"
	appointmentsPath = "/api/appointments"
	batchUpdatePath  = "/api/appointments/batch-update"

	cacheKeyQueue        = "concierge:cache:client_queue"
	cacheKeyAppointments = "concierge:cache:appointments"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client talks to the record API. The zero cache disables the last-known-good
// fallback for loads.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client
	logger     zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client with baseURL, API key and extra header.
func NewClient(baseURL, apiKey, apiExtra string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = models.DefaultRequestTimeout
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "backend_client").Logger()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: timeout},
		logger:     l,
	}
}

// UseRedisCache keeps the last successful load of each list in Redis and serves
// it when the live call fails.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

func (c *Client) FetchQueue(ctx context.Context) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := c.doGet(ctx, c.baseURL+queuePath, &entries); err != nil {
		if c.readCache(ctx, cacheKeyQueue, &entries) {
			c.logger.Warn().Err(err).Int("entries", len(entries)).Msg("client queue served from cache")
			return entries, nil
		}
		return nil, fmt.Errorf("fetch client queue: %w", err)
	}
	c.writeCache(ctx, cacheKeyQueue, entries)
	return entries, nil
}

// FetchAppointments loads the calendar. Backends that do not expose the
// endpoint yield models.ErrAppointmentsUnavailable.
func (c *Client) FetchAppointments(ctx context.Context) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := c.doGet(ctx, c.baseURL+appointmentsPath, &appts)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.Code == http.StatusNotFound || statusErr.Code == http.StatusNotImplemented) {
			return nil, fmt.Errorf("%w: %v", models.ErrAppointmentsUnavailable, err)
		}
		if c.readCache(ctx, cacheKeyAppointments, &appts) {
			c.logger.Warn().Err(err).Int("appointments", len(appts)).Msg("appointments served from cache")
			return appts, nil
		}
		return nil, fmt.Errorf("fetch appointments: %w", err)
	}
	c.writeCache(ctx, cacheKeyAppointments, appts)
	return appts, nil
}

// ApplyBatch posts the pending changes. An empty or non-JSON 2xx body counts as
// success with every change applied.
func (c *Client) ApplyBatch(ctx context.Context, req models.BatchUpdateRequest) (*models.BatchUpdateResponse, error) {
	var resp models.BatchUpdateResponse
	raw, err := c.doPost(ctx, c.baseURL+batchUpdatePath, req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &resp) != nil {
		return &models.BatchUpdateResponse{Applied: len(req.Changes)}, nil
	}
	return &resp, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method: req.Method,
			URL:    req.URL.Path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(raw)),
		}
	}
	return raw, nil
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
