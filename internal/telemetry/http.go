package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/geckobuddy/enclosure-controller/internal/faults"
)

// DefaultBaseURL is the Adafruit IO REST endpoint.
const DefaultBaseURL = "https://io.adafruit.com"

// HTTPClient talks to the feed service's REST API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	username   string
	apiKey     string
	keys       Keys
}

// NewHTTPClient creates a REST client. An empty baseURL uses DefaultBaseURL.
func NewHTTPClient(baseURL, username, apiKey string, keys Keys, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if keys == nil {
		keys = DefaultKeys()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		username:   username,
		apiKey:     apiKey,
		keys:       keys,
	}
}

func (c *HTTPClient) feedURL(feed Feed, suffix string) string {
	return fmt.Sprintf("%s/api/v2/%s/feeds/%s/data%s",
		c.baseURL, url.PathEscape(c.username), url.PathEscape(c.keys.Key(feed)), suffix)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-AIO-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Publish POSTs {"value": value} to the feed.
func (c *HTTPClient) Publish(ctx context.Context, feed Feed, value any) error {
	body, err := FormatPayload(value)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.feedURL(feed, ""), bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post %s: %v", faults.ErrNetwork, feed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: post %s: status %d: %s", faults.ErrNetwork, feed, resp.StatusCode, string(msg))
	}
	return nil
}

// lastValue is the subset of the data/last response we need.
type lastValue struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt string          `json:"created_at"`
}

// Fetch GETs the latest value of the feed.
func (c *HTTPClient) Fetch(ctx context.Context, feed Feed) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.feedURL(feed, "/last"), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", faults.ErrNetwork, feed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: get %s: status %d", faults.ErrNetwork, feed, resp.StatusCode)
	}

	var lv lastValue
	if err := json.NewDecoder(resp.Body).Decode(&lv); err != nil {
		return "", fmt.Errorf("decode %s: %w", feed, err)
	}
	if len(lv.Value) == 0 {
		return "", fmt.Errorf("feed %s has no value", feed)
	}
	var s string
	if err := json.Unmarshal(lv.Value, &s); err == nil {
		return s, nil
	}
	return string(lv.Value), nil
}

// Probe checks that the service answers at all. Any HTTP response counts as
// reachable; only transport failures are reported.
func (c *HTTPClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: probe %s: %v", faults.ErrNetwork, c.baseURL, err)
	}
	resp.Body.Close()
	return nil
}

// Close is a no-op for the REST transport.
func (c *HTTPClient) Close() error {
	return nil
}
