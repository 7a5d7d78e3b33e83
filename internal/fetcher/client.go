package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"trimet-pipeline/internal/stopevent"
)

// ErrNoData marks a source that produced nothing usable: a non-200 answer or
// a body that is not in the expected shape.
var ErrNoData = errors.New("no data for source")

const userAgent = "Mozilla/5.0 (compatible; trimet-pipeline)"

type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

func (c *Client) get(ctx context.Context, base, param, vid string) ([]byte, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", base, err)
	}
	q := u.Query()
	q.Set(param, vid)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrNoData, resp.StatusCode)
	}
	return body, nil
}

// Breadcrumbs returns the raw JSON records for one vehicle, untouched.
func (c *Client) Breadcrumbs(ctx context.Context, base, vid string) ([]json.RawMessage, error) {
	body, err := c.get(ctx, base, "vehicle_id", vid)
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}
	return records, nil
}

// StopEvents fetches the HTML stop-event page for one vehicle.
func (c *Client) StopEvents(ctx context.Context, base, vid string) ([]stopevent.Raw, error) {
	body, err := c.get(ctx, base, "vehicle_num", vid)
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(body, []byte("<table")) {
		return nil, fmt.Errorf("%w: no table", ErrNoData)
	}
	return stopevent.ParseHTMLTable(bytes.NewReader(body))
}
