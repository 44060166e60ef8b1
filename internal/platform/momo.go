package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MomoClient fetches raw transactions from the mobile-money API, keyed by
// the subscriber's phone number.
type MomoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewMomoClient(baseURL, apiKey string, timeout time.Duration) *MomoClient {
	return &MomoClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *MomoClient) ListTransactions(ctx context.Context, phoneHandle string, start, end time.Time) ([]MomoTransaction, error) {
	const op = "momo.ListTransactions"

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, NewError(KindInfrastructure, op, fmt.Errorf("invalid base URL %q: %w", c.baseURL, err))
	}
	endpoint := base.JoinPath("/v1/subscribers", phoneHandle, "transactions")
	q := endpoint.Query()
	q.Set("from", start.UTC().Format(time.RFC3339))
	q.Set("to", end.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, NewError(KindInfrastructure, op, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewError(KindTransient, op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, NewError(kindFromStatus(resp.StatusCode), op,
			fmt.Errorf("momo API returned %d: %s", resp.StatusCode, string(body)))
	}

	var payload struct {
		Transactions []MomoTransaction `json:"transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, NewError(KindTransient, op, fmt.Errorf("decode response: %w", err))
	}
	return payload.Transactions, nil
}
