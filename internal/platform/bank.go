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

// BankClient fetches raw transactions from the bank-aggregation API.
// Stateless per call; one instance is shared by all bank sync workers.
type BankClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewBankClient(baseURL, token string, timeout time.Duration) *BankClient {
	return &BankClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *BankClient) ListTransactions(ctx context.Context, accountHandle string, start, end time.Time) ([]BankTransaction, error) {
	const op = "bank.ListTransactions"

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, NewError(KindInfrastructure, op, fmt.Errorf("invalid base URL %q: %w", c.baseURL, err))
	}
	endpoint := base.JoinPath("/v1/accounts", accountHandle, "transactions")
	q := endpoint.Query()
	q.Set("from", start.UTC().Format(time.RFC3339))
	q.Set("to", end.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, NewError(KindInfrastructure, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
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
			fmt.Errorf("bank API returned %d: %s", resp.StatusCode, string(body)))
	}

	var payload struct {
		Transactions []BankTransaction `json:"transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, NewError(KindTransient, op, fmt.Errorf("decode response: %w", err))
	}
	return payload.Transactions, nil
}
