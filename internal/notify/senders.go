package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPPushSender posts to the push delivery provider's send endpoint.
type HTTPPushSender struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func NewHTTPPushSender(endpoint, token string) *HTTPPushSender {
	return &HTTPPushSender{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *HTTPPushSender) Send(ctx context.Context, userID, title, body string) error {
	payload, err := json.Marshal(map[string]string{
		"user_id": userID,
		"title":   title,
		"body":    body,
	})
	if err != nil {
		return err
	}
	return postJSON(ctx, s.httpClient, s.endpoint, "Bearer "+s.token, payload)
}

// HTTPEmailSender posts to the transactional-email provider's send endpoint.
type HTTPEmailSender struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPEmailSender(endpoint, apiKey string) *HTTPEmailSender {
	return &HTTPEmailSender{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *HTTPEmailSender) Send(ctx context.Context, userID, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"user_id": userID,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return err
	}
	return postJSON(ctx, s.httpClient, s.endpoint, "Bearer "+s.apiKey, payload)
}

func postJSON(ctx context.Context, client *http.Client, endpoint, authorization string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification provider returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
