package banking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4096

// APIClient performs bank data API calls with a bounded timeout
type APIClient struct {
	http *http.Client
	log  *logrus.Logger
}

// NewAPIClient creates a client whose requests time out after timeout
func NewAPIClient(timeout time.Duration, log *logrus.Logger) *APIClient {
	return &APIClient{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// HTTPClient returns the underlying client, also used for OAuth calls
func (c *APIClient) HTTPClient() *http.Client {
	return c.http
}

// getJSON performs an authorized GET and decodes the response
func getJSON[T any](ctx context.Context, c *APIClient, rawURL, accessToken string, headers map[string]string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// sendForm posts form values, or sends an empty request when form is nil
func (c *APIClient) sendForm(ctx context.Context, method, rawURL, accessToken string, form url.Values) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *APIClient) do(req *http.Request, accessToken string) (*http.Response, error) {
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"method":     req.Method,
		"host":       req.URL.Host,
		"path":       req.URL.Path,
		"status":     resp.StatusCode,
		"request_id": requestID,
		"duration":   time.Since(start).String(),
	}).Debug("bank API call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body), RequestID: requestID}
	}
	return resp, nil
}
