package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crmsync/target-salesforce/internal/bootstrap"
	"github.com/crmsync/target-salesforce/internal/domain/schema"
	"github.com/crmsync/target-salesforce/pkg/errors"
)

// TokenProvider supplies bearer auth headers for outbound calls.
type TokenProvider interface {
	Headers(ctx context.Context) (map[string]string, error)
	Token(ctx context.Context) (string, error)
}

// maxAttempts caps the bounded exponential-backoff retry applied to
// transient (429/5xx/timeout) failures.
const maxAttempts = 5

var limitInfoPattern = regexp.MustCompile(`api-usage=(\d+)/(\d+)`)

// Client is the Salesforce REST client shared by all sinks of a run. It
// owns the schema cache; both are instance-scoped, never process-wide.
type Client struct {
	httpClient  *http.Client
	auth        TokenProvider
	instanceURL string
	apiVersion  string
	userAgent   string
	quotaLimit  int

	backoffBase time.Duration

	schemaMu sync.RWMutex
	schemas  map[string]*schema.Description

	// Serializes custom-field provisioning per object type; creating the
	// same field twice produces duplicates on the remote org.
	provMu sync.Mutex
}

// NewClient creates a Client from the connector config.
func NewClient(cfg *bootstrap.Config, auth TokenProvider) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 90 * time.Second},
		auth:        auth,
		instanceURL: strings.TrimRight(cfg.InstanceURL, "/"),
		apiVersion:  cfg.APIVersion,
		userAgent:   cfg.UserAgent,
		quotaLimit:  cfg.QuotaPercentTotal,
		backoffBase: time.Second,
		schemas:     make(map[string]*schema.Description),
	}
}

// SetBackoffBase overrides the retry backoff unit, used by tests.
func (c *Client) SetBackoffBase(d time.Duration) { c.backoffBase = d }

// Response is a decoded-enough HTTP response: status, headers, raw body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target interface{}) error {
	return json.Unmarshal(r.Body, target)
}

// RecordID extracts the "id" field from a JSON response body. A 204
// No-Content success has no body and yields an empty id.
func (r *Response) RecordID() string {
	if len(r.Body) == 0 {
		return ""
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return ""
	}
	return body.ID
}

// URL builds the versioned REST URL for an endpoint path.
func (c *Client) URL(endpoint string) string {
	return fmt.Sprintf("%s/services/data/v%s/%s", c.instanceURL, c.apiVersion, strings.TrimLeft(endpoint, "/"))
}

// Request issues one REST call with retry on transient errors and quota
// checking on every response. 429 and 5xx are retried with exponential
// backoff up to maxAttempts; other 4xx surface immediately as fatal.
func (c *Client) Request(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.backoffBase * time.Duration(1<<attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, method, endpoint, params, body)
		if err == nil {
			if qerr := c.checkLimits(resp); qerr != nil {
				return nil, qerr
			}
			return resp, nil
		}
		if !errors.IsRetriable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (*Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	fullURL := c.URL(endpoint)
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	authHeaders, err := c.auth.Headers(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range authHeaders {
		req.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		// Library-level timeouts are transient, same as a 5xx
		return nil, errors.NewRetriableAPIError(0, err.Error())
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.NewRetriableAPIError(httpResp.StatusCode, err.Error())
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}
	if err := c.validateResponse(resp, endpoint); err != nil {
		return nil, err
	}
	return resp, nil
}

// validateResponse classifies the remote error taxonomy: 429 and 5xx are
// retriable, remaining 4xx are fatal and carry the parsed remote error
// entries so callers can match on stable error codes.
func (c *Client) validateResponse(resp *Response, endpoint string) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		msg := fmt.Sprintf("%d Server Error for path: %s", resp.StatusCode, endpoint)
		return errors.NewRetriableAPIError(resp.StatusCode, msg)
	case resp.StatusCode >= 400:
		remote := parseRemoteErrors(resp.Body)
		msg := strings.TrimSpace(string(resp.Body))
		if msg == "" {
			msg = fmt.Sprintf("%d Client Error for path: %s", resp.StatusCode, endpoint)
		}
		return errors.NewFatalAPIError(resp.StatusCode, msg, remote)
	}
	return nil
}

func parseRemoteErrors(body []byte) []errors.RemoteError {
	var remote []errors.RemoteError
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil
	}
	return remote
}

// checkLimits inspects the Sforce-Limit-Info usage header and aborts the
// run when usage strictly exceeds the configured quota percentage.
func (c *Client) checkLimits(resp *Response) error {
	limitInfo := resp.Header.Get("Sforce-Limit-Info")
	if limitInfo == "" {
		return nil
	}
	match := limitInfoPattern.FindStringSubmatch(limitInfo)
	if match == nil {
		return nil
	}
	used, _ := strconv.Atoi(match[1])
	allotted, _ := strconv.Atoi(match[2])
	if allotted == 0 {
		return nil
	}

	log.Printf("Used %d of %d daily REST API quota", used, allotted)

	percentUsed := float64(used) / float64(allotted) * 100
	if percentUsed > float64(c.quotaLimit) {
		return errors.NewQuotaExceededError(used, allotted, c.quotaLimit)
	}
	return nil
}
