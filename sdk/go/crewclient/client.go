package crewclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is used by Wait when no interval is given.
const DefaultPollInterval = 2 * time.Second

// Client wraps the HTTP interactions with the ContentCrew REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Submission is the payload required to start a new kickoff.
type Submission struct {
	ID     string            `json:"id,omitempty"`
	Crew   string            `json:"crew,omitempty"`
	Inputs map[string]string `json:"inputs"`
}

// TaskResult is the output of one task in a finished kickoff.
type TaskResult struct {
	Name  string `json:"name"`
	Agent string `json:"agent"`
	Raw   string `json:"raw"`
}

// Result is the final output of a kickoff.
type Result struct {
	Raw              string       `json:"raw"`
	Tasks            []TaskResult `json:"tasks,omitempty"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	TotalTokens      int          `json:"total_tokens"`
}

// Kickoff describes an asynchronous crew run.
type Kickoff struct {
	ID         string            `json:"id"`
	Crew       string            `json:"crew"`
	Inputs     map[string]string `json:"inputs"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Result     *Result           `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
	Finished   bool              `json:"finished"`
}

// Succeeded reports whether the kickoff produced a result.
func (k Kickoff) Succeeded() bool {
	return k.Status == "succeeded"
}

// Stats aggregates kickoffs by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListOptions filters List and Stats calls. Zero values are omitted.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Crew      string
	Query     string
	HasResult *bool
	Ascending bool
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(o.Statuses) > 0 {
		v.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.Crew != "" {
		v.Set("crew", o.Crew)
	}
	if o.Query != "" {
		v.Set("q", o.Query)
	}
	if o.HasResult != nil {
		v.Set("has_result", strconv.FormatBool(*o.HasResult))
	}
	if o.Ascending {
		v.Set("order", "asc")
	}
	return v
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("contentcrew api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("contentcrew api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the ContentCrew API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Submit starts a kickoff. Resubmitting with the same ID returns the
// existing kickoff.
func (c *Client) Submit(ctx context.Context, submission Submission) (Kickoff, error) {
	var kickoff Kickoff
	if err := c.post(ctx, "/api/v1/kickoffs", submission, &kickoff); err != nil {
		return Kickoff{}, err
	}
	return kickoff, nil
}

// Get fetches a kickoff by identifier.
func (c *Client) Get(ctx context.Context, id string) (Kickoff, error) {
	var kickoff Kickoff
	if err := c.get(ctx, "/api/v1/kickoffs/"+url.PathEscape(id), nil, &kickoff); err != nil {
		return Kickoff{}, err
	}
	return kickoff, nil
}

// List returns kickoffs matching opts.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Kickoff, error) {
	var body struct {
		Kickoffs []Kickoff `json:"kickoffs"`
	}
	if err := c.get(ctx, "/api/v1/kickoffs", opts.values(), &body); err != nil {
		return nil, err
	}
	return body.Kickoffs, nil
}

// Stats returns aggregated counts for kickoffs matching opts.
func (c *Client) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/kickoffs/stats", opts.values(), &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Wait polls until the kickoff is finished or ctx is done.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (Kickoff, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		kickoff, err := c.Get(ctx, id)
		if err != nil {
			return Kickoff{}, err
		}
		if kickoff.Finished {
			return kickoff, nil
		}
		select {
		case <-ctx.Done():
			return kickoff, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
