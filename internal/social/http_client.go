package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tipbot/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout   = 15 * time.Second
	DefaultPageLimit = 100
)

// HTTPClient talks to the platform's v2 REST API with a single bearer-token
// session. Use one instance per identity: the fetch identity and the reply
// identity are separate resources with separate rate-limit budgets.
type HTTPClient struct {
	baseURL   string
	userID    string // account whose mentions are fetched
	token     string
	client    *http.Client
	pageLimit int
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithPageLimit sets the mentions page size (capped by the platform at 100).
func WithPageLimit(n int) ClientOption {
	return func(c *HTTPClient) {
		c.pageLimit = n
	}
}

// NewHTTPClient creates a new social API client for one authenticated identity.
func NewHTTPClient(baseURL, userID, bearerToken string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:   baseURL,
		userID:    userID,
		token:     bearerToken,
		client:    &http.Client{Timeout: DefaultTimeout},
		pageLimit: DefaultPageLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// mentionsResponse is the raw API payload for the mentions timeline.
type mentionsResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		AuthorID  string `json:"author_id"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

// apiError is the structured error payload returned on non-2xx statuses.
type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

// FetchMentions returns mentions newer than sinceID, ascending by numeric ID.
func (c *HTTPClient) FetchMentions(ctx context.Context, sinceID string) ([]*domain.Mention, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(c.pageLimit))
	q.Set("tweet.fields", "author_id,created_at")
	q.Set("expansions", "author_id")
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}

	endpoint := fmt.Sprintf("%s/2/users/%s/mentions?%s", c.baseURL, c.userID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchUnknown, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: FetchNetworkError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: FetchNetworkError, Err: fmt.Errorf("read response: %w", err)}
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var payload mentionsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Kind: FetchUnknown, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal mentions: %w", err)}
	}

	usernames := make(map[string]string, len(payload.Includes.Users))
	for _, u := range payload.Includes.Users {
		usernames[u.ID] = u.Username
	}

	mentions := make([]*domain.Mention, 0, len(payload.Data))
	for _, raw := range payload.Data {
		handle, ok := usernames[raw.AuthorID]
		if !ok {
			// Includes are occasionally incomplete; a mention with no
			// resolvable author can never be paid out, so it is dropped.
			continue
		}
		mentions = append(mentions, &domain.Mention{
			ID:            raw.ID,
			AuthorHandle:  handle,
			Text:          raw.Text,
			CreatedAt:     parseCreatedAt(raw.CreatedAt),
			ReplyTargetID: raw.ID,
		})
	}

	domain.SortMentions(mentions)
	return mentions, nil
}

// classifyStatus translates a non-2xx fetch status into a typed FetchError.
// Classification happens once, here, from status codes and the structured
// error payload.
func classifyStatus(status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	detail := apiErr.Detail
	if detail == "" {
		detail = string(body)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &FetchError{Kind: FetchRateLimited, StatusCode: status, Err: fmt.Errorf("%s", detail)}
	case status >= 500:
		// Upstream outages behave like transient network failures.
		return &FetchError{Kind: FetchNetworkError, StatusCode: status, Err: fmt.Errorf("%s", detail)}
	default:
		return &FetchError{Kind: FetchUnknown, StatusCode: status, Err: fmt.Errorf("%s", detail)}
	}
}

// parseCreatedAt converts the API's RFC3339 timestamp to Unix ms.
// Returns zero for missing or malformed values.
func parseCreatedAt(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// replyRequest is the request payload for posting a reply.
type replyRequest struct {
	Text  string `json:"text"`
	Reply struct {
		InReplyToID string `json:"in_reply_to_tweet_id"`
	} `json:"reply"`
}

// PostReply posts text as a reply to the given post ID.
func (c *HTTPClient) PostReply(ctx context.Context, targetID, text string) error {
	var payload replyRequest
	payload.Text = text
	payload.Reply.InReplyToID = targetID

	body, err := json.Marshal(payload)
	if err != nil {
		return &ReplyError{Err: fmt.Errorf("marshal reply: %w", err)}
	}

	endpoint := c.baseURL + "/2/tweets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &ReplyError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &ReplyError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		detail := apiErr.Detail
		if detail == "" {
			detail = string(respBody)
		}
		return &ReplyError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", detail)}
	}

	return nil
}
