// Package feed is a client for the posts backend the mini-app fronts.
//
// Paging, filtering and reaction bookkeeping all happen server-side. Calls
// that act on behalf of the user read the identity from the session and are
// refused locally while the session is anonymous.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Wang-tianhao/iframe-identity-go/session"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response or a {success:false} envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("feed: backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("feed: backend returned %d: %s", e.StatusCode, e.Message)
}

// ErrEmptyContent rejects blank posts before they reach the backend.
var ErrEmptyContent = errors.New("feed: post content is empty")

// Client talks to the posts backend.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	identity session.Reader
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a client rooted at baseURL; identity gates user actions.
func NewClient(baseURL string, identity session.Reader, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("feed: parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("feed: base URL %q must be absolute", baseURL)
	}
	if identity == nil {
		return nil, errors.New("feed: identity reader is required")
	}

	c := &Client{
		baseURL:  u,
		http:     &http.Client{Timeout: defaultTimeout},
		identity: identity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListPosts returns a page of posts, optionally filtered to one author.
func (c *Client) ListPosts(ctx context.Context, params ListParams) (*PostsResponse, error) {
	var out PostsResponse
	if err := c.do(ctx, http.MethodGet, "/posts", params.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPost fetches one post. When the session is resolved, the response carries
// the user's own reaction.
func (c *Client) GetPost(ctx context.Context, id string) (*PostResponse, error) {
	q := url.Values{}
	if email := c.identity.Snapshot().Email; email != "" {
		q.Set("email", email)
	}

	var out PostResponse
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(id), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePost publishes content as the session's identity.
func (c *Client) CreatePost(ctx context.Context, content string) (*PostResponse, error) {
	id, err := c.identity.Require()
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	var out PostResponse
	body := CreatePostRequest{Email: id.Email, Content: content}
	if err := c.do(ctx, http.MethodPost, "/posts", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Like toggles a like: repeating it removes the like, and it replaces a dislike.
func (c *Client) Like(ctx context.Context, postID string) (*ReactionResponse, error) {
	return c.react(ctx, postID, Like)
}

// Dislike toggles a dislike.
func (c *Client) Dislike(ctx context.Context, postID string) (*ReactionResponse, error) {
	return c.react(ctx, postID, Dislike)
}

func (c *Client) react(ctx context.Context, postID string, reaction Reaction) (*ReactionResponse, error) {
	id, err := c.identity.Require()
	if err != nil {
		return nil, err
	}

	var out ReactionResponse
	path := "/posts/" + url.PathEscape(postID) + "/" + string(reaction)
	if err := c.do(ctx, http.MethodPost, path, nil, reactionRequest{Email: id.Email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyReactions lists the session user's reaction history.
func (c *Client) MyReactions(ctx context.Context, page, limit int) (*MyReactionsResponse, error) {
	id, err := c.identity.Require()
	if err != nil {
		return nil, err
	}

	var out MyReactionsResponse
	q := ListParams{Email: id.Email, Page: page, Limit: limit}.values()
	if err := c.do(ctx, http.MethodGet, "/posts/my-reactions", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostReactions returns the backend's reaction breakdown for a post verbatim.
func (c *Client) PostReactions(ctx context.Context, postID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/posts/"+url.PathEscape(postID)+"/reactions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p ListParams) values() url.Values {
	q := url.Values{}
	if p.Email != "" {
		q.Set("email", p.Email)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

type errorEnvelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("feed: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("feed: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("feed: read response: %w", err)
	}

	var envelope errorEnvelope
	_ = json.Unmarshal(raw, &envelope)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || (envelope.Success != nil && !*envelope.Success) {
		msg := envelope.Message
		if msg == "" {
			msg = envelope.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("feed: decode response: %w", err)
	}
	return nil
}
