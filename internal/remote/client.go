// Package remote implements feed.Source over the wall HTTP API.
package remote

import (
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

	"github.com/matheus3301/wallwatch/internal/feed"
	"go.uber.org/zap"
)

// CodeCaptchaNeeded is the API error code of a verification challenge.
const CodeCaptchaNeeded = "captcha_needed"

// Config holds the API endpoint and credentials.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client fetches wall pages over HTTP.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New creates a client for cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type wireAttachment struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
}

type wireItem struct {
	ID          int64            `json:"id"`
	WallID      int64            `json:"wall_id"`
	Date        int64            `json:"date"`
	Type        string           `json:"type"`
	Text        string           `json:"text"`
	Attachments []wireAttachment `json:"attachments"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wirePage struct {
	Items []wireItem  `json:"items"`
	Error *wireError `json:"error"`
}

// FetchPage implements feed.Source.
func (c *Client) FetchPage(ctx context.Context, wallID int64, filter feed.Filter, offset, count int) ([]feed.Item, error) {
	u := c.base.JoinPath("walls", strconv.FormatInt(wallID, 10), "posts")
	q := url.Values{}
	q.Set("filter", string(filter))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, feed.Fatal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, feed.Transient(fmt.Errorf("get %s: %w", u.Path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, feed.Transient(fmt.Errorf("read body: %w", err))
	}

	var page wirePage
	decodeErr := json.Unmarshal(body, &page)

	if page.Error != nil {
		return nil, classify(resp.StatusCode, page.Error)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, feed.Fatal(fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, feed.APIError(fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, feed.APIError(fmt.Errorf("unexpected http %d", resp.StatusCode))
	case decodeErr != nil:
		return nil, feed.Fatal(fmt.Errorf("decode page: %w", decodeErr))
	}

	items := make([]feed.Item, 0, len(page.Items))
	for _, w := range page.Items {
		items = append(items, w.toItem(wallID, filter))
	}
	c.logger.Debug("page fetched",
		zap.Int64("wall_id", wallID),
		zap.String("filter", string(filter)),
		zap.Int("offset", offset),
		zap.Int("items", len(items)))
	return items, nil
}

func classify(status int, e *wireError) error {
	err := fmt.Errorf("api error %q: %s", e.Code, e.Message)
	switch {
	case e.Code == CodeCaptchaNeeded:
		return feed.Challenge(err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return feed.Fatal(err)
	default:
		return feed.APIError(err)
	}
}

func (w wireItem) toItem(wallID int64, filter feed.Filter) feed.Item {
	it := feed.Item{
		ID:        w.ID,
		WallID:    w.WallID,
		Timestamp: time.Unix(w.Date, 0).UTC(),
		Category:  category(w.Type, filter),
		Text:      w.Text,
	}
	if it.WallID == 0 {
		it.WallID = wallID
	}
	for _, a := range w.Attachments {
		it.Attachments = append(it.Attachments, feed.Attachment{Type: a.Type, Ref: a.Ref})
	}
	return it
}

func category(kind string, filter feed.Filter) feed.Category {
	switch kind {
	case "post":
		return feed.Published
	case "copy":
		return feed.Copy
	case "reply":
		return feed.Reply
	case "postpone":
		return feed.Postponed
	case "suggest":
		return feed.Suggested
	}
	switch filter {
	case feed.FilterPostponed:
		return feed.Postponed
	case feed.FilterSuggested:
		return feed.Suggested
	default:
		return feed.Published
	}
}
