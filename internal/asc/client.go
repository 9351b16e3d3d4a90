// Package asc is the HTTP client for the App Store Connect API subset
// used by ascsync: app lookup, TestFlight crash and screenshot feedback
// submission listings, and their attachments.
//
// Listings are JSON:API documents paginated through links.next. The
// client follows pages lazily, retries transient failures (network
// errors, 429, 5xx) with bounded exponential backoff, and surfaces
// everything else as an *APIError.
package asc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.appstoreconnect.apple.com"

const (
	maxAttempts = 5
	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 8 * time.Second
	pageLimit   = 200
)

// ErrAppNotFound is returned when a bundle id has no matching app visible
// to the API key.
var ErrAppNotFound = errors.New("app not found")

// errSignToken marks a failure to obtain a request token. Credential
// failures affect every request equally, so they are never retried.
var errSignToken = errors.New("sign request token")

// APIError is a non-retryable API failure: a 4xx other than 429, or a
// retryable status that outlived the attempt budget.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Detail)
}

// TokenSource supplies a bearer token per request.
type TokenSource interface {
	Token() (string, error)
}

// Config carries optional Client settings.
type Config struct {
	// BaseURL overrides the production API host (used by tests).
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	// Logger receives request-level debug logs. Nil disables them.
	Logger *slog.Logger
}

// Client calls the App Store Connect API. Safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	tokens  TokenSource
	logger  *slog.Logger
}

// New creates a Client authenticating with the given token source.
func New(tokens TokenSource, cfg Config) *Client {
	c := &Client{
		http:    cfg.HTTPClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  tokens,
		logger:  cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// ListApps returns the apps visible to the API key.
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	var out appsResponse
	u := c.baseURL + "/v1/apps?fields[apps]=name,bundleId"
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// FindApp looks up one app by bundle id. Returns ErrAppNotFound when the
// key cannot see a matching app.
func (c *Client) FindApp(ctx context.Context, bundleID string) (*App, error) {
	var out appsResponse
	u := c.baseURL + "/v1/apps?filter[bundleId]=" + url.QueryEscape(bundleID) +
		"&fields[apps]=name,bundleId"
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, bundleID)
	}
	return &out.Data[0], nil
}

// CrashListURL builds the first-page URL for an app's crash submissions.
func (c *Client) CrashListURL(appID string) string {
	return c.baseURL + "/v1/apps/" + appID + "/betaFeedbackCrashSubmissions" +
		"?fields[betaFeedbackCrashSubmissions]=createdDate,comment,email,deviceModel," +
		"osVersion,locale,timeZone,architecture,connectionType,appUptimeInMilliseconds," +
		"batteryPercentage,appPlatform,devicePlatform,deviceFamily,buildBundleId" +
		"&sort=-createdDate&limit=" + strconv.Itoa(pageLimit)
}

// FeedbackListURL builds the first-page URL for an app's screenshot
// feedback submissions.
func (c *Client) FeedbackListURL(appID string) string {
	return c.baseURL + "/v1/apps/" + appID + "/betaFeedbackScreenshotSubmissions" +
		"?fields[betaFeedbackScreenshotSubmissions]=createdDate,comment,email,deviceModel," +
		"osVersion,locale,timeZone,connectionType,batteryPercentage,appPlatform," +
		"devicePlatform,deviceFamily,buildBundleId" +
		"&sort=-createdDate&limit=" + strconv.Itoa(pageLimit)
}

// Pages walks a paginated submission listing starting at startURL,
// invoking fn once per page. fn returns false to stop early. Pages
// returns the URL of the first unvisited page, or "" when the listing
// was exhausted or stopped by fn, so a caller can persist it as a
// resume cursor. A missing or unparseable next link ends the sequence.
func (c *Client) Pages(ctx context.Context, startURL string, fn func(*SubmissionPage) (bool, error)) (string, error) {
	next := startURL
	for next != "" {
		var page SubmissionPage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return next, err
		}
		if err := page.validate(); err != nil {
			return next, fmt.Errorf("malformed page at %s: %w", next, err)
		}

		cont, err := fn(&page)
		if err != nil {
			return next, err
		}
		if !cont {
			return "", nil
		}

		next = page.Links.Next
		if next != "" {
			if _, err := url.ParseRequestURI(next); err != nil {
				c.logger.Warn("ignoring invalid next-page link", "link", next)
				next = ""
			}
		}
	}
	return "", nil
}

// CrashLog downloads the crash log text for a submission.
// ok is false when the log is not (or no longer) available.
func (c *Client) CrashLog(ctx context.Context, submissionID string) (text string, ok bool, err error) {
	u := c.baseURL + "/v1/betaFeedbackCrashSubmissions/" + submissionID +
		"/crashLog?fields[betaCrashLogs]=logText"

	body, _, found, err := c.getRaw(ctx, u)
	if err != nil || !found {
		return "", false, err
	}

	var out crashLogResponse
	if err := decodeJSON(body, &out); err != nil {
		return "", false, fmt.Errorf("parse crash log response: %w", err)
	}
	if out.Data.Attributes.LogText == "" {
		return "", false, nil
	}
	return out.Data.Attributes.LogText, true, nil
}

// Screenshot downloads the screenshot or video bytes for a feedback
// submission along with their MIME type. ok is false when the attachment
// is not (or no longer) available.
func (c *Client) Screenshot(ctx context.Context, submissionID string) (data []byte, mimeType string, ok bool, err error) {
	u := c.baseURL + "/v1/betaFeedbackScreenshotSubmissions/" + submissionID + "/screenshotImage"

	body, contentType, found, err := c.getRaw(ctx, u)
	if err != nil || !found {
		return nil, "", false, err
	}
	if len(body) == 0 {
		return nil, "", false, nil
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return body, strings.TrimSpace(contentType), true, nil
}

// getJSON performs an authenticated GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	body, _, found, err := c.getRaw(ctx, url)
	if err != nil {
		return err
	}
	if !found {
		return &APIError{StatusCode: http.StatusNotFound}
	}
	if err := decodeJSON(body, out); err != nil {
		return fmt.Errorf("parse response from %s: %w", url, err)
	}
	return nil
}

// getRaw performs an authenticated GET with retry. found is false on 404,
// which attachment endpoints treat as "not available yet" rather than an
// error.
func (c *Client) getRaw(ctx context.Context, url string) (body []byte, contentType string, found bool, err error) {
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff(attempt, wait)); err != nil {
				return nil, "", false, err
			}
		}

		resp, err := c.doGet(ctx, url)
		if err != nil {
			if errors.Is(err, errSignToken) {
				return nil, "", false, err
			}
			// Transport-level failure: retryable.
			c.logger.Debug("request failed", "url", url, "attempt", attempt+1, "error", err)
			lastErr = err
			wait = 0
			continue
		}

		switch {
		case resp.status >= 200 && resp.status < 300:
			return resp.body, resp.contentType, true, nil
		case resp.status == http.StatusNotFound:
			return nil, "", false, nil
		case resp.status == http.StatusTooManyRequests || resp.status >= 500:
			c.logger.Debug("retryable status", "url", url, "status", resp.status, "attempt", attempt+1)
			lastErr = &APIError{StatusCode: resp.status, Detail: decodeErrorDocument(resp.body)}
			wait = resp.retryAfter
			continue
		default:
			return nil, "", false, &APIError{StatusCode: resp.status, Detail: decodeErrorDocument(resp.body)}
		}
	}

	var apiErr *APIError
	if errors.As(lastErr, &apiErr) {
		return nil, "", false, lastErr
	}
	return nil, "", false, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

type response struct {
	body        []byte
	contentType string
	retryAfter  time.Duration
	status      int
}

func (c *Client) doGet(ctx context.Context, url string) (*response, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errSignToken, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var retryAfter time.Duration
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	return &response{
		body:        body,
		contentType: resp.Header.Get("Content-Type"),
		retryAfter:  retryAfter,
		status:      resp.StatusCode,
	}, nil
}

// backoff returns the delay before the given (1-based) retry attempt,
// preferring a server-provided Retry-After hint.
func backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > maxBackoff {
			return maxBackoff
		}
		return retryAfter
	}
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func decodeJSON(body []byte, out any) error {
	return json.Unmarshal(body, out)
}
