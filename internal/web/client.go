// Package web wraps all HTTP traffic against the platform: per-host rate
// limits, session expiry detection and recovery, inventory fetching, API key
// management and trade offer submission.
package web

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/cacheable"
	"github.com/ramonehamilton/Trade-Companion/internal/limiter"
)

// Primary platform hosts.
const (
	HostCommunity = "steamcommunity.com"
	HostStore     = "store.steampowered.com"
	HostHelp      = "help.steampowered.com"
	HostWebAPI    = "api.steampowered.com"

	// hostFallback is where the platform parks requests whose session died
	// mid-redirect.
	hostFallback = "lostauth"
)

// DefaultMaxTries bounds attempts per logical request, including retries
// after session refresh and profile-redirect anomalies.
const DefaultMaxTries = 5

// DefaultTimeout is the per-request timeout when none is configured.
const DefaultTimeout = 60 * time.Second

// SessionMode selects the form field name carrying the session id on a POST.
type SessionMode byte

const (
	SessionNone SessionMode = iota
	SessionLowercase
	SessionCamelCase
	SessionPascalCase
)

func (m SessionMode) fieldName() string {
	switch m {
	case SessionCamelCase:
		return "sessionID"
	case SessionPascalCase:
		return "SessionID"
	default:
		return "sessionid"
	}
}

// AccountHandle is the web client's non-owning view of the account that owns
// it. It is used for callbacks only, never for lifecycle.
type AccountHandle interface {
	SteamID() uint64
	IsConnected() bool
	IsLoggedOn() bool

	// IsLimited reports whether the account is restricted from registering
	// an API key.
	IsLimited() bool

	// RefreshSession renegotiates session tokens with the platform and
	// replants them through InitSession. It reports success.
	RefreshSession(ctx context.Context) bool
}

// Options configures a Client.
type Options struct {
	// Timeout applies per request. Default: DefaultTimeout.
	Timeout time.Duration

	// Proxy routes all platform traffic when set.
	Proxy *url.URL

	// Transport overrides the HTTP transport entirely. Proxy is ignored
	// when set.
	Transport http.RoundTripper

	// Limiter paces requests per host. Required.
	Limiter *limiter.Limiter

	// InventorySemaphore serialises inventory fetches process-wide.
	// Required; share one channel of capacity 1 across all accounts.
	InventorySemaphore chan struct{}

	// InventoryDelay holds the inventory semaphore for this long after each
	// fetch completes.
	InventoryDelay time.Duration

	Logger *slog.Logger
}

// Client is the session-aware HTTP client for one account.
type Client struct {
	account AccountHandle
	http    *http.Client
	jar     *cookiejar.Jar
	limiter *limiter.Limiter
	logger  *slog.Logger
	timeout time.Duration

	session sessionState

	apiKey *cacheable.Cacheable[string]

	inventorySem   chan struct{}
	inventoryDelay time.Duration
}

// NewClient creates a web client for account.
func NewClient(account AccountHandle, options Options) (*Client, error) {
	if account == nil {
		return nil, fmt.Errorf("account is required")
	}
	if options.Limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if options.InventorySemaphore == nil {
		return nil, fmt.Errorf("inventory semaphore is required")
	}
	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := options.Transport
	if transport == nil {
		defaultTransport := http.DefaultTransport.(*http.Transport).Clone()
		if options.Proxy != nil {
			defaultTransport.Proxy = http.ProxyURL(options.Proxy)
		}
		transport = defaultTransport
	}

	c := &Client{
		account: account,
		http: &http.Client{
			Jar:       jar,
			Timeout:   options.Timeout,
			Transport: transport,
		},
		jar:            jar,
		limiter:        options.Limiter,
		logger:         options.Logger,
		timeout:        options.Timeout,
		inventorySem:   options.InventorySemaphore,
		inventoryDelay: options.InventoryDelay,
	}
	c.apiKey = cacheable.New(0, c.resolveAPIKey)
	return c, nil
}

// Request describes one logical request against a platform host.
type Request struct {
	Host  string
	Path  string
	Query url.Values
	Form  url.Values

	// Session attaches the sessionid cookie value as a form field on POSTs.
	Session SessionMode

	// Referer is sent when non-empty.
	Referer string

	// MaxTries overrides DefaultMaxTries when positive.
	MaxTries int

	// SkipSessionCheck suppresses the preemptive session probe. Used by the
	// probe itself and by endpoints that run before a session exists.
	SkipSessionCheck bool
}

// Response is a decoded-on-demand response body.
type Response struct {
	StatusCode int
	FinalURL   *url.URL
	Body       []byte
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// XML unmarshals the body into v.
func (r *Response) XML(v any) error {
	if err := xml.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse XML response: %w", err)
	}
	return nil
}

// HTML returns the body as a string.
func (r *Response) HTML() string {
	return string(r.Body)
}

// OK reports a non-4xx, non-5xx status.
func (r *Response) OK() bool {
	return r.StatusCode < http.StatusBadRequest
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	return c.execute(ctx, http.MethodGet, req)
}

// Head performs a HEAD request.
func (c *Client) Head(ctx context.Context, req Request) (*Response, error) {
	return c.execute(ctx, http.MethodHead, req)
}

// Post performs a form POST, attaching the session id field per req.Session.
func (c *Client) Post(ctx context.Context, req Request) (*Response, error) {
	return c.execute(ctx, http.MethodPost, req)
}

// execute runs the request with session checking, rate limiting and the
// anomaly retry loop.
func (c *Client) execute(ctx context.Context, method string, req Request) (*Response, error) {
	if req.Host == "" || req.Path == "" {
		c.logger.Error("please report: request without host or path", "method", method)
		return nil, fmt.Errorf("host and path are required")
	}

	tries := req.MaxTries
	if tries <= 0 {
		tries = DefaultMaxTries
	}

	var lastErr error
	for tries > 0 {
		tries--

		if !req.SkipSessionCheck {
			if err := c.ensureSession(ctx); err != nil {
				lastErr = err
				continue
			}
		}

		form := req.Form
		if method == http.MethodPost && req.Session != SessionNone {
			sessionID := c.cookieValue(req.Host, "sessionid")
			if sessionID == "" {
				return nil, fmt.Errorf("no session cookie for %s", req.Host)
			}
			form = cloneValues(req.Form)
			form.Set(req.Session.fieldName(), sessionID)
		}

		resp, err := c.send(ctx, method, req, form)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		switch {
		case isSessionExpiredURL(resp.FinalURL):
			c.logger.Debug("session expired mid-request, refreshing",
				"host", req.Host, "path", req.Path, "triesLeft", tries)
			lastErr = errSessionExpired
			c.refreshSession(ctx)
		case c.isOwnProfileRedirect(req, resp.FinalURL):
			// Known upstream misbehaviour: random bounce to our own profile.
			// Retrying without a refresh is enough.
			c.logger.Debug("profile redirect anomaly, retrying",
				"host", req.Host, "path", req.Path, "triesLeft", tries)
			lastErr = errProfileRedirect
		default:
			return resp, nil
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("request failed")
	}
	return nil, fmt.Errorf("%s %s%s failed after retries: %w", method, req.Host, req.Path, lastErr)
}

// send performs one HTTP round trip under the rate limiter.
func (c *Client) send(ctx context.Context, method string, req Request, form url.Values) (*Response, error) {
	release, err := c.limiter.Acquire(ctx, req.Host)
	if err != nil {
		return nil, err
	}
	defer release()

	target := url.URL{Scheme: "https", Host: req.Host, Path: req.Path}
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if method == http.MethodPost && form != nil {
		body = strings.NewReader(form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL,
		Body:       data,
	}, nil
}

// isOwnProfileRedirect detects the platform bouncing an unrelated request to
// the account's own profile page.
func (c *Client) isOwnProfileRedirect(req Request, final *url.URL) bool {
	if final == nil || final.Host != HostCommunity {
		return false
	}
	profilePath := fmt.Sprintf("/profiles/%d", c.account.SteamID())
	if !strings.HasPrefix(final.Path, profilePath) {
		return false
	}
	return !(req.Host == HostCommunity && strings.HasPrefix(req.Path, profilePath))
}

func (c *Client) cookieValue(host, name string) string {
	u := &url.URL{Scheme: "https", Host: host, Path: "/"}
	for _, cookie := range c.jar.Cookies(u) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	return out
}

const userAgent = "Trade-Companion/1.0"
