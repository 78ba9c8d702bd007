package web

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/ramonehamilton/Trade-Companion/internal/cacheable"
)

// apiKeyState is the outcome of scraping the developer key page.
type apiKeyState byte

const (
	apiKeyError apiKeyState = iota
	apiKeyTimeout
	apiKeyRegistered
	apiKeyNotRegisteredYet
	apiKeyAccessDenied
)

var apiKeyPattern = regexp.MustCompile(`Key: ([0-9A-F]+)`)

// fetchAPIKeyPage scrapes the developer key page and classifies its state.
func (c *Client) fetchAPIKeyPage(ctx context.Context) (apiKeyState, string) {
	resp, err := c.Get(ctx, Request{
		Host: HostCommunity,
		Path: "/dev/apikey",
		Query: url.Values{
			"l": {"english"},
		},
	})
	if err != nil {
		return apiKeyTimeout, ""
	}
	if !resp.OK() {
		return apiKeyError, ""
	}

	html := resp.HTML()
	switch {
	case strings.Contains(html, "Access Denied"):
		return apiKeyAccessDenied, ""
	case strings.Contains(html, "Register for a new Steam Web API Key"):
		return apiKeyNotRegisteredYet, ""
	default:
		if match := apiKeyPattern.FindStringSubmatch(html); match != nil {
			return apiKeyRegistered, match[1]
		}
		return apiKeyError, ""
	}
}

// registerAPIKey requests a fresh developer key.
func (c *Client) registerAPIKey(ctx context.Context) bool {
	resp, err := c.Post(ctx, Request{
		Host: HostCommunity,
		Path: "/dev/registerkey",
		Form: url.Values{
			"domain":       {"localhost"},
			"agreeToTerms": {"agreed"},
			"Submit":       {"Register"},
		},
		Session: SessionLowercase,
	})
	if err != nil {
		return false
	}
	return resp.OK()
}

// resolveAPIKey is the Cacheable resolver behind APIKey. Limited accounts
// permanently resolve to an empty key; accounts without a key register one.
func (c *Client) resolveAPIKey(ctx context.Context) (string, bool) {
	if c.account.IsLimited() {
		return "", true
	}

	state, key := c.fetchAPIKeyPage(ctx)
	if state == apiKeyNotRegisteredYet {
		if !c.registerAPIKey(ctx) {
			return "", false
		}
		state, key = c.fetchAPIKeyPage(ctx)
	}

	switch state {
	case apiKeyRegistered:
		return key, true
	case apiKeyAccessDenied:
		// The account cannot hold a key; an empty key is its final answer.
		return "", true
	default:
		return "", false
	}
}

// APIKey returns the account's web API key, resolving and registering it on
// first use. The key caches forever until Reset.
func (c *Client) APIKey(ctx context.Context) (string, bool) {
	return c.apiKey.Get(ctx, cacheable.FallbackSuccessPreviously)
}

// HasValidAPIKey reports whether the account holds a usable API key. The
// error return distinguishes network failure from a definitive "no".
func (c *Client) HasValidAPIKey(ctx context.Context) (bool, error) {
	key, ok := c.APIKey(ctx)
	if !ok {
		return false, ErrNetworkFailure
	}
	return key != "", nil
}
