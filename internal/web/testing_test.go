package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/limiter"
)

// fakeAccount is a controllable AccountHandle for tests.
type fakeAccount struct {
	steamID      uint64
	connected    bool
	loggedOn     bool
	limited      bool
	refreshOK    bool
	refreshCalls int32
}

func (a *fakeAccount) SteamID() uint64   { return a.steamID }
func (a *fakeAccount) IsConnected() bool { return a.connected }
func (a *fakeAccount) IsLoggedOn() bool  { return a.loggedOn }
func (a *fakeAccount) IsLimited() bool   { return a.limited }

func (a *fakeAccount) RefreshSession(ctx context.Context) bool {
	atomic.AddInt32(&a.refreshCalls, 1)
	return a.refreshOK
}

// rewriteTransport sends every request to the test server regardless of its
// host, preserving the original URL on the response so redirect and final-URL
// logic behaves as in production.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewritten := req.Clone(req.Context())
	rewritten.URL.Scheme = t.target.Scheme
	rewritten.URL.Host = t.target.Host
	rewritten.Header.Set("X-Forwarded-Host", req.URL.Host)

	resp, err := http.DefaultTransport.RoundTrip(rewritten)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

// newTestClient builds a client whose traffic lands on handler.
func newTestClient(t *testing.T, account *fakeAccount, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}

	client, err := NewClient(account, Options{
		Timeout:            30 * time.Second,
		Transport:          &rewriteTransport{target: target},
		Limiter:            limiter.New(0, 1),
		InventorySemaphore: make(chan struct{}, 1),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func countRefreshes(a *fakeAccount) int32 {
	return atomic.LoadInt32(&a.refreshCalls)
}
