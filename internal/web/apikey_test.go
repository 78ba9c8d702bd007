package web

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
)

func TestAPIKeyRegistersWhenMissing(t *testing.T) {
	account := onlineAccount()

	var registered atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/dev/apikey", func(w http.ResponseWriter, r *http.Request) {
		if registered.Load() {
			fmt.Fprint(w, `<p>Key: 0123456789ABCDEF</p>`)
			return
		}
		fmt.Fprint(w, `<h2>Register for a new Steam Web API Key</h2>`)
	})
	mux.HandleFunc("/dev/registerkey", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("domain") != "localhost" {
			t.Errorf("expected domain localhost, got %q", r.FormValue("domain"))
		}
		if r.FormValue("sessionid") == "" {
			t.Error("expected a session field on key registration")
		}
		registered.Store(true)
	})

	client := newTestClient(t, account, mux)
	client.plantSessionCookies(account.steamID, "token", "tokensecure")

	key, ok := client.APIKey(context.Background())
	if !ok {
		t.Fatal("expected key resolution to succeed")
	}
	if key != "0123456789ABCDEF" {
		t.Errorf("expected registered key, got %q", key)
	}

	hasKey, err := client.HasValidAPIKey(context.Background())
	if err != nil || !hasKey {
		t.Errorf("expected valid key, got %v/%v", hasKey, err)
	}
}

func TestAPIKeyAccessDenied(t *testing.T) {
	account := onlineAccount()

	mux := http.NewServeMux()
	mux.HandleFunc("/dev/apikey", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<h2>Access Denied</h2>`)
	})

	client := newTestClient(t, account, mux)

	key, ok := client.APIKey(context.Background())
	if !ok {
		t.Fatal("access denied is a definitive answer, not a failure")
	}
	if key != "" {
		t.Errorf("expected empty key, got %q", key)
	}

	hasKey, err := client.HasValidAPIKey(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hasKey {
		t.Error("expected no valid key")
	}
}

func TestAPIKeyLimitedAccount(t *testing.T) {
	account := onlineAccount()
	account.limited = true

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	client := newTestClient(t, account, mux)

	key, ok := client.APIKey(context.Background())
	if !ok || key != "" {
		t.Errorf("limited account should resolve to an empty key, got %q/%v", key, ok)
	}
	if hits.Load() != 0 {
		t.Errorf("limited account should not hit the key page, saw %d requests", hits.Load())
	}
}

func TestAPIKeyCachesAcrossCalls(t *testing.T) {
	account := onlineAccount()

	var pageHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/dev/apikey", func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		fmt.Fprint(w, `<p>Key: ABCDEF0123456789</p>`)
	})

	client := newTestClient(t, account, mux)

	for i := 0; i < 3; i++ {
		if _, ok := client.APIKey(context.Background()); !ok {
			t.Fatal("expected key resolution to succeed")
		}
	}
	if pageHits.Load() != 1 {
		t.Errorf("expected a single page scrape, got %d", pageHits.Load())
	}
}
