package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/limiter"
	"github.com/ramonehamilton/Trade-Companion/internal/steam"
	"github.com/ramonehamilton/Trade-Companion/internal/web"
)

// fakeAccount satisfies both web.AccountHandle and Account.
type fakeAccount struct {
	steamID    uint64
	connected  bool
	loggedOn   bool
	limited    bool
	mobileAuth bool
	prefs      steam.TradingPreferences
	types      []steam.ItemType
	blacklist  map[uint64]bool
}

func (a *fakeAccount) SteamID() uint64                              { return a.steamID }
func (a *fakeAccount) IsConnected() bool                            { return a.connected }
func (a *fakeAccount) IsLoggedOn() bool                             { return a.loggedOn }
func (a *fakeAccount) IsLimited() bool                              { return a.limited }
func (a *fakeAccount) HasMobileAuthenticator() bool                 { return a.mobileAuth }
func (a *fakeAccount) TradingPreferences() steam.TradingPreferences { return a.prefs }
func (a *fakeAccount) MatchableTypes() []steam.ItemType             { return a.types }
func (a *fakeAccount) IsBlacklisted(steamID uint64) bool            { return a.blacklist[steamID] }

func (a *fakeAccount) RefreshSession(ctx context.Context) bool { return false }

func (a *fakeAccount) RequestPersonaState(ctx context.Context) error { return nil }

func matcherAccount() *fakeAccount {
	return &fakeAccount{
		steamID:    76561198000000001,
		connected:  true,
		loggedOn:   true,
		mobileAuth: true,
		prefs:      steam.TradingPreferenceSteamTradeMatcher | steam.TradingPreferenceMatchActively,
		types:      []steam.ItemType{steam.ItemTypeTradingCard, steam.ItemTypeEmoticon},
	}
}

// rewriteTransport lands all platform traffic on the test server while
// preserving the original URL for final-URL logic.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewritten := req.Clone(req.Context())
	rewritten.URL.Scheme = t.target.Scheme
	rewritten.URL.Host = t.target.Host

	resp, err := http.DefaultTransport.RoundTrip(rewritten)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

func newTestWebClient(t *testing.T, account *fakeAccount, handler http.Handler) *web.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}

	client, err := web.NewClient(account, web.Options{
		Timeout:            30 * time.Second,
		Transport:          &rewriteTransport{target: target},
		Limiter:            limiter.New(0, 1),
		InventorySemaphore: make(chan struct{}, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

// wireAsset mirrors the platform inventory wire format.
type wireAsset struct {
	AppID      uint32 `json:"appid"`
	ContextID  string `json:"contextid"`
	AssetID    string `json:"assetid"`
	ClassID    string `json:"classid"`
	InstanceID string `json:"instanceid"`
	Amount     string `json:"amount"`
}

type wireTag struct {
	Category     string `json:"category"`
	InternalName string `json:"internal_name"`
}

type wireDescription struct {
	ClassID        string    `json:"classid"`
	InstanceID     string    `json:"instanceid"`
	MarketHashName string    `json:"market_hash_name"`
	Marketable     uint8     `json:"marketable"`
	Tradable       uint8     `json:"tradable"`
	Tags           []wireTag `json:"tags"`
}

type wirePage struct {
	Assets       []wireAsset       `json:"assets"`
	Descriptions []wireDescription `json:"descriptions"`
	MoreItems    uint8             `json:"more_items"`
	LastAssetID  string            `json:"last_assetid,omitempty"`
	Success      int               `json:"success"`
}

// invEntry describes copies of one class for the fake platform inventory.
type invEntry struct {
	classID  uint64
	count    int
	appID    uint32
	itemType steam.ItemType
	tradable bool
}

// inventoryJSON renders entries as one inventory page. Asset ids are derived
// from the class id so they are stable across calls.
func inventoryJSON(t *testing.T, entries []invEntry) string {
	t.Helper()

	page := wirePage{Success: 1, Assets: []wireAsset{}, Descriptions: []wireDescription{}}
	seen := make(map[uint64]bool)

	for _, entry := range entries {
		for i := 0; i < entry.count; i++ {
			page.Assets = append(page.Assets, wireAsset{
				AppID:      753,
				ContextID:  "6",
				AssetID:    fmt.Sprint(entry.classID*1000 + uint64(i)),
				ClassID:    fmt.Sprint(entry.classID),
				InstanceID: "0",
				Amount:     "1",
			})
		}
		if seen[entry.classID] {
			continue
		}
		seen[entry.classID] = true

		tags := []wireTag{{Category: "droprate", InternalName: "droprate_0"}}
		switch entry.itemType {
		case steam.ItemTypeTradingCard:
			tags = append(tags,
				wireTag{Category: "item_class", InternalName: "item_class_2"},
				wireTag{Category: "cardborder", InternalName: "cardborder_0"})
		case steam.ItemTypeFoilTradingCard:
			tags = append(tags,
				wireTag{Category: "item_class", InternalName: "item_class_2"},
				wireTag{Category: "cardborder", InternalName: "cardborder_1"})
		case steam.ItemTypeEmoticon:
			tags = append(tags, wireTag{Category: "item_class", InternalName: "item_class_4"})
		case steam.ItemTypeProfileBackground:
			tags = append(tags, wireTag{Category: "item_class", InternalName: "item_class_3"})
		}

		tradable := uint8(0)
		if entry.tradable {
			tradable = 1
		}
		page.Descriptions = append(page.Descriptions, wireDescription{
			ClassID:        fmt.Sprint(entry.classID),
			InstanceID:     "0",
			MarketHashName: fmt.Sprintf("%d-Item %d", entry.appID, entry.classID),
			Marketable:     1,
			Tradable:       tradable,
			Tags:           tags,
		})
	}

	data, err := json.Marshal(page)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// fakePlatform is a minimal platform for announcer and matcher tests.
type fakePlatform struct {
	t *testing.T

	// inventories by steamID, served at the inventory endpoint.
	inventories map[uint64][]invEntry

	tradeToken string
	apiKey     string
	profile    string // privacyState

	tradeOffers []url.Values
	failTrades  bool
}

func newFakePlatform(t *testing.T) *fakePlatform {
	return &fakePlatform{
		t:           t,
		inventories: make(map[uint64][]invEntry),
		tradeToken:  "OwnToken1",
		apiKey:      "0123456789ABCDEF",
		profile:     "public",
	}
}

func (p *fakePlatform) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/inventory/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/inventory/"), "/")
		if len(parts) < 3 {
			http.NotFound(w, r)
			return
		}
		var steamID uint64
		if _, err := fmt.Sscan(parts[0], &steamID); err != nil {
			http.NotFound(w, r)
			return
		}
		entries, ok := p.inventories[steamID]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, inventoryJSON(p.t, entries))
	})

	mux.HandleFunc("/tradeoffers/privacy", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `https://steamcommunity.com/tradeoffer/new/?partner=1&amp;token=%s`, p.tradeToken)
	})

	mux.HandleFunc("/dev/apikey", func(w http.ResponseWriter, r *http.Request) {
		if p.apiKey == "" {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `Key: %s`, p.apiKey)
	})

	mux.HandleFunc("/profiles/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><profile><privacyState>%s</privacyState></profile>`, p.profile)
	})

	mux.HandleFunc("/ISteamUserAuth/AuthenticateUser/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"authenticateuser": {"token": "tok", "tokensecure": "sec"}}`)
	})

	mux.HandleFunc("/tradeoffer/new/send", func(w http.ResponseWriter, r *http.Request) {
		if p.failTrades {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		if err := r.ParseForm(); err != nil {
			p.t.Errorf("trade offer form did not parse: %v", err)
		}
		p.tradeOffers = append(p.tradeOffers, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"tradeofferid": "%d", "needs_mobile_confirmation": false}`, 100000+len(p.tradeOffers))
	})

	return mux
}

// fakeDirectory is an httptest matching directory.
type fakeDirectory struct {
	announces  []url.Values
	heartBeats []url.Values
	bots       []*ListedUser

	announceStatus int
	beatStatus     int
	botsHits       int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{announceStatus: http.StatusOK, beatStatus: http.StatusOK}
}

func (d *fakeDirectory) start(t *testing.T) *Directory {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/Api/Announce", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		d.announces = append(d.announces, r.PostForm)
		w.WriteHeader(d.announceStatus)
	})
	mux.HandleFunc("/Api/HeartBeat", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		d.heartBeats = append(d.heartBeats, r.PostForm)
		w.WriteHeader(d.beatStatus)
	})
	mux.HandleFunc("/Api/Bots", func(w http.ResponseWriter, r *http.Request) {
		d.botsHits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.bots)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewDirectory(server.URL, 10*time.Second, nil)
}
