// Package matcher implements the directory announcement engine and the
// active duplicate-swap matcher.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
)

// StatusError is a directory response with a non-success status code.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("directory returned status %d", e.StatusCode)
}

// ClientError reports a 4xx status, a definitive rejection.
func (e *StatusError) ClientError() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

// ListedUser is one row of the matching directory.
type ListedUser struct {
	SteamID              uint64 `json:"steam_id"`
	TradeToken           string `json:"trade_token"`
	GamesCount           uint16 `json:"games_count"`
	ItemsCount           uint16 `json:"items_count"`
	MatchableBackgrounds uint8  `json:"matchable_backgrounds"`
	MatchableCards       uint8  `json:"matchable_cards"`
	MatchableEmoticons   uint8  `json:"matchable_emoticons"`
	MatchableFoilCards   uint8  `json:"matchable_foil_cards"`
	MatchEverything      uint8  `json:"match_everything"`
}

// Score ranks listed users; higher is a better partner.
func (u *ListedUser) Score() float64 {
	return float64(u.GamesCount) / float64(u.ItemsCount)
}

// AcceptsType reports whether the user matches items of the given type.
func (u *ListedUser) AcceptsType(itemType steam.ItemType) bool {
	switch itemType {
	case steam.ItemTypeProfileBackground:
		return u.MatchableBackgrounds == 1
	case steam.ItemTypeTradingCard:
		return u.MatchableCards == 1
	case steam.ItemTypeEmoticon:
		return u.MatchableEmoticons == 1
	case steam.ItemTypeFoilTradingCard:
		return u.MatchableFoilCards == 1
	default:
		return false
	}
}

// valid rejects rows with out-of-range values; such rows are logged upstream
// and dropped.
func (u *ListedUser) valid() bool {
	if u.SteamID == 0 || u.ItemsCount == 0 {
		return false
	}
	for _, flag := range []uint8{u.MatchableBackgrounds, u.MatchableCards, u.MatchableEmoticons, u.MatchableFoilCards, u.MatchEverything} {
		if flag > 1 {
			return false
		}
	}
	return true
}

// AnnounceRequest is the payload registered with the directory.
type AnnounceRequest struct {
	SteamID         uint64
	Nickname        string
	AvatarHash      string
	ItemsCount      int
	GamesCount      int
	MatchableTypes  []steam.ItemType
	MatchEverything bool
	TradeToken      string
}

// Directory is the client for the public matching directory.
type Directory struct {
	baseURL string
	guid    string
	http    *http.Client
	logger  *slog.Logger
}

// NewDirectory creates a directory client for the statistics server, given
// as a bare host or a full URL. The process-unique guid identifies this
// instance across announcements.
func NewDirectory(server string, timeout time.Duration, logger *slog.Logger) *Directory {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := server
	if !strings.Contains(server, "://") {
		baseURL = "https://" + server
	}
	return &Directory{
		baseURL: baseURL,
		guid:    strings.ReplaceAll(uuid.NewString(), "-", ""),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Announce registers the account with the directory.
func (d *Directory) Announce(ctx context.Context, req AnnounceRequest) error {
	typeIDs := make([]int, 0, len(req.MatchableTypes))
	for _, itemType := range req.MatchableTypes {
		typeIDs = append(typeIDs, int(itemType))
	}
	encodedTypes, err := json.Marshal(typeIDs)
	if err != nil {
		return fmt.Errorf("failed to encode matchable types: %w", err)
	}

	matchEverything := "0"
	if req.MatchEverything {
		matchEverything = "1"
	}

	form := url.Values{
		"AvatarHash":      {req.AvatarHash},
		"GamesCount":      {strconv.Itoa(req.GamesCount)},
		"Guid":            {d.guid},
		"ItemsCount":      {strconv.Itoa(req.ItemsCount)},
		"MatchableTypes":  {string(encodedTypes)},
		"MatchEverything": {matchEverything},
		"Nickname":        {req.Nickname},
		"SteamID":         {strconv.FormatUint(req.SteamID, 10)},
		"TradeToken":      {req.TradeToken},
	}

	return d.postForm(ctx, "/Api/Announce", form)
}

// HeartBeat tells the directory the account is still listed and alive.
func (d *Directory) HeartBeat(ctx context.Context, steamID uint64) error {
	form := url.Values{
		"Guid":    {d.guid},
		"SteamID": {strconv.FormatUint(steamID, 10)},
	}
	return d.postForm(ctx, "/Api/HeartBeat", form)
}

// ListedBots fetches the users currently listed for full matching. Rows with
// out-of-range values are logged and dropped.
func (d *Directory) ListedBots(ctx context.Context) ([]*ListedUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/Api/Bots?matchEverything=1", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory response: %w", err)
	}

	var rows []*ListedUser
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse directory response: %w", err)
	}

	users := make([]*ListedUser, 0, len(rows))
	for _, row := range rows {
		if !row.valid() {
			d.logger.Error("please report: invalid directory row",
				"steamID", row.SteamID, "itemsCount", row.ItemsCount)
			continue
		}
		users = append(users, row)
	}
	return users, nil
}

func (d *Directory) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
