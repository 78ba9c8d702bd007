package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
	"github.com/ramonehamilton/Trade-Companion/internal/web"
)

// Timing and size gates for directory announcements.
const (
	AnnouncementCheckTTL = 6 * time.Hour
	HeartBeatTTL         = 10 * time.Minute
	PersonaStateTTL      = 8 * time.Hour

	// MinItemsCount is the smallest matchable inventory worth listing.
	MinItemsCount = 100
)

// Account is the collaborator view the matching engine needs from the outer
// account manager.
type Account interface {
	SteamID() uint64
	IsConnected() bool
	HasMobileAuthenticator() bool
	TradingPreferences() steam.TradingPreferences

	// MatchableTypes are the item types the user configured for matching;
	// only types in steam.AcceptedMatchableTypes take part.
	MatchableTypes() []steam.ItemType

	// RequestPersonaState asks the connection for a fresh persona snapshot;
	// the answer arrives through Announcer.OnPersonaState.
	RequestPersonaState(ctx context.Context) error

	IsBlacklisted(steamID uint64) bool
}

// Announcer keeps one account registered with the matching directory: it
// announces when the persona changes, heartbeats while listed, and re-tests
// eligibility on a cooldown.
type Announcer struct {
	account   Account
	web       *web.Client
	directory *Directory
	groupID   uint64
	logger    *slog.Logger

	// requestMu serialises announce and heartbeat attempts.
	requestMu sync.Mutex

	stateMu                 sync.Mutex
	lastAnnouncementCheck   time.Time
	lastHeartBeat           time.Time
	lastPersonaStateRequest time.Time
	shouldSendHeartBeats    bool
}

// NewAnnouncer creates an announcer for account. groupID is the project's
// community group joined on logon; zero skips the join.
func NewAnnouncer(account Account, webClient *web.Client, directory *Directory, groupID uint64, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		account:   account,
		web:       webClient,
		directory: directory,
		groupID:   groupID,
		logger:    logger,
	}
}

// OnLoggedOn joins the project's group. Best-effort.
func (a *Announcer) OnLoggedOn(ctx context.Context) {
	if a.groupID == 0 {
		return
	}
	if err := a.web.JoinGroup(ctx, a.groupID); err != nil {
		a.logger.Warn("failed to join group", "groupID", a.groupID, "error", err)
	}
}

// OnPersonaState is the primary announce gate, fired whenever the connection
// delivers a persona snapshot for the account itself.
func (a *Announcer) OnPersonaState(ctx context.Context, nickname, avatarHash string) {
	if !a.shouldAnnounce(time.Now()) {
		return
	}

	a.requestMu.Lock()
	defer a.requestMu.Unlock()

	now := time.Now()
	if !a.shouldAnnounce(now) {
		return
	}

	eligible, err := a.IsEligibleForMatching(ctx)
	if err != nil {
		// Outcome unknown: stop heartbeats but leave the check unrecorded so
		// the next persona event retries immediately.
		a.disableHeartBeats(false)
		return
	}
	if !eligible {
		a.recordCheck(now)
		a.disableHeartBeats(false)
		return
	}

	tradeToken, err := a.web.TradeToken(ctx)
	if err != nil {
		if errors.Is(err, web.ErrNetworkFailure) {
			a.disableHeartBeats(false)
			return
		}
		a.recordCheck(now)
		a.disableHeartBeats(false)
		return
	}

	matchableTypes := a.acceptedMatchableTypes()
	assets, err := a.web.Inventory(ctx, a.account.SteamID(), web.CommunityAppID, web.CommunityContextID, &web.InventoryFilter{
		TradableOnly: true,
		Types:        matchableTypes,
	})
	if err != nil {
		a.disableHeartBeats(false)
		return
	}

	if len(assets) < MinItemsCount {
		a.logger.Debug("not enough matchable items to announce", "items", len(assets))
		a.recordCheck(now)
		a.disableHeartBeats(false)
		return
	}

	games := make(map[uint32]bool)
	for _, asset := range assets {
		games[asset.RealAppID] = true
	}

	typeList := make([]steam.ItemType, 0, len(matchableTypes))
	for itemType := range matchableTypes {
		typeList = append(typeList, itemType)
	}

	err = a.directory.Announce(ctx, AnnounceRequest{
		SteamID:         a.account.SteamID(),
		Nickname:        nickname,
		AvatarHash:      avatarHash,
		ItemsCount:      len(assets),
		GamesCount:      len(games),
		MatchableTypes:  typeList,
		MatchEverything: a.account.TradingPreferences().Has(steam.TradingPreferenceMatchEverything),
		TradeToken:      tradeToken,
	})

	var statusErr *StatusError
	switch {
	case err == nil:
		announceTime := time.Now()
		a.stateMu.Lock()
		a.lastAnnouncementCheck = announceTime
		a.lastHeartBeat = announceTime
		a.shouldSendHeartBeats = true
		a.stateMu.Unlock()
		a.logger.Info("announced to matching directory",
			"items", len(assets), "games", len(games))
	case errors.As(err, &statusErr) && statusErr.ClientError():
		a.recordCheck(now)
		a.disableHeartBeats(true)
		a.logger.Warn("directory rejected announcement", "error", err)
	default:
		a.disableHeartBeats(false)
		a.logger.Warn("announcement failed", "error", err)
	}
}

// OnHeartBeat runs on every engine tick: it refreshes the persona when both
// persona and announcement knowledge have gone stale, then heartbeats while
// the account is listed.
func (a *Announcer) OnHeartBeat(ctx context.Context) {
	now := time.Now()

	a.stateMu.Lock()
	refreshPersona := now.After(a.lastPersonaStateRequest.Add(PersonaStateTTL)) &&
		now.After(a.lastAnnouncementCheck.Add(AnnouncementCheckTTL))
	if refreshPersona {
		a.lastPersonaStateRequest = now
	}
	shouldBeat := a.shouldSendHeartBeats && !now.Before(a.lastHeartBeat.Add(HeartBeatTTL))
	a.stateMu.Unlock()

	if refreshPersona {
		if err := a.account.RequestPersonaState(ctx); err != nil {
			a.logger.Warn("persona state request failed", "error", err)
		}
	}
	if !shouldBeat {
		return
	}

	a.requestMu.Lock()
	defer a.requestMu.Unlock()

	now = time.Now()
	a.stateMu.Lock()
	shouldBeat = a.shouldSendHeartBeats && !now.Before(a.lastHeartBeat.Add(HeartBeatTTL))
	a.stateMu.Unlock()
	if !shouldBeat {
		return
	}

	err := a.directory.HeartBeat(ctx, a.account.SteamID())

	var statusErr *StatusError
	switch {
	case err == nil:
		a.stateMu.Lock()
		a.lastHeartBeat = time.Now()
		a.stateMu.Unlock()
	case errors.As(err, &statusErr) && statusErr.ClientError():
		a.disableHeartBeats(true)
		a.logger.Warn("directory rejected heartbeat", "error", err)
	default:
		a.logger.Debug("heartbeat failed", "error", err)
	}
}

// IsEligibleForMatching tests the account against the directory's listing
// requirements. The error return means the outcome could not be determined.
func (a *Announcer) IsEligibleForMatching(ctx context.Context) (bool, error) {
	if !a.account.HasMobileAuthenticator() {
		return false, nil
	}
	if !a.account.TradingPreferences().Has(steam.TradingPreferenceSteamTradeMatcher) {
		return false, nil
	}
	if len(a.acceptedMatchableTypes()) == 0 {
		return false, nil
	}

	hasKey, err := a.web.HasValidAPIKey(ctx)
	if err != nil {
		return false, err
	}
	if !hasKey {
		return false, nil
	}

	public, err := a.web.HasPublicInventory(ctx)
	if err != nil {
		return false, err
	}
	return public, nil
}

// acceptedMatchableTypes intersects the configured types with the set the
// directory accepts.
func (a *Announcer) acceptedMatchableTypes() map[steam.ItemType]bool {
	accepted := make(map[steam.ItemType]bool)
	for _, itemType := range a.account.MatchableTypes() {
		if steam.AcceptedMatchableTypes[itemType] {
			accepted[itemType] = true
		}
	}
	return accepted
}

// shouldAnnounce is the cooldown predicate: skip while the last check is
// recent, unless a previous run ended with heartbeats dead.
func (a *Announcer) shouldAnnounce(now time.Time) bool {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if now.Before(a.lastAnnouncementCheck.Add(AnnouncementCheckTTL)) &&
		(a.shouldSendHeartBeats || a.lastHeartBeat.IsZero()) {
		return false
	}
	return true
}

func (a *Announcer) recordCheck(now time.Time) {
	a.stateMu.Lock()
	a.lastAnnouncementCheck = now
	a.stateMu.Unlock()
}

// disableHeartBeats stops the heartbeat loop; zeroLastBeat additionally
// forgets the last beat, which a 4xx from the directory demands.
func (a *Announcer) disableHeartBeats(zeroLastBeat bool) {
	a.stateMu.Lock()
	a.shouldSendHeartBeats = false
	if zeroLastBeat {
		a.lastHeartBeat = time.Time{}
	}
	a.stateMu.Unlock()
}
