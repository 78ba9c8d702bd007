// Package bot hosts one account: it owns the account's web client,
// announcer and active matcher, and drives them from timers and connection
// callbacks.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/matcher"
	"github.com/ramonehamilton/Trade-Companion/internal/steam"
	"github.com/ramonehamilton/Trade-Companion/internal/web"
)

// heartBeatTick is how often the announcer's heartbeat gate runs.
const heartBeatTick = time.Minute

// initialMatchDelay is the base delay before the first matching pass.
const initialMatchDelay = time.Hour

// Connection renegotiates platform sessions for a bot. It is implemented by
// the outer connection manager; a bot without one cannot refresh on its own
// and waits for a session pushed through the IPC surface.
type Connection interface {
	// WebSessionNonce obtains a fresh session nonce from the platform.
	WebSessionNonce(ctx context.Context) (string, error)

	// RequestPersonaState asks for a persona snapshot; the answer arrives
	// through Bot.OnPersonaState.
	RequestPersonaState(ctx context.Context) error
}

// Options configures a Bot.
type Options struct {
	Name           string
	SteamID        uint64
	ParentalCode   string
	Preferences    steam.TradingPreferences
	MatchableTypes []steam.ItemType
	Blacklist      []uint64

	// HasMobileAuthenticator gates matching eligibility.
	HasMobileAuthenticator bool

	// LoadBalancingDelay staggers the first matching pass across accounts.
	LoadBalancingDelay time.Duration

	// AccountIndex is this bot's position among the hosted accounts.
	AccountIndex int

	Connection Connection
	Confirmer  matcher.Confirmer
	Logger     *slog.Logger
}

// Bot is one hosted account.
type Bot struct {
	name         string
	steamID      uint64
	parentalCode string
	prefs        steam.TradingPreferences
	types        []steam.ItemType
	blacklist    map[uint64]bool
	mobileAuth   bool

	connection Connection
	logger     *slog.Logger

	web       *web.Client
	announcer *matcher.Announcer
	active    *matcher.ActiveMatcher

	connected atomic.Bool
	loggedOn  atomic.Bool
	limited   atomic.Bool

	initialMatchDelay time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	timersWG sync.WaitGroup
}

// New creates a bot. The web client, announcer and matcher are wired by the
// caller through Attach, after the bot exists to serve as their account
// handle.
func New(options Options) *Bot {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	blacklist := make(map[uint64]bool, len(options.Blacklist))
	for _, steamID := range options.Blacklist {
		blacklist[steamID] = true
	}

	return &Bot{
		name:              options.Name,
		steamID:           options.SteamID,
		parentalCode:      options.ParentalCode,
		prefs:             options.Preferences,
		types:             options.MatchableTypes,
		blacklist:         blacklist,
		mobileAuth:        options.HasMobileAuthenticator,
		connection:        options.Connection,
		logger:            logger.With("bot", options.Name),
		initialMatchDelay: initialMatchDelay + time.Duration(options.AccountIndex)*options.LoadBalancingDelay,
	}
}

// Attach wires the bot's collaborators. Must be called once before Start.
func (b *Bot) Attach(webClient *web.Client, announcer *matcher.Announcer, active *matcher.ActiveMatcher) {
	b.web = webClient
	b.announcer = announcer
	b.active = active
}

// Name returns the configured account name.
func (b *Bot) Name() string { return b.name }

// ParentalCode returns the configured parental PIN, if any.
func (b *Bot) ParentalCode() string { return b.parentalCode }

// Web returns the bot's web client.
func (b *Bot) Web() *web.Client { return b.web }

// SteamID implements web.AccountHandle and matcher.Account.
func (b *Bot) SteamID() uint64 { return b.steamID }

// IsConnected implements web.AccountHandle and matcher.Account.
func (b *Bot) IsConnected() bool { return b.connected.Load() }

// IsLoggedOn implements web.AccountHandle.
func (b *Bot) IsLoggedOn() bool { return b.loggedOn.Load() }

// IsLimited implements web.AccountHandle.
func (b *Bot) IsLimited() bool { return b.limited.Load() }

// HasMobileAuthenticator implements matcher.Account.
func (b *Bot) HasMobileAuthenticator() bool { return b.mobileAuth }

// TradingPreferences implements matcher.Account.
func (b *Bot) TradingPreferences() steam.TradingPreferences { return b.prefs }

// MatchableTypes implements matcher.Account.
func (b *Bot) MatchableTypes() []steam.ItemType { return b.types }

// IsBlacklisted implements matcher.Account.
func (b *Bot) IsBlacklisted(steamID uint64) bool { return b.blacklist[steamID] }

// RequestPersonaState implements matcher.Account.
func (b *Bot) RequestPersonaState(ctx context.Context) error {
	if b.connection == nil {
		return nil
	}
	return b.connection.RequestPersonaState(ctx)
}

// RefreshSession implements web.AccountHandle: it obtains a fresh nonce from
// the connection manager and renegotiates web tokens.
func (b *Bot) RefreshSession(ctx context.Context) bool {
	if b.connection == nil {
		b.logger.Debug("no connection manager, cannot refresh session")
		return false
	}

	nonce, err := b.connection.WebSessionNonce(ctx)
	if err != nil {
		b.logger.Warn("failed to obtain session nonce", "error", err)
		return false
	}

	if err := b.web.InitSession(ctx, web.UniversePublic, nonce, b.parentalCode); err != nil {
		b.logger.Warn("session init failed", "error", err)
		return false
	}
	return true
}

// SetConnected records the platform connection state.
func (b *Bot) SetConnected(connected bool) {
	b.connected.Store(connected)
	if !connected {
		b.loggedOn.Store(false)
	}
}

// SetLimited records the account's limited flag as reported on logon.
func (b *Bot) SetLimited(limited bool) {
	b.limited.Store(limited)
}

// OnLoggedOn records the logon and lets the announcer join the group.
func (b *Bot) OnLoggedOn(ctx context.Context) {
	b.connected.Store(true)
	b.loggedOn.Store(true)
	b.announcer.OnLoggedOn(ctx)
}

// OnPersonaState forwards a persona snapshot to the announcer.
func (b *Bot) OnPersonaState(ctx context.Context, nickname, avatarHash string) {
	b.announcer.OnPersonaState(ctx, nickname, avatarHash)
}

// Start runs the bot's timers until ctx is cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.timersWG.Add(2)
	go b.heartBeatLoop(ctx)
	go b.matchLoop(ctx)

	b.logger.Info("bot started", "initialMatchDelay", b.initialMatchDelay)
}

// Stop cancels the timers and waits for in-flight callbacks.
func (b *Bot) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.timersWG.Wait()
	b.logger.Info("bot stopped")
}

func (b *Bot) heartBeatLoop(ctx context.Context) {
	defer b.timersWG.Done()

	ticker := time.NewTicker(heartBeatTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.announcer.OnHeartBeat(ctx)
		}
	}
}

func (b *Bot) matchLoop(ctx context.Context) {
	defer b.timersWG.Done()

	initial := time.NewTimer(b.initialMatchDelay)
	defer initial.Stop()

	select {
	case <-ctx.Done():
		return
	case <-initial.C:
	}

	b.active.MatchActively(ctx)

	ticker := time.NewTicker(matcher.ActiveMatchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.active.MatchActively(ctx)
		}
	}
}

// TriggerMatch starts a matching pass outside the timer, for the IPC
// surface. A pass already in flight makes it a no-op.
func (b *Bot) TriggerMatch(ctx context.Context) {
	go b.active.MatchActively(ctx)
}

// Status is a point-in-time snapshot for the IPC surface.
type Status struct {
	Name      string `json:"name"`
	SteamID   uint64 `json:"steam_id"`
	Connected bool   `json:"connected"`
	LoggedOn  bool   `json:"logged_on"`
	Limited   bool   `json:"limited"`
}

// Status reports the bot's current state.
func (b *Bot) Status() Status {
	return Status{
		Name:      b.name,
		SteamID:   b.steamID,
		Connected: b.connected.Load(),
		LoggedOn:  b.loggedOn.Load(),
		Limited:   b.limited.Load(),
	}
}
