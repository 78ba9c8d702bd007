package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
	"github.com/ramonehamilton/Trade-Companion/internal/web"
)

// Active matching pass limits.
const (
	MaxMatchedBotsHard = 40
	MaxMatchedBotsSoft = 20
	MaxMatchingRounds  = 10

	// ActiveMatchPeriod is the timer period between passes.
	ActiveMatchPeriod = 8 * time.Hour

	// roundDelay lets partners react between rounds.
	roundDelay = 5 * time.Minute
)

// doNotRetry marks a partner as exhausted for the rest of the pass.
const doNotRetry = 255

// Confirmer accepts trade offers that require mobile confirmation.
type Confirmer interface {
	HandleTradeConfirmations(ctx context.Context, offerIDs []uint64) error
}

// TradeRecord summarises one dispatched swap for persistence.
type TradeRecord struct {
	PartnerID        uint64
	OfferIDs         []uint64
	GivenAssetIDs    []uint64
	ReceivedAssetIDs []uint64
	Confirmed        bool
}

// TradeRecorder persists dispatched trades. Optional.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, record TradeRecord) error
}

// triedPartner is per-pass bookkeeping for one candidate.
type triedPartner struct {
	tries            byte
	givenAssetIDs    map[uint64]bool
	receivedAssetIDs map[uint64]bool
}

func newTriedPartner() *triedPartner {
	return &triedPartner{
		givenAssetIDs:    make(map[uint64]bool),
		receivedAssetIDs: make(map[uint64]bool),
	}
}

// ActiveMatcher plans and dispatches duplicate-for-duplicate swaps against
// the users listed for full matching.
type ActiveMatcher struct {
	account   Account
	web       *web.Client
	directory *Directory
	announcer *Announcer
	confirmer Confirmer
	recorder  TradeRecorder
	logger    *slog.Logger

	// matchSem drops new passes while one is in flight.
	matchSem chan struct{}

	// tradingMu is the exclusive trading lock held during each round.
	tradingMu sync.Mutex

	roundDelay time.Duration
}

// NewActiveMatcher creates an active matcher. confirmer and recorder may be
// nil.
func NewActiveMatcher(account Account, webClient *web.Client, directory *Directory, announcer *Announcer, confirmer Confirmer, recorder TradeRecorder, logger *slog.Logger) *ActiveMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActiveMatcher{
		account:    account,
		web:        webClient,
		directory:  directory,
		announcer:  announcer,
		confirmer:  confirmer,
		recorder:   recorder,
		logger:     logger,
		matchSem:   make(chan struct{}, 1),
		roundDelay: roundDelay,
	}
}

// MatchActively runs one matching pass of up to MaxMatchingRounds rounds. A
// pass already in flight makes this call a no-op.
func (m *ActiveMatcher) MatchActively(ctx context.Context) {
	select {
	case m.matchSem <- struct{}{}:
	default:
		return
	}
	defer func() { <-m.matchSem }()

	prefs := m.account.TradingPreferences()
	if !m.account.IsConnected() ||
		!prefs.Has(steam.TradingPreferenceMatchActively) ||
		prefs.Has(steam.TradingPreferenceMatchEverything) {
		return
	}

	eligible, err := m.announcer.IsEligibleForMatching(ctx)
	if err != nil || !eligible {
		return
	}

	tried := make(map[uint64]*triedPartner)

	for round := 0; round < MaxMatchingRounds; round++ {
		if round > 0 {
			select {
			case <-time.After(m.roundDelay):
			case <-ctx.Done():
				return
			}

			eligible, err := m.announcer.IsEligibleForMatching(ctx)
			if err != nil || !eligible {
				return
			}
		}

		m.tradingMu.Lock()
		progress, err := m.matchActivelyRound(ctx, tried)
		m.tradingMu.Unlock()

		if err != nil {
			m.logger.Warn("matching round aborted", "round", round, "error", err)
			return
		}
		if !progress {
			m.logger.Debug("matching finished", "rounds", round+1)
			return
		}
	}
}

// matchActivelyRound plans trades against a fresh inventory snapshot and
// reports whether any set was consumed.
func (m *ActiveMatcher) matchActivelyRound(ctx context.Context, tried map[uint64]*triedPartner) (bool, error) {
	ourTypes := m.announcer.acceptedMatchableTypes()

	ourAssets, err := m.web.Inventory(ctx, m.account.SteamID(), web.CommunityAppID, web.CommunityContextID, &web.InventoryFilter{
		Types: ourTypes,
	})
	if err != nil {
		return false, fmt.Errorf("own inventory fetch failed: %w", err)
	}

	fullState, tradableState := steam.InventoryStates(ourAssets)
	if !fullState.HasDuplicates() {
		return false, nil
	}

	listed, err := m.directory.ListedBots(ctx)
	if err != nil {
		return false, fmt.Errorf("directory fetch failed: %w", err)
	}

	candidates := m.selectCandidates(listed, ourTypes, tried)
	if len(candidates) == 0 {
		return false, nil
	}

	ourPool := newAssetPool(ourAssets, true)

	skippedSetsThisRound := make(map[steam.SetKey]bool)
	emptyMatches := 0

	for _, candidate := range candidates {
		wantedSets := make(map[steam.SetKey]bool)
		for set, classes := range fullState {
			if !candidate.AcceptsType(set.Type) {
				continue
			}
			for _, count := range classes {
				if count > 1 {
					wantedSets[set] = true
					break
				}
			}
		}
		if len(wantedSets) == 0 {
			continue
		}

		theirAssets, err := m.web.Inventory(ctx, candidate.SteamID, web.CommunityAppID, web.CommunityContextID, &web.InventoryFilter{
			TradableOnly: true,
			Sets:         wantedSets,
		})
		if err != nil {
			m.logger.Debug("partner inventory fetch failed",
				"partner", candidate.SteamID, "error", err)
			continue
		}

		_, theirTradable := steam.InventoryStates(theirAssets)
		theirPool := newAssetPool(theirAssets, true)

		skippedSetsThisUser, err := m.matchPartner(ctx, candidate, tried, wantedSets,
			fullState, tradableState, theirTradable, ourPool, theirPool)
		if err != nil {
			return len(skippedSetsThisRound) > 0, err
		}

		if len(skippedSetsThisUser) == 0 {
			if len(skippedSetsThisRound) == 0 {
				partner := tried[candidate.SteamID]
				if partner == nil {
					partner = newTriedPartner()
					tried[candidate.SteamID] = partner
				}
				partner.tries = doNotRetry
			}
			emptyMatches++
			if emptyMatches >= MaxMatchedBotsSoft {
				break
			}
			continue
		}

		for set := range skippedSetsThisUser {
			skippedSetsThisRound[set] = true
			delete(fullState, set)
			delete(tradableState, set)
		}
		if !fullState.HasDuplicates() {
			break
		}
	}

	return len(skippedSetsThisRound) > 0, nil
}

// selectCandidates filters and ranks the directory rows for this round.
func (m *ActiveMatcher) selectCandidates(listed []*ListedUser, ourTypes map[steam.ItemType]bool, tried map[uint64]*triedPartner) []*ListedUser {
	triesFor := func(steamID uint64) byte {
		if partner, ok := tried[steamID]; ok {
			return partner.tries
		}
		return 0
	}

	candidates := make([]*ListedUser, 0, len(listed))
	for _, user := range listed {
		if user.MatchEverything != 1 {
			continue
		}
		if user.SteamID == m.account.SteamID() {
			continue
		}
		if m.account.IsBlacklisted(user.SteamID) {
			continue
		}
		if triesFor(user.SteamID) == doNotRetry {
			continue
		}

		overlap := false
		for itemType := range ourTypes {
			if user.AcceptsType(itemType) {
				overlap = true
				break
			}
		}
		if overlap {
			candidates = append(candidates, user)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		triesI, triesJ := triesFor(candidates[i].SteamID), triesFor(candidates[j].SteamID)
		if triesI != triesJ {
			return triesI < triesJ
		}
		return candidates[i].Score() > candidates[j].Score()
	})

	if len(candidates) > MaxMatchedBotsHard {
		candidates = candidates[:MaxMatchedBotsHard]
	}
	return candidates
}

// matchPartner runs the per-partner trade loop and returns the sets consumed
// with this partner. A fairness violation aborts the round with an error.
func (m *ActiveMatcher) matchPartner(ctx context.Context, candidate *ListedUser, tried map[uint64]*triedPartner,
	wantedSets map[steam.SetKey]bool, fullState, tradableState steam.InventoryState,
	theirTradable steam.InventoryState, ourPool, theirPool *assetPool) (map[steam.SetKey]bool, error) {

	skippedSetsThisUser := make(map[steam.SetKey]bool)
	deltas := make(map[steam.SetKey]map[uint64]stateDelta)

	for trade := 0; trade < web.MaxTradesPerAccount; trade++ {
		plan := planTrade(wantedSets, fullState, tradableState, theirTradable, deltas)
		if plan.itemsInTrade == 0 {
			break
		}

		itemsToGive := ourPool.pick(plan.classIDsToGive)
		itemsToReceive := theirPool.pick(plan.classIDsToReceive)

		if err := validateFairness(itemsToGive, itemsToReceive); err != nil {
			return skippedSetsThisUser, err
		}

		partner := tried[candidate.SteamID]
		if partner == nil {
			partner = newTriedPartner()
			tried[candidate.SteamID] = partner
		}

		if coversAttempt(partner, itemsToGive, itemsToReceive) {
			// We already proposed exactly this exchange; the partner is not
			// reacting and retrying is pointless.
			partner.tries = doNotRetry
			ourPool.restore(itemsToGive)
			break
		}

		for _, asset := range itemsToGive {
			partner.givenAssetIDs[asset.AssetID] = true
		}
		for _, asset := range itemsToReceive {
			partner.receivedAssetIDs[asset.AssetID] = true
		}
		partner.tries++

		result, err := m.web.SendTradeOffer(ctx, candidate.SteamID, itemsToGive, itemsToReceive, candidate.TradeToken, false)
		if err != nil {
			m.logger.Debug("trade offer failed", "partner", candidate.SteamID, "error", err)
			ourPool.restore(itemsToGive)
			break
		}

		m.logger.Info("trade offer dispatched",
			"partner", candidate.SteamID, "offers", result.OfferIDs,
			"give", len(itemsToGive), "receive", len(itemsToReceive))

		confirmed := false
		if result.MobileConfirmationRequired && m.confirmer != nil {
			if err := m.confirmer.HandleTradeConfirmations(ctx, result.OfferIDs); err != nil {
				m.logger.Warn("trade confirmation failed", "error", err)
			} else {
				confirmed = true
			}
		}

		if m.recorder != nil {
			record := TradeRecord{
				PartnerID: candidate.SteamID,
				OfferIDs:  result.OfferIDs,
				Confirmed: confirmed,
			}
			for _, asset := range itemsToGive {
				record.GivenAssetIDs = append(record.GivenAssetIDs, asset.AssetID)
			}
			for _, asset := range itemsToReceive {
				record.ReceivedAssetIDs = append(record.ReceivedAssetIDs, asset.AssetID)
			}
			if err := m.recorder.RecordTrade(ctx, record); err != nil {
				m.logger.Warn("failed to record trade", "error", err)
			}
		}

		// The trade is out: commit its view of the world so the next trade
		// with this partner plans against it.
		mergeDeltas(deltas, plan.deltas)
		commitTheirState(theirTradable, plan.theirConsumed)
		for set := range plan.setsInTrade {
			skippedSetsThisUser[set] = true
		}
	}

	return skippedSetsThisUser, nil
}

// validateFairness enforces the fair-exchange invariant: equal counts overall
// and per set key.
func validateFairness(give, receive []*steam.Asset) error {
	if len(give) != len(receive) {
		return fmt.Errorf("unfair exchange: giving %d, receiving %d", len(give), len(receive))
	}

	perSet := make(map[steam.SetKey]int)
	for _, asset := range give {
		perSet[asset.Set()]++
	}
	for _, asset := range receive {
		perSet[asset.Set()]--
	}
	for set, balance := range perSet {
		if balance != 0 {
			return fmt.Errorf("unfair exchange in set %v: balance %d", set, balance)
		}
	}
	return nil
}

// coversAttempt reports whether a prior attempt already proposed every asset
// of this trade.
func coversAttempt(partner *triedPartner, give, receive []*steam.Asset) bool {
	if len(partner.givenAssetIDs) == 0 && len(partner.receivedAssetIDs) == 0 {
		return false
	}
	for _, asset := range give {
		if !partner.givenAssetIDs[asset.AssetID] {
			return false
		}
	}
	for _, asset := range receive {
		if !partner.receivedAssetIDs[asset.AssetID] {
			return false
		}
	}
	return true
}

func mergeDeltas(into, from map[steam.SetKey]map[uint64]stateDelta) {
	for set, classes := range from {
		target, ok := into[set]
		if !ok {
			target = make(map[uint64]stateDelta)
			into[set] = target
		}
		for classID, delta := range classes {
			merged := target[classID]
			merged.full += delta.full
			merged.tradable += delta.tradable
			target[classID] = merged
		}
	}
}

func commitTheirState(state steam.InventoryState, consumed map[steam.SetKey]map[uint64]uint32) {
	for set, classes := range consumed {
		for classID, count := range classes {
			if remaining, ok := state[set][classID]; ok {
				if remaining <= count {
					delete(state[set], classID)
				} else {
					state[set][classID] = remaining - count
				}
			}
		}
	}
}
