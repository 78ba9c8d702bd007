package matcher

import (
	"sort"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
	"github.com/ramonehamilton/Trade-Companion/internal/web"
)

// stateDelta is the net effect of dispatched swaps on one class: giving a
// copy lowers both counters, receiving one raises only the full count (the
// incoming copy is not tradable until the offer settles).
type stateDelta struct {
	full     int64
	tradable int64
}

// tradePlan is the outcome of scanning all wanted sets for one trade.
type tradePlan struct {
	itemsInTrade      int
	classIDsToGive    map[steam.SetKey]map[uint64]uint32
	classIDsToReceive map[steam.SetKey]map[uint64]uint32
	deltas            map[steam.SetKey]map[uint64]stateDelta
	theirConsumed     map[steam.SetKey]map[uint64]uint32
	setsInTrade       map[steam.SetKey]bool
}

func newTradePlan() *tradePlan {
	return &tradePlan{
		classIDsToGive:    make(map[steam.SetKey]map[uint64]uint32),
		classIDsToReceive: make(map[steam.SetKey]map[uint64]uint32),
		deltas:            make(map[steam.SetKey]map[uint64]stateDelta),
		theirConsumed:     make(map[steam.SetKey]map[uint64]uint32),
		setsInTrade:       make(map[steam.SetKey]bool),
	}
}

// planTrade scans every wanted set, applying deltas from already dispatched
// trades, and accumulates improving swaps until the trade is full or no set
// improves further.
func planTrade(wantedSets map[steam.SetKey]bool, fullState, tradableState steam.InventoryState,
	theirTradable steam.InventoryState, priorDeltas map[steam.SetKey]map[uint64]stateDelta) *tradePlan {

	plan := newTradePlan()

	for _, set := range sortedSetKeys(wantedSets) {
		if plan.itemsInTrade >= web.MaxItemsPerTrade-1 {
			break
		}

		ourFull := applyDelta(fullState[set], priorDeltas[set], func(d stateDelta) int64 { return d.full })
		ourTradable := applyDelta(tradableState[set], priorDeltas[set], func(d stateDelta) int64 { return d.tradable })
		theirs := cloneCounts(theirTradable[set])

		swapSet(set, ourFull, ourTradable, theirs, plan)
	}

	return plan
}

// swapSet runs the swap inner loop for one set: repeatedly give a class we
// hold most copies of for one we hold least of, while each swap still leaves
// us ahead of the received class.
func swapSet(set steam.SetKey, ourFull, ourTradable, theirs map[uint64]uint32, plan *tradePlan) {
	for plan.itemsInTrade < web.MaxItemsPerTrade-1 {
		gives := giveCandidates(ourFull, ourTradable)
		if len(gives) == 0 {
			break
		}

		swapped := false
		for _, give := range gives {
			receives := receiveCandidates(theirs, ourFull, give.classID)
			for _, receive := range receives {
				// Receives are sorted by how few we own; once the best one
				// fails the guard, the rest fail it too.
				if ourFull[give.classID] <= ourFull[receive.classID]+1 {
					break
				}

				ourFull[give.classID]--
				ourFull[receive.classID]++
				ourTradable[give.classID]--
				theirs[receive.classID]--
				if theirs[receive.classID] == 0 {
					delete(theirs, receive.classID)
				}

				plan.addSwap(set, give.classID, receive.classID)
				swapped = true
				break
			}
			if swapped {
				break
			}
		}
		if !swapped {
			break
		}
	}
}

func (p *tradePlan) addSwap(set steam.SetKey, giveClassID, receiveClassID uint64) {
	addCount(p.classIDsToGive, set, giveClassID)
	addCount(p.classIDsToReceive, set, receiveClassID)
	addCount(p.theirConsumed, set, receiveClassID)

	classes, ok := p.deltas[set]
	if !ok {
		classes = make(map[uint64]stateDelta)
		p.deltas[set] = classes
	}
	give := classes[giveClassID]
	give.full--
	give.tradable--
	classes[giveClassID] = give

	receive := classes[receiveClassID]
	receive.full++
	classes[receiveClassID] = receive

	p.setsInTrade[set] = true
	p.itemsInTrade += 2
}

type classCount struct {
	classID uint64
	count   uint32
}

// giveCandidates are our duplicated classes with a tradable copy, most
// duplicated first.
func giveCandidates(ourFull, ourTradable map[uint64]uint32) []classCount {
	candidates := make([]classCount, 0, len(ourFull))
	for classID, count := range ourFull {
		if count < 2 || ourTradable[classID] < 1 {
			continue
		}
		candidates = append(candidates, classCount{classID: classID, count: count})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].classID < candidates[j].classID
	})
	return candidates
}

// receiveCandidates are the partner's classes, the ones we own fewest of
// first.
func receiveCandidates(theirs, ourFull map[uint64]uint32, excludeClassID uint64) []classCount {
	candidates := make([]classCount, 0, len(theirs))
	for classID, count := range theirs {
		if count < 1 || classID == excludeClassID {
			continue
		}
		candidates = append(candidates, classCount{classID: classID, count: ourFull[classID]})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].classID < candidates[j].classID
	})
	return candidates
}

func addCount(target map[steam.SetKey]map[uint64]uint32, set steam.SetKey, classID uint64) {
	classes, ok := target[set]
	if !ok {
		classes = make(map[uint64]uint32)
		target[set] = classes
	}
	classes[classID]++
}

func sortedSetKeys(sets map[steam.SetKey]bool) []steam.SetKey {
	keys := make([]steam.SetKey, 0, len(sets))
	for set := range sets {
		keys = append(keys, set)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.RealAppID != b.RealAppID {
			return a.RealAppID < b.RealAppID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Rarity < b.Rarity
	})
	return keys
}

func cloneCounts(counts map[uint64]uint32) map[uint64]uint32 {
	out := make(map[uint64]uint32, len(counts))
	for classID, count := range counts {
		out[classID] = count
	}
	return out
}

func applyDelta(counts map[uint64]uint32, deltas map[uint64]stateDelta, field func(stateDelta) int64) map[uint64]uint32 {
	out := cloneCounts(counts)
	for classID, delta := range deltas {
		adjusted := int64(out[classID]) + field(delta)
		if adjusted <= 0 {
			delete(out, classID)
		} else {
			out[classID] = uint32(adjusted)
		}
	}
	return out
}

// assetPool hands out concrete asset instances for planned class counts.
type assetPool struct {
	bySetClass map[steam.SetKey]map[uint64][]*steam.Asset
}

func newAssetPool(assets []*steam.Asset, tradableOnly bool) *assetPool {
	pool := &assetPool{bySetClass: make(map[steam.SetKey]map[uint64][]*steam.Asset)}
	for _, asset := range assets {
		if tradableOnly && !asset.Tradable {
			continue
		}
		set := asset.Set()
		classes, ok := pool.bySetClass[set]
		if !ok {
			classes = make(map[uint64][]*steam.Asset)
			pool.bySetClass[set] = classes
		}
		classes[asset.ClassID] = append(classes[asset.ClassID], asset)
	}
	return pool
}

// pick pops assets covering the wanted per-class counts. Assets whose stack
// size exceeds the remaining need stay in the pool.
func (p *assetPool) pick(want map[steam.SetKey]map[uint64]uint32) []*steam.Asset {
	var picked []*steam.Asset
	for set, classes := range want {
		for classID, needed := range classes {
			available := p.bySetClass[set][classID]
			remaining := available[:0:0]
			for _, asset := range available {
				if needed >= asset.Amount {
					picked = append(picked, asset)
					needed -= asset.Amount
				} else {
					remaining = append(remaining, asset)
				}
			}
			p.bySetClass[set][classID] = remaining
		}
	}
	return picked
}

// restore returns assets to the pool after a failed dispatch.
func (p *assetPool) restore(assets []*steam.Asset) {
	for _, asset := range assets {
		set := asset.Set()
		classes, ok := p.bySetClass[set]
		if !ok {
			classes = make(map[uint64][]*steam.Asset)
			p.bySetClass[set] = classes
		}
		classes[asset.ClassID] = append(classes[asset.ClassID], asset)
	}
}
