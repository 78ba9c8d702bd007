package matcher

import (
	"testing"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
	"github.com/ramonehamilton/Trade-Companion/internal/web"
)

var testSet = steam.SetKey{RealAppID: 440, Type: steam.ItemTypeTradingCard, Rarity: steam.RarityCommon}

func statesFor(counts map[uint64]uint32) (steam.InventoryState, steam.InventoryState) {
	full := steam.InventoryState{testSet: counts}
	tradable := steam.InventoryState{testSet: cloneCounts(counts)}
	return full, tradable
}

func TestPlanTradeEvensOutDuplicates(t *testing.T) {
	full, tradable := statesFor(map[uint64]uint32{10: 5, 20: 1})
	theirs := steam.InventoryState{testSet: map[uint64]uint32{20: 10}}

	plan := planTrade(map[steam.SetKey]bool{testSet: true}, full, tradable, theirs, nil)

	// 5/1 evens out to 3/3: two swaps, four items.
	if plan.itemsInTrade != 4 {
		t.Fatalf("expected 4 items in trade, got %d", plan.itemsInTrade)
	}
	if got := plan.classIDsToGive[testSet][10]; got != 2 {
		t.Errorf("expected to give 2 copies of class 10, got %d", got)
	}
	if got := plan.classIDsToReceive[testSet][20]; got != 2 {
		t.Errorf("expected to receive 2 copies of class 20, got %d", got)
	}
}

func TestPlanTradeGuardHolds(t *testing.T) {
	// Every accepted swap must satisfy ourAmount(G) > ourAmount(R)+1 at the
	// moment of the swap.
	full, tradable := statesFor(map[uint64]uint32{10: 2, 20: 2})
	theirs := steam.InventoryState{testSet: map[uint64]uint32{10: 5, 20: 5}}

	plan := planTrade(map[steam.SetKey]bool{testSet: true}, full, tradable, theirs, nil)

	if plan.itemsInTrade != 0 {
		t.Errorf("2/2 holdings have no improving swap, got %d items", plan.itemsInTrade)
	}
}

func TestPlanTradeRespectsTradableCopies(t *testing.T) {
	full := steam.InventoryState{testSet: map[uint64]uint32{10: 3, 20: 1}}
	// All copies of class 10 are untradable.
	tradable := steam.InventoryState{testSet: map[uint64]uint32{20: 1}}
	theirs := steam.InventoryState{testSet: map[uint64]uint32{30: 5}}

	plan := planTrade(map[steam.SetKey]bool{testSet: true}, full, tradable, theirs, nil)

	if plan.itemsInTrade != 0 {
		t.Errorf("untradable duplicates cannot be given, got %d items", plan.itemsInTrade)
	}
}

func TestPlanTradeAppliesPriorDeltas(t *testing.T) {
	full, tradable := statesFor(map[uint64]uint32{10: 3})
	theirs := steam.InventoryState{testSet: map[uint64]uint32{30: 5}}

	// A dispatched trade already gave one copy of class 10 and received one
	// copy of class 30.
	deltas := map[steam.SetKey]map[uint64]stateDelta{
		testSet: {
			10: {full: -1, tradable: -1},
			30: {full: 1},
		},
	}

	plan := planTrade(map[steam.SetKey]bool{testSet: true}, full, tradable, theirs, deltas)

	// Effective holdings are 10:2, 30:1; a further swap would need 2 > 1+1.
	if plan.itemsInTrade != 0 {
		t.Errorf("prior deltas must be visible to planning, got %d items", plan.itemsInTrade)
	}
}

func TestPlanTradeStopsBeforeItemCap(t *testing.T) {
	ourCounts := make(map[uint64]uint32)
	theirCounts := make(map[uint64]uint32)
	for classID := uint64(1); classID <= 300; classID++ {
		ourCounts[classID] = 3
		theirCounts[classID+1000] = 3
	}

	full, tradable := statesFor(ourCounts)
	theirs := steam.InventoryState{testSet: theirCounts}

	plan := planTrade(map[steam.SetKey]bool{testSet: true}, full, tradable, theirs, nil)

	if plan.itemsInTrade >= web.MaxItemsPerTrade {
		t.Errorf("trade exceeded the item cap: %d", plan.itemsInTrade)
	}
	if plan.itemsInTrade < web.MaxItemsPerTrade-2 {
		t.Errorf("expected the trade to fill close to the cap, got %d", plan.itemsInTrade)
	}
}

func TestAssetPool(t *testing.T) {
	assets := []*steam.Asset{
		{AssetID: 1, ClassID: 10, Amount: 1, RealAppID: 440, Type: steam.ItemTypeTradingCard, Rarity: steam.RarityCommon, Tradable: true},
		{AssetID: 2, ClassID: 10, Amount: 1, RealAppID: 440, Type: steam.ItemTypeTradingCard, Rarity: steam.RarityCommon, Tradable: true},
		{AssetID: 3, ClassID: 10, Amount: 1, RealAppID: 440, Type: steam.ItemTypeTradingCard, Rarity: steam.RarityCommon},
	}

	pool := newAssetPool(assets, true)

	picked := pool.pick(map[steam.SetKey]map[uint64]uint32{testSet: {10: 2}})
	if len(picked) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(picked))
	}
	for _, asset := range picked {
		if !asset.Tradable {
			t.Error("picked an untradable asset")
		}
	}

	// The pool is consumed; a second pick finds nothing.
	if again := pool.pick(map[steam.SetKey]map[uint64]uint32{testSet: {10: 1}}); len(again) != 0 {
		t.Errorf("expected an empty pool, got %d assets", len(again))
	}

	pool.restore(picked)
	if restored := pool.pick(map[steam.SetKey]map[uint64]uint32{testSet: {10: 2}}); len(restored) != 2 {
		t.Errorf("expected restored assets, got %d", len(restored))
	}
}
