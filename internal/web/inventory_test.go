package web

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
)

const inventoryPathFmt = "/inventory/%d/753/6"

func cardDescription(classID uint64, appID uint32, tradable, marketable int) string {
	return fmt.Sprintf(`{
		"classid": "%d",
		"instanceid": "0",
		"market_hash_name": "%d-Sample Card",
		"marketable": %d,
		"tradable": %d,
		"tags": [
			{"category": "item_class", "internal_name": "item_class_2"},
			{"category": "cardborder", "internal_name": "cardborder_0"},
			{"category": "droprate", "internal_name": "droprate_0"},
			{"category": "Game", "internal_name": "app_%d"}
		]
	}`, classID, appID, marketable, tradable, appID)
}

func TestInventoryPagination(t *testing.T) {
	account := onlineAccount()

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf(inventoryPathFmt, account.steamID), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("count") != "5000" {
			t.Errorf("expected count=5000, got %q", r.URL.Query().Get("count"))
		}
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("start_assetid") == "" {
			fmt.Fprintf(w, `{
				"assets": [
					{"appid": 753, "contextid": "6", "assetid": "101", "classid": "11", "instanceid": "0", "amount": "1"}
				],
				"descriptions": [%s],
				"more_items": 1,
				"last_assetid": "101",
				"success": 1
			}`, cardDescription(11, 440, 1, 1))
			return
		}

		if got := r.URL.Query().Get("start_assetid"); got != "101" {
			t.Errorf("expected cursor 101, got %q", got)
		}
		fmt.Fprintf(w, `{
			"assets": [
				{"appid": 753, "contextid": "6", "assetid": "102", "classid": "12", "instanceid": "0", "amount": "1"},
				{"appid": 753, "contextid": "6", "assetid": "103", "classid": "12", "instanceid": "0", "amount": "1"}
			],
			"descriptions": [%s],
			"success": 1
		}`, cardDescription(12, 440, 0, 0))
	})

	client := newTestClient(t, account, mux)

	assets, err := client.Inventory(context.Background(), account.steamID, CommunityAppID, CommunityContextID, nil)
	if err != nil {
		t.Fatalf("inventory fetch failed: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 assets across pages, got %d", len(assets))
	}

	first := assets[0]
	if first.ClassID != 11 || first.RealAppID != 440 || first.Type != steam.ItemTypeTradingCard || first.Rarity != steam.RarityCommon {
		t.Errorf("asset not decorated from description: %+v", first)
	}
	if !first.Tradable {
		t.Error("expected first asset tradable")
	}
	if assets[1].Tradable {
		t.Error("expected second page assets non-tradable")
	}
}

func TestInventoryFilter(t *testing.T) {
	account := onlineAccount()

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf(inventoryPathFmt, account.steamID), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"assets": [
				{"appid": 753, "contextid": "6", "assetid": "101", "classid": "11", "instanceid": "0", "amount": "1"},
				{"appid": 753, "contextid": "6", "assetid": "102", "classid": "12", "instanceid": "0", "amount": "1"}
			],
			"descriptions": [%s, %s],
			"success": 1
		}`, cardDescription(11, 440, 1, 1), cardDescription(12, 570, 0, 1))
	})

	client := newTestClient(t, account, mux)

	assets, err := client.Inventory(context.Background(), account.steamID, CommunityAppID, CommunityContextID, &InventoryFilter{
		TradableOnly: true,
		RealAppIDs:   map[uint32]bool{440: true},
	})
	if err != nil {
		t.Fatalf("inventory fetch failed: %v", err)
	}
	if len(assets) != 1 || assets[0].ClassID != 11 {
		t.Fatalf("expected only the tradable app 440 asset, got %+v", assets)
	}
}

func TestInventoryMissingCursorFails(t *testing.T) {
	account := onlineAccount()

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf(inventoryPathFmt, account.steamID), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"assets": [], "descriptions": [], "more_items": 1, "last_assetid": "0", "success": 1}`)
	})

	client := newTestClient(t, account, mux)

	if _, err := client.Inventory(context.Background(), account.steamID, CommunityAppID, CommunityContextID, nil); err == nil {
		t.Fatal("expected failure when more items are reported without a cursor")
	}
}

func TestInventorySerialised(t *testing.T) {
	account := onlineAccount()
	client := newTestClient(t, account, http.NewServeMux())

	// Hold the process-wide semaphore: the fetch must not start.
	client.inventorySem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Inventory(ctx, account.steamID, CommunityAppID, CommunityContextID, nil); err == nil {
		t.Fatal("expected context error while the semaphore is held")
	}
}

func TestParseDescriptionUnknownTags(t *testing.T) {
	client := newTestClient(t, onlineAccount(), http.NewServeMux())

	asset := client.parseDescription(1, &inventoryDescription{
		ClassID: "1",
		Tags: []inventoryTag{
			{Category: "item_class", InternalName: "item_class_99"},
			{Category: "droprate", InternalName: "droprate_9"},
		},
	})
	if asset.Type != steam.ItemTypeUnknown {
		t.Errorf("expected unknown type, got %v", asset.Type)
	}
	if asset.Rarity != steam.RarityUnknown {
		t.Errorf("expected unknown rarity, got %v", asset.Rarity)
	}
}
