package storage

import (
	"context"
	"testing"

	"github.com/ramonehamilton/Trade-Companion/internal/matcher"
)

func testService(t *testing.T) *Service {
	t.Helper()

	db, err := Open(DefaultConfig(":memory:"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db.Conn()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return NewService(db, 76561198000000001)
}

func TestRecordAndListTrades(t *testing.T) {
	service := testService(t)
	ctx := context.Background()

	records := []matcher.TradeRecord{
		{PartnerID: 42, OfferIDs: []uint64{100001}, GivenAssetIDs: []uint64{1, 2}, ReceivedAssetIDs: []uint64{3, 4}, Confirmed: true},
		{PartnerID: 43, OfferIDs: []uint64{100002, 100003}, GivenAssetIDs: []uint64{5}, ReceivedAssetIDs: []uint64{6}},
	}
	for _, record := range records {
		if err := service.RecordTrade(ctx, record); err != nil {
			t.Fatalf("record trade failed: %v", err)
		}
	}

	trades, err := service.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("recent trades failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	// Most recent first.
	newest := trades[0]
	if newest.PartnerSteamID != 43 {
		t.Errorf("expected partner 43 first, got %d", newest.PartnerSteamID)
	}
	if len(newest.OfferIDs) != 2 || newest.OfferIDs[0] != 100002 {
		t.Errorf("offer ids did not round-trip: %v", newest.OfferIDs)
	}

	oldest := trades[1]
	if !oldest.Confirmed {
		t.Error("expected confirmed flag to round-trip")
	}
	if len(oldest.GivenAssetIDs) != 2 || len(oldest.ReceivedAssetIDs) != 2 {
		t.Errorf("asset ids did not round-trip: %v / %v", oldest.GivenAssetIDs, oldest.ReceivedAssetIDs)
	}
}

func TestRecentTradesScopedToAccount(t *testing.T) {
	service := testService(t)
	ctx := context.Background()

	if err := service.RecordTrade(ctx, matcher.TradeRecord{PartnerID: 42, OfferIDs: []uint64{1}}); err != nil {
		t.Fatal(err)
	}

	other := NewService(service.db, 999)
	trades, err := other.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("recent trades failed: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected no trades for the other account, got %d", len(trades))
	}
}

func TestRecordAnnouncement(t *testing.T) {
	service := testService(t)

	if err := service.RecordAnnouncement(context.Background(), 150, 12); err != nil {
		t.Fatalf("record announcement failed: %v", err)
	}

	var count int
	if err := service.db.Conn().QueryRow(
		`SELECT COUNT(*) FROM announcements WHERE account_steam_id = ?`, service.steamID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 announcement row, got %d", count)
	}
}
