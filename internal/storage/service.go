package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/matcher"
)

// Service provides high-level persistence for one account's matching
// activity. It satisfies matcher.TradeRecorder.
type Service struct {
	db      *DB
	steamID uint64
}

// NewService creates a storage service scoped to the given account.
func NewService(db *DB, steamID uint64) *Service {
	return &Service{db: db, steamID: steamID}
}

// RecordTrade stores one dispatched trade.
func (s *Service) RecordTrade(ctx context.Context, record matcher.TradeRecord) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO trades (account_steam_id, partner_steam_id, offer_ids, given_asset_ids, received_asset_ids, confirmed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.steamID, record.PartnerID,
		joinIDs(record.OfferIDs), joinIDs(record.GivenAssetIDs), joinIDs(record.ReceivedAssetIDs),
		record.Confirmed)
	if err != nil {
		return fmt.Errorf("failed to store trade: %w", err)
	}
	return nil
}

// RecordAnnouncement stores one successful directory announcement.
func (s *Service) RecordAnnouncement(ctx context.Context, itemsCount, gamesCount int) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO announcements (account_steam_id, items_count, games_count) VALUES (?, ?, ?)`,
		s.steamID, itemsCount, gamesCount)
	if err != nil {
		return fmt.Errorf("failed to store announcement: %w", err)
	}
	return nil
}

// Trade is one stored trade row.
type Trade struct {
	ID               int64     `json:"id"`
	PartnerSteamID   uint64    `json:"partner_steam_id"`
	OfferIDs         []uint64  `json:"offer_ids"`
	GivenAssetIDs    []uint64  `json:"given_asset_ids"`
	ReceivedAssetIDs []uint64  `json:"received_asset_ids"`
	Confirmed        bool      `json:"confirmed"`
	CreatedAt        time.Time `json:"created_at"`
}

// RecentTrades returns the account's newest trades, most recent first.
func (s *Service) RecentTrades(ctx context.Context, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, partner_steam_id, offer_ids, given_asset_ids, received_asset_ids, confirmed, created_at
		 FROM trades WHERE account_steam_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		s.steamID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trades []*Trade
	for rows.Next() {
		var trade Trade
		var offers, given, received string
		if err := rows.Scan(&trade.ID, &trade.PartnerSteamID, &offers, &given, &received, &trade.Confirmed, &trade.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trade.OfferIDs = splitIDs(offers)
		trade.GivenAssetIDs = splitIDs(given)
		trade.ReceivedAssetIDs = splitIDs(received)
		trades = append(trades, &trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return trades, nil
}

func joinIDs(ids []uint64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatUint(id, 10))
	}
	return strings.Join(parts, ",")
}

func splitIDs(joined string) []uint64 {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	ids := make([]uint64, 0, len(parts))
	for _, part := range parts {
		if id, err := strconv.ParseUint(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
