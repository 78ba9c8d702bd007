package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
)

// Platform trade limits.
const (
	// MaxItemsPerTrade is the platform cap on assets in a single offer.
	MaxItemsPerTrade = 255

	// MaxTradesPerAccount is the platform cap on concurrently pending
	// offers we create per partner pass.
	MaxTradesPerAccount = 5
)

// TradeOfferResult aggregates the outcome of a (possibly split) submission.
type TradeOfferResult struct {
	OfferIDs                   []uint64
	MobileConfirmationRequired bool
}

type tradeOfferAsset struct {
	AppID     uint32 `json:"appid"`
	ContextID string `json:"contextid"`
	Amount    uint32 `json:"amount"`
	AssetID   string `json:"assetid"`
}

type tradeOfferSide struct {
	Assets   []tradeOfferAsset `json:"assets"`
	Currency []struct{}        `json:"currency"`
	Ready    bool              `json:"ready"`
}

type tradeOfferBody struct {
	NewVersion bool           `json:"newversion"`
	Version    int            `json:"version"`
	Me         tradeOfferSide `json:"me"`
	Them       tradeOfferSide `json:"them"`
}

type tradeOfferResponse struct {
	TradeOfferID            string `json:"tradeofferid"`
	NeedsMobileConfirmation bool   `json:"needs_mobile_confirmation"`
	StrError                string `json:"strError"`
}

// SendTradeOffer submits an item-for-item offer to partnerID. When the total
// asset count exceeds MaxItemsPerTrade and forceSingleOffer is false, the
// offer is split into up to MaxTradesPerAccount sub-offers.
func (c *Client) SendTradeOffer(ctx context.Context, partnerID uint64, itemsToGive, itemsToReceive []*steam.Asset, tradeToken string, forceSingleOffer bool) (*TradeOfferResult, error) {
	if partnerID == 0 {
		c.logger.Error("please report: trade offer without partnerID")
		return nil, fmt.Errorf("partnerID is required")
	}
	if len(itemsToGive) == 0 && len(itemsToReceive) == 0 {
		c.logger.Error("please report: empty trade offer", "partnerID", partnerID)
		return nil, fmt.Errorf("trade offer has no items")
	}

	giveChunks, receiveChunks := splitTrade(itemsToGive, itemsToReceive, forceSingleOffer)

	result := &TradeOfferResult{}
	for i := range giveChunks {
		offerID, needsConfirmation, err := c.sendSingleTradeOffer(ctx, partnerID, giveChunks[i], receiveChunks[i], tradeToken)
		if err != nil {
			return nil, err
		}
		result.OfferIDs = append(result.OfferIDs, offerID)
		if needsConfirmation {
			result.MobileConfirmationRequired = true
		}
	}
	return result, nil
}

// splitTrade partitions the two asset lists into parallel chunks that each
// fit in one offer. The number of chunks is capped at MaxTradesPerAccount;
// when more would be needed, every asset is still spread over the capped
// chunks, which then carry more than MaxItemsPerTrade items each.
func splitTrade(give, receive []*steam.Asset, forceSingleOffer bool) ([][]*steam.Asset, [][]*steam.Asset) {
	total := len(give) + len(receive)
	if forceSingleOffer || total <= MaxItemsPerTrade {
		return [][]*steam.Asset{give}, [][]*steam.Asset{receive}
	}

	trades := (total + MaxItemsPerTrade - 1) / MaxItemsPerTrade
	if trades > MaxTradesPerAccount {
		trades = MaxTradesPerAccount
	}

	giveChunks := make([][]*steam.Asset, trades)
	receiveChunks := make([][]*steam.Asset, trades)
	for i, asset := range give {
		slot := i % trades
		giveChunks[slot] = append(giveChunks[slot], asset)
	}
	for i, asset := range receive {
		slot := i % trades
		receiveChunks[slot] = append(receiveChunks[slot], asset)
	}
	return giveChunks, receiveChunks
}

func (c *Client) sendSingleTradeOffer(ctx context.Context, partnerID uint64, give, receive []*steam.Asset, tradeToken string) (uint64, bool, error) {
	offer := tradeOfferBody{
		NewVersion: true,
		Version:    2,
		Me:         tradeOfferSide{Assets: encodeTradeAssets(give), Currency: []struct{}{}},
		Them:       tradeOfferSide{Assets: encodeTradeAssets(receive), Currency: []struct{}{}},
	}

	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encode trade offer: %w", err)
	}

	createParams := "{}"
	if tradeToken != "" {
		encoded, err := json.Marshal(map[string]string{"trade_offer_access_token": tradeToken})
		if err != nil {
			return 0, false, fmt.Errorf("failed to encode trade params: %w", err)
		}
		createParams = string(encoded)
	}

	referer := fmt.Sprintf("https://%s/tradeoffer/new/?partner=%d", HostCommunity, steam.AccountID(partnerID))
	if tradeToken != "" {
		referer += "&token=" + url.QueryEscape(tradeToken)
	}

	resp, err := c.Post(ctx, Request{
		Host: HostCommunity,
		Path: "/tradeoffer/new/send",
		Form: url.Values{
			"serverid":                  {"1"},
			"partner":                   {strconv.FormatUint(partnerID, 10)},
			"tradeoffermessage":         {""},
			"json_tradeoffer":           {string(offerJSON)},
			"trade_offer_create_params": {createParams},
		},
		Session: SessionLowercase,
		Referer: referer,
	})
	if err != nil {
		return 0, false, fmt.Errorf("trade offer submission failed: %w", err)
	}
	if !resp.OK() {
		return 0, false, fmt.Errorf("trade offer submission returned status %d", resp.StatusCode)
	}

	var decoded tradeOfferResponse
	if err := resp.JSON(&decoded); err != nil {
		return 0, false, err
	}
	if decoded.StrError != "" {
		return 0, false, fmt.Errorf("trade offer rejected: %s", decoded.StrError)
	}

	offerID, err := strconv.ParseUint(decoded.TradeOfferID, 10, 64)
	if err != nil || offerID == 0 {
		return 0, false, fmt.Errorf("trade offer response without offer id")
	}
	return offerID, decoded.NeedsMobileConfirmation, nil
}

func encodeTradeAssets(assets []*steam.Asset) []tradeOfferAsset {
	encoded := make([]tradeOfferAsset, 0, len(assets))
	for _, asset := range assets {
		encoded = append(encoded, tradeOfferAsset{
			AppID:     asset.AppID,
			ContextID: strconv.FormatUint(asset.ContextID, 10),
			Amount:    asset.Amount,
			AssetID:   strconv.FormatUint(asset.AssetID, 10),
		})
	}
	return encoded
}
