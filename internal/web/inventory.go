package web

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
)

// MaxItemsInSingleInventoryRequest is the page size for inventory fetches.
const MaxItemsInSingleInventoryRequest = 5000

// CommunityAppID hosts trading cards, emoticons and backgrounds.
const CommunityAppID = 753

// CommunityContextID is the community items context within CommunityAppID.
const CommunityContextID = 6

// InventoryFilter restricts which assets an inventory fetch admits. Nil
// filter admits everything.
type InventoryFilter struct {
	MarketableOnly bool
	TradableOnly   bool
	RealAppIDs     map[uint32]bool
	Types          map[steam.ItemType]bool
	Sets           map[steam.SetKey]bool
}

func (f *InventoryFilter) admits(asset *steam.Asset) bool {
	if f == nil {
		return true
	}
	if f.MarketableOnly && !asset.Marketable {
		return false
	}
	if f.TradableOnly && !asset.Tradable {
		return false
	}
	if len(f.RealAppIDs) > 0 && !f.RealAppIDs[asset.RealAppID] {
		return false
	}
	if len(f.Types) > 0 && !f.Types[asset.Type] {
		return false
	}
	if len(f.Sets) > 0 && !f.Sets[asset.Set()] {
		return false
	}
	return true
}

type inventoryAsset struct {
	AppID      uint32 `json:"appid"`
	ContextID  string `json:"contextid"`
	AssetID    string `json:"assetid"`
	ClassID    string `json:"classid"`
	InstanceID string `json:"instanceid"`
	Amount     string `json:"amount"`
}

type inventoryTag struct {
	Category     string `json:"category"`
	InternalName string `json:"internal_name"`
}

type inventoryDescription struct {
	ClassID        string         `json:"classid"`
	InstanceID     string         `json:"instanceid"`
	MarketHashName string         `json:"market_hash_name"`
	Marketable     uint8          `json:"marketable"`
	Tradable       uint8          `json:"tradable"`
	Tags           []inventoryTag `json:"tags"`
}

type inventoryPage struct {
	Assets              []inventoryAsset       `json:"assets"`
	Descriptions        []inventoryDescription `json:"descriptions"`
	MoreItems           uint8                  `json:"more_items"`
	LastAssetID         string                 `json:"last_assetid"`
	TotalInventoryCount uint32                 `json:"total_inventory_count"`
	Success             int                    `json:"success"`
}

// Inventory fetches all pages of an inventory, decorating each asset from
// its description and admitting only those the filter accepts. A process-wide
// semaphore serialises inventory reads across accounts.
func (c *Client) Inventory(ctx context.Context, steamID uint64, appID uint32, contextID uint64, filter *InventoryFilter) ([]*steam.Asset, error) {
	if steamID == 0 {
		c.logger.Error("please report: inventory fetch without steamID")
		return nil, fmt.Errorf("steamID is required")
	}

	select {
	case c.inventorySem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		if c.inventoryDelay > 0 {
			time.AfterFunc(c.inventoryDelay, func() { <-c.inventorySem })
		} else {
			<-c.inventorySem
		}
	}()

	var assets []*steam.Asset
	descriptions := make(map[uint64]*steam.Asset)

	startAssetID := ""
	for {
		query := url.Values{
			"count": {strconv.Itoa(MaxItemsInSingleInventoryRequest)},
			"l":     {"english"},
		}
		if startAssetID != "" {
			query.Set("start_assetid", startAssetID)
		}

		resp, err := c.Get(ctx, Request{
			Host:  HostCommunity,
			Path:  fmt.Sprintf("/inventory/%d/%d/%d", steamID, appID, contextID),
			Query: query,
		})
		if err != nil {
			return nil, fmt.Errorf("inventory fetch failed: %w", err)
		}
		if !resp.OK() {
			return nil, fmt.Errorf("inventory fetch returned status %d", resp.StatusCode)
		}

		var page inventoryPage
		if err := resp.JSON(&page); err != nil {
			return nil, err
		}
		if page.Success != 1 {
			return nil, fmt.Errorf("inventory fetch reported failure")
		}

		for i := range page.Descriptions {
			description := &page.Descriptions[i]
			classID, err := strconv.ParseUint(description.ClassID, 10, 64)
			if err != nil || classID == 0 {
				c.logger.Error("please report: description with invalid classID",
					"classID", description.ClassID)
				continue
			}
			if _, ok := descriptions[classID]; ok {
				continue
			}
			descriptions[classID] = c.parseDescription(classID, description)
		}

		for _, raw := range page.Assets {
			asset, err := c.decorateAsset(raw, descriptions)
			if err != nil {
				c.logger.Error("please report: undecoratable asset",
					"assetID", raw.AssetID, "error", err)
				continue
			}
			if filter.admits(asset) {
				assets = append(assets, asset)
			}
		}

		if page.MoreItems == 0 {
			break
		}
		if page.LastAssetID == "" || page.LastAssetID == "0" {
			return nil, fmt.Errorf("inventory reported more items without a cursor")
		}
		startAssetID = page.LastAssetID
	}

	return assets, nil
}

// decorateAsset merges a raw asset row with its parsed description.
func (c *Client) decorateAsset(raw inventoryAsset, descriptions map[uint64]*steam.Asset) (*steam.Asset, error) {
	classID, err := strconv.ParseUint(raw.ClassID, 10, 64)
	if err != nil || classID == 0 {
		return nil, fmt.Errorf("invalid classID %q", raw.ClassID)
	}
	assetID, err := strconv.ParseUint(raw.AssetID, 10, 64)
	if err != nil || assetID == 0 {
		return nil, fmt.Errorf("invalid assetID %q", raw.AssetID)
	}
	contextID, err := strconv.ParseUint(raw.ContextID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid contextID %q", raw.ContextID)
	}
	instanceID, _ := strconv.ParseUint(raw.InstanceID, 10, 64)
	amount, err := strconv.ParseUint(raw.Amount, 10, 32)
	if err != nil || amount == 0 {
		return nil, fmt.Errorf("invalid amount %q", raw.Amount)
	}

	description, ok := descriptions[classID]
	if !ok {
		return nil, fmt.Errorf("no description for classID %d", classID)
	}

	asset := *description
	asset.AppID = raw.AppID
	asset.ContextID = contextID
	asset.AssetID = assetID
	asset.InstanceID = instanceID
	asset.Amount = uint32(amount)
	return &asset, nil
}

// parseDescription extracts type, rarity and real app from description tags.
func (c *Client) parseDescription(classID uint64, description *inventoryDescription) *steam.Asset {
	asset := &steam.Asset{
		ClassID:    classID,
		Marketable: description.Marketable == 1,
		Tradable:   description.Tradable == 1,
		Type:       steam.ItemTypeUnknown,
		Rarity:     steam.RarityUnknown,
	}

	var itemClass, cardBorder string
	for _, tag := range description.Tags {
		switch tag.Category {
		case "item_class":
			itemClass = tag.InternalName
		case "cardborder":
			cardBorder = tag.InternalName
		case "droprate":
			asset.Rarity = parseRarity(tag.InternalName)
			if asset.Rarity == steam.RarityUnknown {
				c.logger.Error("please report: unknown droprate tag",
					"classID", classID, "tag", tag.InternalName)
			}
		case "Game":
			if appID, ok := strings.CutPrefix(tag.InternalName, "app_"); ok {
				if parsed, err := strconv.ParseUint(appID, 10, 32); err == nil {
					asset.RealAppID = uint32(parsed)
				}
			}
		}
	}

	asset.Type = parseItemType(itemClass, cardBorder)
	if asset.Type == steam.ItemTypeUnknown && itemClass != "" {
		c.logger.Error("please report: unknown item_class tag",
			"classID", classID, "tag", itemClass)
	}

	// The hash name leads with the real appID for community items; the Game
	// tag is the fallback when the prefix is missing.
	if prefix, _, found := strings.Cut(description.MarketHashName, "-"); found {
		if parsed, err := strconv.ParseUint(prefix, 10, 32); err == nil && parsed > 0 {
			asset.RealAppID = uint32(parsed)
		}
	}

	return asset
}

func parseItemType(itemClass, cardBorder string) steam.ItemType {
	switch itemClass {
	case "item_class_2":
		switch cardBorder {
		case "cardborder_0":
			return steam.ItemTypeTradingCard
		case "cardborder_1":
			return steam.ItemTypeFoilTradingCard
		default:
			return steam.ItemTypeUnknown
		}
	case "item_class_3":
		return steam.ItemTypeProfileBackground
	case "item_class_4":
		return steam.ItemTypeEmoticon
	case "item_class_5":
		return steam.ItemTypeBoosterPack
	case "item_class_6":
		return steam.ItemTypeConsumable
	case "item_class_7":
		return steam.ItemTypeSteamGems
	case "item_class_8":
		return steam.ItemTypeProfileModifier
	case "item_class_10":
		return steam.ItemTypeSaleItem
	case "item_class_11":
		return steam.ItemTypeSticker
	case "item_class_12":
		return steam.ItemTypeChatEffect
	case "item_class_13":
		return steam.ItemTypeMiniProfileBackground
	case "item_class_14":
		return steam.ItemTypeAvatarProfileFrame
	case "item_class_15":
		return steam.ItemTypeAnimatedAvatar
	case "item_class_16":
		return steam.ItemTypeKeyboardSkin
	case "item_class_17":
		return steam.ItemTypeStartupVideo
	default:
		return steam.ItemTypeUnknown
	}
}

func parseRarity(dropRate string) steam.Rarity {
	switch dropRate {
	case "droprate_0":
		return steam.RarityCommon
	case "droprate_1":
		return steam.RarityUncommon
	case "droprate_2":
		return steam.RarityRare
	default:
		return steam.RarityUnknown
	}
}
