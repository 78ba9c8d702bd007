// Package steam holds the domain types shared by the web client and the
// matching engine: inventory assets, set keys, and per-account trading
// preferences.
package steam

import (
	"encoding/base64"
	"strconv"
)

// ItemType classifies a community inventory item.
type ItemType byte

const (
	ItemTypeUnknown ItemType = iota
	ItemTypeBoosterPack
	ItemTypeEmoticon
	ItemTypeFoilTradingCard
	ItemTypeProfileBackground
	ItemTypeTradingCard
	ItemTypeSteamGems
	ItemTypeSaleItem
	ItemTypeConsumable
	ItemTypeProfileModifier
	ItemTypeSticker
	ItemTypeChatEffect
	ItemTypeMiniProfileBackground
	ItemTypeAvatarProfileFrame
	ItemTypeAnimatedAvatar
	ItemTypeKeyboardSkin
	ItemTypeStartupVideo
)

func (t ItemType) String() string {
	switch t {
	case ItemTypeBoosterPack:
		return "BoosterPack"
	case ItemTypeEmoticon:
		return "Emoticon"
	case ItemTypeFoilTradingCard:
		return "FoilTradingCard"
	case ItemTypeProfileBackground:
		return "ProfileBackground"
	case ItemTypeTradingCard:
		return "TradingCard"
	case ItemTypeSteamGems:
		return "SteamGems"
	case ItemTypeSaleItem:
		return "SaleItem"
	case ItemTypeConsumable:
		return "Consumable"
	case ItemTypeProfileModifier:
		return "ProfileModifier"
	case ItemTypeSticker:
		return "Sticker"
	case ItemTypeChatEffect:
		return "ChatEffect"
	case ItemTypeMiniProfileBackground:
		return "MiniProfileBackground"
	case ItemTypeAvatarProfileFrame:
		return "AvatarProfileFrame"
	case ItemTypeAnimatedAvatar:
		return "AnimatedAvatar"
	case ItemTypeKeyboardSkin:
		return "KeyboardSkin"
	case ItemTypeStartupVideo:
		return "StartupVideo"
	default:
		return "Unknown"
	}
}

// Rarity is the drop rarity of a community item.
type Rarity byte

const (
	RarityUnknown Rarity = iota
	RarityCommon
	RarityUncommon
	RarityRare
)

func (r Rarity) String() string {
	switch r {
	case RarityCommon:
		return "Common"
	case RarityUncommon:
		return "Uncommon"
	case RarityRare:
		return "Rare"
	default:
		return "Unknown"
	}
}

// AcceptedMatchableTypes are the item types the matching directory accepts.
var AcceptedMatchableTypes = map[ItemType]bool{
	ItemTypeEmoticon:          true,
	ItemTypeFoilTradingCard:   true,
	ItemTypeProfileBackground: true,
	ItemTypeTradingCard:       true,
}

// Asset is a single inventory item instance. Assets sharing a ClassID are
// interchangeable for matching purposes.
type Asset struct {
	AppID      uint32
	ContextID  uint64
	AssetID    uint64
	ClassID    uint64
	InstanceID uint64
	Amount     uint32

	// RealAppID is the app the item belongs to (booster packs and cards of
	// app X live in the community app's inventory, not X's).
	RealAppID uint32

	Type       ItemType
	Rarity     Rarity
	Marketable bool
	Tradable   bool
}

// SetKey identifies a matching set. All matching decisions happen within a
// single set key.
type SetKey struct {
	RealAppID uint32
	Type      ItemType
	Rarity    Rarity
}

// Set returns the asset's set key.
func (a *Asset) Set() SetKey {
	return SetKey{RealAppID: a.RealAppID, Type: a.Type, Rarity: a.Rarity}
}

// InventoryState maps set keys to per-class copy counts.
type InventoryState map[SetKey]map[uint64]uint32

// Clone returns a deep copy of the state.
func (s InventoryState) Clone() InventoryState {
	out := make(InventoryState, len(s))
	for set, classes := range s {
		inner := make(map[uint64]uint32, len(classes))
		for classID, count := range classes {
			inner[classID] = count
		}
		out[set] = inner
	}
	return out
}

// Add records count copies of classID in the given set.
func (s InventoryState) Add(set SetKey, classID uint64, count uint32) {
	classes, ok := s[set]
	if !ok {
		classes = make(map[uint64]uint32)
		s[set] = classes
	}
	classes[classID] += count
}

// HasDuplicates reports whether any class in any set has two or more copies.
func (s InventoryState) HasDuplicates() bool {
	for _, classes := range s {
		for _, count := range classes {
			if count > 1 {
				return true
			}
		}
	}
	return false
}

// InventoryStates derives the full and tradable states from a list of assets.
func InventoryStates(assets []*Asset) (full, tradable InventoryState) {
	full = make(InventoryState)
	tradable = make(InventoryState)
	for _, asset := range assets {
		set := asset.Set()
		full.Add(set, asset.ClassID, asset.Amount)
		if asset.Tradable {
			tradable.Add(set, asset.ClassID, asset.Amount)
		}
	}
	return full, tradable
}

// TradingPreferences is a bit set of per-account trading options.
type TradingPreferences byte

const (
	TradingPreferenceNone              TradingPreferences = 0
	TradingPreferenceAcceptDonations   TradingPreferences = 1 << 0
	TradingPreferenceSteamTradeMatcher TradingPreferences = 1 << 1
	TradingPreferenceMatchEverything   TradingPreferences = 1 << 2
	TradingPreferenceMatchActively     TradingPreferences = 1 << 3
)

// Has reports whether all bits of pref are set.
func (p TradingPreferences) Has(pref TradingPreferences) bool {
	return p&pref == pref
}

// SessionID encodes a steamID the way the community site expects its
// sessionid cookie after token negotiation.
func SessionID(steamID uint64) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatUint(steamID, 10)))
}

// AccountID extracts the 32-bit account part of a 64-bit steamID.
func AccountID(steamID uint64) uint32 {
	return uint32(steamID & 0xFFFFFFFF)
}
