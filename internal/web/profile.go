package web

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

var tradeTokenPattern = regexp.MustCompile(`tradeoffer/new/\?partner=\d+(?:&|&amp;)token=([\w-]+)`)

// TradeToken scrapes the account's trade offer access token. The error
// return distinguishes network failure from a missing token.
func (c *Client) TradeToken(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, Request{
		Host: HostCommunity,
		Path: "/tradeoffers/privacy",
		Query: url.Values{
			"l": {"english"},
		},
	})
	if err != nil {
		return "", ErrNetworkFailure
	}
	if !resp.OK() {
		return "", ErrNetworkFailure
	}

	match := tradeTokenPattern.FindStringSubmatch(resp.HTML())
	if match == nil {
		return "", fmt.Errorf("no trade token on privacy page")
	}
	return match[1], nil
}

// profileXML is the subset of the public profile document we care about.
type profileXML struct {
	PrivacyState      string `xml:"privacyState"`
	VisibilityState   uint8  `xml:"visibilityState"`
	TradeBanState     string `xml:"tradeBanState"`
	IsLimitedAccount  uint8  `xml:"isLimitedAccount"`
	CommentPermission uint8  `xml:"commentPermission"`
}

// HasPublicInventory reports whether the account's profile and inventory are
// visible to anyone. Tri-valued: a network failure surfaces as an error.
func (c *Client) HasPublicInventory(ctx context.Context) (bool, error) {
	resp, err := c.Get(ctx, Request{
		Host: HostCommunity,
		Path: fmt.Sprintf("/profiles/%d", c.account.SteamID()),
		Query: url.Values{
			"xml": {"1"},
		},
	})
	if err != nil {
		return false, ErrNetworkFailure
	}
	if !resp.OK() {
		return false, ErrNetworkFailure
	}

	var profile profileXML
	if err := resp.XML(&profile); err != nil {
		return false, ErrNetworkFailure
	}
	return profile.PrivacyState == "public", nil
}

// JoinGroup joins the given community group. Best-effort; callers log and
// move on when it fails.
func (c *Client) JoinGroup(ctx context.Context, groupID uint64) error {
	if groupID == 0 {
		c.logger.Error("please report: join group without groupID")
		return fmt.Errorf("groupID is required")
	}

	resp, err := c.Post(ctx, Request{
		Host: HostCommunity,
		Path: fmt.Sprintf("/gid/%d", groupID),
		Form: url.Values{
			"action": {"join"},
		},
		Session: SessionPascalCase,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("join group returned status %d", resp.StatusCode)
	}
	return nil
}

// RedeemWalletCode validates and redeems a wallet code on the store.
func (c *Client) RedeemWalletCode(ctx context.Context, code string) error {
	if code == "" {
		c.logger.Error("please report: empty wallet code")
		return fmt.Errorf("wallet code is required")
	}

	resp, err := c.Post(ctx, Request{
		Host: HostStore,
		Path: "/account/ajaxredeemwalletcode",
		Form: url.Values{
			"wallet_code": {code},
		},
		Session: SessionLowercase,
	})
	if err != nil {
		return fmt.Errorf("wallet redeem failed: %w", err)
	}

	var redeem struct {
		Success int `json:"success"`
		Detail  int `json:"detail"`
	}
	if err := resp.JSON(&redeem); err != nil {
		return err
	}
	if redeem.Success != 1 {
		return fmt.Errorf("wallet redeem rejected with detail %d", redeem.Detail)
	}
	return nil
}

// AcceptDigitalGiftCard unpacks a digital gift card into the wallet.
func (c *Client) AcceptDigitalGiftCard(ctx context.Context, giftCardID uint64) error {
	if giftCardID == 0 {
		c.logger.Error("please report: accept gift card without id")
		return fmt.Errorf("giftCardID is required")
	}

	resp, err := c.Post(ctx, Request{
		Host: HostStore,
		Path: fmt.Sprintf("/gifts/%d/unpack", giftCardID),
		Form: url.Values{
			"giftcardid": {strconv.FormatUint(giftCardID, 10)},
		},
		Session: SessionLowercase,
	})
	if err != nil {
		return fmt.Errorf("gift card unpack failed: %w", err)
	}

	var unpack struct {
		Success int `json:"success"`
	}
	if err := resp.JSON(&unpack); err != nil {
		return err
	}
	if unpack.Success != 1 {
		return fmt.Errorf("gift card unpack rejected")
	}
	return nil
}
