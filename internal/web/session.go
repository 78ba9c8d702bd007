package web

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ramonehamilton/Trade-Companion/internal/steam"
)

var (
	errSessionExpired  = errors.New("session expired")
	errProfileRedirect = errors.New("redirected to own profile")

	// ErrNetworkFailure marks tri-valued checks whose outcome is unknown
	// rather than negative.
	ErrNetworkFailure = errors.New("network failure")
)

// sessionProbePath is a cheap, stable page used to test session validity.
const sessionProbePath = "/my/"

// sessionState tracks session validity probing and refresh serialisation.
//
// The expiry predicate is lastCheck != lastRefresh: a probe that observes a
// valid session advances both, a probe that observes an expired one advances
// only lastCheck.
type sessionState struct {
	mu          sync.Mutex
	lastCheck   time.Time
	lastRefresh time.Time

	refreshMu sync.Mutex
}

// validityWindow is how long a probe outcome stays trusted.
func (c *Client) validityWindow() time.Duration {
	return c.timeout / 6
}

// isSessionExpiredURL reports whether a final URL indicates a dead session.
func isSessionExpiredURL(u *url.URL) bool {
	if u == nil {
		return true
	}
	return strings.HasPrefix(u.Path, "/login") || u.Host == hostFallback
}

// ensureSession preemptively probes session validity and refreshes when the
// probe says the session is gone. Outcomes are cached for the validity
// window so request bursts share one probe.
func (c *Client) ensureSession(ctx context.Context) error {
	now := time.Now()

	c.session.mu.Lock()
	if now.Before(c.session.lastCheck.Add(c.validityWindow())) {
		expired := !c.session.lastCheck.Equal(c.session.lastRefresh)
		c.session.mu.Unlock()
		if !expired {
			return nil
		}
		if c.refreshSession(ctx) {
			return nil
		}
		return errSessionExpired
	}
	c.session.mu.Unlock()

	// The probe goes through send directly: it must observe the final URL
	// itself rather than have execute's anomaly handling interpret it.
	resp, err := c.send(ctx, http.MethodHead, Request{
		Host: HostCommunity,
		Path: sessionProbePath,
	}, nil)

	probeTime := time.Now()
	c.session.mu.Lock()
	c.session.lastCheck = probeTime
	valid := err == nil && !isSessionExpiredURL(resp.FinalURL)
	if valid {
		c.session.lastRefresh = probeTime
	}
	c.session.mu.Unlock()

	if valid {
		return nil
	}
	if c.refreshSession(ctx) {
		return nil
	}
	return errSessionExpired
}

// refreshSession renegotiates the session through the account manager. It is
// single-flight per account and rate limited by the validity window.
func (c *Client) refreshSession(ctx context.Context) bool {
	if !c.account.IsConnected() || !c.account.IsLoggedOn() {
		return false
	}

	c.session.refreshMu.Lock()
	defer c.session.refreshMu.Unlock()

	c.session.mu.Lock()
	lastRefresh := c.session.lastRefresh
	c.session.mu.Unlock()

	if time.Now().Before(lastRefresh.Add(c.validityWindow())) {
		// Someone else refreshed while we waited for the guard.
		return true
	}

	if !c.account.RefreshSession(ctx) {
		c.logger.Warn("session refresh failed")
		return false
	}

	refreshTime := time.Now()
	c.session.mu.Lock()
	c.session.lastCheck = refreshTime
	c.session.lastRefresh = refreshTime
	c.session.mu.Unlock()
	return true
}

// Universe identifies the platform universe a session belongs to.
type Universe byte

const (
	UniverseInvalid Universe = iota
	UniversePublic
	UniverseBeta
	UniverseInternal
	UniverseDev
)

// universePublicKeyPEM is the platform's RSA public key for the public
// universe, used to wrap the session key during session init.
const universePublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQCnXEeqTy+/FJS6OeGbuFZCvOlI
BvQe8M7lX+x0B5c5lqKdcVCu+588UA9DUrTaeqFm/z13osErttUeF7sYLJDbPshC
yNO6tcUTswzPManZb5nRduzYnFu+hQWZ/fv3wxsp1aRJcnI+KZPgkyfQgiA+WlgD
5mvLA5Y+AZpRhkBcrQIDAQAB
-----END PUBLIC KEY-----`

func publicKeyForUniverse(universe Universe) (*rsa.PublicKey, error) {
	switch universe {
	case UniversePublic, UniverseBeta, UniverseInternal, UniverseDev:
		block, _ := pem.Decode([]byte(universePublicKeyPEM))
		if block == nil {
			return nil, fmt.Errorf("failed to decode universe key")
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse universe key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("universe key is not RSA")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unknown universe %d", universe)
	}
}

// InitSession negotiates web session tokens from a server nonce and plants
// them across the primary hosts. When a 4-digit parental code is given, the
// parental lock is lifted on the community and store hosts afterwards.
func (c *Client) InitSession(ctx context.Context, universe Universe, serverNonce string, parentalCode string) error {
	steamID := c.account.SteamID()
	if steamID == 0 {
		c.logger.Error("please report: session init without steamID")
		return fmt.Errorf("steamID is required")
	}
	if serverNonce == "" {
		c.logger.Error("please report: session init without nonce")
		return fmt.Errorf("server nonce is required")
	}

	publicKey, err := publicKeyForUniverse(universe)
	if err != nil {
		return err
	}

	sessionKey := make([]byte, 32)
	if _, err := rand.Read(sessionKey); err != nil {
		return fmt.Errorf("failed to generate session key: %w", err)
	}

	encryptedSessionKey, err := rsa.EncryptPKCS1v15(rand.Reader, publicKey, sessionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt session key: %w", err)
	}

	encryptedNonce, err := symmetricEncrypt(sessionKey, []byte(serverNonce))
	if err != nil {
		return fmt.Errorf("failed to encrypt nonce: %w", err)
	}

	resp, err := c.Post(ctx, Request{
		Host: HostWebAPI,
		Path: "/ISteamUserAuth/AuthenticateUser/v1/",
		Form: url.Values{
			"steamid":            {strconv.FormatUint(steamID, 10)},
			"sessionkey":         {base64.StdEncoding.EncodeToString(encryptedSessionKey)},
			"encrypted_loginkey": {base64.StdEncoding.EncodeToString(encryptedNonce)},
		},
		MaxTries:         2,
		SkipSessionCheck: true,
	})
	if err != nil {
		return fmt.Errorf("authenticate user failed: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("authenticate user returned status %d", resp.StatusCode)
	}

	var auth struct {
		AuthenticateUser struct {
			Token       string `json:"token"`
			TokenSecure string `json:"tokensecure"`
		} `json:"authenticateuser"`
	}
	if err := resp.JSON(&auth); err != nil {
		return err
	}
	if auth.AuthenticateUser.Token == "" || auth.AuthenticateUser.TokenSecure == "" {
		return fmt.Errorf("authenticate user returned no tokens")
	}

	c.plantSessionCookies(steamID, auth.AuthenticateUser.Token, auth.AuthenticateUser.TokenSecure)

	initTime := time.Now()
	c.session.mu.Lock()
	c.session.lastCheck = initTime
	c.session.lastRefresh = initTime
	c.session.mu.Unlock()

	if len(parentalCode) == 4 {
		if err := c.unlockParental(ctx, parentalCode); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) plantSessionCookies(steamID uint64, token, tokenSecure string) {
	sessionID := steam.SessionID(steamID)
	for _, host := range []string{HostCommunity, HostStore, HostHelp} {
		u := &url.URL{Scheme: "https", Host: host, Path: "/"}
		c.jar.SetCookies(u, []*http.Cookie{
			{Name: "sessionid", Value: sessionID, Domain: host},
			{Name: "steamLogin", Value: fmt.Sprintf("%d||%s", steamID, token), Domain: host},
			{Name: "steamLoginSecure", Value: fmt.Sprintf("%d||%s", steamID, tokenSecure), Domain: host},
			{Name: "timezoneOffset", Value: "0,0", Domain: host},
		})
	}
}

func (c *Client) unlockParental(ctx context.Context, code string) error {
	for _, host := range []string{HostCommunity, HostStore} {
		resp, err := c.Post(ctx, Request{
			Host:             host,
			Path:             "/parental/ajaxunlock",
			Form:             url.Values{"pin": {code}},
			Session:          SessionLowercase,
			MaxTries:         2,
			SkipSessionCheck: true,
		})
		if err != nil {
			return fmt.Errorf("parental unlock on %s failed: %w", host, err)
		}
		if !resp.OK() {
			return fmt.Errorf("parental unlock on %s returned status %d", host, resp.StatusCode)
		}
	}
	return nil
}

// symmetricEncrypt encrypts plaintext with AES-256-CBC. The random IV is
// ECB-encrypted under the same key and prepended, matching the platform's
// session handshake scheme.
func symmetricEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	encryptedIV := make([]byte, aes.BlockSize)
	block.Encrypt(encryptedIV, iv)

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return append(encryptedIV, ciphertext...), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}
