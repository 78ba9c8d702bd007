package web

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestIsSessionExpiredURL(t *testing.T) {
	tests := []struct {
		raw     string
		expired bool
	}{
		{"https://steamcommunity.com/my/", false},
		{"https://steamcommunity.com/login/home", true},
		{"https://lostauth/", true},
		{"https://store.steampowered.com/account", false},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatalf("bad test URL %q: %v", tt.raw, err)
		}
		if got := isSessionExpiredURL(u); got != tt.expired {
			t.Errorf("%s: expected expired=%v, got %v", tt.raw, tt.expired, got)
		}
	}
	if !isSessionExpiredURL(nil) {
		t.Error("nil URL counts as expired")
	}
}

func TestSymmetricEncryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("server nonce value")
	encrypted, err := symmetricEncrypt(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(encrypted)%aes.BlockSize != 0 {
		t.Fatalf("ciphertext length %d is not block aligned", len(encrypted))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}

	iv := make([]byte, aes.BlockSize)
	block.Decrypt(iv, encrypted[:aes.BlockSize])

	body := encrypted[aes.BlockSize:]
	decrypted := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, body)

	padding := int(decrypted[len(decrypted)-1])
	if padding < 1 || padding > aes.BlockSize {
		t.Fatalf("invalid padding %d", padding)
	}
	if !bytes.Equal(decrypted[:len(decrypted)-padding], plaintext) {
		t.Errorf("round trip mismatch: %q", decrypted)
	}
}

func TestInitSessionPlantsCookies(t *testing.T) {
	account := onlineAccount()

	mux := http.NewServeMux()
	mux.HandleFunc("/ISteamUserAuth/AuthenticateUser/v1/", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("steamid") != fmt.Sprint(account.steamID) {
			t.Errorf("unexpected steamid: %q", r.FormValue("steamid"))
		}
		if r.FormValue("sessionkey") == "" || r.FormValue("encrypted_loginkey") == "" {
			t.Error("expected encrypted key material")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"authenticateuser": {"token": "tok", "tokensecure": "sec"}}`)
	})

	client := newTestClient(t, account, mux)

	if err := client.InitSession(context.Background(), UniversePublic, "nonce", ""); err != nil {
		t.Fatalf("session init failed: %v", err)
	}

	for _, host := range []string{HostCommunity, HostStore, HostHelp} {
		for _, name := range []string{"sessionid", "steamLogin", "steamLoginSecure", "timezoneOffset"} {
			if client.cookieValue(host, name) == "" {
				t.Errorf("expected cookie %s on %s", name, host)
			}
		}
	}
}

func TestInitSessionUnlocksParental(t *testing.T) {
	account := onlineAccount()

	var unlocks atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/ISteamUserAuth/AuthenticateUser/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"authenticateuser": {"token": "tok", "tokensecure": "sec"}}`)
	})
	mux.HandleFunc("/parental/ajaxunlock", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("pin") != "1234" {
			t.Errorf("unexpected pin %q", r.FormValue("pin"))
		}
		if r.FormValue("sessionid") == "" {
			t.Error("expected session field on parental unlock")
		}
		unlocks.Add(1)
	})

	client := newTestClient(t, account, mux)

	if err := client.InitSession(context.Background(), UniversePublic, "nonce", "1234"); err != nil {
		t.Fatalf("session init failed: %v", err)
	}
	if unlocks.Load() != 2 {
		t.Errorf("expected unlock on community and store, got %d", unlocks.Load())
	}
}

func TestInitSessionValidation(t *testing.T) {
	account := onlineAccount()
	client := newTestClient(t, account, http.NewServeMux())

	if err := client.InitSession(context.Background(), UniversePublic, "", ""); err == nil {
		t.Error("expected error for empty nonce")
	}
	if _, err := publicKeyForUniverse(UniverseInvalid); err == nil {
		t.Error("expected error for invalid universe")
	}
}
