package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// authHeader carries the IPC password on every authenticated request.
const authHeader = "Authentication"

// authMiddleware rejects requests whose Authentication header does not match
// the configured password. Bcrypt hashes are verified as hashes so the
// config file never has to hold the cleartext.
func authMiddleware(password string) func(http.Handler) http.Handler {
	hashed := strings.HasPrefix(password, "$2")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(authHeader)
			if provided == "" {
				writeError(w, http.StatusUnauthorized, "missing Authentication header")
				return
			}

			var ok bool
			if hashed {
				ok = bcrypt.CompareHashAndPassword([]byte(password), []byte(provided)) == nil
			} else {
				ok = subtle.ConstantTimeCompare([]byte(password), []byte(provided)) == 1
			}
			if !ok {
				writeError(w, http.StatusForbidden, "invalid password")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
