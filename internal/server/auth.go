package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// sessionTokenTTL bounds how long a login token from POST /api/auth/login
// remains valid; logout is purely client-side (the token is stateless),
// matching spec §6's "lightweight session cookie/token" note.
const sessionTokenTTL = 24 * time.Hour

// mintSessionToken builds an opaque "<user_id>.<expiry>.<mac>" token HMAC
// signed with secret, so requireSession can verify it without a server
// side session store.
func mintSessionToken(userID, secret string, now time.Time) string {
	expiry := strconv.FormatInt(now.Add(sessionTokenTTL).Unix(), 10)
	payload := userID + "." + expiry
	mac := signPayload(payload, secret)
	return payload + "." + mac
}

// verifySessionToken checks the token's signature and expiry, returning
// the user id it authenticates for.
func verifySessionToken(token, secret string) (string, bool) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return "", false
	}
	userID, expiryRaw, mac := parts[0], parts[1], parts[2]
	if userID == "" {
		return "", false
	}
	payload := userID + "." + expiryRaw
	if !hmac.Equal([]byte(mac), []byte(signPayload(payload, secret))) {
		return "", false
	}
	expiry, err := strconv.ParseInt(expiryRaw, 10, 64)
	if err != nil || time.Now().Unix() > expiry {
		return "", false
	}
	return userID, true
}

func signPayload(payload, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
