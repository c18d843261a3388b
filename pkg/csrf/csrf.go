// Package csrf issues and checks synchronizer tokens bound to a session
// handle with HMAC-SHA256.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const nonceLength = 32

func mac(handle string, nonce, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(fmt.Appendf(nil, "%d!%s!%d!", len(handle), handle, len(nonce)))
	h.Write(nonce)

	return h.Sum(nil)
}

// NewToken returns a token of the form nonce.mac, both parts unpadded
// base64url.
func NewToken(handle string, key []byte) string {
	nonce := make([]byte, nonceLength)
	_, _ = rand.Read(nonce)

	return base64.RawURLEncoding.EncodeToString(nonce) + "." +
		base64.RawURLEncoding.EncodeToString(mac(handle, nonce, key))
}

// Validate reports whether token was issued by NewToken for handle and key.
func Validate(token, handle string, key []byte) bool {
	encodedNonce, encodedMAC, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}

	nonce, err := base64.RawURLEncoding.DecodeString(encodedNonce)
	if err != nil || len(nonce) != nonceLength {
		return false
	}

	received, err := base64.RawURLEncoding.DecodeString(encodedMAC)
	if err != nil {
		return false
	}

	return hmac.Equal(received, mac(handle, nonce, key))
}
