package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// signPayload computes the raw HMAC-SHA256 digest of payload under secret,
// grounded on webhooks.SignPayload, adapted here as the verification-side
// primitive rather than an outbound signing helper.
func signPayload(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// verifySignature implements §4.1/§6's dual accept path: either the
// direct-secret header matches the tenant secret byte-for-byte, or the
// HMAC header (hex or base64, optional "sha256=" prefix) constant-time
// matches the computed HMAC-SHA256 over body. Missing or mismatched
// headers fail closed.
func verifySignature(body []byte, secret, directHeader, hmacHeader string) bool {
	if secret == "" {
		return false
	}

	if directHeader != "" {
		if subtle.ConstantTimeCompare([]byte(directHeader), []byte(secret)) == 1 {
			return true
		}
	}

	if hmacHeader == "" {
		return false
	}

	candidate := strings.TrimPrefix(hmacHeader, "sha256=")
	want := signPayload(body, secret)

	if got, err := hex.DecodeString(candidate); err == nil {
		if len(got) == len(want) && subtle.ConstantTimeCompare(got, want) == 1 {
			return true
		}
	}
	if got, err := base64.StdEncoding.DecodeString(candidate); err == nil {
		if len(got) == len(want) && subtle.ConstantTimeCompare(got, want) == 1 {
			return true
		}
	}
	return false
}
