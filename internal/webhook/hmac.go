package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var errVerification = errors.New("webhook verification failed")

// Sign returns the "sha256=<hex>" signature of body under secret.
func Sign(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(digest(body, secret))
}

// Verify checks signature against body. Every failure returns the same
// error so callers cannot learn which part was wrong.
func Verify(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errVerification
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return errVerification
	}
	if !hmac.Equal(digest(body, secret), got) {
		return errVerification
	}
	return nil
}

func digest(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
