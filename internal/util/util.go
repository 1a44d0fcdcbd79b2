package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ISO formats t for spreadsheet cells and CSV exports.
func ISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func HMACSHA256Hex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidHMAC compares a presented token against the expected one in
// constant time.
func ValidHMAC(secret, msg, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	return hmac.Equal([]byte(HMACSHA256Hex(secret, msg)), []byte(token))
}
