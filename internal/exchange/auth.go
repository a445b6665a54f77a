package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// signRequest computes the venue's request signature: HMAC-SHA256 over
// method + unix timestamp + path, then "?" + query when present, then the
// raw body. The hex digest travels in the signature header alongside the
// api-key and timestamp headers.
func signRequest(secret, method, timestamp, path, query string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(path))
	if query != "" {
		mac.Write([]byte("?"))
		mac.Write([]byte(query))
	}
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
