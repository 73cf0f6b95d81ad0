// Package signing implements the signature scheme carried in the
// X-Testquill-Signature header of every outbound webhook call.
//
// The header value is "t=<unix-seconds>,v1=<hex>", where <hex> is an
// HMAC-SHA256 over the string "<unix-seconds>.<payload>" keyed with the
// webhook's secret. Receivers must rebuild the same base string from the
// raw request body and the t value, compare digests in constant time, and
// reject timestamps outside their tolerance window to defeat replay.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sign returns the signature header value for payload at the current time.
func Sign(secret string, payload []byte) string {
	return SignAt(secret, payload, time.Now().Unix())
}

// SignAt is Sign with an explicit Unix timestamp. Deterministic.
func SignAt(secret string, payload []byte, timestamp int64) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, digest(secret, payload, timestamp))
}

// Verify checks a signature header against payload and secret. A header
// whose timestamp is further than tolerance from now is rejected even if
// the digest matches; tolerance <= 0 disables the window check.
func Verify(secret string, payload []byte, header string, tolerance time.Duration) bool {
	timestamp, sig, err := parseHeader(header)
	if err != nil {
		return false
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	expected := digest(secret, payload, timestamp)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func digest(secret string, payload []byte, timestamp int64) string {
	toSign := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(toSign))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseHeader(header string) (timestamp int64, sig string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return 0, "", fmt.Errorf("malformed signature element %q", part)
		}
		switch k {
		case "t":
			timestamp, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("invalid timestamp: %w", err)
			}
		case "v1":
			sig = v
		}
	}
	if timestamp == 0 || sig == "" {
		return 0, "", fmt.Errorf("signature header missing t or v1")
	}
	return timestamp, sig, nil
}
