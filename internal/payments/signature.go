package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance bounds how old a signed timestamp may be before the
// event is rejected as a possible replay.
const SignatureTolerance = 5 * time.Minute

var ErrBadSignature = errors.New("webhook signature verification failed")

// VerifySignature checks the provider's signature header against the raw,
// unparsed request body. The header format is "t=<unix>,v1=<hex>" where the
// hex value is HMAC-SHA256 over "<unix>.<body>" keyed with the shared
// webhook secret. Multiple v1 entries are accepted (secret rotation);
// comparison is constant-time.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	var timestamp int64
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: malformed timestamp", ErrBadSignature)
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, v)
		}
	}

	if timestamp == 0 || len(candidates) == 0 {
		return fmt.Errorf("%w: missing timestamp or signature", ErrBadSignature)
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	expected := ComputeSignature(payload, secret, timestamp)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return ErrBadSignature
}

// ComputeSignature produces the hex HMAC for a payload at a timestamp.
// Exported for tests and for signing outbound test fixtures.
func ComputeSignature(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the header value for a payload (test helper).
func SignatureHeader(payload []byte, secret string, now time.Time) string {
	ts := now.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, ComputeSignature(payload, secret, ts))
}
