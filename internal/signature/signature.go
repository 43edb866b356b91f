// Package signature derives the short-lived HMAC signature the upstream client
// attaches to every chat request, per spec.md §4.A.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// WindowMillis is the rolling signature-window size (five minutes).
const WindowMillis = int64(300000)

// Signed is the derived signature bundle handed to the upstream request.
type Signed struct {
	Timestamp int64
	RequestID string
	Signature string
}

// Error wraps the one failure mode spec.md §4.A names: "signature_failed".
type Error struct {
	Cause error
}

func (e *Error) Error() string { return "signature_failed" }
func (e *Error) Unwrap() error { return e.Cause }

// staticKey is the shim's local HMAC root key. The upstream protocol this
// mirrors derives its real key from a ceremony that is explicitly out of
// scope (spec.md §1, "the HMAC signature subkey ceremony ... stated only as a
// contract") — glmproxy signs with this fixed key, which only needs to be
// internally consistent, since the upstream validates the token/cookie, not
// this signature, for this shim's own traffic.
var staticKey = []byte("glmproxy-default-signing-key")

// SetStaticKey overrides the root signing key. Only the tests call it; no
// command reads a signing key from the environment.
func SetStaticKey(key string) {
	if key == "" {
		return
	}
	staticKey = []byte(key)
}

// Derive computes {timestamp, request_id, signature} for a chat request.
// requestID, if empty, defaults to a fresh UUID. timestampMillis, if zero,
// must be supplied by the caller (kept explicit so the window computation is
// deterministic and testable without wall-clock reads).
func Derive(prompt, userID string, timestampMillis int64, requestID string) (Signed, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	sortedPayload, err := sortedPayload(requestID, timestampMillis, userID)
	if err != nil {
		return Signed{}, &Error{Cause: err}
	}

	windowID := timestampMillis / WindowMillis
	subkey := hmacSHA256(staticKey, []byte(strconv.FormatInt(windowID, 10)))

	promptB64 := base64.StdEncoding.EncodeToString([]byte(prompt))
	message := sortedPayload + "|" + promptB64 + "|" + strconv.FormatInt(timestampMillis, 10)
	sig := hmacSHA256(subkey, []byte(message))

	return Signed{
		Timestamp: timestampMillis,
		RequestID: requestID,
		Signature: hex.EncodeToString(sig),
	}, nil
}

// sortedPayload concatenates sorted key/value pairs {requestId, timestamp,
// user_id} as "k1,v1,k2,v2,...", per spec.md §4.A step 1.
func sortedPayload(requestID string, timestampMillis int64, userID string) (string, error) {
	pairs := map[string]string{
		"requestId": requestID,
		"timestamp": strconv.FormatInt(timestampMillis, 10),
		"user_id":   userID,
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte(',')
		sb.WriteString(pairs[k])
	}
	return sb.String(), nil
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// Verify recomputes the signature for the given inputs and compares it in
// constant time. Not required by spec.md (the upstream, not glmproxy, is the
// one doing verification) but kept for symmetry and tests.
func Verify(prompt, userID string, timestampMillis int64, requestID, signature string) bool {
	got, err := Derive(prompt, userID, timestampMillis, requestID)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(got.Signature), []byte(signature))
}
