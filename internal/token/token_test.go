package token

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func b64url(v any) string {
	raw, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestUserIDDecodesPayload(t *testing.T) {
	header := b64url(map[string]any{"alg": "HS256", "typ": "JWT"})
	payload := b64url(map[string]any{"id": "user-123"})
	bearer := header + "." + payload + ".signaturestuff"

	assert.Equal(t, "user-123", UserID(bearer))
}

func TestUserIDEmptyOnGarbage(t *testing.T) {
	assert.Equal(t, "", UserID("not-a-token"))
	assert.Equal(t, "", UserID(""))
}

func TestUserIDFallsBackToLooseDecodeWhenHeaderIsNotJWT(t *testing.T) {
	// Header segment is not valid JWT JSON, forcing the loose decode path,
	// but the payload segment is still well-formed base64url JSON.
	header := base64.RawURLEncoding.EncodeToString([]byte("not-json-header"))
	payload := b64url(map[string]any{"id": "user-456"})
	bearer := header + "." + payload + ".sig"

	assert.Equal(t, "user-456", UserID(bearer))
}

func TestUserIDRepairsMissingPadding(t *testing.T) {
	// Strip padding manually to exercise decodeSegment's padding repair: the
	// non-JSON header forces the loose decode path, and the 13-byte payload
	// encodes to 18 characters, which need two "=" before decoding.
	header := base64.RawURLEncoding.EncodeToString([]byte("not-json-header"))
	payloadRaw, _ := json.Marshal(map[string]any{"id": "abcd"})
	payload := base64.RawURLEncoding.EncodeToString(payloadRaw)
	bearer := header + "." + payload + ".sig"

	assert.Equal(t, "abcd", UserID(bearer))
}
