package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveDeterministic(t *testing.T) {
	SetStaticKey("test-key")

	a, err := Derive("hello world", "user-1", 1700000000000, "req-1")
	require.NoError(t, err)

	b, err := Derive("hello world", "user-1", 1700000000000, "req-1")
	require.NoError(t, err)

	assert.Equal(t, a.Signature, b.Signature)
	assert.Equal(t, "req-1", a.RequestID)
}

func TestDeriveDefaultsRequestID(t *testing.T) {
	SetStaticKey("test-key")

	a, err := Derive("p", "u", 1700000000000, "")
	require.NoError(t, err)
	assert.NotEmpty(t, a.RequestID)
}

func TestDeriveChangesAcrossWindow(t *testing.T) {
	SetStaticKey("test-key")

	t1, err := Derive("prompt", "user", 0, "req")
	require.NoError(t, err)

	t2, err := Derive("prompt", "user", WindowMillis, "req")
	require.NoError(t, err)

	assert.NotEqual(t, t1.Signature, t2.Signature, "signature must rotate across a five-minute window")
}

func TestDeriveVariesWithTimestampWithinWindow(t *testing.T) {
	SetStaticKey("test-key")

	t1, err := Derive("prompt", "user", 0, "req")
	require.NoError(t, err)

	t2, err := Derive("prompt", "user", WindowMillis-1, "req")
	require.NoError(t, err)

	assert.NotEqual(t, t1.Signature, t2.Signature, "the subkey is shared within a window but the raw timestamp still enters the final signature")
}

func TestVerifyRoundTrip(t *testing.T) {
	SetStaticKey("test-key")

	s, err := Derive("prompt", "user", 1700000000000, "req-1")
	require.NoError(t, err)

	assert.True(t, Verify("prompt", "user", 1700000000000, "req-1", s.Signature))
	assert.False(t, Verify("prompt", "user", 1700000000000, "req-1", "deadbeef"))
}

func TestDifferentPromptsDifferentSignatures(t *testing.T) {
	SetStaticKey("test-key")

	a, err := Derive("prompt A", "user", 1700000000000, "req-1")
	require.NoError(t, err)
	b, err := Derive("prompt B", "user", 1700000000000, "req-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.Signature, b.Signature)
}
