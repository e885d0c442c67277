package signature

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigchat/internal/cryptographic/payload"
)

func testKeyPEM(t *testing.T) (string, []byte, []byte) {
	t.Helper()
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	pub, err := MarshalPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)

	canonical := payload.Build(9, time.UnixMilli(1717000000000), "bm9uY2VzLW5vbmNlcy0=", "attack at dawn")
	digest := Hash(canonical)
	sig, err := Sign(priv, digest)
	require.NoError(t, err)
	return pub, digest, sig
}

func TestSignVerifyRoundtrip(t *testing.T) {
	pub, digest, sig := testKeyPEM(t)
	assert.True(t, Verify(pub, digest, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	pub, err := MarshalPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)

	ts := time.UnixMilli(1717000000000)
	digest := Hash(payload.Build(9, ts, "bm9uY2U=", "attack at dawn"))
	sig, err := Sign(priv, digest)
	require.NoError(t, err)

	cases := map[string][]byte{
		"body changed":         payload.Build(9, ts, "bm9uY2U=", "attack at dusk"),
		"timestamp changed":    payload.Build(9, ts.Add(time.Millisecond), "bm9uY2U=", "attack at dawn"),
		"nonce changed":        payload.Build(9, ts, "bm9uY2X=", "attack at dawn"),
		"conversation changed": payload.Build(8, ts, "bm9uY2U=", "attack at dawn"),
	}
	for name, altered := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, Verify(pub, Hash(altered), sig))
		})
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	pub, digest, sig := testKeyPEM(t)
	sig[len(sig)/2] ^= 0x01
	assert.False(t, Verify(pub, digest, sig))
}

func TestVerifyWrongKey(t *testing.T) {
	_, digest, sig := testKeyPEM(t)
	other, err := GenerateKeyPair()
	require.NoError(t, err)
	otherPub, err := MarshalPublicKeyPEM(&other.PublicKey)
	require.NoError(t, err)
	assert.False(t, Verify(otherPub, digest, sig))
}

func TestVerifyEscapedNewlinePEM(t *testing.T) {
	pub, digest, sig := testKeyPEM(t)
	escaped := strings.ReplaceAll(pub, "\n", `\n`)
	assert.True(t, Verify(escaped, digest, sig))
}

func TestVerifyMalformedKeyMaterial(t *testing.T) {
	_, digest, sig := testKeyPEM(t)
	for _, raw := range []string{
		"",
		"not a pem at all",
		"-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----",
	} {
		assert.False(t, Verify(raw, digest, sig))
	}
}

func TestParsePublicKeyRejectsNonRSA(t *testing.T) {
	// An EC SPKI block parses as PKIX but is not usable here.
	const ecKey = `-----BEGIN PUBLIC KEY-----
MFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAE6kCmVYKqCrmYLyAlAQoVca9wTiRM
2h2KVegLlSV8FTOvqyy/lYPSFeLvsTrZ4SPnRQXl8+DGJmCVZSwMGJ3fMQ==
-----END PUBLIC KEY-----`
	_, err := ParsePublicKeyPEM(ecKey)
	assert.Error(t, err)
}

func TestPrivateKeyPEMRoundtrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	pem, err := MarshalPrivateKeyPEM(priv)
	require.NoError(t, err)

	back, err := ParsePrivateKeyPEM(pem)
	require.NoError(t, err)
	assert.True(t, priv.Equal(back))
}
