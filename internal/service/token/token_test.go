package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigchat/internal/model"
)

func TestMintVerifyRoundtrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	raw, err := m.Mint(&model.User{ID: 42, Username: "alice"})
	require.NoError(t, err)

	claims, err := m.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyWrongSecret(t *testing.T) {
	raw, err := NewManager("secret-a", time.Hour).Mint(&model.User{ID: 1, Username: "a"})
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).Verify(raw)
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	raw, err := NewManager("secret", -time.Minute).Mint(&model.User{ID: 1, Username: "a"})
	require.NoError(t, err)

	_, err = NewManager("secret", time.Hour).Verify(raw)
	assert.Error(t, err)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewManager("secret", time.Hour).Verify(raw)
	assert.Error(t, err)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := NewManager("secret", time.Hour).Verify("not.a.jwt")
	assert.Error(t, err)
}
