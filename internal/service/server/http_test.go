package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigchat/config"
	"sigchat/internal/cryptographic/signature"
	"sigchat/internal/model"
)

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func tokenFor(t *testing.T, e *testEnv, user *model.User) string {
	t.Helper()
	tok, err := e.srv.tokens.Mint(user)
	require.NoError(t, err)
	return tok
}

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEnv(t, config.ScopeAccount)
	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	priv, err := signature.GenerateKeyPair()
	require.NoError(t, err)
	pub, err := signature.MarshalPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)

	status, _ := doJSON(t, ts, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username":     "dave",
		"password":     "hunter2",
		"publicKeyPem": pub,
	})
	require.Equal(t, http.StatusOK, status)

	t.Run("duplicate username", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/auth/register", "", map[string]any{
			"username": "dave",
			"password": "other",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.JSONEq(t, `"username already exists"`, string(body["error"]))
	})

	t.Run("bad public key", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodPost, "/api/auth/register", "", map[string]any{
			"username":     "erin",
			"password":     "pw",
			"publicKeyPem": "garbage",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("login ok", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/auth/login", "", map[string]any{
			"username": "dave",
			"password": "hunter2",
		})
		require.Equal(t, http.StatusOK, status)

		var tok string
		require.NoError(t, json.Unmarshal(body["token"], &tok))
		claims, err := e.srv.tokens.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, "dave", claims.Username)
	})

	t.Run("wrong password", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/auth/login", "", map[string]any{
			"username": "dave",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.JSONEq(t, `"invalid credentials"`, string(body["error"]))
	})

	t.Run("unknown user same error", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/auth/login", "", map[string]any{
			"username": "nobody",
			"password": "pw",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.JSONEq(t, `"invalid credentials"`, string(body["error"]))
	})
}

func TestEnrollmentFlow(t *testing.T) {
	e := newTestEnv(t, config.ScopeDevice)
	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	// Register through the API so the account has a password.
	status, _ := doJSON(t, ts, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": "frank",
		"password": "pw",
	})
	require.Equal(t, http.StatusOK, status)

	priv, err := signature.GenerateKeyPair()
	require.NoError(t, err)
	pub, err := signature.MarshalPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)

	status, body := doJSON(t, ts, http.MethodPost, "/api/auth/enroll/start", "", map[string]any{
		"username": "frank",
		"password": "pw",
	})
	require.Equal(t, http.StatusOK, status)
	var code string
	require.NoError(t, json.Unmarshal(body["code"], &code))
	require.Len(t, code, 6)

	t.Run("wrong code burns it", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodPost, "/api/auth/enroll/complete", "", map[string]any{
			"username":     "frank",
			"code":         "very-wrong",
			"deviceId":     "laptop",
			"publicKeyPem": pub,
		})
		assert.Equal(t, http.StatusUnauthorized, status)

		// Even the right code is dead after one failed attempt.
		status, _ = doJSON(t, ts, http.MethodPost, "/api/auth/enroll/complete", "", map[string]any{
			"username":     "frank",
			"code":         code,
			"deviceId":     "laptop",
			"publicKeyPem": pub,
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("fresh code enrolls", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/auth/enroll/start", "", map[string]any{
			"username": "frank",
			"password": "pw",
		})
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(body["code"], &code))

		status, _ = doJSON(t, ts, http.MethodPost, "/api/auth/enroll/complete", "", map[string]any{
			"username":     "frank",
			"code":         code,
			"deviceId":     "laptop",
			"publicKeyPem": pub,
		})
		require.Equal(t, http.StatusOK, status)

		frank, err := e.users.GetByUsername(context.Background(), "frank")
		require.NoError(t, err)
		device, err := e.devices.Get(context.Background(), frank.ID, "laptop")
		require.NoError(t, err)
		require.NotNil(t, device)
		assert.NotEmpty(t, device.PublicKeyPEM)
	})
}

func TestConversationEndpoints(t *testing.T) {
	e := newTestEnv(t, config.ScopeAccount)
	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	aliceTok := tokenFor(t, e, e.alice)

	t.Run("requires auth", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodGet, "/api/conversations", "", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	var convID int64
	t.Run("create includes creator", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/conversations", aliceTok, map[string]any{
			"title":     "ops",
			"memberIds": []int64{e.bob.ID},
		})
		require.Equal(t, http.StatusOK, status)

		var conv model.Conversation
		require.NoError(t, json.Unmarshal(body["conversation"], &conv))
		convID = conv.ID
		assert.Contains(t, conv.MemberIDs, e.alice.ID)
		assert.Contains(t, conv.MemberIDs, e.bob.ID)
	})

	t.Run("members visible to members only", func(t *testing.T) {
		outsider := &model.User{Username: "grace"}
		_, err := e.users.Create(context.Background(), outsider)
		require.NoError(t, err)

		status, _ := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/conversations/%d/members", convID), tokenFor(t, e, outsider), nil)
		assert.Equal(t, http.StatusForbidden, status)

		status, body := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/conversations/%d/members", convID), aliceTok, nil)
		require.Equal(t, http.StatusOK, status)
		var members []int64
		require.NoError(t, json.Unmarshal(body["memberIds"], &members))
		assert.Len(t, members, 2)
	})

	t.Run("add member", func(t *testing.T) {
		target := &model.User{Username: "heidi"}
		_, err := e.users.Create(context.Background(), target)
		require.NoError(t, err)

		status, _ := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/conversations/%d/members", convID), aliceTok, map[string]any{
			"userId": target.ID,
		})
		require.Equal(t, http.StatusOK, status)

		ok, err := e.convs.IsMember(context.Background(), convID, target.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("add unknown member", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/conversations/%d/members", convID), aliceTok, map[string]any{
			"userId": int64(9999),
		})
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("history is member only", func(t *testing.T) {
		msg, err := e.srv.processSend(context.Background(), e.alice.ID, e.signedSend(t, "logged"))
		require.NoError(t, err)
		require.NotNil(t, msg)

		status, body := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/messages/%d", testConvID), aliceTok, nil)
		require.Equal(t, http.StatusOK, status)
		var msgs []model.BroadcastMessage
		require.NoError(t, json.Unmarshal(body["messages"], &msgs))
		require.Len(t, msgs, 1)
		assert.Equal(t, "logged", msgs[0].Body)
	})

	t.Run("delete conversation removes messages", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", testConvID), aliceTok, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 0, e.messages.count())
	})
}

func TestAdminEndpoints(t *testing.T) {
	e := newTestEnv(t, config.ScopeAccount)
	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	admin := &model.User{Username: "root"}
	_, err := e.users.Create(context.Background(), admin)
	require.NoError(t, err)
	adminTok := tokenFor(t, e, admin)

	t.Run("forbidden for regular users", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodGet, "/api/admin/users", tokenFor(t, e, e.alice), nil)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("list users", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodGet, "/api/admin/users", adminTok, nil)
		require.Equal(t, http.StatusOK, status)
		var users []model.User
		require.NoError(t, json.Unmarshal(body["users"], &users))
		assert.Len(t, users, 3)
	})

	t.Run("delete user cascades", func(t *testing.T) {
		_, err := e.srv.processSend(context.Background(), e.alice.ID, e.signedSend(t, "to be purged"))
		require.NoError(t, err)

		status, _ := doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", e.alice.ID), adminTok, nil)
		require.Equal(t, http.StatusOK, status)

		gone, err := e.users.GetByID(context.Background(), e.alice.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
		assert.Equal(t, 0, e.messages.count())

		ok, err := e.convs.IsMember(context.Background(), testConvID, e.alice.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete unknown user", func(t *testing.T) {
		status, _ := doJSON(t, ts, http.MethodDelete, "/api/admin/users/424242", adminTok, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}
