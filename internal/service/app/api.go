package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"sigchat/internal/cryptographic/signature"
)

type (
	serverFrame struct {
		Type  string          `json:"type"`
		ReqID int64           `json:"reqId"`
		OK    bool            `json:"ok"`
		ID    int64           `json:"id,omitempty"`
		Error string          `json:"error,omitempty"`
		Data  json.RawMessage `json:"data,omitempty"`
	}

	incomingMessage struct {
		ID             int64  `json:"id"`
		ConversationID int64  `json:"conversationId"`
		SenderID       int64  `json:"senderId"`
		Body           string `json:"body"`
	}

	userInfo struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}

	loginResponse struct {
		Token string   `json:"token"`
		User  userInfo `json:"user"`
	}

	enrollStartResponse struct {
		Code string `json:"code"`
	}
)

func (c *App) scheme() string {
	if c.cfg.UseTLS {
		return "https"
	}
	return "http"
}

func (c *App) wsScheme() string {
	if c.cfg.UseTLS {
		return "wss"
	}
	return "ws"
}

func (c *App) apiURL(path string) string {
	return fmt.Sprintf("%s://%s%s", c.scheme(), c.cfg.ServerAddr, path)
}

// loginOrRegister tries the existing account first and creates it when
// the server does not know the username.
func (c *App) loginOrRegister(ctx context.Context) error {
	resp, err := c.login(ctx)
	if err == nil {
		c.token = resp.Token
		c.user = &resp.User
		return nil
	}

	pubPEM, err := signature.MarshalPublicKeyPEM(&c.creds.privateKey.PublicKey)
	if err != nil {
		return err
	}
	if err := c.postJSON(ctx, "/api/auth/register", map[string]any{
		"username":     c.cfg.Username,
		"password":     c.cfg.Password,
		"publicKeyPem": pubPEM,
	}, nil); err != nil {
		return err
	}

	resp, err = c.login(ctx)
	if err != nil {
		return err
	}
	c.token = resp.Token
	c.user = &resp.User
	return nil
}

func (c *App) login(ctx context.Context) (*loginResponse, error) {
	var resp loginResponse
	err := c.postJSON(ctx, "/api/auth/login", map[string]any{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// enrollDevice runs the two-step code exchange and registers this
// device's public key under its stable device id.
func (c *App) enrollDevice(ctx context.Context) error {
	var start enrollStartResponse
	err := c.postJSON(ctx, "/api/auth/enroll/start", map[string]any{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	}, &start)
	if err != nil {
		return err
	}

	pubPEM, err := signature.MarshalPublicKeyPEM(&c.creds.privateKey.PublicKey)
	if err != nil {
		return err
	}
	return c.postJSON(ctx, "/api/auth/enroll/complete", map[string]any{
		"username":     c.cfg.Username,
		"code":         start.Code,
		"deviceId":     c.creds.deviceID,
		"publicKeyPem": pubPEM,
	}, nil)
}

func (c *App) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(path), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", path, apiErr.Error)
		}
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *App) dialWS() (*websocket.Conn, error) {
	u := url.URL{
		Scheme:   c.wsScheme(),
		Host:     c.cfg.ServerAddr,
		Path:     "/ws",
		RawQuery: url.Values{"token": []string{c.token}}.Encode(),
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	return conn, err
}
