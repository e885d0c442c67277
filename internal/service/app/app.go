package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"sigchat/internal/cryptographic/payload"
	"sigchat/internal/cryptographic/signature"
	"sigchat/pkg/log"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		cfg   Config
		creds *credentials

		user  *userInfo
		token string

		conn  *websocket.Conn
		reqID atomic.Int64
	}

	// Config carries everything the TUI needs to reach the server.
	Config struct {
		ServerAddr     string
		UseTLS         bool
		Username       string
		Password       string
		ConversationID int64
		DeviceScope    bool
		KeyDir         string
	}
)

func NewApp(cfg Config) *App {
	return &App{
		app: tview.NewApplication(),
		cfg: cfg,
	}
}

func (c *App) Run(ctx context.Context) {
	creds, err := loadOrCreateCredentials(c.cfg.KeyDir, c.cfg.Username)
	if err != nil {
		log.Fatal("prepare keypair failed", zap.Error(err))
	}
	c.creds = creds

	if err := c.loginOrRegister(ctx); err != nil {
		log.Fatal("authentication failed", zap.Error(err))
	}

	if c.cfg.DeviceScope {
		if err := c.enrollDevice(ctx); err != nil {
			log.Fatal("device enrollment failed", zap.Error(err))
		}
	}

	c.conn, err = c.dialWS()
	if err != nil {
		log.Fatal("connect to server failed", zap.Error(err))
	}

	if err := c.joinRoom(c.cfg.ConversationID); err != nil {
		log.Fatal("join room failed", zap.Error(err))
	}

	go c.listen()
	c.renderUI()
}

func (c *App) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Conversation %d ", c.cfg.ConversationID))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := c.input.GetText()
			if text == "" {
				return
			}

			go func(msg string) {
				if err := c.SendMessage(msg); err != nil {
					c.app.Suspend(func() {
						log.Error("Send message failed", zap.Error(err))
					})
				}
			}(text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

// SendMessage signs the canonical payload and submits it. The server
// acks asynchronously; listen renders the outcome.
func (c *App) SendMessage(body string) error {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	nonceB64 := base64.StdEncoding.EncodeToString(nonce)

	now := time.Now()
	canonical := payload.Build(c.cfg.ConversationID, now, nonceB64, body)
	digest := signature.Hash(canonical)

	sig, err := signature.Sign(c.creds.privateKey, digest)
	if err != nil {
		return err
	}

	req := map[string]any{
		"type":  "sendMessage",
		"reqId": c.reqID.Add(1),
		"data": map[string]any{
			"conversationId":  c.cfg.ConversationID,
			"body":            body,
			"clientTimestamp": now.Format(time.RFC3339Nano),
			"nonce":           nonceB64,
			"signature":       base64.StdEncoding.EncodeToString(sig),
			"deviceId":        c.deviceID(),
		},
	}

	if err := c.conn.WriteJSON(req); err != nil {
		return err
	}

	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[yellow]You:[-] %s\n", body)
		c.input.SetText("")
		c.chatbox.ScrollToEnd()
	})
	return nil
}

func (c *App) deviceID() string {
	if !c.cfg.DeviceScope {
		return ""
	}
	return c.creds.deviceID
}

func (c *App) joinRoom(conversationID int64) error {
	return c.conn.WriteJSON(map[string]any{
		"type":  "joinRoom",
		"reqId": c.reqID.Add(1),
		"data":  map[string]any{"conversationId": conversationID},
	})
}

func (c *App) listen() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			c.conn.Close()
			break
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Error("Unmarshal frame failed", zap.Error(err))
			continue
		}

		switch frame.Type {
		case "ack":
			if !frame.OK && frame.Error != "" {
				c.printf("[red]rejected:[-] %s\n", frame.Error)
			}
		case "messageCreated":
			var msg incomingMessage
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				log.Error("Unmarshal message failed", zap.Error(err))
				continue
			}
			if msg.SenderID == c.user.ID {
				continue
			}
			c.printf("[green]%d:[-] %s\n", msg.SenderID, msg.Body)
		case "conversationAdded":
			c.printf("[blue]added to a new conversation[-]\n")
		}
	}
}

func (c *App) printf(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format, args...)
		c.chatbox.ScrollToEnd()
	})
}
