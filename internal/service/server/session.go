package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sigchat/internal/cryptographic/payload"
	"sigchat/internal/cryptographic/signature"
	"sigchat/internal/metrics"
	"sigchat/internal/model"
	"sigchat/internal/service/guard"
	"sigchat/internal/service/hub"
	"sigchat/internal/service/token"
	apperrors "sigchat/pkg/errors"
	"sigchat/pkg/log"
)

type (
	clientFrame struct {
		Type  string          `json:"type"`
		ReqID int64           `json:"reqId"`
		Data  json.RawMessage `json:"data"`
	}

	joinRoomRequest struct {
		ConversationID int64 `json:"conversationId"`
	}

	sendMessageRequest struct {
		ConversationID  int64  `json:"conversationId"`
		Body            string `json:"body"`
		ClientTimestamp string `json:"clientTimestamp"`
		Nonce           string `json:"nonce"`
		Signature       string `json:"signature"`
		DeviceID        string `json:"deviceId,omitempty"`
	}

	ackFrame struct {
		Type  string `json:"type"`
		ReqID int64  `json:"reqId"`
		OK    bool   `json:"ok"`
		ID    int64  `json:"id,omitempty"`
		Error string `json:"error,omitempty"`
	}

	session struct {
		srv    *HttpServer
		conn   *websocket.Conn
		client *hub.Client
		claims *token.Claims
	}
)

func marshalEvent(eventType string, data any) ([]byte, error) {
	return json.Marshal(map[string]any{"type": eventType, "data": data})
}

// HandleWS authenticates the handshake and runs the connection's
// session. A missing, invalid or expired bearer credential rejects the
// connection outright; there is no in-band retry.
func (s *HttpServer) HandleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			raw = bearerToken(r)
		}

		claims, err := s.tokens.Verify(raw)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		sess := &session{
			srv:    s,
			conn:   conn,
			client: s.hub.NewClient(claims.UserID),
			claims: claims,
		}

		metrics.OpenSessions.Inc()
		go sess.writeLoop()
		go sess.readLoop()
	}
}

func (s *session) writeLoop() {
	for frame := range s.client.Outbound() {
		if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Debug("session write failed", zap.Error(err))
			s.conn.Close()
			return
		}
	}
	s.conn.Close()
}

// readLoop dispatches frames sequentially: a second send on the same
// connection queues behind the first, so one connection's pipeline steps
// never interleave with each other.
func (s *session) readLoop() {
	defer func() {
		s.srv.hub.Remove(s.client)
		s.conn.Close()
		metrics.OpenSessions.Dec()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug("session web socket closed", zap.Error(err))
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.ack(0, 0, apperrors.InvalidArg("invalid payload"))
			continue
		}

		switch frame.Type {
		case "joinRoom":
			s.handleJoinRoom(&frame)
		case "sendMessage":
			s.handleSendMessage(&frame)
		default:
			s.ack(frame.ReqID, 0, apperrors.InvalidArg("unknown event"))
		}
	}
}

// ack reports the outcome of one request, always synchronously with it.
func (s *session) ack(reqID, id int64, err error) {
	out := ackFrame{Type: "ack", ReqID: reqID, OK: err == nil, ID: id}
	if err != nil {
		msg := apperrors.MessageOf(err)
		switch apperrors.CodeOf(err) {
		case apperrors.CodeInternal, apperrors.CodeUnknown:
			// Detail stays server-side.
			log.Error("session request failed", zap.Int64("user", s.claims.UserID), zap.Error(err))
			msg = "server error"
		}
		out.Error = msg
	}

	frame, merr := json.Marshal(out)
	if merr != nil {
		log.Error("marshal ack failed", zap.Error(merr))
		return
	}
	s.client.Push(frame)
}

func (s *session) handleJoinRoom(frame *clientFrame) {
	var req joinRoomRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.ConversationID <= 0 {
		s.ack(frame.ReqID, 0, apperrors.InvalidArg("invalid payload"))
		return
	}

	ok, err := s.srv.convs.IsMember(context.Background(), req.ConversationID, s.claims.UserID)
	if err != nil {
		s.ack(frame.ReqID, 0, apperrors.Wrap(apperrors.CodeInternal, "server error", err))
		return
	}
	if !ok {
		s.ack(frame.ReqID, 0, apperrors.Forbidden("not a member"))
		return
	}

	s.srv.hub.Join(s.client, hub.ConversationRoom(req.ConversationID))
	s.ack(frame.ReqID, 0, nil)
}

func (s *session) handleSendMessage(frame *clientFrame) {
	var req sendMessageRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		s.ack(frame.ReqID, 0, apperrors.InvalidArg("invalid payload"))
		return
	}

	msg, err := s.srv.processSend(context.Background(), s.claims.UserID, &req)
	if err != nil {
		s.ack(frame.ReqID, 0, err)
		return
	}
	s.ack(frame.ReqID, msg.ID, nil)
}

// processSend runs the fixed-order verification pipeline, short
// circuiting on the first failure. Nothing is persisted or broadcast
// before the insert commits; the insert's uniqueness constraints are
// the authoritative replay guard under concurrent senders.
func (s *HttpServer) processSend(ctx context.Context, senderID int64, req *sendMessageRequest) (*model.Message, error) {
	msg, err := s.runSendPipeline(ctx, senderID, req)
	if err != nil {
		reason := string(apperrors.CodeOf(err))
		metrics.MessagesRejected.WithLabelValues(reason).Inc()
		return nil, err
	}

	metrics.MessagesAccepted.Inc()
	s.broadcastMessage(msg)
	return msg, nil
}

func (s *HttpServer) runSendPipeline(ctx context.Context, senderID int64, req *sendMessageRequest) (*model.Message, error) {
	// 1. Shape.
	if req.ConversationID <= 0 || req.Body == "" || req.ClientTimestamp == "" ||
		req.Nonce == "" || req.Signature == "" {
		return nil, apperrors.InvalidArg("invalid payload")
	}

	nonce, err := guard.DecodeNonce(req.Nonce)
	if err != nil {
		return nil, err
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return nil, apperrors.InvalidArg("invalid payload")
	}

	// 2. Freshness, before any crypto or store work.
	clientTS, err := payload.ParseTimestamp(req.ClientTimestamp)
	if err != nil {
		return nil, apperrors.Freshness("timestamp invalid or expired")
	}
	if err := s.guard.CheckFreshness(clientTS); err != nil {
		return nil, err
	}

	// 3. Membership at verification time.
	member, err := s.convs.IsMember(ctx, req.ConversationID, senderID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "server error", err)
	}
	if !member {
		return nil, apperrors.Forbidden("not a member")
	}

	// 4. Verification key.
	keyPEM, err := s.keys.Resolve(ctx, senderID, req.DeviceID)
	if err != nil {
		return nil, err
	}

	// 5. Canonical payload and content hash. The sender id is not part
	// of the signed bytes; identity comes from the session.
	canonical := payload.Build(req.ConversationID, clientTS, req.Nonce, req.Body)
	hash := signature.Hash(canonical)

	// 6. Replay pre-check (optimization only).
	if err := s.guard.CheckReplay(ctx, hash, nonce); err != nil {
		return nil, err
	}

	// 7. Signature.
	if !signature.Verify(keyPEM, hash, sig) {
		return nil, apperrors.Signature("signature verify failed")
	}

	// 8. Persist; a duplicate-key violation here is a replay, not a
	// server error.
	msg := &model.Message{
		ConversationID:  req.ConversationID,
		SenderID:        senderID,
		DeviceID:        req.DeviceID,
		Body:            req.Body,
		BodyHash:        hash,
		Signature:       sig,
		Nonce:           nonce,
		ClientTimestamp: clientTS,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// 9. Broadcast to every connection joined to the conversation's room.
func (s *HttpServer) broadcastMessage(msg *model.Message) {
	frame, err := marshalEvent("messageCreated", msg.Broadcast())
	if err != nil {
		log.Error("marshal messageCreated failed", zap.Error(err))
		return
	}
	s.hub.Broadcast(hub.ConversationRoom(msg.ConversationID), frame)
}
