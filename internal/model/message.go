package model

import (
	"encoding/base64"
	"encoding/hex"
	"time"
)

type (
	// Message is immutable once persisted. BodyHash and Nonce are each
	// unique across the whole store; together they are the replay
	// detection key.
	Message struct {
		ID              int64     `bson:"_id" json:"id"`
		ConversationID  int64     `bson:"conversation_id" json:"conversationId"`
		SenderID        int64     `bson:"sender_id" json:"senderId"`
		DeviceID        string    `bson:"device_id,omitempty" json:"deviceId,omitempty"`
		Body            string    `bson:"body" json:"body"`
		BodyHash        []byte    `bson:"body_hash" json:"-"`
		Signature       []byte    `bson:"signature" json:"-"`
		Nonce           []byte    `bson:"nonce" json:"-"`
		ClientTimestamp time.Time `bson:"client_timestamp" json:"clientTimestamp"`
		CreatedAt       time.Time `bson:"created_at" json:"createdAt"`
	}

	// BroadcastMessage is the wire shape pushed to room members.
	BroadcastMessage struct {
		ID              int64     `json:"id"`
		ConversationID  int64     `json:"conversationId"`
		SenderID        int64     `json:"senderId"`
		Body            string    `json:"body"`
		ClientTimestamp time.Time `json:"clientTimestamp"`
		Nonce           string    `json:"nonce"`
		CreatedAt       time.Time `json:"createdAt"`
		Signature       string    `json:"signature"`
		BodyHashHex     string    `json:"bodyHashHex"`
	}
)

func (m *Message) Broadcast() *BroadcastMessage {
	return &BroadcastMessage{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Body:            m.Body,
		ClientTimestamp: m.ClientTimestamp,
		Nonce:           base64.StdEncoding.EncodeToString(m.Nonce),
		CreatedAt:       m.CreatedAt,
		Signature:       base64.StdEncoding.EncodeToString(m.Signature),
		BodyHashHex:     hex.EncodeToString(m.BodyHash),
	}
}
