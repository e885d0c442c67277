package server

import (
	"context"
	"sync"

	"sigchat/internal/model"
	apperrors "sigchat/pkg/errors"
)

// In-memory stores implementing the handler collaborators. memMessages
// mirrors the durable store's uniqueness guarantees on body hash and
// nonce so replay behavior under concurrency is faithful.

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[int64]*model.User)}
}

func (m *memUsers) Create(_ context.Context, user *model.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == user.Username {
			return 0, apperrors.AlreadyExists("username already exists")
		}
	}
	m.nextID++
	user.ID = m.nextID
	m.byID[user.ID] = user
	return user.ID, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id], nil
}

func (m *memUsers) List(_ context.Context) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]*model.User, 0, len(m.byID))
	for _, u := range m.byID {
		users = append(users, u)
	}
	return users, nil
}

func (m *memUsers) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperrors.NotFound("user not found")
	}
	delete(m.byID, id)
	return nil
}

type deviceKey struct {
	owner int64
	id    string
}

type memDevices struct {
	mu   sync.Mutex
	byID map[deviceKey]*model.Device
}

func newMemDevices() *memDevices {
	return &memDevices{byID: make(map[deviceKey]*model.Device)}
}

func (m *memDevices) Upsert(_ context.Context, ownerID int64, deviceID, publicKeyPEM string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[deviceKey{ownerID, deviceID}] = &model.Device{
		OwnerID:      ownerID,
		DeviceID:     deviceID,
		PublicKeyPEM: publicKeyPEM,
	}
	return nil
}

func (m *memDevices) Get(_ context.Context, ownerID int64, deviceID string) (*model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[deviceKey{ownerID, deviceID}], nil
}

func (m *memDevices) TouchLastSeen(context.Context, int64, string) error { return nil }

func (m *memDevices) DeleteByOwner(_ context.Context, ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.byID {
		if k.owner == ownerID {
			delete(m.byID, k)
		}
	}
	return nil
}

type memConvs struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.Conversation
}

func newMemConvs() *memConvs {
	return &memConvs{byID: make(map[int64]*model.Conversation)}
}

func (m *memConvs) seed(id int64, members ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = &model.Conversation{ID: id, MemberIDs: members}
	if id > m.nextID {
		m.nextID = id
	}
}

func (m *memConvs) Create(_ context.Context, title string, memberIDs []int64) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	conv := &model.Conversation{ID: m.nextID, Title: title, MemberIDs: memberIDs}
	m.byID[conv.ID] = conv
	return conv, nil
}

func (m *memConvs) Get(_ context.Context, id int64) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id], nil
}

func (m *memConvs) ListByMember(_ context.Context, userID int64) ([]*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Conversation
	for _, conv := range m.byID {
		for _, id := range conv.MemberIDs {
			if id == userID {
				out = append(out, conv)
				break
			}
		}
	}
	return out, nil
}

func (m *memConvs) IsMember(_ context.Context, conversationID, principalID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[conversationID]
	if !ok {
		return false, nil
	}
	for _, id := range conv.MemberIDs {
		if id == principalID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memConvs) AddMember(_ context.Context, conversationID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[conversationID]
	if !ok {
		return apperrors.NotFound("conversation not found")
	}
	for _, id := range conv.MemberIDs {
		if id == userID {
			return nil
		}
	}
	conv.MemberIDs = append(conv.MemberIDs, userID)
	return nil
}

func (m *memConvs) RemoveMemberFromAll(_ context.Context, userID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected []int64
	for _, conv := range m.byID {
		kept := conv.MemberIDs[:0]
		removed := false
		for _, id := range conv.MemberIDs {
			if id == userID {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		conv.MemberIDs = kept
		if removed {
			affected = append(affected, conv.ID)
		}
	}
	return affected, nil
}

func (m *memConvs) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

type memMessages struct {
	mu       sync.Mutex
	nextID   int64
	messages []*model.Message
	byHash   map[string]struct{}
	byNonce  map[string]struct{}
}

func newMemMessages() *memMessages {
	return &memMessages{
		byHash:  make(map[string]struct{}),
		byNonce: make(map[string]struct{}),
	}
}

func (m *memMessages) ExistsByHashOrNonce(_ context.Context, hash, nonce []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byHash[string(hash)]; ok {
		return true, nil
	}
	_, ok := m.byNonce[string(nonce)]
	return ok, nil
}

func (m *memMessages) Insert(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byHash[string(msg.BodyHash)]; ok {
		return apperrors.Replay("replay detected")
	}
	if _, ok := m.byNonce[string(msg.Nonce)]; ok {
		return apperrors.Replay("replay detected")
	}
	m.nextID++
	msg.ID = m.nextID
	m.byHash[string(msg.BodyHash)] = struct{}{}
	m.byNonce[string(msg.Nonce)] = struct{}{}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memMessages) ListRecent(_ context.Context, conversationID, limit int64) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (m *memMessages) DeleteByConversation(_ context.Context, conversationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *memMessages) DeleteBySender(_ context.Context, senderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.SenderID != senderID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
