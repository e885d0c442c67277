// Package hub is the in-process broadcast fabric. A room is a named
// broadcast group; conversation rooms are "conv:<id>" and every
// authenticated connection also sits in its private "user:<id>" channel.
// The hub is transport-agnostic: it moves marshaled frames into
// per-client send queues and never touches a socket.
package hub

import (
	"fmt"
	"sync"
)

// sendQueueSize bounds the per-client outbound queue. A client that
// cannot drain its queue loses broadcasts rather than stalling senders.
const sendQueueSize = 64

type (
	Client struct {
		UserID int64

		send  chan []byte
		mu    sync.Mutex
		rooms map[string]struct{}
		done  bool
	}

	Hub struct {
		mu    sync.RWMutex
		rooms map[string]map[*Client]struct{}
	}
)

func New() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

func ConversationRoom(conversationID int64) string {
	return fmt.Sprintf("conv:%d", conversationID)
}

func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// NewClient registers a connection and puts it in its private channel.
func (h *Hub) NewClient(userID int64) *Client {
	c := &Client{
		UserID: userID,
		send:   make(chan []byte, sendQueueSize),
		rooms:  make(map[string]struct{}),
	}
	h.Join(c, UserRoom(userID))
	return c
}

// Outbound is drained by the connection's writer goroutine. The channel
// closes when the client is removed from the hub.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Push enqueues a frame for this client only, e.g. an ack.
func (c *Client) Push(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// InRoom reports current membership; RoomMember is a set, not exclusive.
func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

// Remove detaches the client from every room and closes its queue.
func (h *Hub) Remove(c *Client) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	h.mu.Lock()
	for _, room := range rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	close(c.send)
}

// Broadcast fans a frame out to every client currently in the room.
func (h *Hub) Broadcast(room string, frame []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Push(frame)
	}
}

// ToUser delivers to a principal's private channel, reaching every live
// connection that principal holds.
func (h *Hub) ToUser(userID int64, frame []byte) {
	h.Broadcast(UserRoom(userID), frame)
}
