package hub

import (
	"sync"
	"time"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
)

// Room is a set of clients subscribed to one broadcast topic. The room id is
// the topic's string form.
type Room struct {
	ID        string
	Kind      broadcast.TopicKind
	CreatedAt time.Time

	clients map[*Client]bool
	mu      sync.RWMutex
}

func NewRoom(id string) *Room {
	kind := broadcast.TopicGlobal
	if topic, ok := broadcast.ParseTopic(id); ok {
		kind = topic.Kind
	}
	return &Room{
		ID:        id,
		Kind:      kind,
		CreatedAt: time.Now(),
		clients:   make(map[*Client]bool),
	}
}

func (r *Room) AddClient(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[client] {
		return false
	}
	r.clients[client] = true
	return true
}

func (r *Room) RemoveClient(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.clients[client] {
		return false
	}
	delete(r.clients, client)
	return true
}

func (r *Room) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

type RoomManager struct {
	rooms map[string]*Room
	mu    sync.Mutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
	}
}

func (rm *RoomManager) Get(roomID string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.rooms[roomID]
}

// Join adds client to the room, creating it on first use. The boolean is
// false when the client was already a member.
func (rm *RoomManager) Join(roomID string, client *Client) (*Room, bool) {
	rm.mu.Lock()
	room, ok := rm.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		rm.rooms[roomID] = room
	}
	added := room.AddClient(client)
	rm.mu.Unlock()

	client.joinRoom(roomID)
	return room, added
}

// Leave removes client from the room and drops the room once it is empty.
func (rm *RoomManager) Leave(roomID string, client *Client) (*Room, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room := rm.rooms[roomID]
	if room == nil {
		return nil, false
	}

	removed := room.RemoveClient(client)
	client.leaveRoom(roomID)

	if room.ClientCount() == 0 {
		delete(rm.rooms, roomID)
	}
	return room, removed
}

func (rm *RoomManager) LeaveAll(client *Client) []*Room {
	var left []*Room
	for _, roomID := range client.Rooms() {
		if room, ok := rm.Leave(roomID, client); ok {
			left = append(left, room)
		}
	}
	return left
}

func (rm *RoomManager) Stats() map[string]interface{} {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	byKind := make(map[broadcast.TopicKind]int)
	for _, room := range rm.rooms {
		byKind[room.Kind] += room.ClientCount()
	}

	return map[string]interface{}{
		"totalRooms": len(rm.rooms),
		"byKind":     byKind,
	}
}
