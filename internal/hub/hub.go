package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/protocol"
	"github.com/rs/zerolog"
)

// Hub owns the local websocket clients and their room membership. It is the
// broadcast sink that turns topics into room fanout.
type Hub struct {
	clients     map[*Client]bool
	userClients map[string]map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
	mu          sync.RWMutex
	rooms       *RoomManager
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	onDisconnect func(*Client)
}

var _ broadcast.Sink = (*Hub)(nil)

func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		rooms:       NewRoomManager(),
		metrics:     m,
		logger:      logger.With().Str("component", "hub").Logger(),
	}
}

// OnDisconnect sets a callback run after a client is removed. Set it before Run.
func (h *Hub) OnDisconnect(fn func(*Client)) {
	h.onDisconnect = fn
}

func (h *Hub) Name() string { return "hub" }

// Run processes registrations until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	if h.userClients[client.UserID] == nil {
		h.userClients[client.UserID] = make(map[*Client]bool)
	}
	h.userClients[client.UserID][client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.IncConnections()

	for _, topic := range defaultTopics(client.Identity) {
		h.join(client, topic.String())
	}

	connected, err := protocol.NewMessage(protocol.MsgConnected, protocol.ConnectedPayload{
		UserID:     client.UserID,
		InstanceID: client.ID,
		Rooms:      client.Rooms(),
	})
	if err == nil {
		h.SendToClient(client, connected)
	}

	h.logger.Info().
		Str("clientId", client.ID).
		Str("userId", client.UserID).
		Int("totalClients", total).
		Msg("Client registered")
}

// defaultTopics are joined on connect: everyone gets global, team members get
// their team, admins get the admin feed.
func defaultTopics(id Identity) []broadcast.Topic {
	topics := []broadcast.Topic{broadcast.Global()}
	if id.TeamID != "" {
		topics = append(topics, broadcast.Team(id.TeamID))
	}
	if id.IsAdmin() {
		topics = append(topics, broadcast.Admin())
	}
	return topics
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}

	delete(h.clients, client)
	close(client.Send)

	if userClients, ok := h.userClients[client.UserID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.userClients, client.UserID)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	for _, room := range h.rooms.LeaveAll(client) {
		h.metrics.DecRoomConnections(string(room.Kind))
	}
	h.metrics.DecConnections()

	h.logger.Info().
		Str("clientId", client.ID).
		Str("userId", client.UserID).
		Int("totalClients", total).
		Msg("Client unregistered")

	if h.onDisconnect != nil {
		go h.onDisconnect(client)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.unregisterClient(client)
	}
	h.logger.Info().Int("closed", len(clients)).Msg("Hub stopped")
}

func (h *Hub) join(client *Client, roomID string) *Room {
	room, added := h.rooms.Join(roomID, client)
	if added {
		h.metrics.IncRoomConnections(string(room.Kind))
	}
	return room
}

func (h *Hub) ProcessMessage(client *Client, data []byte) {
	h.metrics.IncMessagesReceived()

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug().Err(err).Str("clientId", client.ID).Msg("Failed to parse message")
		h.sendError(client, "PARSE_ERROR", "Invalid message format", "")
		return
	}

	switch msg.Type {
	case protocol.MsgJoinRoom:
		h.handleJoinRoom(client, msg)
	case protocol.MsgLeaveRoom:
		h.handleLeaveRoom(client, msg)
	case protocol.MsgPing:
		response, _ := protocol.NewMessageWithRequestID(protocol.MsgPong, nil, msg.RequestID)
		h.SendToClient(client, response)
	default:
		h.sendError(client, "UNKNOWN_TYPE", "Unknown message type", msg.RequestID)
	}
}

// viewerTopic validates a room a client asked for. Only challenge rooms can be
// joined or left by hand; the rest follow the client's identity.
func viewerTopic(roomID string) (broadcast.Topic, bool) {
	topic, ok := broadcast.ParseTopic(roomID)
	if !ok || topic.Kind != broadcast.TopicChallenge {
		return broadcast.Topic{}, false
	}
	return topic, true
}

func (h *Hub) handleJoinRoom(client *Client, msg *protocol.Message) {
	var payload protocol.JoinRoomPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.sendError(client, "INVALID_PAYLOAD", "Invalid join room payload", msg.RequestID)
		return
	}

	topic, ok := viewerTopic(payload.RoomID)
	if !ok {
		h.sendError(client, "FORBIDDEN_ROOM", "Only challenge rooms can be joined", msg.RequestID)
		return
	}

	room := h.join(client, topic.String())

	h.logger.Debug().
		Str("clientId", client.ID).
		Str("roomId", room.ID).
		Int("memberCount", room.ClientCount()).
		Msg("Client joined room")

	response, _ := protocol.NewMessageWithRequestID(protocol.MsgRoomJoined, protocol.RoomJoinedPayload{
		RoomID:      room.ID,
		MemberCount: room.ClientCount(),
	}, msg.RequestID)
	h.SendToClient(client, response)
}

func (h *Hub) handleLeaveRoom(client *Client, msg *protocol.Message) {
	var payload protocol.LeaveRoomPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.sendError(client, "INVALID_PAYLOAD", "Invalid leave room payload", msg.RequestID)
		return
	}

	topic, ok := viewerTopic(payload.RoomID)
	if !ok {
		h.sendError(client, "FORBIDDEN_ROOM", "Only challenge rooms can be left", msg.RequestID)
		return
	}

	if room, removed := h.rooms.Leave(topic.String(), client); removed {
		h.metrics.DecRoomConnections(string(room.Kind))
	}

	response, _ := protocol.NewMessageWithRequestID(protocol.MsgRoomLeft, protocol.RoomLeftPayload{
		RoomID: topic.String(),
	}, msg.RequestID)
	h.SendToClient(client, response)
}

// SendToClient queues msg for one client. A client whose buffer is full is
// disconnected.
func (h *Hub) SendToClient(client *Client, msg *protocol.Message) {
	data, err := msg.ToBytes()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to serialize message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.clients[client] {
		return
	}
	select {
	case client.Send <- data:
	default:
		h.logger.Warn().Str("clientId", client.ID).Msg("Client send buffer full, disconnecting")
		go h.Unregister(client)
	}
}

// Deliver fans msg out to the room named by topic. Slow clients miss the
// event; nothing here blocks.
func (h *Hub) Deliver(_ context.Context, topic broadcast.Topic, msg *protocol.Message) error {
	room := h.rooms.Get(topic.String())
	if room == nil {
		return nil
	}

	data, err := msg.ToBytes()
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range room.Clients() {
		if !h.clients[client] {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Debug().Str("clientId", client.ID).Str("topic", topic.String()).Msg("Client buffer full, event skipped")
		}
	}
	return nil
}

func (h *Hub) sendError(client *Client, code, message, requestID string) {
	errMsg, _ := protocol.NewErrorMessage(code, message, requestID)
	h.SendToClient(client, errMsg)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"totalClients": len(h.clients),
		"totalUsers":   len(h.userClients),
		"rooms":        h.rooms.Stats(),
	}
}
