package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	MsgConnected  MessageType = "connected"
	MsgError      MessageType = "error"
	MsgPing       MessageType = "ping"
	MsgPong       MessageType = "pong"
	MsgJoinRoom   MessageType = "join_room"
	MsgLeaveRoom  MessageType = "leave_room"
	MsgRoomJoined MessageType = "room_joined"
	MsgRoomLeft   MessageType = "room_left"

	MsgChallengeSolved   MessageType = "challenge_solved"
	MsgChallengeUpdate   MessageType = "challenge_update"
	MsgTeamSolve         MessageType = "team_solve"
	MsgLeaderboardUpdate MessageType = "leaderboard_update"
	MsgCompetitionUpdate MessageType = "competition_update"
	MsgSystemMessage     MessageType = "system_message"
	MsgAdminNotification MessageType = "admin_notification"
)

// Message is the envelope for everything written to or read from a websocket.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type ConnectedPayload struct {
	UserID     string   `json:"userId"`
	InstanceID string   `json:"instanceId"`
	Rooms      []string `json:"rooms,omitempty"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type RoomJoinedPayload struct {
	RoomID      string `json:"roomId"`
	MemberCount int    `json:"memberCount"`
}

type RoomLeftPayload struct {
	RoomID string `json:"roomId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	return NewMessageWithRequestID(msgType, payload, "")
}

func NewMessageWithRequestID(msgType MessageType, payload interface{}, requestID string) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		msg.Payload = data
	}

	return msg, nil
}

func NewErrorMessage(code, message, requestID string) (*Message, error) {
	return NewMessageWithRequestID(MsgError, ErrorPayload{Code: code, Message: message}, requestID)
}

func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}
	return &msg, nil
}

func (m *Message) ToBytes() ([]byte, error) {
	return json.Marshal(m)
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(m.Payload, v)
}
