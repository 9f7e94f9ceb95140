package events

import "github.com/CDeX-Labs/CDeX-CTF-Core/pkg/protocol"

// Event is anything the broadcaster can publish.
type Event interface {
	MessageType() protocol.MessageType
}

type SolveAnnouncedEvent struct {
	ChallengeID    string  `json:"challengeId"`
	ChallengeTitle string  `json:"challengeTitle"`
	UserID         string  `json:"userId"`
	Username       string  `json:"username"`
	TeamID         *string `json:"teamId"`
	Points         int     `json:"points"`
	IsFirstBlood   bool    `json:"isFirstBlood"`
	Timestamp      string  `json:"timestamp"`

	// Variant selects the wire message type for the topic it is sent on.
	Variant protocol.MessageType `json:"-"`
}

func (e SolveAnnouncedEvent) MessageType() protocol.MessageType {
	if e.Variant != "" {
		return e.Variant
	}
	return protocol.MsgChallengeSolved
}

type LeaderboardKind string

const (
	LeaderboardUsers LeaderboardKind = "user"
	LeaderboardTeams LeaderboardKind = "team"
)

type LeaderboardInvalidatedEvent struct {
	Kind      LeaderboardKind `json:"type"`
	Timestamp string          `json:"timestamp"`
}

func (LeaderboardInvalidatedEvent) MessageType() protocol.MessageType {
	return protocol.MsgLeaderboardUpdate
}

type CompetitionStatus string

const (
	CompetitionNotStarted CompetitionStatus = "not_started"
	CompetitionRunning    CompetitionStatus = "running"
	CompetitionPaused     CompetitionStatus = "paused"
	CompetitionEnded      CompetitionStatus = "ended"
)

type CompetitionStatusChangedEvent struct {
	Status    CompetitionStatus `json:"status"`
	Timestamp string            `json:"timestamp"`
}

func (CompetitionStatusChangedEvent) MessageType() protocol.MessageType {
	return protocol.MsgCompetitionUpdate
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type SystemMessageEvent struct {
	Severity  Severity `json:"type"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
}

func (SystemMessageEvent) MessageType() protocol.MessageType {
	return protocol.MsgSystemMessage
}

type AdminNotificationEvent struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

func (AdminNotificationEvent) MessageType() protocol.MessageType {
	return protocol.MsgAdminNotification
}
