package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	TopicCompetitionStatus = "competition.status"
	TopicSystemMessage     = "system.message"
	TopicAdminNotification = "admin.notification"
)

// Topics lists every topic the handlers consume.
var Topics = []string{TopicCompetitionStatus, TopicSystemMessage, TopicAdminNotification}

// Announcer is the slice of the broadcaster that administrative events feed.
type Announcer interface {
	CompetitionStatus(status events.CompetitionStatus)
	SystemMessage(severity events.Severity, message string)
	NotifyAdmins(ev events.AdminNotificationEvent)
}

// ScheduleGate accepts submissions only while open.
type ScheduleGate interface {
	Open()
	Close()
}

// ApplyStatus opens the gate while the competition runs and closes it otherwise.
func ApplyStatus(g ScheduleGate, status events.CompetitionStatus) {
	if status == events.CompetitionRunning {
		g.Open()
		return
	}
	g.Close()
}

type Handlers struct {
	announcer Announcer
	gate      ScheduleGate
	logger    zerolog.Logger
}

func NewHandlers(a Announcer, logger zerolog.Logger) *Handlers {
	return &Handlers{
		announcer: a,
		logger:    logger.With().Str("component", "kafka-handlers").Logger(),
	}
}

type competitionStatusMessage struct {
	Status events.CompetitionStatus `json:"status"`
}

type systemMessage struct {
	Severity events.Severity `json:"type"`
	Message  string          `json:"message"`
}

// WithGate makes competition.status events open and close submissions.
func (h *Handlers) WithGate(g ScheduleGate) *Handlers {
	h.gate = g
	return h
}

func (h *Handlers) HandleCompetitionStatus(ctx context.Context, msg kafka.Message) error {
	var event competitionStatusMessage
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal competition.status event")
		return err
	}

	switch event.Status {
	case events.CompetitionNotStarted, events.CompetitionRunning, events.CompetitionPaused, events.CompetitionEnded:
	default:
		return fmt.Errorf("unknown competition status %q", event.Status)
	}

	h.logger.Info().Str("status", string(event.Status)).Msg("Processing competition.status")
	if h.gate != nil {
		ApplyStatus(h.gate, event.Status)
	}
	h.announcer.CompetitionStatus(event.Status)
	return nil
}

func (h *Handlers) HandleSystemMessage(ctx context.Context, msg kafka.Message) error {
	var event systemMessage
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal system.message event")
		return err
	}
	if event.Message == "" {
		return fmt.Errorf("system message is empty")
	}
	if event.Severity == "" {
		event.Severity = events.SeverityInfo
	}

	h.logger.Info().Str("severity", string(event.Severity)).Msg("Processing system.message")
	h.announcer.SystemMessage(event.Severity, event.Message)
	return nil
}

func (h *Handlers) HandleAdminNotification(ctx context.Context, msg kafka.Message) error {
	var event events.AdminNotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal admin.notification event")
		return err
	}

	h.logger.Info().Str("type", event.Type).Msg("Processing admin.notification")
	h.announcer.NotifyAdmins(event)
	return nil
}

func (h *Handlers) RegisterAll(consumer *Consumer) {
	consumer.RegisterHandler(TopicCompetitionStatus, h.HandleCompetitionStatus)
	consumer.RegisterHandler(TopicSystemMessage, h.HandleSystemMessage)
	consumer.RegisterHandler(TopicAdminNotification, h.HandleAdminNotification)
}
