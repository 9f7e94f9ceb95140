package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/protocol"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannel = "ctf:events"

// Envelope is what travels over the redis channel. Every instance subscribes
// to the same channel and routes by Topic.
type Envelope struct {
	SourceInstance string            `json:"sourceInstance"`
	Topic          string            `json:"topic"`
	Message        *protocol.Message `json:"message"`
}

// MessageHandler receives events published by other instances.
type MessageHandler func(topic broadcast.Topic, msg *protocol.Message)

// PubSub relays broadcaster events between service instances. It is a
// broadcast.Sink on the publish side; envelopes from other instances are handed
// to the MessageHandler, normally the local hub.
type PubSub struct {
	client     *Client
	channel    string
	pubsub     *redis.PubSub
	instanceID string
	handler    MessageHandler
	logger     zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

var _ broadcast.Sink = (*PubSub)(nil)

func NewPubSub(client *Client, channel string, handler MessageHandler, logger zerolog.Logger) *PubSub {
	if channel == "" {
		channel = DefaultChannel
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSub{
		client:     client,
		channel:    channel,
		instanceID: uuid.New().String()[:8],
		handler:    handler,
		logger:     logger.With().Str("component", "pubsub").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (p *PubSub) Name() string { return "redis" }

func (p *PubSub) InstanceID() string {
	return p.instanceID
}

func (p *PubSub) Start() error {
	p.pubsub = p.client.Subscribe(p.ctx, p.channel)

	if _, err := p.pubsub.Receive(p.ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go p.listen()

	p.logger.Info().
		Str("instanceId", p.instanceID).
		Str("channel", p.channel).
		Msg("PubSub started")

	return nil
}

func (p *PubSub) Stop() error {
	p.cancel()
	if p.pubsub == nil {
		return nil
	}
	err := p.pubsub.Close()
	<-p.done
	return err
}

func (p *PubSub) listen() {
	defer close(p.done)

	ch := p.pubsub.Channel()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *PubSub) handleMessage(msg *redis.Message) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		p.logger.Error().Err(err).Msg("Failed to unmarshal pubsub message")
		return
	}

	if envelope.SourceInstance == p.instanceID {
		return
	}

	topic, ok := broadcast.ParseTopic(envelope.Topic)
	if !ok || envelope.Message == nil {
		p.logger.Warn().Str("topic", envelope.Topic).Msg("Dropping malformed pubsub envelope")
		return
	}

	p.logger.Debug().
		Str("topic", envelope.Topic).
		Str("sourceInstance", envelope.SourceInstance).
		Msg("Received pubsub message")

	if p.handler != nil {
		p.handler(topic, envelope.Message)
	}
}

// Deliver publishes msg for the other instances.
func (p *PubSub) Deliver(ctx context.Context, topic broadcast.Topic, msg *protocol.Message) error {
	data, err := json.Marshal(Envelope{
		SourceInstance: p.instanceID,
		Topic:          topic.String(),
		Message:        msg,
	})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data)
}
