package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/huddlechat/huddle/internal/dispatch"
	"github.com/huddlechat/huddle/internal/events"
	"github.com/huddlechat/huddle/internal/outbox"
)

// ConsumerConfig holds configuration for the JetStream event consumer.
type ConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns default JetStream consumer configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "CHAT_EVENTS",
		ConsumerName:  "huddle-gateway",
		SubjectFilter: "chat.events.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Consumer feeds events published by other processes into the local
// dispatcher. Message bodies are the same {"type","data"} envelopes the
// WebSocket side speaks, so one Parse covers both ingest paths.
type Consumer struct {
	dispatcher *dispatch.Dispatcher
	queue      *outbox.Queue
	nc         *nats.Conn
	js         jetstream.JetStream
	consumer   jetstream.Consumer
	config     ConsumerConfig
}

// NewConsumer connects to NATS and ensures the durable consumer exists.
func NewConsumer(d *dispatch.Dispatcher, q *outbox.Queue, cfg ConsumerConfig) (*Consumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{
		dispatcher: d,
		queue:      q,
		nc:         nc,
		js:         js,
		config:     cfg,
	}
	if err := c.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, c.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          c.config.ConsumerName,
			Durable:       c.config.ConsumerName,
			Description:   "huddle gateway event consumer",
			FilterSubject: c.config.SubjectFilter,
			AckPolicy:     jetstream.AckExplicitPolicy,
			MaxDeliver:    c.config.MaxDeliver,
			AckWait:       c.config.AckWait,
			MaxAckPending: c.config.MaxAckPending,
			ReplayPolicy:  jetstream.ReplayInstantPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.StreamName).
			Msg("created JetStream consumer")
	}
	c.consumer = consumer
	return nil
}

// Start consumes events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", c.config.ConsumerName).
		Str("stream", c.config.StreamName).
		Msg("starting JetStream event consumer")

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		if err := c.processMessage(msg); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error().Err(nakErr).Msg("failed to NAK message")
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	<-ctx.Done()
	consumeCtx.Stop()
	log.Info().Msg("event consumer shutting down")
	return nil
}

func (c *Consumer) processMessage(msg jetstream.Msg) error {
	env, err := events.Parse(msg.Data())
	if err != nil {
		return fmt.Errorf("parse event envelope: %w", err)
	}
	c.queue.Enqueue(func(ctx context.Context) {
		c.dispatcher.Dispatch(ctx, env)
	})
	return nil
}

// Stop closes the NATS connection.
func (c *Consumer) Stop() {
	if c.nc != nil {
		c.nc.Close()
	}
}
