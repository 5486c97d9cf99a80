package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Transition envelopes arrive on perp.tx.{kind}; a single durable consumer
// feeds them to the pipeline in arrival order, preserving the engine's
// fully-serialized execution model.
const (
	TxStreamName  = "PERP_TX"
	TxSubjects    = "perp.tx.>"
	TxConsumer    = "perpcore-tx"
	AppliedStream = "PERP_APPLIED"
)

// RawEnvelope is an envelope as pulled from NATS, before parsing.
type RawEnvelope struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after a terminal outcome (applied or rejected)
	NakFunc   func() // NAK on infrastructure failure, message is redelivered
}

// NATSSubscriber feeds transition envelopes into the intake channel.
type NATSSubscriber struct {
	js       jetstream.JetStream
	intake   chan<- RawEnvelope
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewNATSSubscriber(js jetstream.JetStream, intake chan<- RawEnvelope, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{js: js, intake: intake, log: log}
}

// Subscribe creates the durable consumer and starts delivery. Explicit ACK
// with redelivery keeps intake at-least-once; the dedup tier in front of the
// engine makes it effectively exactly-once.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, TxStreamName, jetstream.ConsumerConfig{
		Durable:       TxConsumer,
		FilterSubject: TxSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", TxConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawEnvelope{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		}
		select {
		case ns.intake <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", TxConsumer, err)
	}

	ns.consumer = cc
	ns.log.Info().Str("subject", TxSubjects).Str("consumer", TxConsumer).Msg("subscribed")
	return nil
}

// Stop gracefully stops delivery.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.log.Info().Msg("nats subscriber stopped")
}

// EnsureStreams creates the transition and applied-results streams if they
// do not exist yet.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      TxStreamName,
			Subjects:  []string{TxSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      AppliedStream,
			Subjects:  []string{"perp.applied.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
