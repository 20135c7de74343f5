package ingestion

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"PerpIndexer/internal/event"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// chain events into the router via the event channel. Each subject
// carries one event kind so consumers can scale independently.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// RawEvent is the undecoded event from NATS, tagged with the kind its
// subject carries. The shell decodes it into a typed event.Event before
// handing it to the router.
type RawEvent struct {
	Kind      event.Kind
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the event committed
	NakFunc   func() // NAK on failure, the message is redelivered
}

// SubjectConfig maps a NATS subject to an event kind.
type SubjectConfig struct {
	Subject      string
	Kind         event.Kind
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "perp.markets.added", Kind: event.KindMarketAdded, ConsumerName: "indexer-markets-added", StreamName: "PERP_MARKETS"},
		{Subject: "perp.markets.removed", Kind: event.KindMarketRemoved, ConsumerName: "indexer-markets-removed", StreamName: "PERP_MARKETS"},
		{Subject: "perp.accounts.proxy", Kind: event.KindProxyAccountCreated, ConsumerName: "indexer-proxy-accounts", StreamName: "PERP_ACCOUNTS"},
		{Subject: "perp.margin.transferred", Kind: event.KindMarginTransferred, ConsumerName: "indexer-margin", StreamName: "PERP_MARGIN"},
		{Subject: "perp.funding.recomputed", Kind: event.KindFundingRecomputed, ConsumerName: "indexer-funding", StreamName: "PERP_FUNDING"},
		{Subject: "perp.positions.modified.v1", Kind: event.KindPositionModified, ConsumerName: "indexer-pos-mod-v1", StreamName: "PERP_POSITIONS"},
		{Subject: "perp.positions.modified.v2", Kind: event.KindPositionModifiedV2, ConsumerName: "indexer-pos-mod-v2", StreamName: "PERP_POSITIONS"},
		{Subject: "perp.positions.liquidated.v1", Kind: event.KindPositionLiquidated, ConsumerName: "indexer-pos-liq-v1", StreamName: "PERP_POSITIONS"},
		{Subject: "perp.positions.liquidated.v2", Kind: event.KindPositionLiquidatedV2, ConsumerName: "indexer-pos-liq-v2", StreamName: "PERP_POSITIONS"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return errors.Wrapf(err, "create consumer %s", cfg.ConsumerName)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Kind:      cfg.Kind,
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return errors.Wrapf(err, "consume %s", cfg.ConsumerName)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "PERP_MARKETS",
			Subjects:  []string{"perp.markets.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_ACCOUNTS",
			Subjects:  []string{"perp.accounts.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_MARGIN",
			Subjects:  []string{"perp.margin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_FUNDING",
			Subjects:  []string{"perp.funding.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "PERP_POSITIONS",
			Subjects:  []string{"perp.positions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return errors.Wrapf(err, "create stream %s", cfg.Name)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "nats connect")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, errors.Wrap(err, "jetstream")
	}

	return nc, js, nil
}
