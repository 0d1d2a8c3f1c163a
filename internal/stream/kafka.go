package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"spxopt/internal/models"
)

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// QuoteMessage is the value of one published snapshot row.
type QuoteMessage struct {
	Underlying   string    `json:"underlying"`
	SnapshotUTC  time.Time `json:"snapshot_utc"`
	Expiration   string    `json:"expiration"`
	Strike       float64   `json:"strike"`
	Right        string    `json:"option_type"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Last         float64   `json:"last"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
	Delta        *float64  `json:"delta,omitempty"`
}

// KafkaPublisher publishes every stored quote as a JSON message keyed by
// contract, to topic "<prefix>.<underlying>".
type KafkaPublisher struct {
	writer      MessageWriter
	topicPrefix string
	logger      zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to brokers.
func NewKafkaPublisher(brokers []string, topicPrefix string, logger zerolog.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(w, topicPrefix, logger)
}

// NewKafkaPublisherWithWriter creates a publisher over an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, topicPrefix string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topicPrefix: topicPrefix, logger: logger}
}

// Topic returns the topic for underlying.
func (p *KafkaPublisher) Topic(underlying string) string {
	return p.topicPrefix + "." + underlying
}

// Publish writes one message per quote in a single batch.
func (p *KafkaPublisher) Publish(ctx context.Context, underlying string, quotes []models.Quote, snapshotUTC time.Time) error {
	if len(quotes) == 0 {
		return nil
	}
	topic := p.Topic(underlying)

	msgs := make([]kafkago.Message, 0, len(quotes))
	for _, q := range quotes {
		value, err := json.Marshal(QuoteMessage{
			Underlying:   underlying,
			SnapshotUTC:  snapshotUTC.UTC(),
			Expiration:   q.Expiration.String(),
			Strike:       q.Strike,
			Right:        string(q.Right),
			Bid:          q.Bid,
			Ask:          q.Ask,
			Last:         q.Last,
			Volume:       q.Volume,
			OpenInterest: q.OpenInterest,
			Delta:        q.Delta,
		})
		if err != nil {
			return fmt.Errorf("encoding quote %s: %w", q.Key(), err)
		}
		msgs = append(msgs, kafkago.Message{
			Topic: topic,
			Key:   []byte(q.Key().String()),
			Value: value,
			Time:  snapshotUTC,
		})
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing %d quotes to %s: %w", len(msgs), topic, err)
	}
	p.logger.Debug().
		Str("topic", topic).
		Int("messages", len(msgs)).
		Dur("duration", time.Since(start)).
		Msg("Published snapshot")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
