// Package kafka publishes inference results to Kafka topics with the
// confluent-kafka-go client.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/kilianp07/bikeflow/core/events"
	coremon "github.com/kilianp07/bikeflow/core/monitoring"
	"github.com/kilianp07/bikeflow/core/publish"
	"github.com/kilianp07/bikeflow/infra/logger"
)

// Config defines the Kafka producer settings.
type Config struct {
	Brokers []string `json:"brokers"`
	// RunsTopic receives one summary message per run, keyed by run id.
	RunsTopic string `json:"runs_topic"`
	// FlowsTopic receives one message per OD row, keyed by origin station.
	FlowsTopic string `json:"flows_topic"`
	ClientID   string `json:"client_id"`
	// Extra is passed verbatim to librdkafka, e.g. {"security.protocol": "SSL"}.
	Extra          map[string]string `json:"extra"`
	DeliveryTimeMS int               `json:"delivery_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.RunsTopic == "" {
		c.RunsTopic = "bikeflow.runs"
	}
	if c.FlowsTopic == "" {
		c.FlowsTopic = "bikeflow.flows"
	}
	if c.ClientID == "" {
		c.ClientID = "bikeflow"
	}
	if c.DeliveryTimeMS <= 0 {
		c.DeliveryTimeMS = 10000
	}
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

// ConfigMap builds the librdkafka configuration.
func (c Config) ConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":   strings.Join(c.Brokers, ","),
		"client.id":           c.ClientID,
		"acks":                "all",
		"delivery.timeout.ms": c.DeliveryTimeMS,
	}
	for k, v := range c.Extra {
		_ = cm.SetKey(k, v)
	}
	return cm
}

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

var newProducer = func(cm *kafka.ConfigMap) (producer, error) {
	return kafka.NewProducer(cm)
}

// Publisher implements publish.Publisher on a Kafka producer.
type Publisher struct {
	p   producer
	cfg Config
	log logger.Logger
}

// NewPublisher creates the underlying producer.
func NewPublisher(cfg Config) (*Publisher, error) {
	cfg.SetDefaults()
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	p, err := newProducer(cfg.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Publisher{p: p, cfg: cfg, log: logger.New("kafka_publisher")}, nil
}

type runSummary struct {
	RunID   string    `json:"run_id"`
	Matcher string    `json:"matcher"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Moved   int       `json:"moved"`
	Pairs   int       `json:"pairs"`
	Error   string    `json:"error,omitempty"`
}

type flowMessage struct {
	RunID       string `json:"run_id"`
	Origin      string `json:"origin_station_id"`
	Destination string `json:"destination_station_id"`
	Count       int    `json:"count"`
}

// PublishRun produces the run summary and every OD row, then waits for all
// delivery reports. The first delivery error is returned.
func (k *Publisher) PublishRun(ctx context.Context, ev events.RunEvent) error {
	sum := runSummary{RunID: ev.RunID, Matcher: ev.Matcher, From: ev.From, To: ev.To, Moved: ev.Moved, Pairs: len(ev.OD)}
	if ev.Err != nil {
		sum.Error = ev.Err.Error()
	}
	msgs := make([]*kafka.Message, 0, len(ev.OD)+1)
	m, err := k.message(k.cfg.RunsTopic, ev.RunID, sum, ev.Time)
	if err != nil {
		return err
	}
	msgs = append(msgs, m)
	if ev.Err == nil {
		for _, r := range ev.OD {
			m, err := k.message(k.cfg.FlowsTopic, r.Origin, flowMessage{ev.RunID, r.Origin, r.Destination, r.Count}, ev.Time)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
		}
	}

	delivery := make(chan kafka.Event, len(msgs))
	sent := 0
	for _, m := range msgs {
		if err := k.p.Produce(m, delivery); err != nil {
			k.log.Errorf("produce to %s: %v", *m.TopicPartition.Topic, err)
			coremon.CaptureException(err, map[string]string{"module": "kafka", "topic": *m.TopicPartition.Topic})
			return err
		}
		sent++
	}

	var firstErr error
	for i := 0; i < sent; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-delivery:
			dm, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if dm.TopicPartition.Error != nil && firstErr == nil {
				firstErr = dm.TopicPartition.Error
			}
		}
	}
	if firstErr != nil {
		coremon.CaptureException(firstErr, map[string]string{"module": "kafka"})
		return firstErr
	}
	k.log.Debugf("delivered %d messages for run %s", sent, ev.RunID)
	return nil
}

func (k *Publisher) message(topic, key string, v any, at time.Time) (*kafka.Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	t := topic
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &t, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          b,
		Timestamp:      at,
	}, nil
}

// Close flushes outstanding messages and closes the producer.
func (k *Publisher) Close() error {
	if left := k.p.Flush(k.cfg.DeliveryTimeMS); left > 0 {
		k.log.Warnf("%d kafka messages not delivered before close", left)
	}
	k.p.Close()
	return nil
}

var _ publish.Publisher = (*Publisher)(nil)
