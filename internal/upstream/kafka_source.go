package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/weiawesome/live-relay/pkg/log"
)

// KafkaFactory reads all rooms from one topic keyed by room name. Each room
// gets its own consumer group so every relay process sees every event of
// the rooms it serves.
type KafkaFactory struct {
	cfg      KafkaConfig
	instance string
}

func NewKafkaFactory(cfg KafkaConfig) (*KafkaFactory, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka source: brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka source: topic not configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "live-relay"
	}

	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "local"
	}

	return &KafkaFactory{cfg: cfg, instance: instance}, nil
}

func (f *KafkaFactory) NewSource(room string) Source {
	return &KafkaSource{
		cfg:     f.cfg,
		room:    room,
		groupID: fmt.Sprintf("%s-%s-%s", f.cfg.GroupID, sanitizeGroupID(f.instance), sanitizeGroupID(room)),
		events:  make(chan RawEvent, 100),
		done:    make(chan struct{}),
	}
}

func (f *KafkaFactory) Close() error {
	return nil
}

// KafkaSource consumes the events of one room.
type KafkaSource struct {
	cfg     KafkaConfig
	room    string
	groupID string
	events  chan RawEvent

	mu       sync.Mutex
	consumer *kafka.Consumer
	closed   bool
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

func (s *KafkaSource) Connect(ctx context.Context) error {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       s.cfg.Brokers,
		"group.id":                s.groupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(s.cfg.Topic, nil); err != nil {
		c.Close()
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.cfg.Topic, err)
	}

	// Fail fast when the brokers are unreachable instead of polling forever.
	if _, err := c.GetMetadata(&s.cfg.Topic, false, metadataTimeoutMs(ctx)); err != nil {
		c.Close()
		return fmt.Errorf("kafka metadata for %s: %w", s.cfg.Topic, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return ErrClosed
	}
	s.consumer = c
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	go s.consumeMessages(c)
	return nil
}

func metadataTimeoutMs(ctx context.Context) int {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 10000
	}
	ms := int(time.Until(deadline).Milliseconds())
	if ms < 100 {
		ms = 100
	}
	return ms
}

func (s *KafkaSource) Events() <-chan RawEvent {
	return s.events
}

func (s *KafkaSource) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		c := s.consumer
		stopped := s.stopped
		s.mu.Unlock()

		close(s.done)
		if c == nil {
			close(s.events)
			return
		}
		// The poll loop owns the consumer until it exits.
		<-stopped
		err = c.Close()
	})
	return err
}

// consumeMessages polls Kafka and forwards the room's events.
func (s *KafkaSource) consumeMessages(c *kafka.Consumer) {
	defer close(s.stopped)
	defer close(s.events)
	l := log.L()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if string(e.Key) != s.room {
				continue
			}

			var raw RawEvent
			if err := json.Unmarshal(e.Value, &raw); err != nil {
				l.Debug().Err(err).Str(log.FieldRoom, s.room).Msg("kafka source: invalid payload")
				continue
			}

			select {
			case s.events <- raw:
			case <-s.done:
				return
			}

		case kafka.Error:
			l.Warn().Err(e).Str(log.FieldRoom, s.room).Bool("fatal", e.IsFatal()).Msg("kafka source error")
			if e.IsFatal() {
				return
			}

		default:
			// Ignore rebalance and commit notifications
		}
	}
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeGroupID replaces characters not suitable for Kafka group IDs.
func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
