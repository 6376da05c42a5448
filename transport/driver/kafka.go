package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/buildline/sitesync/cfg"
	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/transport"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaDialTimeout = 10 * time.Second
	DefaultKafkaMaxBytes    = 10 << 20 // 10MB
)

func init() {
	transport.Register(cfg.TransportKafka, func(config cfg.TransportConfiguration, clientID string) (transport.Transport, error) {
		return NewKafkaTransport(config.Kafka, clientID)
	})
}

// KafkaTransport consumes one topic per table, {topic_prefix}.{schema}.{table}.
// Every logical channel gets its own consumer group starting at the latest
// offset. The group outlives reconnects: a replacement channel for the same
// key joins the same group and resumes from its committed offset.
type KafkaTransport struct {
	config   cfg.KafkaConfiguration
	clientID string
	dialer   *kafka.Dialer
	writer   *kafka.Writer

	mu       sync.Mutex
	channels map[*kafkaChannel]struct{}
	wg       sync.WaitGroup
	closed   bool
}

type kafkaChannel struct {
	*transport.Base
	owner  *KafkaTransport
	ctx    context.Context
	cancel context.CancelFunc
}

// NewKafkaTransport creates a transport for the given brokers. No connection
// is made until a channel subscribes.
func NewKafkaTransport(config cfg.KafkaConfiguration, clientID string) (*KafkaTransport, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka transport requires at least one broker address")
	}

	return &KafkaTransport{
		config:   config,
		clientID: clientID,
		dialer: &kafka.Dialer{
			ClientID:  clientID,
			Timeout:   DefaultKafkaDialTimeout,
			DualStack: true,
		},
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(config.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		channels: make(map[*kafkaChannel]struct{}),
	}, nil
}

// Channel creates an unsubscribed channel
func (t *KafkaTransport) Channel(name string) transport.Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &kafkaChannel{Base: transport.NewBase(name), owner: t, ctx: ctx, cancel: cancel}

	t.mu.Lock()
	t.channels[c] = struct{}{}
	t.mu.Unlock()

	return c
}

// Subscribe checks the topics exist and starts a reader per topic.
// Status is reported from a background goroutine.
func (c *kafkaChannel) Subscribe(handler transport.StatusHandler) {
	if !c.Attach(handler) {
		return
	}

	t := c.owner
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		c.Report(realtime.StatusClosed, nil)
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		c.run(subjectsFor(t.config.TopicPrefix, c.Specs()))
	}()
}

func (c *kafkaChannel) run(topics []string) {
	t := c.owner

	if err := t.checkTopics(c.ctx, topics); err != nil {
		if c.ctx.Err() == nil {
			c.Report(realtime.StatusChannelError, err)
		}
		return
	}
	c.Report(realtime.StatusSubscribed, nil)

	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			c.consume(topic)
		}(topic)
	}
	wg.Wait()
}

func (t *KafkaTransport) checkTopics(ctx context.Context, topics []string) error {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topics...)
	if err != nil {
		return fmt.Errorf("failed to read partitions: %w", err)
	}

	found := make(map[string]bool, len(topics))
	for _, p := range partitions {
		found[p.Topic] = true
	}
	for _, topic := range topics {
		if !found[topic] {
			return fmt.Errorf("kafka topic %s has no partitions", topic)
		}
	}
	return nil
}

func (c *kafkaChannel) consume(topic string) {
	t := c.owner
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     t.config.Brokers,
		GroupID:     groupID(t.config.GroupPrefix, t.clientID, channelIdentity(c.Name(), c.Specs())),
		Topic:       topic,
		Dialer:      t.dialer,
		MinBytes:    1,
		MaxBytes:    DefaultKafkaMaxBytes,
		StartOffset: kafka.LastOffset,
	})
	defer reader.Close()

	for {
		m, err := reader.ReadMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.Report(realtime.StatusChannelError, fmt.Errorf("kafka read on %s failed: %w", topic, err))
			return
		}

		msg, err := transport.DecodeMessage(m.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Int64("offset", m.Offset).Msg("Dropping undecodable Kafka message")
			continue
		}
		c.Deliver(msg)
	}
}

// RemoveChannel stops the channel's readers and reports closed
func (t *KafkaTransport) RemoveChannel(ch transport.Channel) error {
	c, ok := ch.(*kafkaChannel)
	if !ok {
		return fmt.Errorf("channel %s does not belong to the kafka transport", ch.Name())
	}

	t.mu.Lock()
	delete(t.channels, c)
	t.mu.Unlock()

	c.cancel()
	c.Report(realtime.StatusClosed, nil)
	return nil
}

// Publish writes msg to its table topic, keyed by the row id when present
func (t *KafkaTransport) Publish(ctx context.Context, msg transport.Message) error {
	data, err := transport.EncodeMessage(msg, t.config.Compress)
	if err != nil {
		return err
	}

	var key []byte
	if id, ok := msg.MatchRow()["id"]; ok && id != nil {
		key = []byte(fmt.Sprint(id))
	}

	return t.writer.WriteMessages(ctx, kafka.Message{
		Topic: transport.Subject(t.config.TopicPrefix, msg.Schema, msg.Table),
		Key:   key,
		Value: data,
	})
}

// Close stops every channel and waits for the readers to exit
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channels := make([]*kafkaChannel, 0, len(t.channels))
	for c := range t.channels {
		channels = append(channels, c)
	}
	t.mu.Unlock()

	for _, c := range channels {
		_ = t.RemoveChannel(c)
	}
	t.wg.Wait()

	return t.writer.Close()
}

// groupID derives a consumer group unique to one logical channel
func groupID(prefix, clientID, identity string) string {
	return fmt.Sprintf("%s-%016x", prefix, xxhash.Sum64String(clientID+"/"+identity))
}

// channelIdentity drops the creation timestamp from a physical channel name
// and appends the listener specs. The name alone is lossy because
// sanitizing folds every separator to "_".
func channelIdentity(name string, specs []transport.ChangeSpec) string {
	if i := strings.LastIndexByte(name, '-'); i > 0 && isDigits(name[i+1:]) {
		name = name[:i]
	}
	var b strings.Builder
	b.WriteString(name)
	for _, spec := range specs {
		b.WriteString("\n")
		b.WriteString(string(spec.Event))
		b.WriteByte(' ')
		b.WriteString(spec.Schema)
		b.WriteByte('.')
		b.WriteString(spec.Table)
		b.WriteByte(' ')
		b.WriteString(spec.Filter)
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
