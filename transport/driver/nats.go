package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/buildline/sitesync/cfg"
	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/transport"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const DefaultNATSReconnectWait = time.Second

func init() {
	transport.Register(cfg.TransportNATS, func(config cfg.TransportConfiguration, clientID string) (transport.Transport, error) {
		if config.NATS.URL == "" {
			return nil, fmt.Errorf("nats transport requires nats.url")
		}
		return NewNATSTransport(config.NATS, clientID)
	})
}

// NATSTransport subscribes to core NATS subjects named
// {subject_prefix}.{schema}.{table}. A connection drop reports channel_error
// on every open channel so the subscription manager rebuilds them.
type NATSTransport struct {
	nc       *nats.Conn
	prefix   string
	compress bool

	mu       sync.Mutex
	channels map[*natsChannel]struct{}
}

type natsChannel struct {
	*transport.Base
	owner *NATSTransport

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSTransport connects to NATS. Connection attempts continue in the
// background if the server is not reachable yet.
func NewNATSTransport(config cfg.NATSConfiguration, clientID string) (*NATSTransport, error) {
	t := &NATSTransport{
		prefix:   config.SubjectPrefix,
		compress: config.Compress,
		channels: make(map[*natsChannel]struct{}),
	}

	nc, err := nats.Connect(config.URL,
		nats.Name(clientID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(DefaultNATSReconnectWait),
		nats.DisconnectErrHandler(t.onDisconnect),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	t.nc = nc

	return t, nil
}

func (t *NATSTransport) onDisconnect(_ *nats.Conn, err error) {
	if err == nil {
		err = nats.ErrConnectionReconnecting
	}
	log.Warn().Err(err).Msg("Disconnected from NATS")

	for _, c := range t.snapshot() {
		c.Report(realtime.StatusChannelError, err)
	}
}

func (t *NATSTransport) snapshot() []*natsChannel {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*natsChannel, 0, len(t.channels))
	for c := range t.channels {
		out = append(out, c)
	}
	return out
}

// Channel creates an unsubscribed channel
func (t *NATSTransport) Channel(name string) transport.Channel {
	c := &natsChannel{Base: transport.NewBase(name), owner: t}

	t.mu.Lock()
	t.channels[c] = struct{}{}
	t.mu.Unlock()

	return c
}

// Subscribe opens one NATS subscription per distinct table subject
func (c *natsChannel) Subscribe(handler transport.StatusHandler) {
	if !c.Attach(handler) {
		return
	}

	subjects := subjectsFor(c.owner.prefix, c.Specs())
	subs := make([]*nats.Subscription, 0, len(subjects))
	for _, subject := range subjects {
		sub, err := c.owner.nc.Subscribe(subject, c.onMsg)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			c.Report(realtime.StatusChannelError, fmt.Errorf("failed to subscribe to %s: %w", subject, err))
			return
		}
		subs = append(subs, sub)
	}

	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()

	log.Debug().Str("channel", c.Name()).Strs("subjects", subjects).Msg("NATS channel subscribed")
	c.Report(realtime.StatusSubscribed, nil)
}

func (c *natsChannel) onMsg(m *nats.Msg) {
	msg, err := transport.DecodeMessage(m.Data)
	if err != nil {
		log.Warn().Err(err).Str("subject", m.Subject).Msg("Dropping undecodable NATS message")
		return
	}
	c.Deliver(msg)
}

func (c *natsChannel) unsubscribe() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			log.Debug().Err(err).Str("subject", s.Subject).Msg("NATS unsubscribe failed")
		}
	}
}

// RemoveChannel drops the channel's subscriptions and reports closed
func (t *NATSTransport) RemoveChannel(ch transport.Channel) error {
	c, ok := ch.(*natsChannel)
	if !ok {
		return fmt.Errorf("channel %s does not belong to the nats transport", ch.Name())
	}

	t.mu.Lock()
	delete(t.channels, c)
	t.mu.Unlock()

	c.unsubscribe()
	c.Report(realtime.StatusClosed, nil)
	return nil
}

// Publish sends msg on its table subject and flushes
func (t *NATSTransport) Publish(ctx context.Context, msg transport.Message) error {
	if t.nc.IsClosed() {
		return transport.ErrTransportClosed
	}

	data, err := transport.EncodeMessage(msg, t.compress)
	if err != nil {
		return err
	}

	subject := transport.Subject(t.prefix, msg.Schema, msg.Table)
	if err := t.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return t.nc.FlushWithContext(ctx)
}

// Close closes every channel and the connection
func (t *NATSTransport) Close() error {
	for _, c := range t.snapshot() {
		_ = t.RemoveChannel(c)
	}
	if t.nc != nil {
		t.nc.Close()
	}
	return nil
}

// subjectsFor returns the distinct subjects covering specs, in registration order
func subjectsFor(prefix string, specs []transport.ChangeSpec) []string {
	seen := make(map[string]struct{}, len(specs))
	out := make([]string, 0, len(specs))
	for _, spec := range specs {
		subject := transport.Subject(prefix, spec.Schema, spec.Table)
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		out = append(out, subject)
	}
	return out
}
