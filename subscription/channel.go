package subscription

import (
	"time"

	"github.com/buildline/sitesync/channelkey"
	"github.com/buildline/sitesync/clock"
	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/transport"
)

// ChannelInfo describes one physical channel for debugging
type ChannelInfo struct {
	Key               string                      `json:"key"`
	Name              string                      `json:"name"`
	CallbackCount     int                         `json:"callback_count"`
	Status            realtime.Status             `json:"status"`
	Config            realtime.SubscriptionConfig `json:"config"`
	ReconnectAttempts int                         `json:"reconnect_attempts"`
	CreatedAt         time.Time                   `json:"created_at"`
}

// channelManager is the registry record for one channel key. It survives
// reconnects: only name and channel change when the handle is replaced.
type channelManager struct {
	key      string
	name     string
	channel  transport.Channel
	config   realtime.SubscriptionConfig
	handlers map[Handler]struct{}
	status   realtime.Status
	created  time.Time

	teardown    clock.Timer
	teardownGen uint64
}

func (cm *channelManager) snapshotHandlers() []Handler {
	out := make([]Handler, 0, len(cm.handlers))
	for h := range cm.handlers {
		out = append(out, h)
	}
	return out
}

// cancelTeardown stops a pending idle teardown. Bumping the generation makes
// a timer that already fired a no-op.
func (cm *channelManager) cancelTeardown() {
	if cm.teardown != nil {
		cm.teardown.Stop()
		cm.teardown = nil
	}
	cm.teardownGen++
}

func (cm *channelManager) changeSpec() transport.ChangeSpec {
	return transport.ChangeSpec{
		Event:  cm.config.Event,
		Schema: cm.config.Schema,
		Table:  cm.config.Table,
		Filter: channelkey.FormatFilter(cm.config.Filter),
	}
}
