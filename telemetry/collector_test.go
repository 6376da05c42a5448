package telemetry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) ActiveChannelCount() int {
	p.calls.Add(1)
	return 2
}

func (p *countingProvider) HandlerCount() int     { return 5 }
func (p *countingProvider) OpenCircuitCount() int { return 1 }

func TestMetricsCollector_CollectsImmediately(t *testing.T) {
	provider := &countingProvider{}
	mc := NewMetricsCollector(provider, time.Hour)

	mc.Start()
	assert.Eventually(t, func() bool { return provider.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	mc.Stop()
	mc.Stop()
}

func TestMetricsCollector_NilProvider(t *testing.T) {
	mc := NewMetricsCollector(nil, time.Millisecond)
	mc.Start()
	time.Sleep(5 * time.Millisecond)
	mc.Stop()
}

func TestNoopMetricsWithoutRegistry(t *testing.T) {
	assert.IsType(t, NoopStat{}, NewCounter("x_total", "x"))
	assert.IsType(t, noopCounterVec{}, NewCounterVec("y_total", "y", []string{"a"}))
	assert.Nil(t, GetMetricsHandler())

	// Must not panic
	SubscribeTotal.With("created").Inc()
	ReconnectDelaySeconds.Observe(1)
}
