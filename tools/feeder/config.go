package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/buildline/sitesync/cfg"
)

type Config struct {
	// Transport
	Transport string
	NATSURL   string
	Brokers   string
	Prefix    string
	Compress  bool

	// Workload
	Schema   string
	Tables   string
	Projects int
	Events   int
	Duration time.Duration
	Rate     int // Events per second, 0 = unthrottled
	Seed     int64

	// Workload percentages (-1 means use default)
	InsertPct int
	UpdatePct int
	DeletePct int

	// Derived
	tableList  []string
	brokerList []string
}

func (c *Config) Validate() error {
	switch c.Transport {
	case cfg.TransportNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("nats-url cannot be empty")
		}
	case cfg.TransportKafka:
		c.brokerList = splitList(c.Brokers)
		if len(c.brokerList) == 0 {
			return fmt.Errorf("brokers cannot be empty")
		}
	case cfg.TransportMemory:
	default:
		return fmt.Errorf("unknown transport: %s", c.Transport)
	}

	c.tableList = splitList(c.Tables)
	if len(c.tableList) == 0 {
		return fmt.Errorf("tables cannot be empty")
	}
	for _, table := range c.tableList {
		if _, ok := tableShapes[table]; !ok {
			return fmt.Errorf("no row generator for table: %s", table)
		}
	}

	if c.Projects < 1 {
		return fmt.Errorf("projects must be >= 1")
	}
	if c.Events < 1 && c.Duration <= 0 {
		return fmt.Errorf("either events or duration must be set")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must be >= 0")
	}

	if c.InsertPct < 0 {
		c.InsertPct = 50
	}
	if c.UpdatePct < 0 {
		c.UpdatePct = 40
	}
	if c.DeletePct < 0 {
		c.DeletePct = 10
	}
	if c.InsertPct+c.UpdatePct+c.DeletePct != 100 {
		return fmt.Errorf("workload percentages must sum to 100, got %d", c.InsertPct+c.UpdatePct+c.DeletePct)
	}
	if c.InsertPct == 0 {
		return fmt.Errorf("insert percentage must be > 0")
	}

	return nil
}

// TransportConfig maps the flags onto the server transport configuration
func (c *Config) TransportConfig() cfg.TransportConfiguration {
	return cfg.TransportConfiguration{
		Type: c.Transport,
		NATS: cfg.NATSConfiguration{
			URL:           c.NATSURL,
			SubjectPrefix: c.Prefix,
			Compress:      c.Compress,
		},
		Kafka: cfg.KafkaConfiguration{
			Brokers:     c.brokerList,
			TopicPrefix: c.Prefix,
			GroupPrefix: "feeder",
			Compress:    c.Compress,
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
