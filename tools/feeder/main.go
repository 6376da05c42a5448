package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buildline/sitesync/cfg"
	"github.com/buildline/sitesync/transport"
	_ "github.com/buildline/sitesync/transport/driver"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runFeed(args)
	case "version":
		fmt.Printf("feeder version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`feeder - publishes synthetic row changes for sitesync

Usage:
  feeder <command> [options]

Commands:
  run       Publish change events
  version   Print version
  help      Show this help

Run Options:
  --transport     Transport type: nats|kafka (default: nats)
  --nats-url      NATS server URL (default: nats://127.0.0.1:4222)
  --brokers       Comma-separated Kafka brokers (default: 127.0.0.1:9092)
  --prefix        Subject or topic prefix (default: sitesync.changes)
  --compress      zstd compress payloads (default: false)
  --schema        Schema name (default: public)
  --tables        Comma-separated tables: tasks,projects,inspections (default: tasks,projects)
  --projects      Number of distinct project ids (default: 5)
  --events        Total events to publish (default: 1000)
  --duration      Duration to run (e.g., 60s), overrides --events
  --rate          Events per second, 0 = unthrottled (default: 50)
  --seed          Random seed (default: current time)
  --insert-pct    Insert percentage (default: 50)
  --update-pct    Update percentage (default: 40)
  --delete-pct    Delete percentage (default: 10)

Examples:
  feeder run --transport=nats --tables=tasks --projects=2 --rate=10
  feeder run --transport=kafka --brokers=127.0.0.1:9092 --duration=30s --compress`)
}

func runFeed(args []string) {
	c := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	fs.StringVar(&c.Transport, "transport", cfg.TransportNATS, "Transport type: nats|kafka")
	fs.StringVar(&c.NATSURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	fs.StringVar(&c.Brokers, "brokers", "127.0.0.1:9092", "Comma-separated Kafka brokers")
	fs.StringVar(&c.Prefix, "prefix", "sitesync.changes", "Subject or topic prefix")
	fs.BoolVar(&c.Compress, "compress", false, "zstd compress payloads")
	fs.StringVar(&c.Schema, "schema", "public", "Schema name")
	fs.StringVar(&c.Tables, "tables", "tasks,projects", "Comma-separated tables")
	fs.IntVar(&c.Projects, "projects", 5, "Number of distinct project ids")
	fs.IntVar(&c.Events, "events", 1000, "Total events to publish")
	fs.DurationVar(&c.Duration, "duration", 0, "Duration to run, overrides --events")
	fs.IntVar(&c.Rate, "rate", 50, "Events per second, 0 = unthrottled")
	fs.Int64Var(&c.Seed, "seed", time.Now().UnixNano(), "Random seed")
	fs.IntVar(&c.InsertPct, "insert-pct", -1, "Insert percentage")
	fs.IntVar(&c.UpdatePct, "update-pct", -1, "Update percentage")
	fs.IntVar(&c.DeletePct, "delete-pct", -1, "Delete percentage")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := c.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	tr, err := transport.New(c.TransportConfig(), "feeder")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect transport: %v\n", err)
		os.Exit(1)
	}
	defer tr.Close()

	publisher, ok := tr.(transport.Publisher)
	if !ok {
		fmt.Fprintf(os.Stderr, "Transport %s cannot publish\n", c.Transport)
		os.Exit(1)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if c.Duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.Duration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	stats := &Stats{}
	go reportProgress(ctx, stats)

	fmt.Printf("Publishing to %s (tables: %v, rate: %d/s)\n", c.Transport, c.tableList, c.Rate)
	start := time.Now()
	feed(ctx, c, publisher, NewGenerator(c, time.Now), stats)

	snapshot := stats.GetSnapshot()
	fmt.Printf("\nPublished %d events in %s (%d errors)\n", snapshot.Total(), time.Since(start).Round(time.Millisecond), snapshot.Errors)
}

// feed publishes until ctx is done or the event budget is spent
func feed(ctx context.Context, c *Config, publisher transport.Publisher, gen *Generator, stats *Stats) {
	var tick <-chan time.Time
	if c.Rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(c.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for sent := 0; c.Duration > 0 || sent < c.Events; sent++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return
		}

		msg := gen.Next()
		if err := publisher.Publish(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			stats.RecordError()
			fmt.Fprintf(os.Stderr, "Publish %s.%s failed: %v\n", msg.Schema, msg.Table, err)
			continue
		}
		stats.RecordPublish(msg.Type)
	}
}
