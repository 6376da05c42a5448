package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			fmt.Printf("[%5.0fs] events/sec: %6d | total: %8d | ins/upd/del: %d/%d/%d | errors: %4d\n",
				elapsed.Seconds(),
				snapshot.Total()-last.Total(),
				snapshot.Total(),
				snapshot.Inserts,
				snapshot.Updates,
				snapshot.Deletes,
				snapshot.Errors,
			)

			last = snapshot
		}
	}
}
