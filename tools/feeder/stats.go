package main

import (
	"sync/atomic"

	"github.com/buildline/sitesync/realtime"
)

// Stats tracks published events using atomic operations.
type Stats struct {
	inserts uint64
	updates uint64
	deletes uint64
	errors  uint64
}

// Snapshot is a point-in-time copy of Stats
type Snapshot struct {
	Inserts uint64
	Updates uint64
	Deletes uint64
	Errors  uint64
}

// Total returns the number of published events
func (s Snapshot) Total() uint64 {
	return s.Inserts + s.Updates + s.Deletes
}

// RecordPublish records a successful publish.
func (s *Stats) RecordPublish(kind realtime.EventType) {
	switch kind {
	case realtime.EventInsert:
		atomic.AddUint64(&s.inserts, 1)
	case realtime.EventUpdate:
		atomic.AddUint64(&s.updates, 1)
	case realtime.EventDelete:
		atomic.AddUint64(&s.deletes, 1)
	}
}

// RecordError records a failed publish.
func (s *Stats) RecordError() {
	atomic.AddUint64(&s.errors, 1)
}

func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		Inserts: atomic.LoadUint64(&s.inserts),
		Updates: atomic.LoadUint64(&s.updates),
		Deletes: atomic.LoadUint64(&s.deletes),
		Errors:  atomic.LoadUint64(&s.errors),
	}
}
