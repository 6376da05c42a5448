package transport

import (
	"fmt"
	"time"

	"github.com/buildline/sitesync/encoding"
	"github.com/buildline/sitesync/realtime"
)

// Message is the wire form of a row change published by the backend
type Message struct {
	Schema   string             `msgpack:"schema"`
	Table    string             `msgpack:"table"`
	Type     realtime.EventType `msgpack:"type"` // INSERT, UPDATE or DELETE
	Old      map[string]any     `msgpack:"old"`
	New      map[string]any     `msgpack:"new"`
	CommitTS int64              `msgpack:"ts"` // Commit timestamp (unix ms)
}

// Event converts the message into its typed change event
func (m Message) Event() (realtime.ChangeEvent, error) {
	meta := realtime.Meta{
		Schema:     m.Schema,
		Table:      m.Table,
		CommitTime: time.UnixMilli(m.CommitTS).UTC(),
	}

	switch m.Type {
	case realtime.EventInsert:
		return realtime.Insert{Meta: meta, Row: m.New}, nil
	case realtime.EventUpdate:
		return realtime.Update{Meta: meta, OldRow: m.Old, NewRow: m.New}, nil
	case realtime.EventDelete:
		return realtime.Delete{Meta: meta, Row: m.Old}, nil
	default:
		return nil, fmt.Errorf("unknown change type %q", m.Type)
	}
}

// MatchRow returns the row filters are evaluated against: the new row for
// inserts and updates, the old row for deletes.
func (m Message) MatchRow() map[string]any {
	if m.Type == realtime.EventDelete {
		return m.Old
	}
	return m.New
}

// MessageFromEvent builds the wire form of ev
func MessageFromEvent(ev realtime.ChangeEvent) Message {
	meta := ev.Source()
	msg := Message{
		Schema:   meta.Schema,
		Table:    meta.Table,
		Type:     ev.Kind(),
		CommitTS: meta.CommitTime.UnixMilli(),
	}

	switch e := ev.(type) {
	case realtime.Insert:
		msg.New = e.Row
	case realtime.Update:
		msg.Old = e.OldRow
		msg.New = e.NewRow
	case realtime.Delete:
		msg.Old = e.Row
	}
	return msg
}

// EncodeMessage serializes msg for the wire
func EncodeMessage(msg Message, compress bool) ([]byte, error) {
	data, err := encoding.Encode(msg, compress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode change message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a wire payload produced by EncodeMessage
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := encoding.Decode(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode change message: %w", err)
	}
	return msg, nil
}

// Subject builds the subject or topic for a table: {prefix}.{schema}.{table}
func Subject(prefix, schema, table string) string {
	if prefix == "" {
		return fmt.Sprintf("%s.%s", schema, table)
	}
	return fmt.Sprintf("%s.%s.%s", prefix, schema, table)
}
