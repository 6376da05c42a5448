package realtime

import "time"

// Row is a single table row keyed by column name
type Row map[string]any

// Meta carries the origin of a change event
type Meta struct {
	Schema     string
	Table      string
	CommitTime time.Time
}

// ChangeEvent is one row change delivered to subscribers.
// It is implemented only by Insert, Update and Delete, so a type switch over
// those three is exhaustive.
type ChangeEvent interface {
	Kind() EventType
	Source() Meta
	isChangeEvent()
}

// Insert is delivered when a row is created
type Insert struct {
	Meta
	Row Row
}

// Update is delivered when a row changes. OldRow may be partial or nil when the
// table does not publish full old values.
type Update struct {
	Meta
	OldRow Row
	NewRow Row
}

// Delete is delivered when a row is removed
type Delete struct {
	Meta
	Row Row
}

func (Insert) Kind() EventType { return EventInsert }
func (Update) Kind() EventType { return EventUpdate }
func (Delete) Kind() EventType { return EventDelete }

func (e Insert) Source() Meta { return e.Meta }
func (e Update) Source() Meta { return e.Meta }
func (e Delete) Source() Meta { return e.Meta }

func (Insert) isChangeEvent() {}
func (Update) isChangeEvent() {}
func (Delete) isChangeEvent() {}

// Current returns the row as it is after the change (the deleted row for Delete)
func Current(ev ChangeEvent) Row {
	switch e := ev.(type) {
	case Insert:
		return e.Row
	case Update:
		return e.NewRow
	case Delete:
		return e.Row
	}
	return nil
}
