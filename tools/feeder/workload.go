package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/transport"
)

// rowShape fills a row for one table. rng is owned by the caller.
type rowShape func(id string, project int, rng *rand.Rand) map[string]any

var (
	taskStatuses    = []string{"open", "in_progress", "blocked", "done"}
	projectStatuses = []string{"planning", "open", "on_hold", "closed"}
	regions         = []string{"north", "south", "east", "west"}
)

var tableShapes = map[string]rowShape{
	"tasks": func(id string, project int, rng *rand.Rand) map[string]any {
		return map[string]any{
			"id":         id,
			"project_id": fmt.Sprintf("p%d", project),
			"status":     taskStatuses[rng.Intn(len(taskStatuses))],
			"floor":      rng.Intn(12),
		}
	},
	"projects": func(id string, project int, rng *rand.Rand) map[string]any {
		return map[string]any{
			"id":     id,
			"region": regions[rng.Intn(len(regions))],
			"status": projectStatuses[rng.Intn(len(projectStatuses))],
		}
	},
	"inspections": func(id string, project int, rng *rand.Rand) map[string]any {
		return map[string]any{
			"id":         id,
			"project_id": fmt.Sprintf("p%d", project),
			"passed":     rng.Intn(4) != 0,
		}
	},
}

type liveRow struct {
	id      string
	project int
	row     map[string]any
}

// Generator produces a plausible stream of row changes. Updates and deletes
// only target rows the generator inserted earlier. Not safe for concurrent use.
type Generator struct {
	schema   string
	tables   []string
	projects int
	rng      *rand.Rand
	now      func() time.Time

	insertPct int
	updatePct int

	counter uint64
	live    map[string][]liveRow
}

// NewGenerator creates a generator for the configured tables
func NewGenerator(c *Config, now func() time.Time) *Generator {
	return &Generator{
		schema:    c.Schema,
		tables:    c.tableList,
		projects:  c.Projects,
		rng:       rand.New(rand.NewSource(c.Seed)),
		now:       now,
		insertPct: c.InsertPct,
		updatePct: c.UpdatePct,
		live:      make(map[string][]liveRow),
	}
}

// Next returns the next change message
func (g *Generator) Next() transport.Message {
	table := g.tables[g.rng.Intn(len(g.tables))]
	msg := transport.Message{
		Schema:   g.schema,
		Table:    table,
		CommitTS: g.now().UnixMilli(),
	}

	rows := g.live[table]
	roll := g.rng.Intn(100)
	switch {
	case len(rows) == 0 || roll < g.insertPct:
		g.counter++
		r := liveRow{id: fmt.Sprintf("%s_%08d", table[:1], g.counter), project: g.rng.Intn(g.projects) + 1}
		r.row = tableShapes[table](r.id, r.project, g.rng)
		g.live[table] = append(rows, r)
		msg.Type = realtime.EventInsert
		msg.New = r.row

	case roll < g.insertPct+g.updatePct:
		i := g.rng.Intn(len(rows))
		old := rows[i].row
		fresh := tableShapes[table](rows[i].id, rows[i].project, g.rng)
		rows[i].row = fresh
		msg.Type = realtime.EventUpdate
		msg.Old = old
		msg.New = fresh

	default:
		i := g.rng.Intn(len(rows))
		msg.Type = realtime.EventDelete
		msg.Old = rows[i].row
		rows[i] = rows[len(rows)-1]
		g.live[table] = rows[:len(rows)-1]
	}

	return msg
}

// LiveRows returns the number of rows currently alive in table
func (g *Generator) LiveRows(table string) int {
	return len(g.live[table])
}
