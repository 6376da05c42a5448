package main

import (
	"testing"

	"github.com/buildline/sitesync/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWatchList(t *testing.T) {
	watches, err := parseWatchList("")
	require.NoError(t, err)
	assert.Empty(t, watches)

	watches, err = parseWatchList("tasks, audit.projects/update:status=open&region=north,")
	require.NoError(t, err)
	require.Len(t, watches, 2)

	assert.Equal(t, realtime.SubscriptionConfig{
		Table:  "tasks",
		Event:  realtime.EventAll,
		Schema: realtime.DefaultSchema,
	}, watches[0])

	assert.Equal(t, realtime.SubscriptionConfig{
		Table:  "projects",
		Event:  realtime.EventUpdate,
		Schema: "audit",
		Filter: map[string]any{"status": "open", "region": "north"},
	}, watches[1])
}

func TestParseWatchList_Invalid(t *testing.T) {
	tests := []string{
		"tasks:status",
		"tasks:=open",
		"tasks/UPSERT",
		"public.",
	}
	for _, spec := range tests {
		_, err := parseWatchList(spec)
		assert.Error(t, err, spec)
	}
}
