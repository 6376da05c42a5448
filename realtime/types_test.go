package realtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionConfig_Normalize(t *testing.T) {
	cfg := SubscriptionConfig{Table: "tasks"}.Normalize()

	assert.Equal(t, EventAll, cfg.Event)
	assert.Equal(t, DefaultSchema, cfg.Schema)
	assert.Nil(t, cfg.Filter)
}

func TestSubscriptionConfig_NormalizeCopiesFilter(t *testing.T) {
	filter := map[string]any{"project_id": "p1"}
	cfg := SubscriptionConfig{Table: "tasks", Filter: filter}.Normalize()

	filter["project_id"] = "p2"
	assert.Equal(t, "p1", cfg.Filter["project_id"])
}

func TestSubscriptionConfig_NormalizeEmptyFilter(t *testing.T) {
	cfg := SubscriptionConfig{Table: "tasks", Filter: map[string]any{}}.Normalize()
	assert.Nil(t, cfg.Filter)
}

func TestSubscriptionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  SubscriptionConfig
		wantErr error
	}{
		{name: "valid", config: SubscriptionConfig{Table: "tasks"}},
		{name: "missing table", config: SubscriptionConfig{}, wantErr: ErrMissingTable},
		{name: "bad event", config: SubscriptionConfig{Table: "tasks", Event: "TRUNCATE"}, wantErr: ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Normalize().Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestEventType_Matches(t *testing.T) {
	assert.True(t, EventAll.Matches(EventDelete))
	assert.True(t, EventInsert.Matches(EventInsert))
	assert.False(t, EventInsert.Matches(EventUpdate))
}

func TestCurrent(t *testing.T) {
	row := Row{"id": "t1"}

	assert.Equal(t, row, Current(Insert{Row: row}))
	assert.Equal(t, row, Current(Update{OldRow: Row{"id": "old"}, NewRow: row}))
	assert.Equal(t, row, Current(Delete{Row: row}))
}

func TestStatus_Failed(t *testing.T) {
	assert.True(t, StatusChannelError.Failed())
	assert.True(t, StatusTimedOut.Failed())
	assert.False(t, StatusSubscribed.Failed())
	assert.False(t, StatusClosed.Failed())
}
