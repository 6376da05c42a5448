package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = DefaultConfiguration()
	require.NoError(t, Validate())
}

func TestValidate_InvalidConfigs(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"zero base delay", func(c *Configuration) { c.Realtime.BaseDelayMS = 0 }},
		{"zero attempts", func(c *Configuration) { c.Realtime.MaxAttempts = 0 }},
		{"zero debounce", func(c *Configuration) { c.Realtime.DebounceMS = 0 }},
		{"negative rate limit", func(c *Configuration) { c.Realtime.RateLimitMS = -1 }},
		{"zero threshold", func(c *Configuration) { c.Realtime.CircuitThreshold = 0 }},
		{"zero cooldown", func(c *Configuration) { c.Realtime.CircuitCooldownMS = 0 }},
		{"bad table glob", func(c *Configuration) { c.Realtime.AllowedTables = []string{"tasks["} }},
		{"unknown transport", func(c *Configuration) { c.Transport.Type = "carrier-pigeon" }},
		{"nats without url", func(c *Configuration) {
			c.Transport.Type = TransportNATS
			c.Transport.NATS.URL = ""
		}},
		{"nats without prefix", func(c *Configuration) {
			c.Transport.Type = TransportNATS
			c.Transport.NATS.SubjectPrefix = " "
		}},
		{"kafka without brokers", func(c *Configuration) {
			c.Transport.Type = TransportKafka
			c.Transport.Kafka.Brokers = nil
		}},
		{"admin port", func(c *Configuration) { c.Admin.Port = 70000 }},
		{"log format", func(c *Configuration) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config = DefaultConfiguration()
			tt.mutate(Config)
			assert.Error(t, Validate())
		})
	}
}

func TestValidate_DisabledAdminIgnoresPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = DefaultConfiguration()
	Config.Admin.Enabled = false
	Config.Admin.Port = 0
	assert.NoError(t, Validate())
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = DefaultConfiguration()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
client_id = "site-office-7"

[realtime]
debounce_ms = 3000
allowed_tables = ["tasks", "project*"]

[transport]
type = "nats"

[transport.nats]
url = "nats://nats.internal:4222"
compress = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	require.NoError(t, Load(path))

	assert.Equal(t, "site-office-7", Config.ClientID)
	assert.Equal(t, 3000, Config.Realtime.DebounceMS)
	assert.Equal(t, 200, Config.Realtime.RateLimitMS, "unset values keep defaults")
	assert.Equal(t, []string{"tasks", "project*"}, Config.Realtime.AllowedTables)
	assert.Equal(t, TransportNATS, Config.Transport.Type)
	assert.Equal(t, "nats://nats.internal:4222", Config.Transport.NATS.URL)
	assert.Equal(t, "sitesync.changes", Config.Transport.NATS.SubjectPrefix)
	assert.True(t, Config.Transport.NATS.Compress)
	require.NoError(t, Validate())
}

func TestLoad_MalformedFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = DefaultConfiguration()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[realtime\n"), 0644))

	assert.Error(t, Load(path))
}

func TestAdminSecret(t *testing.T) {
	original := Config
	defer func() { Config = original }()
	Config = DefaultConfiguration()

	assert.False(t, IsAdminAuthEnabled())

	Config.Admin.Secret = "from-file"
	assert.True(t, IsAdminAuthEnabled())
	assert.Equal(t, "from-file", GetAdminSecret())

	t.Setenv("SITESYNC_ADMIN_SECRET", "from-env")
	assert.Equal(t, "from-env", GetAdminSecret())
}
