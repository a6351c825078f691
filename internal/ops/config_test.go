package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesContent = `
ticker:
  primary_key: close_time
  fields:
    - source: C
      alias: close_time
      type: INT
    - source: c
      alias: last_price
      type: TEXT
    - source: timestamp
      alias: timestamp
      type: INT
`

func writeFiles(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rulesContent), 0o644))

	configPath := filepath.Join(dir, "conf.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(config+"\nrules_path: "+rulesPath+"\n"), 0o644))
	return configPath
}

func TestLoadResolvesDefaults(t *testing.T) {
	path := writeFiles(t, `
database:
  name: marketdata
symbols:
  - BTCUSDT
  - btcusdt
  - " ETHUSDT "
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"btcusdt", "ethusdt"}, cfg.Symbols, "symbols are lowercased and deduped")
	assert.Equal(t, "marketdata", cfg.Conn.Database)
	assert.Equal(t, defaultDepthLevel, cfg.DepthLevel)
	assert.Equal(t, defaultCommitEvery, cfg.CommitEvery)
	assert.Equal(t, defaultQueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, defaultStreamTimeout, cfg.StreamTimeout)
	assert.Equal(t, defaultDequeueTimeout, cfg.DequeueTimeout)

	_, ok := cfg.Rules.Resolve("ticker")
	assert.True(t, ok)
}

func TestLoadParsesExplicitValues(t *testing.T) {
	path := writeFiles(t, `
database:
  host: db.internal
  port: 5433
  user: rec
  password: secret
  name: marketdata
  sslmode: require
symbols: [SOLUSDT]
depth_level: 5
commit_every: 1
queue_capacity: 128
stream_timeout: 2s
dequeue_timeout: 90s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Conn.Host)
	assert.Equal(t, 5433, cfg.Conn.Port)
	assert.Equal(t, "require", cfg.Conn.SSLMode)
	assert.Equal(t, 5, cfg.DepthLevel)
	assert.Equal(t, 1, cfg.CommitEvery)
	assert.Equal(t, 128, cfg.QueueCapacity)
	assert.Equal(t, 2*time.Second, cfg.StreamTimeout)
	assert.Equal(t, 90*time.Second, cfg.DequeueTimeout)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	testCases := []struct {
		desc   string
		config string
	}{
		{
			"no symbols",
			"database:\n  name: marketdata\nsymbols: []\n",
		},
		{
			"bad depth level",
			"database:\n  name: marketdata\nsymbols: [BTCUSDT]\ndepth_level: 7\n",
		},
		{
			"bad timeout",
			"database:\n  name: marketdata\nsymbols: [BTCUSDT]\nstream_timeout: soon\n",
		},
		{
			"missing database name",
			"symbols: [BTCUSDT]\n",
		},
		{
			"profiling without address",
			"database:\n  name: marketdata\nsymbols: [BTCUSDT]\nprofiling:\n  enabled: true\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			path := writeFiles(t, tc.config)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
