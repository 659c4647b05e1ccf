package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
backends:
  - name: ibkr
    url: http://localhost:8001/mcp
    prefix: ib
engine:
  api_key: test-key
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9981", cfg.App.HTTPAddr)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "https://api.anthropic.com/v1/messages", cfg.Engine.APIURL)
	assert.Equal(t, 15, cfg.Engine.MaxRounds)
	assert.Equal(t, 4, cfg.Engine.RetryMax)
	assert.Equal(t, 30, cfg.Engine.RetryBaseSeconds)
	assert.Equal(t, float64(10000), cfg.Safety.MaxOrderValueUSD)
	assert.Equal(t, 10, cfg.Safety.MaxDailyOrders)
	assert.Equal(t, 30, cfg.Signals.ExpiryMinutes)
	assert.Equal(t, 3, cfg.Session.MaxRecoveryAttempts)
	assert.Equal(t, "America/New_York", cfg.Market.Timezone)
	assert.Equal(t, "09:30", cfg.Market.OpenTime)
	assert.Equal(t, "ib", cfg.Broker.Prefix)
	assert.Equal(t, 60, cfg.Backends[0].TimeoutSeconds)
	assert.Equal(t, "mktdata_get_stock_price", cfg.Watch.QuoteTool)
	assert.InDelta(t, 3.0, cfg.Watch.AlertPercent, 0.001)
	assert.Equal(t, 120, cfg.Watch.AlertCooldownMinutes)
}

func TestLoadKeepsExplicitZero(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
signals:
  sweep_seconds: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Signals.SweepSeconds, "explicit zero must survive defaulting")
	assert.Equal(t, 30, cfg.Signals.ExpiryMinutes)
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load(writeConfig(t, `
backends:
  - name: ibkr
    url: http://localhost:8001/mcp
    prefix: ib
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.api_key")
}

func TestLoadAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	cfg, err := Load(writeConfig(t, `
backends:
  - name: ibkr
    url: http://localhost:8001/mcp
    prefix: ib
`))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Engine.APIKey)
}

func TestLoadRejectsDuplicatePrefix(t *testing.T) {
	_, err := Load(writeConfig(t, `
backends:
  - name: one
    url: http://localhost:8001/mcp
    prefix: ib
  - name: two
    url: http://localhost:8002/mcp
    prefix: ib
engine:
  api_key: test-key
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share prefix")
}

func TestLoadRejectsUnknownBrokerPrefix(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
broker:
  prefix: tasty
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match any configured backend")
}

func TestLoadRejectsBadMarketTimes(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
market:
  open_time: "9am"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market.open_time")
}

func TestLoadRejectsTelegramWithoutToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	_, err := Load(writeConfig(t, minimalConfig+`
notify:
  telegram:
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.telegram")
}

func TestBrokerBackendResolution(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
backends:
  - name: ibkr
    url: http://localhost:8001/mcp
    prefix: IB
  - name: news
    url: http://localhost:8003/mcp
    prefix: news
engine:
  api_key: test-key
broker:
  prefix: ib
`))
	require.NoError(t, err)
	backend, ok := cfg.BrokerBackend()
	require.True(t, ok)
	assert.Equal(t, "ibkr", backend.Name)
}
