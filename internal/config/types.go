package config

import "strings"

// Config is the top-level configuration carrier for tradeguard.
type Config struct {
	App      AppConfig       `toml:"app"`
	Backends []BackendConfig `toml:"backends"`
	Engine   EngineConfig    `toml:"engine"`
	Prompt   PromptConfig    `toml:"prompt"`
	Safety   SafetyConfig    `toml:"safety"`
	Signals  SignalConfig    `toml:"signals"`
	Session  SessionConfig   `toml:"session"`
	Market   MarketConfig    `toml:"market"`
	Broker   BrokerConfig    `toml:"broker"`
	Notify   NotifyConfig    `toml:"notify"`
	Store    StoreConfig     `toml:"store"`
	Watch    WatchConfig     `toml:"watch"`
	Scans    ScanConfig      `toml:"scans"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// BackendConfig describes one tool backend reachable over the session
// protocol. Prefix becomes the namespace of every tool it exposes.
type BackendConfig struct {
	Name           string `toml:"name"`
	URL            string `toml:"url"`
	Prefix         string `toml:"prefix"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// EngineConfig describes the reasoning-engine endpoint and loop bounds.
type EngineConfig struct {
	APIURL           string `toml:"api_url"`
	APIKey           string `toml:"api_key"`
	Model            string `toml:"model"`
	MaxTokens        int    `toml:"max_tokens"`
	MaxRounds        int    `toml:"max_rounds"`
	RetryMax         int    `toml:"retry_max"`
	RetryBaseSeconds int    `toml:"retry_base_seconds"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
}

type PromptConfig struct {
	Path string `toml:"path"`
}

// SafetyConfig carries the hard limits enforced before any signal reaches a
// human.
type SafetyConfig struct {
	MaxOrderValueUSD float64 `toml:"max_order_value_usd"`
	MaxDailyOrders   int     `toml:"max_daily_orders"`
	MaxDailyLossUSD  float64 `toml:"max_daily_loss_usd"`
	MaxPositionPct   float64 `toml:"max_position_pct"`
}

type SignalConfig struct {
	ExpiryMinutes   int `toml:"expiry_minutes"`
	SweepSeconds    int `toml:"sweep_seconds"`
	FillPollSeconds int `toml:"fill_poll_seconds"`
}

type SessionConfig struct {
	ProbeSeconds         int `toml:"probe_seconds"`
	MaxRecoveryAttempts  int `toml:"max_recovery_attempts"`
	RecoveryPauseSeconds int `toml:"recovery_pause_seconds"`
}

// MarketConfig describes the exchange calendar used by the execution gate.
type MarketConfig struct {
	Timezone  string   `toml:"timezone"`
	OpenTime  string   `toml:"open_time"`
	CloseTime string   `toml:"close_time"`
	Holidays  []string `toml:"holidays"`
}

// BrokerConfig identifies the brokerage backend among the configured
// backends and the account orders are placed against.
type BrokerConfig struct {
	Prefix    string `toml:"prefix"`
	AccountID string `toml:"account_id"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StoreConfig struct {
	Path        string `toml:"path"`
	JournalPath string `toml:"journal_path"`
}

// WatchConfig controls the watchlist quote refresher. QuoteTool is the
// prefixed tool name used to pull quotes. A refresh that moves a symbol by
// AlertPercent or more pages the operator, at most once per cooldown.
type WatchConfig struct {
	RefreshMinutes       int     `toml:"refresh_minutes"`
	QuoteTool            string  `toml:"quote_tool"`
	AlertPercent         float64 `toml:"alert_percent"`
	AlertCooldownMinutes int     `toml:"alert_cooldown_minutes"`
}

// ScanConfig controls the scheduled orchestrator runs. Zero disables a scan.
type ScanConfig struct {
	PortfolioMinutes int `toml:"portfolio_minutes"`
	MarketMinutes    int `toml:"market_minutes"`
	IdeasMinutes     int `toml:"ideas_minutes"`
}

// BrokerBackend resolves the backend entry whose prefix matches the broker
// configuration. Returns false when none is configured.
func (c *Config) BrokerBackend() (BackendConfig, bool) {
	want := strings.ToLower(strings.TrimSpace(c.Broker.Prefix))
	for _, b := range c.Backends {
		if strings.ToLower(strings.TrimSpace(b.Prefix)) == want {
			return b, true
		}
	}
	return BackendConfig{}, false
}

// keySet tracks the field paths explicitly present in the config file so
// defaults never clobber deliberate zero values.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}
