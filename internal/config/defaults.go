package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9981"
	defaultAppLogPath  = "/data/logs/tradeguard.log"
	defaultAppLLMLog   = "/data/logs/tradeguard-llm.log"

	defaultEngineAPIURL    = "https://api.anthropic.com/v1/messages"
	defaultEngineModel     = "claude-sonnet-4-5-20250929"
	defaultEngineMaxTokens = 4096
	defaultEngineRounds    = 15
	defaultEngineRetryMax  = 4
	defaultEngineRetryBase = 30
	defaultEngineTimeout   = 120

	defaultBackendTimeout = 60

	defaultPromptPath = "configs/prompts.yaml"

	defaultSafetyOrderValue  = 10000
	defaultSafetyDailyOrders = 10
	defaultSafetyDailyLoss   = 2000
	defaultSafetyPositionPct = 25

	defaultSignalExpiry   = 30
	defaultSignalSweep    = 60
	defaultSignalFillPoll = 120

	defaultSessionProbe       = 120
	defaultSessionMaxRecovery = 3
	defaultSessionPause       = 2

	defaultMarketTimezone = "America/New_York"
	defaultMarketOpen     = "09:30"
	defaultMarketClose    = "16:00"

	defaultBrokerPrefix = "ib"

	defaultStorePath   = "/data/db/tradeguard.db"
	defaultJournalPath = "/data/db/tradeguard-journal.db"

	defaultWatchRefresh       = 15
	defaultWatchQuoteTool     = "mktdata_get_stock_price"
	defaultWatchAlertPct      = 3.0
	defaultWatchAlertCooldown = 120
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Prompt.applyDefaults(keys)
	c.Safety.applyDefaults(keys)
	c.Signals.applyDefaults(keys)
	c.Session.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Watch.applyDefaults(keys)
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.TimeoutSeconds <= 0 {
			b.TimeoutSeconds = defaultBackendTimeout
		}
		if strings.TrimSpace(b.Prefix) == "" {
			b.Prefix = strings.ToLower(strings.TrimSpace(b.Name))
		}
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLog),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("engine.api_url", &e.APIURL, defaultEngineAPIURL),
		stringFieldDefault("engine.model", &e.Model, defaultEngineModel),
		intFieldDefault("engine.max_tokens", &e.MaxTokens, defaultEngineMaxTokens),
		intFieldDefault("engine.max_rounds", &e.MaxRounds, defaultEngineRounds),
		intFieldDefault("engine.retry_max", &e.RetryMax, defaultEngineRetryMax),
		intFieldDefault("engine.retry_base_seconds", &e.RetryBaseSeconds, defaultEngineRetryBase),
		intFieldDefault("engine.timeout_seconds", &e.TimeoutSeconds, defaultEngineTimeout),
	)
}

func (p *PromptConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("prompt.path", &p.Path, defaultPromptPath),
	)
}

func (s *SafetyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("safety.max_order_value_usd", &s.MaxOrderValueUSD, defaultSafetyOrderValue),
		intFieldDefault("safety.max_daily_orders", &s.MaxDailyOrders, defaultSafetyDailyOrders),
		floatFieldDefault("safety.max_daily_loss_usd", &s.MaxDailyLossUSD, defaultSafetyDailyLoss),
		floatFieldDefault("safety.max_position_pct", &s.MaxPositionPct, defaultSafetyPositionPct),
	)
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("signals.expiry_minutes", &s.ExpiryMinutes, defaultSignalExpiry),
		intFieldDefault("signals.sweep_seconds", &s.SweepSeconds, defaultSignalSweep),
		intFieldDefault("signals.fill_poll_seconds", &s.FillPollSeconds, defaultSignalFillPoll),
	)
}

func (s *SessionConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("session.probe_seconds", &s.ProbeSeconds, defaultSessionProbe),
		intFieldDefault("session.max_recovery_attempts", &s.MaxRecoveryAttempts, defaultSessionMaxRecovery),
		intFieldDefault("session.recovery_pause_seconds", &s.RecoveryPauseSeconds, defaultSessionPause),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.timezone", &m.Timezone, defaultMarketTimezone),
		stringFieldDefault("market.open_time", &m.OpenTime, defaultMarketOpen),
		stringFieldDefault("market.close_time", &m.CloseTime, defaultMarketClose),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.prefix", &b.Prefix, defaultBrokerPrefix),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
	)
}

func (w *WatchConfig) applyDefaults(keys keySet) {
	if w == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("watch.refresh_minutes", &w.RefreshMinutes, defaultWatchRefresh),
		stringFieldDefault("watch.quote_tool", &w.QuoteTool, defaultWatchQuoteTool),
		floatFieldDefault("watch.alert_percent", &w.AlertPercent, defaultWatchAlertPct),
		intFieldDefault("watch.alert_cooldown_minutes", &w.AlertCooldownMinutes, defaultWatchAlertCooldown),
	)
}

// fieldDefault describes one default rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
