package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if _, ok := c.BrokerBackend(); !ok {
		return fmt.Errorf("broker.prefix %q does not match any configured backend", c.Broker.Prefix)
	}
	return nil
}

func (c *Config) validateBackends() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("backends requires at least one entry")
	}
	seen := make(map[string]string, len(c.Backends))
	for _, b := range c.Backends {
		if strings.TrimSpace(b.URL) == "" {
			return fmt.Errorf("backends.%s missing url", b.Name)
		}
		prefix := strings.ToLower(strings.TrimSpace(b.Prefix))
		if prefix == "" {
			return fmt.Errorf("backends.%s missing prefix", b.Name)
		}
		if prev, dup := seen[prefix]; dup {
			return fmt.Errorf("backends %s and %s share prefix %q", prev, b.Name, prefix)
		}
		seen[prefix] = b.Name
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if strings.TrimSpace(e.APIKey) == "" {
		return fmt.Errorf("engine.api_key is required")
	}
	if e.MaxRounds <= 0 {
		return fmt.Errorf("engine.max_rounds must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("market.timezone invalid: %w", err)
	}
	for _, field := range []struct{ name, value string }{
		{"market.open_time", m.OpenTime},
		{"market.close_time", m.CloseTime},
	} {
		if _, err := time.Parse("15:04", field.value); err != nil {
			return fmt.Errorf("%s must be HH:MM: %w", field.name, err)
		}
	}
	for _, day := range m.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return fmt.Errorf("market.holidays contains invalid date %q", day)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	t := n.Telegram
	if t.Enabled && (strings.TrimSpace(t.BotToken) == "" || strings.TrimSpace(t.ChatID) == "") {
		return fmt.Errorf("notify.telegram enabled but bot_token/chat_id missing")
	}
	return nil
}
