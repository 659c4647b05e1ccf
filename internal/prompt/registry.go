package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"tradeguard/internal/logger"
)

// Built-in fallback when the prompt file carries no default entry.
const fallbackSystem = `You are a trading analyst assistant. Use the available tools to ground
every claim in live data. When you recommend a trade, emit it as a fenced
` + "```trade_signal" + ` block containing a single JSON object with keys
ticker, action, quantity, price, stop_loss, take_profit, confidence and
reason. Never place orders yourself; a human decides.`

// FileConfig 映射 prompts。
type FileConfig struct {
	Prompts map[string]string `mapstructure:"prompts" yaml:"prompts"`
}

// Snapshot 公开的提示词快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Prompts  map[string]string
}

// Registry serves per-trigger system prompts from a YAML file and reloads it
// on change, so prompt tuning needs no restart.
type Registry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewRegistry 读取提示词文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("prompt registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read prompt config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("prompt reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Static builds a registry that never touches the filesystem, used when no
// prompt file is configured.
func Static(prompts map[string]string) *Registry {
	r := &Registry{}
	r.snapshot = Snapshot{Version: 1, LoadedAt: time.Now(), Prompts: prompts}
	return r
}

// System returns the prompt for a trigger, falling back to the file's
// default entry and then the built-in prompt.
func (r *Registry) System(trigger string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.snapshot.Prompts[strings.TrimSpace(trigger)]; ok && strings.TrimSpace(p) != "" {
		return p
	}
	if p, ok := r.snapshot.Prompts["default"]; ok && strings.TrimSpace(p) != "" {
		return p
	}
	return fallbackSystem
}

// Snapshot 返回当前提示词集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{Version: r.snapshot.Version, LoadedAt: r.snapshot.LoadedAt, Prompts: map[string]string{}}
	for k, v := range r.snapshot.Prompts {
		out.Prompts[k] = v
	}
	return out
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read prompt config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("parse prompt config failed: %w", err)
	}
	prompts := make(map[string]string, len(cfg.Prompts))
	for name, body := range cfg.Prompts {
		prompts[strings.TrimSpace(name)] = body
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Prompts:  prompts,
	}
	r.mu.Unlock()
	logger.Infof("Prompt registry loaded %d prompts from %s", len(prompts), filepath.Base(r.path))
	return nil
}
