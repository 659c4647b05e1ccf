package app

import (
	"context"
	"fmt"
	"time"

	"tradeguard/internal/ai"
	"tradeguard/internal/config"
	"tradeguard/internal/gateway/notifier"
	"tradeguard/internal/logger"
	"tradeguard/internal/market"
	"tradeguard/internal/mcp"
	"tradeguard/internal/orchestrator"
	"tradeguard/internal/prompt"
	"tradeguard/internal/safety"
	"tradeguard/internal/scheduler"
	"tradeguard/internal/session"
	"tradeguard/internal/signal"
	"tradeguard/internal/store"
	"tradeguard/internal/store/journal"
	"tradeguard/internal/store/sqlite"
	apihttp "tradeguard/internal/transport/http"
	"tradeguard/internal/watch"
)

// AppBuilder assembles the application graph. Each *Fn hook can be swapped
// in tests to stub out a slow or external dependency.
type AppBuilder struct {
	cfg *config.Config

	storeFn     func(string) (store.Store, error)
	notifierFn  func(config.NotifyConfig) notifier.Notifier
	completerFn func(config.EngineConfig) ai.Completer
	promptsFn   func(config.PromptConfig) (*prompt.Registry, error)
	discoverFn  func(context.Context, *mcp.Registry)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		storeFn:     openStore,
		notifierFn:  buildNotifier,
		completerFn: buildCompleter,
		promptsFn:   loadPrompts,
		discoverFn:  discoverBackends,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openStore(path string) (store.Store, error) {
	return sqlite.NewSqliteStore(path)
}

func buildNotifier(cfg config.NotifyConfig) notifier.Notifier {
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	logger.Warnf("app: telegram notifier disabled, approval prompts only reachable over HTTP")
	return notifier.Noop{}
}

func buildCompleter(cfg config.EngineConfig) ai.Completer {
	return ai.NewClient(cfg)
}

func loadPrompts(cfg config.PromptConfig) (*prompt.Registry, error) {
	reg, err := prompt.NewRegistry(cfg.Path)
	if err != nil {
		logger.Warnf("app: prompt file unavailable (%v), using built-in prompts", err)
		return prompt.Static(nil), nil
	}
	return reg, nil
}

func discoverBackends(ctx context.Context, registry *mcp.Registry) {
	registry.Discover(ctx)
	for _, st := range registry.Status() {
		if st.Connected {
			logger.Infof("✓ backend %s: %d tools", st.Name, st.ToolCount)
		} else {
			logger.Warnf("✗ backend %s unreachable: %s", st.Name, st.LastError)
		}
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	st, err := b.storeFn(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	cal, err := market.NewCalendar(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("market calendar: %w", err)
	}

	registry := mcp.NewRegistry(cfg.Backends)
	b.discoverFn(ctx, registry)

	notes := b.notifierFn(cfg.Notify)

	prompts, err := b.promptsFn(cfg.Prompt)
	if err != nil {
		return nil, err
	}

	engine := orchestrator.NewEngine(cfg.Engine, b.completerFn(cfg.Engine), registry, prompts, st)

	jr, err := journal.New(cfg.Store.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	gate := safety.NewGate(cfg.Safety, signal.NewRiskSource(st, cal))
	monitor := session.NewMonitor(cfg.Session, cfg.Broker.Prefix, registry, notes)
	exec := signal.NewBrokerExecutor(cfg.Broker, registry)
	mgr := signal.NewManager(cfg.Signals, st, gate, cal, monitor, exec, notes).WithJournal(jr)

	watchSvc := watch.NewService(cfg.Watch, st, registry, notes)

	router := apihttp.NewRouter(st, registry, monitor, cal, engine, mgr, watchSvc, jr)
	httpSrv := apihttp.NewServer(cfg.App.HTTPAddr, router)

	sched := buildScheduler(cfg, mgr, engine, cal)

	return &App{
		cfg:     cfg,
		st:      st,
		journal: jr,
		monitor: monitor,
		mgr:     mgr,
		watch:   watchSvc,
		sched:   sched,
		httpSrv: httpSrv,
	}, nil
}

func buildScheduler(cfg *config.Config, mgr *signal.Manager, engine *orchestrator.Engine, cal *market.Calendar) *scheduler.Scheduler {
	sched := scheduler.New()

	if cfg.Signals.SweepSeconds > 0 {
		sched.Add(scheduler.Job{
			Name:     "expiry-sweep",
			Interval: time.Duration(cfg.Signals.SweepSeconds) * time.Second,
			Task: func(ctx context.Context) error {
				n, err := mgr.ExpireSweep(ctx)
				if n > 0 {
					logger.Infof("sweep: expired %d stale signals", n)
				}
				return err
			},
		})
	}

	if cfg.Signals.FillPollSeconds > 0 {
		sched.Add(scheduler.Job{
			Name:     "fill-sweep",
			Interval: time.Duration(cfg.Signals.FillPollSeconds) * time.Second,
			Task:     mgr.FillSweep,
		})
	}

	addScan := func(name, trigger, prompt string, minutes int, marketHoursOnly bool) {
		if minutes <= 0 {
			return
		}
		sched.Add(scheduler.Job{
			Name:     name,
			Interval: time.Duration(minutes) * time.Minute,
			Task: func(ctx context.Context) error {
				if marketHoursOnly && !cal.Status().Open {
					return nil
				}
				return runScan(ctx, mgr, engine, trigger, prompt)
			},
		})
	}
	addScan("portfolio-scan", "portfolio_scan", portfolioScanPrompt, cfg.Scans.PortfolioMinutes, true)
	addScan("market-scan", "market_scan", marketScanPrompt, cfg.Scans.MarketMinutes, true)
	// Idea generation is research, it runs regardless of the session.
	addScan("idea-scan", "trade_ideas", tradeIdeasPrompt, cfg.Scans.IdeasMinutes, false)

	return sched
}

// runScan drives one scheduled reasoning pass and feeds any signals it
// produced into the approval pipeline.
func runScan(ctx context.Context, mgr *signal.Manager, engine *orchestrator.Engine, trigger, userPrompt string) error {
	res, err := engine.Run(ctx, trigger, userPrompt)
	if err != nil {
		return fmt.Errorf("%s: %w", trigger, err)
	}
	logger.Infof("scan %s: %d rounds, %d tool calls, %d signals",
		trigger, res.Rounds, len(res.ToolCalls), len(res.Signals))
	for _, sig := range res.Signals {
		if _, err := mgr.Ingest(ctx, sig, trigger); err != nil {
			logger.Warnf("scan %s: ingest %s %s failed: %v", trigger, sig.Action, sig.Ticker, err)
		}
	}
	return nil
}
