package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradeguard/internal/config"
	"tradeguard/internal/logger"
	"tradeguard/internal/scheduler"
	"tradeguard/internal/session"
	"tradeguard/internal/signal"
	"tradeguard/internal/store"
	"tradeguard/internal/store/journal"
	apihttp "tradeguard/internal/transport/http"
	"tradeguard/internal/watch"
)

// App 负责应用级编排：加载配置→初始化依赖→启动监控与 HTTP 服务。
type App struct {
	cfg     *config.Config
	st      store.Store
	journal *journal.Store
	monitor *session.Monitor
	mgr     *signal.Manager
	watch   *watch.Service
	sched   *scheduler.Scheduler
	httpSrv *apihttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg)
}

// Run starts every long-lived loop and blocks until the context ends or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		_ = a.st.Close()
		_ = a.journal.Close()
	}()

	// Signals issued before the last shutdown are still awaiting a human.
	if err := a.mgr.ReloadPending(ctx); err != nil {
		logger.Warnf("app: reloading pending signals failed: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil && !isCtxEnd(err) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := a.monitor.Run(ctx); err != nil && !isCtxEnd(err) {
			return fmt.Errorf("session monitor: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := a.watch.Run(ctx); err != nil && !isCtxEnd(err) {
			return fmt.Errorf("watchlist refresher: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := a.sched.Run(ctx); err != nil && !isCtxEnd(err) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func isCtxEnd(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
