// Package app wires the dispatcher, its store and notifier, the scheduler and
// the operator HTTP endpoints into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"reminder-dispatcher/internal/audit"
	"reminder-dispatcher/internal/config"
	"reminder-dispatcher/internal/handler"
	"reminder-dispatcher/internal/logx"
	"reminder-dispatcher/internal/notify"
	"reminder-dispatcher/internal/scheduler"
	"reminder-dispatcher/internal/store"
	"reminder-dispatcher/internal/worker"
)

type App struct {
	cfgPath string

	cfgMu sync.Mutex
	cfg   *config.Config

	log       logx.Logger
	logCloser io.Closer

	store  store.RecordStore
	audit  audit.Store
	disp   *worker.Dispatcher
	sched  *scheduler.Service
	server *http.Server

	addrMu sync.Mutex
	addr   net.Addr
}

// New builds every component from cfg. Failing to reach the store is fatal.
func New(ctx context.Context, cfg *config.Config, cfgPath string) (*App, error) {
	log, closer, err := logx.New(cfg.LogConfig())
	if err != nil {
		return nil, err
	}
	a := &App{cfgPath: cfgPath, cfg: cfg, log: log.With(logx.String("comp", "app")), logCloser: closer}
	if err := a.build(ctx, log); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, log logx.Logger) error {
	cfg := a.cfg

	st, err := store.NewRedisStore(ctx, cfg.StoreOptions(), log.With(logx.String("comp", "store")))
	if err != nil {
		return err
	}
	a.store = st

	client, err := notify.New(cfg.NotifyConfig(), log.With(logx.String("comp", "notify")))
	if err != nil {
		return err
	}

	au, err := audit.Open(ctx, cfg.AuditConfig(), log.With(logx.String("comp", "audit")))
	if err != nil {
		return err
	}
	a.audit = au

	settings, err := cfg.DispatchSettings()
	if err != nil {
		return err
	}
	a.disp = worker.NewDispatcher(st, client, settings, cfg.DispatchOptions(), log.With(logx.String("comp", "dispatch")))
	if au != nil {
		a.disp.SetAudit(au)
	}

	a.sched, err = scheduler.New(cfg.SchedulerConfig(), a.disp.RunPass, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return err
	}

	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		mux := handler.Routes(
			handler.NewTriggerHandler(a.sched, log.With(logx.String("comp", "http"))),
			handler.NewHealthHandler(a.disp, a.sched.Next),
		)
		a.server = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	a.log.Info("app ready",
		logx.String("notify", cfg.Notify.Driver),
		logx.String("audit", cfg.Audit.Driver),
		logx.Duration("delay", cfg.Dispatch.Delay),
		logx.String("schedule", cfg.Dispatch.Schedule),
	)
	return nil
}

func (a *App) Log() logx.Logger               { return a.log }
func (a *App) Dispatcher() *worker.Dispatcher { return a.disp }
func (a *App) Store() store.RecordStore       { return a.store }

// Audit returns the audit store; nil when disabled.
func (a *App) Audit() audit.Store { return a.audit }

// Addr is the bound HTTP address once Run is listening.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

func (a *App) currentConfig() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	cfg := a.currentConfig()
	g, gctx := errgroup.WithContext(ctx)

	var ln net.Listener
	if a.server != nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("http listen %s: %w", a.server.Addr, err)
		}
		a.addrMu.Lock()
		a.addr = ln.Addr()
		a.addrMu.Unlock()
	}

	if err := a.sched.Start(gctx); err != nil {
		if ln != nil {
			_ = ln.Close()
		}
		return err
	}

	if ln != nil {
		a.log.Info("http listening", logx.String("addr", ln.Addr().String()))
		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return config.Watch(gctx, a.cfgPath, cfg, a.log.With(logx.String("comp", "config")), a.applyConfig)
	})

	a.sdNotify(daemon.SdNotifyReady)

	g.Go(func() error {
		<-gctx.Done()
		a.sdNotify(daemon.SdNotifyStopping)
		a.log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		var errs []error
		if a.server != nil {
			if err := a.server.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if err := a.sched.Stop(sctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// applyConfig takes a reloaded config. Dispatch tunables and the schedule
// apply to the running process; other sections wait for a restart.
func (a *App) applyConfig(cur *config.Config) {
	a.cfgMu.Lock()
	old := a.cfg
	a.cfg = cur
	a.cfgMu.Unlock()

	settings, err := cur.DispatchSettings()
	if err != nil {
		a.log.Warn("reloaded dispatch settings rejected", logx.Err(err))
		return
	}
	a.disp.Apply(settings)
	if err := a.sched.Reschedule(cur.Dispatch.Schedule); err != nil {
		a.log.Warn("reloaded schedule rejected", logx.Err(err))
	}
	if old != nil {
		if sections := config.RestartRequired(old, cur); len(sections) > 0 {
			a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(sections, ",")))
		}
	}
}

func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}

// Close releases the store, audit log and log file.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil && !errors.Is(err, store.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
