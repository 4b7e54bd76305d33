// Command invomat runs the invoice automation daemon: it loads the config,
// opens the document store, recovers scheduled automations, and serves
// scheduled runs until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"invomat/internal/automation/engine"
	"invomat/internal/automation/scheduler"
	"invomat/internal/config"
	"invomat/internal/eventbus"
	"invomat/internal/mail"
	"invomat/internal/notify"
	"invomat/internal/store"
	"invomat/internal/table"
	"invomat/internal/vendors"
	"invomat/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer func() { _ = logSvc.Close() }()
	cfgMgr.SetLogger(log.With(logx.String("component", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	dir := vendors.New(cfg.Vendors.Aliases, cfg.Vendors.Emails)
	tables := table.NewManager(st, log.With(logx.String("component", "tables")))
	bus := eventbus.New()

	mailTimeout, err := config.ParseDurationOrDefault("mail.request_timeout", cfg.Mail.RequestTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	// No provider is wired in this build; runs complete with per-item errors
	// until a gateway implementation is configured.
	gateway := mail.Throttle(mail.Unconfigured(), cfg.Mail.RatePerSec, mailTimeout)

	lookback := time.Duration(cfg.Mail.LookbackDays) * 24 * time.Hour
	eng := engine.New(st, tables, gateway, dir, bus,
		engine.Config{Lookback: lookback},
		log.With(logx.String("component", "engine")))

	defaultTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 0)
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        cfg.Scheduler.Workers,
		QueueSize:      cfg.Scheduler.QueueSize,
		DefaultTimeout: defaultTimeout,
		Timezone:       cfg.Scheduler.Timezone,
	}, eng, st, log.With(logx.String("component", "scheduler")))

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		log.Warn("scheduler disabled by config; automations will not fire")
	}

	alerts, err := notify.New(notify.Config{
		Enabled:    cfg.Alerts.Enabled,
		Token:      cfg.Alerts.Token,
		ChatID:     cfg.Alerts.ChatID,
		RatePerSec: cfg.Alerts.RatePerSec,
	}, bus, log.With(logx.String("component", "notify")))
	if err != nil {
		return err
	}
	alerts.Start(ctx)

	// Hot reload: logging levels and the vendor directory follow the file;
	// storage and scheduler topology changes need a restart.
	go func() {
		updates := cfgMgr.Subscribe(1)
		defer cfgMgr.Unsubscribe(updates)
		go func() { _ = cfgMgr.Watch(ctx) }()
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				logSvc.Apply(logx.Config{
					Level:   next.Logging.Level,
					Console: next.Logging.Console,
					File: logx.FileConfig{
						Enabled: next.Logging.File.Enabled,
						Path:    next.Logging.File.Path,
					},
				})
				dir.Reload(next.Vendors.Aliases, next.Vendors.Emails)
				log.Info("config applied")
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("invomat started", logx.String("config", cfgPath), logx.String("driver", cfg.Storage.Driver))

	<-ctx.Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	alerts.Stop()
	sched.Stop(shutdownCtx)
	log.Info("invomat stopped")
	return nil
}
