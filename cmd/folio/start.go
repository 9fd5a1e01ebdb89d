package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattjoyce/folio/internal/api"
	"github.com/mattjoyce/folio/internal/dispatch"
	"github.com/mattjoyce/folio/internal/lock"
	"github.com/mattjoyce/folio/internal/log"
	"github.com/mattjoyce/folio/internal/scheduler"
)

func runSystemNoun(args []string) int {
	return nounAction("system", args, map[string]func([]string) int{
		"start": func(a []string) int {
			if hasHelpFlag(a) {
				fmt.Println("Usage: folio system start [--config PATH]")
				return 0
			}
			return runStart(a)
		},
	}, printNounHelp("system", "start"))
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return fail("Failed to parse flags: %v", err)
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		return fail("Failed to load config: %v", err)
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("folio starting", "version", version, "config", cfg.SourcePath)

	pidPath := instanceLockPath(cfg)
	pidLock, err := lock.AcquireInstance(pidPath)
	if err != nil {
		logger.Error("failed to acquire instance lock (another instance may be running)", "path", pidPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired instance lock", "path", pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return 1
	}
	defer a.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	sched := scheduler.New(cfg, a.jobs, a.files, a.engine, a.hub, log.WithComponent("scheduler"))
	disp := dispatch.New(a.engine, cfg.Service.TickInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	// Recovery must finish before anything can schedule new jobs.
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	defer sched.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := disp.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(cfg.API, api.Deps{
			Jobs:      a.engine,
			Records:   a.jobs,
			Builder:   a.builder,
			Books:     a.books,
			Outline:   a.flattener,
			Documents: a.repo,
			Locks:     a.locks,
			Events:    a.hub,
		}, log.WithComponent("api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("folio running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()
	wg.Wait()
	if code != 0 {
		return code
	}

	logger.Info("folio stopped")
	return 0
}
