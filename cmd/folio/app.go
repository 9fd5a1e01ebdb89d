package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/folio/internal/artifact"
	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/bookops"
	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/lock"
	"github.com/mattjoyce/folio/internal/merge"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/pdfbuild"
	"github.com/mattjoyce/folio/internal/render"
	"github.com/mattjoyce/folio/internal/storage"
	"github.com/mattjoyce/folio/internal/workspace"
)

// app holds the wired components shared by `system start` and the book commands.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	hub       *events.Hub
	repo      *outline.SQLiteRepository
	flattener *outline.Flattener
	jobs      *batch.JobStore
	engine    *batch.Engine
	locks     *lock.Registry
	files     *workspace.FSManager
	artifacts *artifact.SQLiteStore
	builder   *pdfbuild.Builder
	books     *bookops.Utility
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}

	files, err := workspace.NewFSManager(cfg.Files.PublicDir, cfg.Files.TemporaryDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("file schemes: %w", err)
	}
	renderers, err := render.NewFactory(cfg.Render, files)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("render engine: %w", err)
	}

	hub := events.NewHub(256)
	repo := outline.NewSQLiteRepository(db)
	jobs := batch.NewJobStore(db)
	engine := batch.NewEngine(batch.WithRecorder(jobs), batch.WithEvents(hub))
	locks := lock.NewRegistry(hub)
	artifacts := artifact.NewSQLiteStore(db, cfg.Pipeline.MetadataBundle)

	builder := pdfbuild.New(pdfbuild.Deps{
		Store:     repo,
		Jobs:      engine,
		Renderers: renderers,
		Mergers:   merge.NewFactory(files),
		Files:     files,
		Artifacts: artifacts,
		Events:    hub,
	}, pdfbuild.Options{
		GroupSize:          cfg.Pipeline.GroupSize,
		IncludeUnpublished: cfg.Pipeline.Unpublished(),
	})

	return &app{
		cfg:       cfg,
		db:        db,
		hub:       hub,
		repo:      repo,
		flattener: outline.NewFlattener(repo, hub),
		jobs:      jobs,
		engine:    engine,
		locks:     locks,
		files:     files,
		artifacts: artifacts,
		builder:   builder,
		books:     bookops.New(repo, engine, locks, hub),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// loadConfigForTool loads configPath, discovering it when empty.
func loadConfigForTool(configPath string) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// instanceLockPath sits next to the database: folio.db -> folio.pid.
func instanceLockPath(cfg *config.Config) string {
	base := filepath.Base(cfg.State.Path)
	return filepath.Join(filepath.Dir(cfg.State.Path), strings.TrimSuffix(base, filepath.Ext(base))+".pid")
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return 1
}
