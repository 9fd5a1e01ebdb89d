// Package doctor checks a folio installation: configuration, file schemes,
// the render engine and the stored artifacts.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/folio/internal/artifact"
	"github.com/mattjoyce/folio/internal/auth"
	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/merge"
	"github.com/mattjoyce/folio/internal/render"
	"github.com/mattjoyce/folio/internal/workspace"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// ArtifactLister lists stored artifacts.
type ArtifactLister interface {
	List(ctx context.Context) ([]artifact.Entry, error)
}

// Doctor validates a loaded configuration against the host it runs on.
type Doctor struct {
	cfg       *config.Config
	files     workspace.Manager
	artifacts ArtifactLister

	renderAvailable func(config.RenderConfig) (string, error)
}

// New creates a Doctor. files and artifacts may be nil; their checks are skipped.
func New(cfg *config.Config, files workspace.Manager, artifacts ArtifactLister) *Doctor {
	return &Doctor{
		cfg:             cfg,
		files:           files,
		artifacts:       artifacts,
		renderAvailable: render.Available,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateFiles(ctx, r)
	d.validateRender(r)
	d.validateTokenScopes(r)
	d.warnAuth(r)
	d.checkArtifacts(ctx, r)

	r.Valid = len(r.Errors) == 0
	return r
}

// ValidateConfig runs only the checks that need nothing but the config.
func (d *Doctor) ValidateConfig() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateTokenScopes(r)
	d.warnAuth(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateConfig(r *Result) {
	if err := d.cfg.Validate(); err != nil {
		d.addError(r, "config", "", err.Error())
	}
}

// validateFiles checks that each scheme directory exists or can be created and is writable.
func (d *Doctor) validateFiles(ctx context.Context, r *Result) {
	if d.files == nil {
		return
	}
	fields := map[string]string{
		workspace.SchemePublic:    "files.public_dir",
		workspace.SchemeTemporary: "files.temporary_dir",
	}
	for _, scheme := range []string{workspace.SchemePublic, workspace.SchemeTemporary} {
		if err := d.files.PrepareDirectory(ctx, workspace.URI(scheme)); err != nil {
			d.addError(r, "files", fields[scheme], err.Error())
		}
	}
}

func (d *Doctor) validateRender(r *Result) {
	if _, err := d.renderAvailable(d.cfg.Render); err != nil {
		d.addError(r, "render", "render.engine",
			fmt.Sprintf("%s engine unavailable: %v", d.cfg.Render.Engine, err))
	}
	if d.cfg.Render.Engine == render.EngineChrome && os.Geteuid() == 0 && !d.cfg.Render.NoSandbox {
		d.addWarning(r, "render", "render.no_sandbox",
			"running as root: chrome usually needs no_sandbox: true")
	}
}

var knownScopes = map[string]bool{
	auth.ScopeBooksRead:  true,
	auth.ScopeBooksWrite: true,
	auth.ScopeJobsRead:   true,
	auth.ScopeEventsRead: true,
	auth.ScopeAdmin:      true,
}

func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if knownScopes[strings.TrimSpace(scope)] {
				continue
			}
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
				fmt.Sprintf("unknown scope %q", scope))
		}
	}
}

func (d *Doctor) warnAuth(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	switch {
	case d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0:
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	case d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0:
		d.addWarning(r, "api", "api.auth",
			"both api_key and tokens configured; api_key grants full access")
	}
}

// checkArtifacts compares stored page counts with the files on disk.
func (d *Doctor) checkArtifacts(ctx context.Context, r *Result) {
	if d.artifacts == nil || d.files == nil {
		return
	}
	entries, err := d.artifacts.List(ctx)
	if err != nil {
		d.addError(r, "artifacts", "", fmt.Sprintf("list artifacts: %v", err))
		return
	}
	for _, e := range entries {
		uri := e.Artifact.URI
		path, err := d.files.Resolve(uri)
		if err != nil {
			d.addWarning(r, "artifacts", uri, err.Error())
			continue
		}
		pages, err := merge.PageCount(path)
		if errors.Is(err, os.ErrNotExist) {
			d.addWarning(r, "artifacts", uri, "file is missing")
			continue
		}
		if err != nil {
			d.addWarning(r, "artifacts", uri, err.Error())
			continue
		}
		for _, m := range e.Metadata {
			if m.Pages != pages {
				d.addWarning(r, "artifacts", uri,
					fmt.Sprintf("metadata %d records %d pages, file has %d", m.ID, m.Pages, pages))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Installation healthy.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Installation healthy (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Installation has problems (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
