// Package render turns groups of outline documents into PDF files.
//
// A Factory hands out Renderers; the pipeline asks for a fresh Renderer per
// group and closes it when the group is written. Two engines exist: a
// headless Chrome driven through go-rod, and an external HTML to PDF command.
package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_render.go -package=mocks github.com/mattjoyce/folio/internal/render Factory,Renderer

var (
	// ErrEngineUnavailable means no renderer could be instantiated.
	ErrEngineUnavailable = errors.New("render engine unavailable")
	// ErrRender means a single group failed to render.
	ErrRender = errors.New("render failed")
)

// Engine names accepted in render.engine.
const (
	EngineChrome  = "chrome"
	EngineCommand = "command"
)

// Renderer writes docs as one PDF into scheme and returns its location.
type Renderer interface {
	Render(ctx context.Context, docs []outline.Document, scheme, filenameHint string) (string, error)
	Close() error
}

// Factory instantiates renderers.
type Factory interface {
	New(ctx context.Context) (Renderer, error)
}

// NewFactory builds the factory selected by cfg.Engine.
func NewFactory(cfg config.RenderConfig, files workspace.Manager) (Factory, error) {
	switch cfg.Engine {
	case "", EngineChrome:
		return NewChromeFactory(cfg, files), nil
	case EngineCommand:
		return NewCommandFactory(cfg, files)
	default:
		return nil, fmt.Errorf("unknown render engine %q", cfg.Engine)
	}
}

// Available reports whether the configured engine's executable can be found.
func Available(cfg config.RenderConfig) (string, error) {
	switch cfg.Engine {
	case "", EngineChrome:
		return chromeBinary(cfg)
	case EngineCommand:
		return commandBinary(cfg)
	default:
		return "", fmt.Errorf("unknown render engine %q", cfg.Engine)
	}
}
