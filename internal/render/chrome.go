package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/log"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/workspace"
)

// A4 in inches.
const (
	paperWidthInches  = 8.27
	paperHeightInches = 11.69
	marginInches      = 0.6
)

const launchDelay = 500 * time.Millisecond

// ChromeFactory launches a headless Chrome per renderer.
type ChromeFactory struct {
	cfg    config.RenderConfig
	files  workspace.Manager
	markup *Markup
	logger *slog.Logger
}

var _ Factory = (*ChromeFactory)(nil)

func NewChromeFactory(cfg config.RenderConfig, files workspace.Manager) *ChromeFactory {
	return &ChromeFactory{
		cfg:    cfg,
		files:  files,
		markup: NewMarkup(),
		logger: log.WithComponent("render"),
	}
}

func chromeBinary(cfg config.RenderConfig) (string, error) {
	bin := cfg.BrowserBin
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER_BIN")
	}
	if bin != "" {
		if _, err := os.Stat(bin); err != nil {
			return "", fmt.Errorf("%w: browser %s: %v", ErrEngineUnavailable, bin, err)
		}
		return bin, nil
	}
	if found, ok := launcher.LookPath(); ok {
		return found, nil
	}
	return "", fmt.Errorf("%w: no chrome or chromium binary found", ErrEngineUnavailable)
}

// New launches the browser, retrying up to render.launch_attempts times.
func (f *ChromeFactory) New(ctx context.Context) (Renderer, error) {
	bin, err := chromeBinary(f.cfg)
	if err != nil {
		return nil, err
	}

	attempts := f.cfg.LaunchAttempts
	if attempts == 0 {
		attempts = 1
	}

	var r *chromeRenderer
	err = retry.Do(
		func() error {
			l := launcher.New().Bin(bin).Headless(true).NoSandbox(f.cfg.NoSandbox)
			u, err := l.Launch()
			if err != nil {
				return err
			}
			browser := rod.New().ControlURL(u)
			if err := browser.Connect(); err != nil {
				l.Kill()
				return err
			}
			r = &chromeRenderer{factory: f, launcher: l, browser: browser}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(launchDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Warn("browser launch failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return r, nil
}

type chromeRenderer struct {
	factory  *ChromeFactory
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func (r *chromeRenderer) Render(ctx context.Context, docs []outline.Document, scheme, filenameHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := r.factory.markup.HTML(ctx, filenameHint, docs)
	if err != nil {
		return "", err
	}

	timeout := r.factory.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return "", context.DeadlineExceeded
	}

	page, err := r.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("%w: open page: %v", ErrRender, err)
	}
	defer page.Close()

	if err := page.SetDocumentContent(string(doc)); err != nil {
		return "", fmt.Errorf("%w: load html: %v", ErrRender, err)
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		return "", fmt.Errorf("%w: wait for load: %v", ErrRender, err)
	}

	stream, err := page.PDF(&proto.PagePrintToPDF{
		PaperWidth:      floatPtr(paperWidthInches),
		PaperHeight:     floatPtr(paperHeightInches),
		MarginTop:       floatPtr(marginInches),
		MarginBottom:    floatPtr(marginInches),
		MarginLeft:      floatPtr(marginInches),
		MarginRight:     floatPtr(marginInches),
		PrintBackground: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: print: %v", ErrRender, err)
	}
	pdf, err := io.ReadAll(stream)
	if err != nil {
		return "", fmt.Errorf("%w: read pdf stream: %v", ErrRender, err)
	}

	loc := workspace.UniqueURI(scheme, filenameHint, ".pdf")
	if err := r.factory.files.WriteFile(ctx, loc, pdf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	return loc, nil
}

func (r *chromeRenderer) Close() error {
	err := r.browser.Close()
	r.launcher.Kill()
	r.launcher.Cleanup()
	return err
}

func floatPtr(v float64) *float64 {
	return &v
}
