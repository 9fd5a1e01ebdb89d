package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/log"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/workspace"
)

const (
	// maxStderrBytes caps the stderr kept from a render command.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the wait between SIGTERM and SIGKILL.
	terminationGracePeriod = 5 * time.Second

	placeholderInput  = "{input}"
	placeholderOutput = "{output}"
)

// CommandFactory renders through an external HTML to PDF program, for
// example `wkhtmltopdf {input} {output}`.
type CommandFactory struct {
	argv    []string
	timeout time.Duration
	grace   time.Duration
	files   workspace.Manager
	markup  *Markup
	logger  *slog.Logger
}

var _ Factory = (*CommandFactory)(nil)

func NewCommandFactory(cfg config.RenderConfig, files workspace.Manager) (*CommandFactory, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("render.command is required for the command engine")
	}
	joined := strings.Join(cfg.Command, " ")
	if !strings.Contains(joined, placeholderInput) || !strings.Contains(joined, placeholderOutput) {
		return nil, fmt.Errorf("render.command must reference %s and %s", placeholderInput, placeholderOutput)
	}
	return &CommandFactory{
		argv:    append([]string(nil), cfg.Command...),
		timeout: cfg.Timeout,
		grace:   terminationGracePeriod,
		files:   files,
		markup:  NewMarkup(),
		logger:  log.WithComponent("render"),
	}, nil
}

func commandBinary(cfg config.RenderConfig) (string, error) {
	if len(cfg.Command) == 0 {
		return "", fmt.Errorf("%w: render.command is empty", ErrEngineUnavailable)
	}
	path, err := exec.LookPath(cfg.Command[0])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return path, nil
}

func (f *CommandFactory) New(context.Context) (Renderer, error) {
	path, err := exec.LookPath(f.argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return &commandRenderer{factory: f, path: path}, nil
}

type commandRenderer struct {
	factory *CommandFactory
	path    string
}

func (r *commandRenderer) Render(ctx context.Context, docs []outline.Document, scheme, filenameHint string) (string, error) {
	f := r.factory
	doc, err := f.markup.HTML(ctx, filenameHint, docs)
	if err != nil {
		return "", err
	}

	input := workspace.UniqueURI(workspace.SchemeTemporary, filenameHint, ".html")
	if err := f.files.WriteFile(ctx, input, doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	output := workspace.UniqueURI(scheme, filenameHint, ".pdf")

	inPath, err := f.files.Resolve(input)
	if err != nil {
		return "", err
	}
	outPath, err := f.files.Resolve(output)
	if err != nil {
		return "", err
	}

	args := make([]string, 0, len(f.argv)-1)
	for _, a := range f.argv[1:] {
		a = strings.ReplaceAll(a, placeholderInput, inPath)
		a = strings.ReplaceAll(a, placeholderOutput, outPath)
		args = append(args, a)
	}

	stderr, err := r.spawn(ctx, args)
	if err != nil {
		f.logger.Warn("render command failed", "command", r.path, "error", err, "stderr", stderr)
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return output, nil
}

// spawn runs the command and enforces the timeout with SIGTERM, a grace
// period, then SIGKILL.
func (r *commandRenderer) spawn(ctx context.Context, args []string) (string, error) {
	f := r.factory
	timeout := f.timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	cmd := exec.Command(r.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.logger.Debug("spawning render command", "command", r.path, "timeout", timeout)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	terminate := func(reason error) (string, error) {
		f.logger.Warn("stopping render command, sending SIGTERM", "reason", reason)
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			f.logger.Error("failed to send SIGTERM", "error", err)
		}
		grace := time.NewTimer(f.grace)
		defer grace.Stop()
		select {
		case <-waitErr:
		case <-grace.C:
			f.logger.Warn("render command ignored SIGTERM, sending SIGKILL")
			if err := cmd.Process.Kill(); err != nil {
				f.logger.Error("failed to send SIGKILL", "error", err)
			}
			<-waitErr
		}
		return truncateStderr(stderr.String()), reason
	}

	select {
	case <-timer.C:
		return terminate(fmt.Errorf("timed out after %v: %w", timeout, context.DeadlineExceeded))
	case <-ctx.Done():
		return terminate(ctx.Err())
	case err := <-waitErr:
		out := truncateStderr(stderr.String())
		if err != nil {
			return out, fmt.Errorf("wait for process: %w", err)
		}
		return out, nil
	}
}

func (r *commandRenderer) Close() error { return nil }

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
