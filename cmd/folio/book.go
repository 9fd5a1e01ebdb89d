package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/lock"
	"github.com/mattjoyce/folio/internal/log"
	"github.com/mattjoyce/folio/internal/outline"
	"github.com/mattjoyce/folio/internal/pdfbuild"
)

var bookFlagValues = map[string]bool{"--config": true, "-config": true}

func runBookNoun(args []string) int {
	return nounAction("book", args, map[string]func([]string) int{
		"pdf": bookJobAction("pdf", func(ctx context.Context, a *app, id int64) (string, error) {
			return a.builder.BuildDocumentTree(ctx, id)
		}),
		"publish": bookJobAction("publish", func(ctx context.Context, a *app, id int64) (string, error) {
			return a.books.UpdateBook(ctx, id, true)
		}),
		"unpublish": bookJobAction("unpublish", func(ctx context.Context, a *app, id int64) (string, error) {
			return a.books.UpdateBook(ctx, id, false)
		}),
		"delete": bookJobAction("delete", func(ctx context.Context, a *app, id int64) (string, error) {
			return a.books.DeleteBook(ctx, id)
		}),
		"prune": bookJobAction("prune", func(ctx context.Context, a *app, id int64) (string, error) {
			return a.books.DeleteBranch(ctx, id)
		}),
		"flatten": runBookFlatten,
		"import":  runBookImport,
	}, printNounHelp("book", "pdf", "publish", "unpublish", "delete", "prune", "flatten", "import"))
}

type scheduleFunc func(ctx context.Context, a *app, id int64) (string, error)

// bookJobAction schedules a job and steps it to completion in this process.
// It holds the instance lock, so it refuses to run next to `system start`.
func bookJobAction(action string, schedule scheduleFunc) func([]string) int {
	return func(args []string) int {
		fs := flag.NewFlagSet(action, flag.ContinueOnError)
		configPath := fs.String("config", "", "Path to configuration file or directory")
		jsonOut := fs.Bool("json", false, "Print the job outcome as JSON")
		quiet := fs.Bool("quiet", false, "Do not print progress")
		flags, positionals := splitFlagsAndPositionals(args, bookFlagValues)
		if err := fs.Parse(flags); err != nil {
			return fail("Flag error: %v", err)
		}
		if len(positionals) != 1 {
			return fail("Usage: folio book %s <id> [--config PATH] [--json] [--quiet]", action)
		}
		id, err := strconv.ParseInt(positionals[0], 10, 64)
		if err != nil || id <= 0 {
			return fail("Invalid id %q: must be a positive integer", positionals[0])
		}

		cfg, err := loadConfigForTool(*configPath)
		if err != nil {
			return fail("Failed to load config: %v", err)
		}
		log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

		pidLock, err := lock.AcquireInstance(instanceLockPath(cfg))
		if errors.Is(err, lock.ErrInstanceRunning) {
			return fail("folio is running as a service; use the HTTP API instead (%v)", err)
		}
		if err != nil {
			return fail("Failed to acquire instance lock: %v", err)
		}
		defer pidLock.Release()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg)
		if err != nil {
			return fail("Failed to initialize: %v", err)
		}
		defer a.Close()

		jobID, err := schedule(ctx, a, id)
		if err != nil {
			return fail("Failed to schedule %s: %v", action, err)
		}
		return runJob(ctx, a.engine, jobID, *jsonOut, *quiet)
	}
}

type jobSummary struct {
	JobID   string        `json:"job_id"`
	Message string        `json:"message"`
	Outcome batch.Outcome `json:"outcome"`
}

// runJob steps jobID until it finishes. Exit codes: 0 clean, 1 hard failure
// or interrupted, 2 finished with per-document or per-file failures.
func runJob(ctx context.Context, engine *batch.Engine, jobID string, jsonOut, quiet bool) int {
	for {
		p, err := engine.Step(ctx, jobID)
		if err != nil {
			return fail("Job %s: %v", jobID, err)
		}
		if ctx.Err() != nil {
			return fail("Interrupted; job %s left unfinished", jobID)
		}
		if !quiet && !jsonOut && !p.State.Terminal() {
			fmt.Printf("[%d/%d %s] %3.0f%% %s\n", p.Index+1, p.Operations, p.Operation, p.Finished*100, p.Message)
		}
		if !p.State.Terminal() {
			continue
		}

		var out batch.Outcome
		if p.Outcome != nil {
			out = *p.Outcome
		}
		if jsonOut {
			data, err := json.MarshalIndent(jobSummary{JobID: jobID, Message: p.Message, Outcome: out}, "", "  ")
			if err != nil {
				return fail("Failed to render JSON: %v", err)
			}
			fmt.Println(string(data))
		} else {
			fmt.Println(p.Message)
			for _, uri := range artifactURIs(out.Results.Values) {
				fmt.Printf("  %s\n", uri)
			}
		}

		_, failedFiles := pdfbuild.FileCounts(out.Results.Values)
		switch {
		case !out.Success:
			return 1
		case out.Results.FailCount > 0 || failedFiles > 0:
			return 2
		default:
			return 0
		}
	}
}

func artifactURIs(values map[string]string) []string {
	var uris []string
	for k, v := range values {
		if strings.HasPrefix(k, "artifact:") {
			uris = append(uris, v)
		}
	}
	sort.Strings(uris)
	return uris
}

func runBookFlatten(args []string) int {
	fs := flag.NewFlagSet("flatten", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	publishedOnly := fs.Bool("published-only", false, "Skip unpublished documents and their subtrees")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	flags, positionals := splitFlagsAndPositionals(args, bookFlagValues)
	if err := fs.Parse(flags); err != nil {
		return fail("Flag error: %v", err)
	}
	if len(positionals) != 1 {
		return fail("Usage: folio book flatten <id> [--published-only] [--json]")
	}
	id, err := strconv.ParseInt(positionals[0], 10, 64)
	if err != nil {
		return fail("Invalid id %q", positionals[0])
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		return fail("Failed to load config: %v", err)
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return fail("Failed to initialize: %v", err)
	}
	defer a.Close()

	ids, diags, err := a.flattener.Walk(ctx, id, !*publishedOnly)
	if err != nil {
		return fail("Flatten failed: %v", err)
	}
	docs, err := a.repo.LoadMultiple(ctx, ids)
	if err != nil {
		return fail("Load failed: %v", err)
	}

	if *jsonOut {
		ordered := make([]*outline.Document, 0, len(ids))
		for _, docID := range ids {
			if d, ok := docs[docID]; ok {
				ordered = append(ordered, d)
			}
		}
		data, err := json.MarshalIndent(map[string]any{"documents": ordered, "diagnostics": diags}, "", "  ")
		if err != nil {
			return fail("Failed to render JSON: %v", err)
		}
		fmt.Println(string(data))
		return 0
	}

	for _, docID := range ids {
		d, ok := docs[docID]
		if !ok {
			continue
		}
		marker := ""
		if !d.IsPublished() {
			marker = " (unpublished)"
		}
		fmt.Printf("%s%d %s%s\n", outlineIndent(d), d.ID, d.Title, marker)
	}
	for _, diag := range diags {
		fmt.Fprintf(os.Stderr, "skipped %d: %s\n", diag.DocumentID, diag.Kind)
	}
	return 0
}

// outlineIndent indents by outline depth; the root and rows without a depth sit at the margin.
func outlineIndent(d *outline.Document) string {
	depth := 1
	if d.Outline != nil {
		depth = max(d.Outline.Depth, 1)
	}
	return strings.Repeat("  ", depth-1)
}

func runBookImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	flags, positionals := splitFlagsAndPositionals(args, bookFlagValues)
	if err := fs.Parse(flags); err != nil {
		return fail("Flag error: %v", err)
	}
	if len(positionals) != 1 {
		return fail("Usage: folio book import <file.yaml> [--config PATH]")
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		return fail("Failed to load config: %v", err)
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	f, err := os.Open(positionals[0])
	if err != nil {
		return fail("Failed to open outline: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return fail("Failed to initialize: %v", err)
	}
	defer a.Close()

	res, err := outline.Import(ctx, a.repo, f, outline.AllowedBundles(cfg.Book.AllowedTypes))
	if err != nil {
		return fail("Import failed: %v", err)
	}
	fmt.Printf("Imported book %d (%d documents)\n", res.BookID, res.Documents)
	return 0
}
