package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/doctor"
	"github.com/mattjoyce/folio/internal/inspect"
	"github.com/mattjoyce/folio/internal/slug"
	"github.com/mattjoyce/folio/internal/storage"
	"github.com/mattjoyce/folio/internal/workspace"
)

var configFlagValues = map[string]bool{"--config": true, "-config": true, "--limit": true, "-limit": true}

func runSlugNoun(args []string) int {
	return nounAction("slug", args, map[string]func([]string) int{
		"url": func(a []string) int {
			if len(a) == 0 {
				return fail("Usage: folio slug url <text>")
			}
			fmt.Println(slug.Slugify(strings.Join(a, " ")))
			return 0
		},
		"child": func(a []string) int {
			if len(a) != 2 {
				return fail("Usage: folio slug child <title> <subtitle>")
			}
			fmt.Println(slug.ChildPageSlug(a[0], a[1]))
			return 0
		},
		"volume": func(a []string) int {
			if len(a) != 1 {
				return fail("Usage: folio slug volume <subtitle>")
			}
			fmt.Println(slug.VolumePageSlug(a[0]))
			return 0
		},
	}, printNounHelp("slug", "url", "child", "volume"))
}

func runJobNoun(args []string) int {
	return nounAction("job", args, map[string]func([]string) int{
		"list":    runJobList,
		"inspect": runJobInspect,
	}, printNounHelp("job", "list", "inspect"))
}

// openJobStore opens only the database; job commands work while the service runs.
func openJobStore(ctx context.Context, configPath string) (*config.Config, *batch.JobStore, func(), error) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, batch.NewJobStore(db), func() { _ = db.Close() }, nil
}

func runJobList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of jobs")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return fail("Flag error: %v", err)
	}

	ctx := context.Background()
	_, store, closeDB, err := openJobStore(ctx, *configPath)
	if err != nil {
		return fail("%v", err)
	}
	defer closeDB()

	records, err := store.List(ctx, *limit)
	if err != nil {
		return fail("List failed: %v", err)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fail("Failed to render JSON: %v", err)
		}
		fmt.Println(string(data))
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tTITLE\tCREATED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.ID, rec.State, rec.Title, rec.CreatedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
	return 0
}

func runJobInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	flags, positionals := splitFlagsAndPositionals(args, configFlagValues)
	if err := fs.Parse(flags); err != nil {
		return fail("Flag error: %v", err)
	}
	if len(positionals) != 1 {
		return fail("Usage: folio job inspect <job_id> [--config PATH] [--json]")
	}

	ctx := context.Background()
	cfg, store, closeDB, err := openJobStore(ctx, *configPath)
	if err != nil {
		return fail("%v", err)
	}
	defer closeDB()

	files, err := workspace.NewFSManager(cfg.Files.PublicDir, cfg.Files.TemporaryDir)
	if err != nil {
		return fail("File schemes: %v", err)
	}

	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, store, files, positionals[0])
	} else {
		report, err = inspect.BuildReport(ctx, store, files, positionals[0])
	}
	if err != nil {
		return fail("Inspect failed: %v", err)
	}
	fmt.Println(strings.TrimRight(report, "\n"))
	return 0
}

func runConfigNoun(args []string) int {
	return nounAction("config", args, map[string]func([]string) int{
		"check": runConfigCheck,
		"lock":  runConfigLock,
		"show":  runConfigShow,
	}, printNounHelp("config", "check", "lock", "show"))
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return fail("Flag error: %v", err)
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		return fail("Config load error: %v", err)
	}
	return printResult(doctor.New(cfg, nil, nil).ValidateConfig(), *jsonOut, *strict)
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return fail("Flag error: %v", err)
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		return fail("Config load error: %v", err)
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return fail("Failed to initialize: %v", err)
	}
	defer a.Close()

	return printResult(doctor.New(cfg, a.files, a.artifacts).Validate(ctx), *jsonOut, *strict)
}

func printResult(result *doctor.Result, jsonOut, strict bool) int {
	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			return fail("JSON format error: %v", err)
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// runConfigLock hashes config.yaml and tokens.yaml without loading them, so a
// deliberate edit can be re-authorized.
func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Compute hashes without writing .checksums")
	verbose := fs.Bool("v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		return fail("Flag error: %v", err)
	}

	target := *configPath
	if target == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return fail("Failed to discover config: %v", err)
		}
		target = discovered
	}
	dir := target
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		dir = filepath.Dir(target)
	}

	report, err := config.Lock(dir, *dryRun)
	if err != nil {
		return fail("Failed to lock config in %s: %v", dir, err)
	}
	if *verbose {
		for _, f := range report.Files {
			if f.Exists {
				fmt.Printf("  HASH %s: %s\n", f.Filename, f.Hash)
				continue
			}
			fmt.Printf("  SKIP %s: not found (optional)\n", f.Filename)
		}
	}
	if report.Written {
		fmt.Printf("Locked configuration: %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("Dry run: %s not written\n", report.ChecksumPath)
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	reveal := fs.Bool("reveal", false, "Print token values instead of redacting them")
	if err := fs.Parse(args); err != nil {
		return fail("Flag error: %v", err)
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		return fail("Load error: %v", err)
	}
	if !*reveal {
		cfg = redacted(cfg)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fail("Failed to render JSON: %v", err)
		}
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fail("Failed to render YAML: %v", err)
	}
	fmt.Print(string(data))
	return 0
}

func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = "********"
	}
	out.API.Auth.Tokens = make([]config.APIToken, len(cfg.API.Auth.Tokens))
	for i, t := range cfg.API.Auth.Tokens {
		out.API.Auth.Tokens[i] = config.APIToken{Token: "********", Scopes: t.Scopes}
	}
	return &out
}
