package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	_ "go.uber.org/automaxprocs"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "book":
		return runBookNoun(args)
	case "slug":
		return runSlugNoun(args)
	case "job":
		return runJobNoun(args)
	case "config":
		return runConfigNoun(args)
	case "doctor":
		return runDoctor(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: folio version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("folio %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`folio - book outlines to merged PDFs

Usage:
  folio <noun> <action> [flags]

Nouns:
  system    Service lifecycle
  book      Book outlines, PDFs and bulk edits
  slug      URL slug helpers
  job       Batch job history
  config    Configuration and integrity

System Commands:
  system start              Run scheduler, dispatcher and API in foreground

Book Commands:
  book pdf <id>             Build PDFs for a document, its branch and its book
  book publish <id>         Publish every document of a book
  book unpublish <id>       Unpublish every document of a book
  book delete <id>          Delete a whole book
  book prune <id>           Delete a branch and everything under it
  book flatten <id>         Print a book outline in reading order
  book import <file.yaml>   Create a book from a YAML outline

Slug Commands:
  slug url <text>                 Slugify text
  slug child <title> <subtitle>   Child page slug
  slug volume <subtitle>          Volume page slug

Job Commands:
  job list                  Show recent jobs
  job inspect <id>          Show a job's steps and artifacts

Config Commands:
  config check              Validate configuration
  config lock               Write integrity hashes (.checksums)
  config show               Print the effective configuration

General:
  doctor                    Check config, file schemes, render engine and artifacts
  version                   Show version information
  help                      Show this help message

Use 'folio <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitFlagsAndPositionals lets flags follow positionals, e.g. `book pdf 3 --json`.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}

// nounAction dispatches `folio <noun> <action>`.
func nounAction(noun string, args []string, actions map[string]func([]string) int, help func(*os.File)) int {
	if len(args) < 1 {
		help(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		help(os.Stdout)
		return 0
	}
	run, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		help(os.Stderr)
		return 1
	}
	return run(args[1:])
}

func printNounHelp(noun string, actions ...string) func(*os.File) {
	return func(w *os.File) {
		fmt.Fprintf(w, "Usage: folio %s <action> [flags]\n", noun)
		fmt.Fprintf(w, "Actions: %s\n", strings.Join(actions, ", "))
	}
}
