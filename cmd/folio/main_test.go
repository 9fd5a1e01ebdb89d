package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/folio/internal/outline"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func cli(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

// writeConfig creates a config directory whose state and files live inside it.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := `service:
  log_level: error
state:
  path: ./data/folio.db
files:
  public_dir: ./data/public
  temporary_dir: ./data/tmp
render:
  engine: chrome
` + extra
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

func TestRunCLINoArgsPrintsUsage(t *testing.T) {
	code, stdout, _ := cli(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "Usage:")
	assert.Contains(t, stdout, "book pdf <id>")
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := cli(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestRunCLIUnknownAction(t *testing.T) {
	code, _, stderr := cli(t, "book", "shred", "1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown book action: shred")
	assert.Contains(t, stderr, "Actions: pdf, publish")
}

func TestNounHelpGoesToStdout(t *testing.T) {
	code, stdout, _ := cli(t, "job", "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Usage: folio job <action>")
}

func TestVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-01-02T03:04:05Z")

	code, stdout, stderr := cli(t, "version", "--json")
	require.Equal(t, 0, code, stderr)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.BuildTime)
}

func TestVersionRejectsArgs(t *testing.T) {
	code, _, stderr := cli(t, "version", "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: folio version")
}

func TestSlugCommands(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"slug", "url", "Hello", "World"}, "hello-world"},
		{[]string{"slug", "child", "Intro", "Chapter-1"}, "ch1-intro"},
		{[]string{"slug", "volume", "Volume-2"}, "vol2"},
	}
	for _, tc := range cases {
		code, stdout, stderr := cli(t, tc.args...)
		require.Equal(t, 0, code, stderr)
		assert.Equal(t, tc.want, strings.TrimSpace(stdout), "%v", tc.args)
	}

	code, _, stderr := cli(t, "slug", "child", "only-one")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: folio slug child")
}

func TestSplitFlagsAndPositionals(t *testing.T) {
	flags, pos := splitFlagsAndPositionals(
		[]string{"7", "--config", "/etc/folio", "--json", "--limit=3", "extra"},
		map[string]bool{"--config": true},
	)
	assert.Equal(t, []string{"--config", "/etc/folio", "--json", "--limit=3"}, flags)
	assert.Equal(t, []string{"7", "extra"}, pos)
}

func TestBookCommandRejectsBadID(t *testing.T) {
	code, _, stderr := cli(t, "book", "publish", "abc")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `Invalid id "abc"`)
}

func TestConfigLockDryRun(t *testing.T) {
	dir := writeConfig(t, "")

	code, stdout, stderr := cli(t, "config", "lock", "--config", dir, "--dry-run", "-v")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "HASH config.yaml")
	assert.Contains(t, stdout, "SKIP tokens.yaml")
	assert.Contains(t, stdout, "Dry run")
	assert.NoFileExists(t, filepath.Join(dir, ".checksums"))

	code, stdout, stderr = cli(t, "config", "lock", "--config", dir)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Locked configuration")
	assert.FileExists(t, filepath.Join(dir, ".checksums"))
}

func TestConfigCheck(t *testing.T) {
	dir := writeConfig(t, "pipeline:\n  group_size: 2\n")
	code, stdout, stderr := cli(t, "config", "check", "--config", dir)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Installation healthy")

	dir = writeConfig(t, "api:\n  enabled: true\n")
	code, stdout, _ = cli(t, "config", "check", "--config", dir, "--strict")
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout, "no authentication configured")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	dir := writeConfig(t, `api:
  enabled: true
  auth:
    api_key: super-secret
    tokens:
      - token: reader-secret
        scopes: ["books:ro"]
`)
	code, stdout, stderr := cli(t, "config", "show", "--config", dir)
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stdout, "super-secret")
	assert.NotContains(t, stdout, "reader-secret")
	assert.Contains(t, stdout, "books:ro")
}

func TestBookImportFlattenPublish(t *testing.T) {
	dir := writeConfig(t, "")
	outlinePath := filepath.Join(dir, "handbook.yaml")
	require.NoError(t, os.WriteFile(outlinePath, []byte(`title: Handbook
bundle: book
published: true
children:
  - title: Part One
    published: true
    weight: 0
    children:
      - title: Intro
        published: true
  - title: Draft
    weight: 1
`), 0o600))

	code, stdout, stderr := cli(t, "book", "import", outlinePath, "--config", dir)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "Imported book 1 (4 documents)", strings.TrimSpace(stdout))

	code, stdout, stderr = cli(t, "book", "flatten", "1", "--config", dir)
	require.Equal(t, 0, code, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "1 Handbook", lines[0])
	assert.Equal(t, "  2 Part One", lines[1])
	assert.Equal(t, "    3 Intro", lines[2])
	assert.Equal(t, "  4 Draft (unpublished)", lines[3])

	code, stdout, stderr = cli(t, "book", "publish", "1", "--config", dir, "--quiet")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "4 documents were successfully updated")

	code, stdout, stderr = cli(t, "book", "flatten", "1", "--published-only", "--config", dir)
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stdout, "unpublished")
	assert.Contains(t, stdout, "  4 Draft")

	code, stdout, stderr = cli(t, "job", "list", "--config", dir)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "completed")
}

func TestBookFlattenMissingBookIsEmpty(t *testing.T) {
	dir := writeConfig(t, "")
	code, stdout, stderr := cli(t, "book", "flatten", "99", "--config", dir)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, strings.TrimSpace(stdout))
}

func TestOutlineIndentClampsDepth(t *testing.T) {
	cases := []struct {
		doc  outline.Document
		want string
	}{
		{outline.Document{}, ""},
		{outline.Document{Outline: &outline.Membership{Depth: 0}}, ""},
		{outline.Document{Outline: &outline.Membership{Depth: -2}}, ""},
		{outline.Document{Outline: &outline.Membership{Depth: 1}}, ""},
		{outline.Document{Outline: &outline.Membership{Depth: 3}}, "    "},
	}
	for _, tc := range cases {
		assert.NotPanics(t, func() {
			assert.Equal(t, tc.want, outlineIndent(&tc.doc))
		})
	}
}
