package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ScopeFiles are the files covered by the .checksums manifest.
var ScopeFiles = []string{"config.yaml", "tokens.yaml"}

// tokensFile is the optional tokens.yaml grafted into api.auth.
type tokensFile struct {
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens"`
}

// Load reads and parses configuration from a file or a directory holding config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	configDir := filepath.Dir(absPath)
	if err := verifyIfLocked(configDir); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	if err := graftTokens(cfg, filepath.Join(configDir, "tokens.yaml")); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)
	resolveRelativePaths(cfg, configDir)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

func graftTokens(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read tokens file: %w", err)
	}

	var tf tokensFile
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &tf); err != nil {
		return fmt.Errorf("failed to parse tokens.yaml: %w", err)
	}
	if tf.APIKey != "" {
		cfg.API.Auth.APIKey = tf.APIKey
	}
	cfg.API.Auth.Tokens = append(cfg.API.Auth.Tokens, tf.Tokens...)
	return nil
}

// verifyIfLocked checks scope files against .checksums when the manifest exists.
func verifyIfLocked(configDir string) error {
	if !fileExists(filepath.Join(configDir, checksumsFile)) {
		return nil
	}
	manifest, err := LoadChecksums(configDir)
	if err != nil {
		return err
	}
	return VerifyScopeFiles(configDir, manifest, ScopeFiles)
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.JobLogRetention == 0 {
		cfg.Service.JobLogRetention = defaults.Service.JobLogRetention
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Files.PublicDir == "" {
		cfg.Files.PublicDir = defaults.Files.PublicDir
	}
	if cfg.Files.TemporaryDir == "" {
		cfg.Files.TemporaryDir = defaults.Files.TemporaryDir
	}
	if cfg.Files.TemporaryRetention == 0 {
		cfg.Files.TemporaryRetention = defaults.Files.TemporaryRetention
	}

	if cfg.Render.Engine == "" {
		cfg.Render.Engine = defaults.Render.Engine
	}
	if cfg.Render.Timeout == 0 {
		cfg.Render.Timeout = defaults.Render.Timeout
	}
	if cfg.Render.LaunchAttempts == 0 {
		cfg.Render.LaunchAttempts = defaults.Render.LaunchAttempts
	}

	if cfg.Pipeline.GroupSize == 0 {
		cfg.Pipeline.GroupSize = defaults.Pipeline.GroupSize
	}
	if cfg.Pipeline.MetadataBundle == "" {
		cfg.Pipeline.MetadataBundle = defaults.Pipeline.MetadataBundle
	}

	if len(cfg.Book.AllowedTypes) == 0 {
		cfg.Book.AllowedTypes = defaults.Book.AllowedTypes
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

// resolveRelativePaths anchors relative state and file paths at the config directory.
func resolveRelativePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{&cfg.State.Path, &cfg.Files.PublicDir, &cfg.Files.TemporaryDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.Files.PublicDir == cfg.Files.TemporaryDir {
		return fmt.Errorf("files.public_dir and files.temporary_dir must differ")
	}

	switch cfg.Render.Engine {
	case "chrome":
	case "command":
		if len(cfg.Render.Command) == 0 {
			return fmt.Errorf("render.command is required when render.engine is \"command\"")
		}
	default:
		return fmt.Errorf("render.engine must be chrome or command (got %q)", cfg.Render.Engine)
	}
	if err := unresolved("render.browser_bin", cfg.Render.BrowserBin); err != nil {
		return err
	}

	if cfg.Pipeline.GroupSize < 1 {
		return fmt.Errorf("pipeline.group_size must be at least 1 (got %d)", cfg.Pipeline.GroupSize)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := unresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	return nil
}

// Validate re-runs validation on an already loaded config.
func (c *Config) Validate() error {
	return validate(c)
}
