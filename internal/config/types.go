package config

import "time"

// Config represents the complete folio configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	Files    FilesConfig    `yaml:"files"`
	Render   RenderConfig   `yaml:"render"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Book     BookConfig     `yaml:"book"`
	API      APIConfig      `yaml:"api,omitempty"`

	// SourcePath is the absolute path of the loaded config.yaml.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	JobLogRetention time.Duration `yaml:"job_log_retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// FilesConfig maps the public:// and temporary:// schemes to directories.
type FilesConfig struct {
	PublicDir          string        `yaml:"public_dir"`
	TemporaryDir       string        `yaml:"temporary_dir"`
	TemporaryRetention time.Duration `yaml:"temporary_retention"`
}

// RenderConfig selects and tunes the HTML to PDF engine.
type RenderConfig struct {
	Engine         string        `yaml:"engine"` // chrome | command
	BrowserBin     string        `yaml:"browser_bin,omitempty"`
	NoSandbox      bool          `yaml:"no_sandbox"`
	Timeout        time.Duration `yaml:"timeout"`
	LaunchAttempts uint          `yaml:"launch_attempts"`
	Command        []string      `yaml:"command,omitempty"`
}

// PipelineConfig tunes the PDF assembly pipeline.
type PipelineConfig struct {
	GroupSize          int    `yaml:"group_size"`
	IncludeUnpublished *bool  `yaml:"include_unpublished,omitempty"`
	MetadataBundle     string `yaml:"metadata_bundle"`
}

// Unpublished reports whether unpublished documents are rendered.
func (p PipelineConfig) Unpublished() bool {
	return p.IncludeUnpublished == nil || *p.IncludeUnpublished
}

// BookConfig lists the document bundles allowed in book outlines.
type BookConfig struct {
	AllowedTypes []string `yaml:"allowed_types"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single admin bearer token.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ChecksumManifest is the on-disk format of .checksums.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "folio",
			TickInterval:    5 * time.Second,
			LogLevel:        "info",
			LogFormat:       "json",
			JobLogRetention: 30 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/folio.db",
		},
		Files: FilesConfig{
			PublicDir:          "./data/public",
			TemporaryDir:       "./data/tmp",
			TemporaryRetention: 6 * time.Hour,
		},
		Render: RenderConfig{
			Engine:         "chrome",
			NoSandbox:      false,
			Timeout:        2 * time.Minute,
			LaunchAttempts: 3,
		},
		Pipeline: PipelineConfig{
			GroupSize:      3,
			MetadataBundle: "pdf",
		},
		Book: BookConfig{
			AllowedTypes: []string{"book"},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
