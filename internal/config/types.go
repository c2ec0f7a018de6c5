package config

import "path/filepath"

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "testdeck.yaml"

// Config represents the testdeck settings document.
type Config struct {
	TestsDir       string `yaml:"tests_dir" validate:"required"`
	ReportsDir     string `yaml:"reports_dir" validate:"required"`
	ScreenshotsDir string `yaml:"screenshots_dir" validate:"required"`
	CompileLogsDir string `yaml:"compile_logs_dir" validate:"required"`
	Listen         string `yaml:"listen" validate:"required,hostname_port"`

	Log      LogSettings      `yaml:"log"`
	Run      RunSettings      `yaml:"run"`
	Database DatabaseSettings `yaml:"database"`
	Publish  PublishSettings  `yaml:"publish"`
	Metrics  MetricsSettings  `yaml:"metrics"`

	// Path is the file the settings were read from, empty for pure defaults.
	Path string `yaml:"-"`
}

// LogSettings controls the zerolog output.
type LogSettings struct {
	Level string `yaml:"level" validate:"loglevel"`
	Human bool   `yaml:"human"`
}

// RunSettings is the default run policy.
type RunSettings struct {
	FailFast    bool   `yaml:"fail_fast"`
	AbortStatus string `yaml:"abort_status" validate:"abortstatus"`
}

// DatabaseSettings selects the report store.
type DatabaseSettings struct {
	Driver string `yaml:"driver" validate:"dbdriver"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver mysql"`
}

// PublishSettings configures uploading run directories to an object store.
type PublishSettings struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider" validate:"required_if=Enabled true"`
	Bucket    string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// MetricsSettings toggles the Prometheus collector.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		TestsDir:       "tests",
		ReportsDir:     "reports",
		ScreenshotsDir: "screenshots",
		CompileLogsDir: "compile_logs",
		Listen:         "127.0.0.1:8080",
		Log:            LogSettings{Level: "info"},
		Run:            RunSettings{FailFast: true, AbortStatus: "SKIPPED"},
		Database:       DatabaseSettings{Driver: "sqlite"},
		Metrics:        MetricsSettings{Enabled: true},
	}
}

// DatabaseDSN returns the configured DSN, defaulting sqlite to a file in the reports directory.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" || c.Database.Driver != "sqlite" {
		return c.Database.DSN
	}
	return filepath.Join(c.ReportsDir, "testdeck.db")
}
