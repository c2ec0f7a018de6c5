package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	testdeckerrors "github.com/alexisbeaulieu97/testdeck/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TESTDECK_"

type setter func(cfg *Config, value string) error

func str(field func(*Config) *string) setter {
	return func(cfg *Config, value string) error {
		*field(cfg) = value
		return nil
	}
}

func boolean(field func(*Config) *bool) setter {
	return func(cfg *Config, value string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}
}

var keys = map[string]setter{
	"tests_dir":          str(func(c *Config) *string { return &c.TestsDir }),
	"reports_dir":        str(func(c *Config) *string { return &c.ReportsDir }),
	"screenshots_dir":    str(func(c *Config) *string { return &c.ScreenshotsDir }),
	"compile_logs_dir":   str(func(c *Config) *string { return &c.CompileLogsDir }),
	"listen":             str(func(c *Config) *string { return &c.Listen }),
	"log.level":          str(func(c *Config) *string { return &c.Log.Level }),
	"log.human":          boolean(func(c *Config) *bool { return &c.Log.Human }),
	"run.fail_fast":      boolean(func(c *Config) *bool { return &c.Run.FailFast }),
	"run.abort_status":   str(func(c *Config) *string { return &c.Run.AbortStatus }),
	"database.driver":    str(func(c *Config) *string { return &c.Database.Driver }),
	"database.dsn":       str(func(c *Config) *string { return &c.Database.DSN }),
	"publish.enabled":    boolean(func(c *Config) *bool { return &c.Publish.Enabled }),
	"publish.provider":   str(func(c *Config) *string { return &c.Publish.Provider }),
	"publish.bucket":     str(func(c *Config) *string { return &c.Publish.Bucket }),
	"publish.prefix":     str(func(c *Config) *string { return &c.Publish.Prefix }),
	"publish.region":     str(func(c *Config) *string { return &c.Publish.Region }),
	"publish.endpoint":   str(func(c *Config) *string { return &c.Publish.Endpoint }),
	"publish.access_key": str(func(c *Config) *string { return &c.Publish.AccessKey }),
	"publish.secret_key": str(func(c *Config) *string { return &c.Publish.SecretKey }),
	"publish.path_style": boolean(func(c *Config) *bool { return &c.Publish.PathStyle }),
	"metrics.enabled":    boolean(func(c *Config) *bool { return &c.Metrics.Enabled }),
}

// Keys lists every settable key in sorted order.
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Set assigns a value by its dotted key.
func (c *Config) Set(key, value string) error {
	set, ok := keys[key]
	if !ok {
		return testdeckerrors.NewValidationError(key, "unknown setting", nil)
	}
	if err := set(c, value); err != nil {
		return testdeckerrors.NewValidationError(key, fmt.Sprintf("invalid value %q", value), err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, key := range Keys() {
		value, ok := lookup(EnvName(key))
		if !ok {
			continue
		}
		if err := cfg.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}
