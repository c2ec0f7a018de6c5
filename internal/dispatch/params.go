package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/testdeck/internal/shell"
)

func getString(params map[string]any, key string, fallback string) string {
	if params == nil {
		return fallback
	}
	value, ok := params[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case string:
		if typed == "" {
			return fallback
		}
		return typed
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func getInt(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	value, ok := params[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed := fallback
		if _, err := fmt.Sscanf(typed, "%d", &parsed); err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

func getDuration(params map[string]any, key string, fallback time.Duration) time.Duration {
	if params == nil {
		return fallback
	}
	value, ok := params[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case time.Duration:
		return typed
	case string:
		parsed, err := time.ParseDuration(typed)
		if err != nil {
			return fallback
		}
		return parsed
	case int:
		return time.Duration(typed) * time.Second
	case float64:
		return time.Duration(typed * float64(time.Second))
	default:
		return fallback
	}
}

func getBool(params map[string]any, key string, fallback bool) bool {
	if params == nil {
		return fallback
	}
	value, ok := params[key]
	if !ok || value == nil {
		return fallback
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "1", "yes", "y":
			return true
		case "false", "0", "no", "n":
			return false
		}
	}
	return fallback
}

// expandParams substitutes ${var} references inside string params.
func expandParams(params map[string]any, vars map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = shell.Expand(s, vars)
			continue
		}
		out[k] = v
	}
	return out
}

// paramVars renders params as strings so a command template can reference them.
func paramVars(params map[string]any, vars map[string]string) map[string]string {
	out := make(map[string]string, len(params)+len(vars))
	for k, v := range vars {
		out[k] = v
	}
	for k, v := range params {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
