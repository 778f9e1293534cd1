package loader

import (
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// EnvLoader loads configuration from prefixed environment variables.
//
// Mapped variables go to their mapped path. Any other variable with the
// prefix maps its first word to the section and the rest, lowercased, to
// the key: DAPPER_SESSION_EVENT_BUFFER sets session.event_buffer.
type EnvLoader struct {
	prefix  string
	mapping map[string]string
	skip    map[string]bool
	environ func() []string
}

// NewEnvLoader creates an environment loader. prefix includes the trailing
// underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: make(map[string]string),
		skip:    make(map[string]bool),
		environ: os.Environ,
	}
}

// AddMapping routes envVar to configPath.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	l.mapping[envVar] = configPath
}

// SetEnviron replaces os.Environ as the variable source.
func (l *EnvLoader) SetEnviron(environ func() []string) {
	l.environ = environ
}

// Skip ignores envVar, for variables read elsewhere such as a config path.
func (l *EnvLoader) Skip(envVar string) {
	l.skip[envVar] = true
}

// Load reads the environment. Empty values count as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	for _, kv := range l.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) || l.skip[name] {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			if path = l.envToPath(name); path == "" {
				continue
			}
		}
		setByPath(config, path, parseValue(value))
	}
	return config, nil
}

// envToPath converts DAPPER_CLIENT_REQUEST_TIMEOUT to client.request_timeout.
func (l *EnvLoader) envToPath(env string) string {
	section, key, ok := strings.Cut(strings.TrimPrefix(env, l.prefix), "_")
	if !ok || section == "" || key == "" {
		return ""
	}
	return strings.ToLower(section) + "." + strings.ToLower(key)
}

// parseValue converts an environment string to a TOML-compatible value.
// Durations stay strings so they decode through the target type.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if (strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")) && gjson.Valid(s) {
		return gjson.Parse(s).Value()
	}
	return s
}

func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
