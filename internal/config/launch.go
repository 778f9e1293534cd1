package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"github.com/dshills/dapper/internal/integration/debug/adapters"
)

// LaunchFile is the result of importing a VS Code launch.json.
type LaunchFile struct {
	Configurations []adapters.Config
	// Skipped names entries that could not be imported, with the reason.
	Skipped []string
}

// editorOnly are launch.json keys that drive the editor, not the adapter.
var editorOnly = map[string]bool{
	"preLaunchTask":          true,
	"postDebugTask":          true,
	"presentation":           true,
	"internalConsoleOptions": true,
	"serverReadyAction":      true,
	"debugServer":            true,
	"windows":                true,
	"linux":                  true,
	"osx":                    true,
}

// ImportLaunchJSON reads the configurations of a launch.json. Comments and
// trailing commas are accepted. ${workspaceFolder}, ${workspaceFolderBasename},
// ${userHome}, ${pathSeparator} and ${env:NAME} are substituted; other
// variables are left as written. Fields dapper does not model are kept in
// Extra and passed to the adapter unchanged.
func ImportLaunchJSON(data []byte, workspace string) (*LaunchFile, error) {
	js := jsonc.ToJSON(data)
	if !gjson.ValidBytes(js) {
		return nil, errors.New("launch.json is not valid JSON")
	}
	list := gjson.GetBytes(js, "configurations")
	if !list.IsArray() {
		return nil, errors.New("launch.json has no configurations array")
	}

	vars := launchVars(workspace)
	out := &LaunchFile{}
	for i, entry := range list.Array() {
		name := entry.Get("name").String()
		if name == "" {
			out.Skipped = append(out.Skipped, fmt.Sprintf("configurations[%d]: no name", i))
			continue
		}
		if _, err := adapters.ParseKind(entry.Get("type").String()); err != nil {
			out.Skipped = append(out.Skipped, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		out.Configurations = append(out.Configurations, importEntry(entry, vars))
	}
	return out, nil
}

func importEntry(entry gjson.Result, vars func(string) (string, bool)) adapters.Config {
	str := func(r gjson.Result) string { return expand(r.String(), vars) }
	cfg := adapters.Config{}

	entry.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		switch {
		case k == "name":
			cfg.Name = value.String()
		case k == "type":
			cfg.Type = value.String()
		case k == "request":
			cfg.Request = value.String()
		case k == "program" && value.Type == gjson.String:
			cfg.Program = str(value)
		case k == "cwd" && value.Type == gjson.String:
			cfg.Cwd = str(value)
		case k == "console" && value.Type == gjson.String:
			cfg.Console = value.String()
		case k == "host" && value.Type == gjson.String:
			cfg.Host = str(value)
		case k == "stopOnEntry" && value.IsBool():
			cfg.StopOnEntry = value.Bool()
		case k == "port" && value.Type == gjson.Number:
			cfg.Port = int(value.Int())
		case k == "processId" && value.Type == gjson.Number:
			cfg.ProcessID = int(value.Int())
		case k == "args" && stringArray(value):
			for _, a := range value.Array() {
				cfg.Args = append(cfg.Args, str(a))
			}
		case k == "env" && value.IsObject():
			cfg.Env = make(map[string]string)
			value.ForEach(func(name, v gjson.Result) bool {
				if v.Type != gjson.Null {
					cfg.Env[name.String()] = str(v)
				}
				return true
			})
		case editorOnly[k]:
		default:
			if cfg.Extra == nil {
				cfg.Extra = make(map[string]any)
			}
			cfg.Extra[k] = expandValue(value.Value(), vars)
		}
		return true
	})
	return cfg
}

func stringArray(r gjson.Result) bool {
	if !r.IsArray() {
		return false
	}
	for _, v := range r.Array() {
		if v.Type != gjson.String {
			return false
		}
	}
	return true
}

func launchVars(workspace string) func(string) (string, bool) {
	home, _ := os.UserHomeDir()
	return func(name string) (string, bool) {
		switch {
		case name == "workspaceFolder" || name == "workspaceRoot":
			return workspace, workspace != ""
		case name == "workspaceFolderBasename":
			return filepath.Base(workspace), workspace != ""
		case name == "userHome":
			return home, home != ""
		case name == "pathSeparator":
			return string(filepath.Separator), true
		case strings.HasPrefix(name, "env:"):
			return os.Getenv(strings.TrimPrefix(name, "env:")), true
		}
		return "", false
	}
}

// expand substitutes ${name} variables that vars knows.
func expand(s string, vars func(string) (string, bool)) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		end += start
		b.WriteString(s[:start])
		if v, ok := vars(s[start+2 : end]); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

func expandValue(v any, vars func(string) (string, bool)) any {
	switch t := v.(type) {
	case string:
		return expand(t, vars)
	case []any:
		for i := range t {
			t[i] = expandValue(t[i], vars)
		}
	case map[string]any:
		for k := range t {
			t[k] = expandValue(t[k], vars)
		}
	}
	return v
}
