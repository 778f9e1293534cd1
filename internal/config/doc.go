// Package config loads dapper's configuration.
//
// Settings are layered, later layers winning:
//
//	built-in defaults
//	~/.config/dapper/config.toml   (user)
//	./dapper.toml                  (project)
//	DAPPER_* environment variables
//
// DAPPER_CONFIG, or an explicit WithFile, replaces the two files. A config
// file may pull in others with include = ["adapters.toml"].
//
// # File Format
//
//	launch_json = ".vscode/launch.json"
//
//	[log]
//	level = "info"
//	file = "/tmp/dapper.log"
//	file_level = "debug"
//
//	[client]
//	request_timeout = "10s"
//	initialized_timeout = "10s"
//
//	[session]
//	restart_grace = "2s"
//
//	[adapters.delve]
//	path = "/opt/go/bin/dlv"
//
//	[[launch]]
//	name = "api"
//	type = "go"
//	program = "./cmd/api"
//	args = ["--port", "8080"]
//
// Environment variables map DAPPER_<SECTION>_<KEY> to section.key, so
// DAPPER_CLIENT_REQUEST_TIMEOUT=5s sets client.request_timeout. Adapter
// sections use DAPPER_ADAPTERS_<KIND>_PATH, _ARGS and _COMMAND.
package config
