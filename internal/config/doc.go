// Package config handles configuration loading for talkto-hub.
//
// Configuration is loaded from YAML files with environment variable
// expansion. Duration values use Go's time.ParseDuration syntax.
//
// Default locations (in order):
//
//  1. Path from TALKTO_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/talkto/hub.yaml
//  3. ~/.config/talkto/hub.yaml
//
// Example:
//
//	server:
//	  http_addr: "localhost:8090"
//
//	database:
//	  path: "~/.local/share/talkto/hub.db"
//
//	invoke:
//	  prompt_timeout: "3m"
//	  ghost_refresh_interval: "30s"
//	  context_window: 5
//
//	providers:
//	  claude_bin: "claude"
//	  codex_bin: "codex"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
