// Package config handles configuration loading for chatsync.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, for files ending in .toml)
// with environment variable expansion. Every field has a default, so a
// missing file at the default location is not an error for the binary.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from CHATSYNC_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/chatsync/config.yaml (~/.config/chatsync/config.yaml)
//
// # Environment Variable Expansion
//
//	server:
//	  api_url: "https://${CHAT_HOST}/api"
//
// Unset variables expand to the empty string, which then picks up the
// field's default.
//
// # Sections
//
//	server:
//	  api_url: "http://localhost:8080/api"
//	  ws_url: "ws://localhost:8080/ws/websocket"
//
//	reconnect:
//	  initial_delay: "1s"   # first backoff step
//	  max_delay: "30s"      # backoff cap
//	  multiplier: 2
//	  max_attempts: 20      # -1 retries forever
//
//	subscriptions:
//	  all: true             # subscribe every known conversation
//	  typing: true          # also subscribe typing topics
//
//	outbound:
//	  typing_interval: "2s" # min gap between typing-start indicators
//
//	dedupe:
//	  ttl: "5m"
//	  max_size: 1000
//
//	history:
//	  page_size: 50
//
//	logging:
//	  level: "info"         # debug, info, warn, error
//	  format: "text"        # text or json
package config
