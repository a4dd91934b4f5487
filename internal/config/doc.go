// Package config handles configuration loading for skyhammer.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	transcription:
//	  wait_timeout: "5m"
//	  poll_interval: "500ms"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/skyhammer/skyhammer.db"
//
// Upload staging:
//
//	uploads:
//	  dir: "/var/lib/skyhammer/uploads"
//	  max_bytes: 52428800
//
// Model provider:
//
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""                 # optional, for compatible providers
//	  chat_model: "gpt-4o"
//	  title_model: "gpt-4o-mini"
//	  transcription_model: "whisper-1"
//
// Transcription workers:
//
//	transcription:
//	  workers: 2
//	  wait_timeout: "5m"
//	  poll_interval: "500ms"
//	  ocr_language: "eng"
//
// Logging:
//
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  file: ""                     # optional JSON log file
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/skyhammer/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
