// Package config loads and validates coven-chat configuration from YAML
// files, with ${VAR} environment expansion and human-readable durations.
package config
