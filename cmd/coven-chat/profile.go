// ABOUTME: Optional per-user TOML profile layered over the YAML config
// ABOUTME: Loaded from the XDG config path with environment variable expansion

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/coven-chat/internal/config"
)

// Profile holds per-user overrides that should not live in the shared
// config file: auth token, display preferences.
type Profile struct {
	Server  ProfileServer  `toml:"server"`
	Display ProfileDisplay `toml:"display"`
}

type ProfileServer struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

type ProfileDisplay struct {
	ShowTools bool `toml:"show_tools"`
	NoColor   bool `toml:"no_color"`
}

// profilePath resolves the XDG location of the user profile.
func profilePath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven-chat", "profile.toml")
}

// loadProfile reads the user profile. A missing file is not an error; every
// field just stays zero.
func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var p Profile
	if _, err := toml.Decode(expanded, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return &p, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// apply layers the profile's overrides onto an already-loaded config.
func (p *Profile) apply(cfg *config.Config) {
	if p.Server.BaseURL != "" {
		cfg.Server.BaseURL = p.Server.BaseURL
	}
	if p.Server.Token != "" {
		cfg.Server.Token = p.Server.Token
	}
}
