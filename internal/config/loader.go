package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Files listed under
// include are loaded first; values in the including file override them.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg := &Config{}
	if err := loadLayered(cfg, absPath, make(map[string]bool)); err != nil {
		return nil, err
	}

	applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath locates the config file when --config is not given.
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("VOXBRIDGE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "voxbridge", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/voxbridge/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $VOXBRIDGE_CONFIG, ~/.config/voxbridge/config.yaml, /etc/voxbridge/config.yaml, ./config.yaml)")
}

// loadLayered merges path and its includes into dst, includes first.
func loadLayered(dst *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("circular include detected: %s", path)
	}
	visited[path] = true
	defer delete(visited, path)

	layer, err := loadConfigFile(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	for _, inc := range layer.Include {
		incPath := interpolateEnv(inc)
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}
		if err := loadLayered(dst, incPath, visited); err != nil {
			return fmt.Errorf("include %q: %w", inc, err)
		}
	}

	mergeConfig(dst, layer)
	dst.SourceFiles = append([]string{path}, without(dst.SourceFiles, path)...)
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeConfig copies non-zero values from src over dst.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.TickRate != 0 {
		dst.Service.TickRate = src.Service.TickRate
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}

	if src.Engine.InstallDir != "" {
		dst.Engine.InstallDir = src.Engine.InstallDir
	}
	if src.Engine.Executable != "" {
		dst.Engine.Executable = src.Engine.Executable
	}
	if src.Engine.PythonRoot != "" {
		dst.Engine.PythonRoot = src.Engine.PythonRoot
	}
	if src.Engine.Main != "" {
		dst.Engine.Main = src.Engine.Main
	}
	if src.Engine.Args != nil {
		dst.Engine.Args = src.Engine.Args
	}
	if src.Engine.Env != nil {
		dst.Engine.Env = src.Engine.Env
	}
	if src.Engine.RestartDelay != 0 {
		dst.Engine.RestartDelay = src.Engine.RestartDelay
	}
	if src.Engine.RestartOnExit != nil {
		dst.Engine.RestartOnExit = src.Engine.RestartOnExit
	}

	if src.Dispatch.Budget != 0 {
		dst.Dispatch.Budget = src.Dispatch.Budget
	}
	if src.Dispatch.TickingRequests != nil {
		dst.Dispatch.TickingRequests = src.Dispatch.TickingRequests
	}
	if src.Dispatch.UnvalidatedAllow != nil {
		dst.Dispatch.UnvalidatedAllow = src.Dispatch.UnvalidatedAllow
	}

	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	if src.API.Auth.Tokens != nil {
		dst.API.Auth.Tokens = src.API.Auth.Tokens
	}

	if src.Webhooks.Listen != "" {
		dst.Webhooks.Listen = src.Webhooks.Listen
	}
	if src.Webhooks.Endpoints != nil {
		dst.Webhooks.Endpoints = src.Webhooks.Endpoints
	}

	if src.World.Path != "" {
		dst.World.Path = src.World.Path
	}
}

func without(paths []string, p string) []string {
	out := paths[:0:0]
	for _, existing := range paths {
		if existing != p {
			out = append(out, existing)
		}
	}
	return out
}

// applyConfigDefaults fills in zero values from Defaults.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickRate == 0 {
		cfg.Service.TickRate = defaults.Service.TickRate
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Engine.RestartDelay == 0 {
		cfg.Engine.RestartDelay = defaults.Engine.RestartDelay
	}
	if cfg.Dispatch.Budget == 0 {
		cfg.Dispatch.Budget = defaults.Dispatch.Budget
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Webhooks.Listen == "" {
		cfg.Webhooks.Listen = defaults.Webhooks.Listen
	}
	for i := range cfg.Webhooks.Endpoints {
		if cfg.Webhooks.Endpoints[i].SignatureHeader == "" {
			cfg.Webhooks.Endpoints[i].SignatureHeader = DefaultSignatureHeader
		}
	}
}

// DefaultSignatureHeader carries the HMAC of a webhook body.
const DefaultSignatureHeader = "X-Hub-Signature-256"

// interpolateEnv replaces ${VAR} with the environment value. Unset variables
// are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickRate <= 0 {
		return fmt.Errorf("service.tick_rate must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Engine.InstallDir == "" && cfg.Engine.Executable == "" {
		return fmt.Errorf("engine.install_dir or engine.executable is required")
	}
	if err := unresolved("engine.install_dir", cfg.Engine.InstallDir); err != nil {
		return err
	}
	if err := unresolved("engine.executable", cfg.Engine.Executable); err != nil {
		return err
	}
	if cfg.Engine.RestartDelay < 0 {
		return fmt.Errorf("engine.restart_delay must not be negative")
	}

	if cfg.Dispatch.Budget < 0 {
		return fmt.Errorf("dispatch.budget must not be negative")
	}
	if cfg.Dispatch.Budget > time.Second {
		return fmt.Errorf("dispatch.budget must be at most 1s (got %s)", cfg.Dispatch.Budget)
	}
	seen := make(map[string]bool)
	for i, t := range cfg.Dispatch.TickingRequests {
		if t == "" {
			return fmt.Errorf("dispatch.ticking_requests[%d] is empty", i)
		}
		if seen[t] {
			return fmt.Errorf("dispatch.ticking_requests: duplicate type %q", t)
		}
		seen[t] = true
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if err := unresolved("state.path", cfg.State.Path); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, t := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if t.Token == "" {
				return fmt.Errorf("%s.token is empty", field)
			}
			if err := unresolved(field+".token", t.Token); err != nil {
				return err
			}
			if len(t.Scopes) == 0 {
				return fmt.Errorf("%s.scopes is empty", field)
			}
			for _, sc := range t.Scopes {
				if !ValidScopes[sc] {
					return fmt.Errorf("%s: unknown scope %q (want read, control or *)", field, sc)
				}
			}
		}
	}

	paths := make(map[string]bool)
	for i, ep := range cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with / (got %q)", field, ep.Path)
		}
		if paths[ep.Path] {
			return fmt.Errorf("webhooks.endpoints: duplicate path %q", ep.Path)
		}
		paths[ep.Path] = true
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", field)
		}
		if err := unresolved(field+".secret", ep.Secret); err != nil {
			return err
		}
	}

	return unresolved("world.path", cfg.World.Path)
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
