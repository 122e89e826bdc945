package config

import "time"

// Config represents the complete voxbridge configuration.
type Config struct {
	Include  []string       `yaml:"include,omitempty"`
	Service  ServiceConfig  `yaml:"service"`
	Engine   EngineConfig   `yaml:"engine"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api,omitempty"`
	World    WorldConfig    `yaml:"world"`
	Webhooks WebhooksConfig `yaml:"webhooks,omitempty"`

	// SourceFiles lists every file that contributed to this config, main
	// file first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string        `yaml:"name"`
	TickRate time.Duration `yaml:"tick_rate"`
	LogLevel string        `yaml:"log_level"`
}

// EngineConfig describes how the speech engine is launched.
type EngineConfig struct {
	InstallDir string   `yaml:"install_dir"`
	Executable string   `yaml:"executable,omitempty"`
	PythonRoot string   `yaml:"python_root,omitempty"`
	Main       string   `yaml:"main,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	Env        []string `yaml:"env,omitempty"`

	RestartDelay  time.Duration `yaml:"restart_delay"`
	RestartOnExit *bool         `yaml:"restart_on_exit,omitempty"`
}

// Restarts reports whether an unexpected exit is followed by a relaunch.
func (e EngineConfig) Restarts() bool {
	return e.RestartOnExit == nil || *e.RestartOnExit
}

// DispatchConfig controls request routing and the per-phase time budget.
type DispatchConfig struct {
	Budget           time.Duration `yaml:"budget"`
	TickingRequests  []string      `yaml:"ticking_requests,omitempty"`
	UnvalidatedAllow []string      `yaml:"unvalidated_allow,omitempty"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the admin HTTP API settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings. APIKey grants every
// scope. With neither an APIKey nor tokens, authentication is disabled.
type APIAuthConfig struct {
	APIKey string           `yaml:"api_key"`
	Tokens []APITokenConfig `yaml:"tokens,omitempty"`
}

// APITokenConfig is a bearer token limited to a set of scopes.
type APITokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Scopes accepted on API tokens.
var ValidScopes = map[string]bool{"read": true, "control": true, "*": true}

// WebhooksConfig defines signed inbound endpoints that inject recognised
// phrases into the speech engine.
type WebhooksConfig struct {
	Listen    string                  `yaml:"listen"`
	Endpoints []WebhookEndpointConfig `yaml:"endpoints,omitempty"`
}

// WebhookEndpointConfig is one signed endpoint.
type WebhookEndpointConfig struct {
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"`
}

// WorldConfig points at the simulated host's world file. An empty path uses
// the built-in world.
type WorldConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "voxbridge",
			TickRate: time.Second / 60,
			LogLevel: "info",
		},
		Engine: EngineConfig{
			RestartDelay: 5 * time.Second,
		},
		Dispatch: DispatchConfig{
			Budget: 5 * time.Millisecond,
		},
		State: StateConfig{
			Path: "./data/voxbridge.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8089",
		},
		Webhooks: WebhooksConfig{
			Listen: "127.0.0.1:8090",
		},
	}
}
