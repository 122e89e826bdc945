package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/voxbridge/internal/config"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/navgraph"
	"github.com/mattjoyce/voxbridge/internal/world"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

var handlerTypes = []string{"GET_LOCATION", "GET_ROUTE", "PRESS_KEY", "REQUEST_BATCH"}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "speech-client")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	cfg := config.Defaults()
	cfg.Engine.InstallDir = dir
	cfg.Engine.Executable = exe
	cfg.State.Path = filepath.Join(dir, "voxbridge.db")
	cfg.Dispatch.TickingRequests = []string{"PRESS_KEY"}
	return cfg
}

func smallWorld() *world.File {
	return &world.File{
		Player: world.Player{Location: "Home"},
		Locations: []navgraph.Location{
			{Name: "Home", Warps: []navgraph.Warp{{X: 1, Y: 1, Target: "Yard"}}},
			{Name: "Yard", Outdoors: true, Warps: []navgraph.Warp{{X: 0, Y: 0, Target: "Home"}}},
		},
	}
}

func hasIssue(issues []Issue, field, substr string) bool {
	for _, i := range issues {
		if i.Field == field && strings.Contains(i.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidate_Clean(t *testing.T) {
	r := New(validConfig(t), handlerTypes, smallWorld(), nil).Validate()
	assert.True(t, r.Valid)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, "Configuration valid.\n", FormatHuman(r))
}

func TestValidate_DefaultWorld(t *testing.T) {
	f, err := world.Default()
	require.NoError(t, err)

	r := New(validConfig(t), handlerTypes, f, nil).Validate()
	assert.True(t, r.Valid, FormatHuman(r))
}

func TestValidate_Engine(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Engine.Executable = filepath.Join(t.TempDir(), "nope")
		r := New(cfg, handlerTypes, smallWorld(), nil).Validate()
		assert.False(t, r.Valid)
		assert.True(t, hasIssue(r.Errors, "engine.executable", "not found"))
	})

	t.Run("not executable", func(t *testing.T) {
		cfg := validConfig(t)
		require.NoError(t, os.Chmod(cfg.Engine.Executable, 0o644))
		r := New(cfg, handlerTypes, smallWorld(), nil).Validate()
		assert.True(t, r.Valid)
		assert.True(t, hasIssue(r.Warnings, "engine.executable", "not executable"))
	})

	t.Run("missing main", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Engine.Main = filepath.Join(t.TempDir(), "main.py")
		r := New(cfg, handlerTypes, smallWorld(), nil).Validate()
		assert.True(t, hasIssue(r.Errors, "engine.main", "entry point not found"))
	})

	t.Run("restarts disabled", func(t *testing.T) {
		cfg := validConfig(t)
		off := false
		cfg.Engine.RestartOnExit = &off
		r := New(cfg, handlerTypes, smallWorld(), nil).Validate()
		assert.True(t, r.Valid)
		assert.True(t, hasIssue(r.Warnings, "engine.restart_on_exit", "relaunch"))
	})
}

func TestValidate_Dispatch(t *testing.T) {
	cfg := validConfig(t)
	cfg.Dispatch.TickingRequests = []string{"PRESS_KEY", "JUMP"}
	cfg.Dispatch.UnvalidatedAllow = []string{"FLY"}
	cfg.Dispatch.Budget = 20 * time.Millisecond

	r := New(cfg, handlerTypes, smallWorld(), nil).Validate()
	assert.False(t, r.Valid)
	assert.True(t, hasIssue(r.Errors, "dispatch.ticking_requests[1]", `"JUMP"`))
	assert.True(t, hasIssue(r.Warnings, "dispatch.unvalidated_allow[0]", `"FLY"`))
	assert.True(t, hasIssue(r.Warnings, "dispatch.budget", "frame time"))
}

func TestValidate_API(t *testing.T) {
	tests := []struct {
		name      string
		listen    string
		key       string
		token     string
		wantValid bool
		wantWarn  bool
	}{
		{"loopback without key", "127.0.0.1:8089", "", "", true, true},
		{"localhost without key", "localhost:8089", "", "", true, true},
		{"public without key", "0.0.0.0:8089", "", "", false, false},
		{"public with key", "0.0.0.0:8089", "secret", "", true, false},
		{"public with scoped token", "0.0.0.0:8089", "", "viewer", true, false},
		{"bad listen", "nonsense", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.API.Enabled = true
			cfg.API.Listen = tt.listen
			cfg.API.Auth.APIKey = tt.key
			if tt.token != "" {
				cfg.API.Auth.Tokens = []config.APITokenConfig{{Token: tt.token, Scopes: []string{"read"}}}
			}

			r := New(cfg, handlerTypes, smallWorld(), nil).Validate()
			assert.Equal(t, tt.wantValid, r.Valid)
			assert.Equal(t, tt.wantWarn, hasIssue(r.Warnings, "api.auth", "without authentication"))
		})
	}
}

func TestValidate_Webhooks(t *testing.T) {
	cfg := validConfig(t)
	cfg.Webhooks.Endpoints = []config.WebhookEndpointConfig{
		{Path: "/hooks/phone", Secret: "0123456789abcdef", MaxBodySize: "4KB"},
		{Path: "/hooks/short", Secret: "abc"},
		{Path: "/hooks/bad", Secret: "0123456789abcdef", MaxBodySize: "plenty"},
	}

	r := New(cfg, handlerTypes, smallWorld(), nil).Validate()
	assert.False(t, r.Valid)
	assert.True(t, hasIssue(r.Errors, "webhooks.endpoints[2].max_body_size", "invalid size"))
	assert.True(t, hasIssue(r.Warnings, "webhooks.endpoints[1].secret", "shorter than 16"))
	assert.False(t, hasIssue(r.Warnings, "webhooks.endpoints[0].secret", ""))
}

func TestValidate_World(t *testing.T) {
	t.Run("load error", func(t *testing.T) {
		r := New(validConfig(t), handlerTypes, nil, errors.New("invalid world file: boom")).Validate()
		assert.False(t, r.Valid)
		assert.True(t, hasIssue(r.Errors, "world.path", "boom"))
	})

	t.Run("unreachable and dangling", func(t *testing.T) {
		f := smallWorld()
		f.Locations = append(f.Locations, navgraph.Location{
			Name:  "Island",
			Warps: []navgraph.Warp{{Target: "Home"}, {Target: "Volcano"}},
		})

		r := New(validConfig(t), handlerTypes, f, nil).Validate()
		assert.True(t, r.Valid)
		assert.True(t, hasIssue(r.Warnings, "world.locations", "not reachable from Home: Island"))
		assert.True(t, hasIssue(r.Warnings, "world.locations", "Island->Volcano"))
	})
}

func TestFormat(t *testing.T) {
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "engine", Field: "engine.executable", Message: "missing"}},
		Warnings: []Issue{{Category: "api", Message: "no key"}},
	}

	human := FormatHuman(r)
	assert.Contains(t, human, "Configuration invalid (1 error(s), 1 warning(s))")
	assert.Contains(t, human, "  ERROR [engine] engine.executable: missing\n")
	assert.Contains(t, human, "  WARN  [api] no key\n")

	out, err := FormatJSON(r)
	require.NoError(t, err)
	assert.Contains(t, out, `"valid": false`)
	assert.Contains(t, out, `"field": "engine.executable"`)
}
