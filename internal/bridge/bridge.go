// Package bridge assembles the running service: the simulated host and its
// frame loop, the speech engine supervisor, request dispatch and the admin
// API.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mattjoyce/voxbridge/internal/api"
	"github.com/mattjoyce/voxbridge/internal/auth"
	"github.com/mattjoyce/voxbridge/internal/config"
	"github.com/mattjoyce/voxbridge/internal/dispatch"
	"github.com/mattjoyce/voxbridge/internal/events"
	"github.com/mattjoyce/voxbridge/internal/host"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/navgraph"
	"github.com/mattjoyce/voxbridge/internal/protocol"
	"github.com/mattjoyce/voxbridge/internal/requests"
	"github.com/mattjoyce/voxbridge/internal/runlog"
	"github.com/mattjoyce/voxbridge/internal/supervisor"
	"github.com/mattjoyce/voxbridge/internal/webhook"
	"github.com/mattjoyce/voxbridge/internal/world"
)

const (
	hubCapacity     = 256
	shutdownTimeout = 5 * time.Second
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	// Spawner starts the engine. Nil uses supervisor.ExecSpawner.
	Spawner supervisor.Spawner
	// Runs records engine runs. Nil disables run history.
	Runs *runlog.Store
	// World replaces the world file named in the config.
	World *world.File
}

// Bridge owns every component of one service instance.
type Bridge struct {
	cfg    *config.Config
	logger *slog.Logger

	hub        *events.Hub
	sim        *world.Sim
	graph      *navgraph.Graph
	transport  *protocol.Transport
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	sup        *supervisor.Supervisor
	policy     *supervisor.RestartPolicy
	integ      *host.Integrator
	loop       *host.Loop
	runs       *runlog.Store
	hooks      *webhook.Server

	life   context.Context
	cancel context.CancelFunc
}

// LoadWorld returns the world named by cfg, or the built-in one.
func LoadWorld(cfg *config.Config) (*world.File, error) {
	if cfg.World.Path != "" {
		return world.LoadFile(cfg.World.Path)
	}
	return world.Default()
}

// RequestTypes lists every request type the dispatcher accepts.
func RequestTypes() []string {
	reg := dispatch.NewRegistry()
	(&requests.Handlers{}).Register(reg)
	return withBatch(reg.Types())
}

func withBatch(types []string) []string {
	out := append([]string(nil), types...)
	out = append(out, dispatch.TypeRequestBatch)
	sort.Strings(out)
	return out
}

// New wires a bridge from cfg. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*Bridge, error) {
	wf := opts.World
	if wf == nil {
		var err error
		if wf, err = LoadWorld(cfg); err != nil {
			return nil, fmt.Errorf("load world: %w", err)
		}
	}
	spawner := opts.Spawner
	if spawner == nil {
		spawner = supervisor.ExecSpawner{}
	}

	b := &Bridge{
		cfg:       cfg,
		logger:    log.WithComponent("bridge"),
		hub:       events.NewHub(hubCapacity),
		sim:       world.New(wf),
		transport: protocol.NewTransport(),
		registry:  dispatch.NewRegistry(),
		runs:      opts.Runs,
	}
	b.life, b.cancel = context.WithCancel(context.Background())

	b.graph = navgraph.New(b.sim)
	b.graph.OnRebuild(func(fingerprint string, nodes int) {
		b.hub.Publish(events.TopicGraphRebuilt, map[string]any{"fingerprint": fingerprint, "nodes": nodes})
	})

	handlers := &requests.Handlers{Host: b.sim, Device: b.sim, Router: b.graph}
	handlers.Register(b.registry)

	spec := supervisor.NewSpec(cfg.Engine.InstallDir, cfg.Engine.Executable, cfg.Engine.PythonRoot, cfg.Engine.Main, cfg.Engine.Args)
	spec.Env = cfg.Engine.Env

	supOpts := supervisor.Options{Hub: b.hub}
	if b.runs != nil {
		supOpts.Runs = b.runs
	}
	supOpts.OnExit = func(info supervisor.ExitInfo) {
		b.releaseButtons(info.Released)
		b.policy.OnExit(info)
	}
	b.sup = supervisor.New(spec, spawner, b.transport, supOpts)

	b.dispatcher = dispatch.New(b.registry, b.transport, b.sup, dispatch.Options{
		Budget:           cfg.Dispatch.Budget,
		UnvalidatedAllow: cfg.Dispatch.UnvalidatedAllow,
		TickingRequests:  cfg.Dispatch.TickingRequests,
		Hub:              b.hub,
	})
	b.transport.OnReceive(b.dispatcher.Receive)

	b.integ = host.NewIntegrator(host.IntegratorConfig{
		Dispatcher: b.dispatcher,
		Sessions:   b.sup,
		Out:        b.transport,
		Graph:      b.graph,
		Input:      b.sim,
		Produce:    handlers.Produce,
		Notifier:   b.sim,
		Hub:        b.hub,
	})
	b.loop = host.NewLoop(b.integ, b.sim, cfg.Service.TickRate)

	b.policy = supervisor.NewRestartPolicy(b.life, cfg.Engine.RestartDelay, b.integ, b.hub)
	if !cfg.Engine.Restarts() {
		b.policy.Disable()
	}
	b.policy.Attach(b.sup)

	if len(cfg.Webhooks.Endpoints) > 0 {
		hookCfg, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			return nil, err
		}
		b.hooks = webhook.New(hookCfg, hostAdapter{b: b}, log.WithComponent("webhook"))
	}

	return b, nil
}

func (b *Bridge) Hub() *events.Hub                   { return b.hub }
func (b *Bridge) Sim() *world.Sim                    { return b.sim }
func (b *Bridge) Graph() *navgraph.Graph             { return b.graph }
func (b *Bridge) Supervisor() *supervisor.Supervisor { return b.sup }
func (b *Bridge) Policy() *supervisor.RestartPolicy  { return b.policy }
func (b *Bridge) Loop() *host.Loop                   { return b.loop }

// Webhooks is nil when no webhook endpoints are configured.
func (b *Bridge) Webhooks() *webhook.Server { return b.hooks }

// Types implements api.RequestTypes.
func (b *Bridge) Types() []string {
	return withBatch(b.registry.Types())
}

// API builds the admin API server over this bridge.
func (b *Bridge) API() *api.Server {
	deps := api.Deps{
		Engine:   b.sup,
		Control:  b.policy,
		Router:   b.graph,
		Host:     hostAdapter{b: b},
		Requests: b,
		Hub:      b.hub,
	}
	if b.runs != nil {
		deps.Runs = b.runs
	}
	tokens := make([]auth.TokenConfig, 0, len(b.cfg.API.Auth.Tokens))
	for _, t := range b.cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.New(api.Config{
		Listen: b.cfg.API.Listen,
		APIKey: b.cfg.API.Auth.APIKey,
		Tokens: tokens,
	}, deps, log.WithComponent("api"))
}

// Run starts the host loop, launches the engine and serves the admin API
// and webhooks until ctx is cancelled or a component fails. A failed first launch is
// returned as an error.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer b.cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := b.loop.Run(ctx); err != nil {
			b.logger.Error("host loop failed", "error", err)
		}
	}()

	if err := b.sup.Launch(b.life); err != nil {
		cancel()
		<-loopDone
		return err
	}
	if err := b.loop.Post(ctx, b.integ.SaveLoaded); err != nil {
		b.logger.Warn("failed to post save load", "error", err)
	}

	errCh := make(chan error, 2)
	if b.cfg.API.Enabled {
		srv := b.API()
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		b.logger.Info("API server enabled", "listen", b.cfg.API.Listen)
	}
	if b.hooks != nil {
		go func() {
			if err := b.hooks.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhooks: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		b.logger.Error("component failed", "error", runErr)
	}

	b.policy.Stop()
	cancel()
	<-loopDone
	b.waitStopped()
	return runErr
}

func (b *Bridge) waitStopped() {
	deadline := time.Now().Add(shutdownTimeout)
	for b.sup.State() != supervisor.StateStopped {
		if time.Now().After(deadline) {
			b.logger.Warn("speech engine did not exit in time", "state", b.sup.State().String())
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// releaseButtons lifts buttons held by a dead run on the host thread, or
// directly once the loop has stopped.
func (b *Bridge) releaseButtons(buttons []string) {
	if len(buttons) == 0 {
		return
	}
	if err := b.loop.Post(b.life, func() { b.integ.ReleaseButtons(buttons) }); err != nil {
		b.integ.ReleaseButtons(buttons)
	}
}

// hostAdapter runs admin actions on the host loop goroutine.
type hostAdapter struct {
	b *Bridge
}

func (h hostAdapter) CurrentLocation(ctx context.Context) (string, error) {
	var loc string
	err := h.b.loop.Do(ctx, func() { loc = h.b.sim.CurrentLocation() })
	return loc, err
}

func (h hostAdapter) MimicSpeech(ctx context.Context, said string) (bool, error) {
	var delivered bool
	err := h.b.loop.Do(ctx, func() { delivered = h.b.integ.MimicSpeech(said) })
	return delivered, err
}

func (h hostAdapter) Warp(ctx context.Context, location string, x, y int) (string, error) {
	var old string
	var warpErr error
	err := h.b.loop.Do(ctx, func() {
		old, warpErr = h.b.sim.Warp(location, x, y)
		if warpErr == nil {
			h.b.integ.Warped(old, location)
		}
	})
	if err != nil {
		return "", err
	}
	return old, warpErr
}

func (h hostAdapter) SetMenu(ctx context.Context, menu *host.Menu) (*host.Menu, error) {
	var old *host.Menu
	err := h.b.loop.Do(ctx, func() {
		old = h.b.sim.SetMenu(menu)
		h.b.integ.MenuChanged(old, menu)
	})
	return old, err
}

func (h hostAdapter) AddLocation(ctx context.Context, loc navgraph.Location) error {
	var addErr error
	if err := h.b.loop.Do(ctx, func() {
		if addErr = h.b.sim.AddLocation(loc); addErr == nil {
			h.b.integ.LocationListChanged()
		}
	}); err != nil {
		return err
	}
	return addErr
}

func (h hostAdapter) LoadSave(ctx context.Context) error {
	return h.b.loop.Do(ctx, h.b.integ.SaveLoaded)
}

func (h hostAdapter) ObjectsChanged(ctx context.Context, location string) error {
	return h.b.loop.Do(ctx, func() { h.b.integ.ObjectListChanged(location) })
}

func (h hostAdapter) TerrainRemoved(ctx context.Context, location string, removed []host.Tile) error {
	return h.b.loop.Do(ctx, func() { h.b.integ.TerrainFeatureListChanged(location, removed) })
}
