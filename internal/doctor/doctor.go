// Package doctor validates voxbridge configuration against the registered
// request handlers, the engine install and the world file.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/mattjoyce/voxbridge/internal/config"
	"github.com/mattjoyce/voxbridge/internal/navgraph"
	"github.com/mattjoyce/voxbridge/internal/storage"
	"github.com/mattjoyce/voxbridge/internal/supervisor"
	"github.com/mattjoyce/voxbridge/internal/webhook"
	"github.com/mattjoyce/voxbridge/internal/world"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded config.
type Doctor struct {
	cfg      *config.Config
	types    map[string]bool
	world    *world.File
	worldErr error
}

// New creates a Doctor. requestTypes are the handler types the dispatcher
// will accept; w is the parsed world file, or nil with worldErr set when it
// failed to load.
func New(cfg *config.Config, requestTypes []string, w *world.File, worldErr error) *Doctor {
	types := make(map[string]bool, len(requestTypes))
	for _, t := range requestTypes {
		types[t] = true
	}
	return &Doctor{cfg: cfg, types: types, world: w, worldErr: worldErr}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateEngine(r)
	d.validateDispatch(r)
	d.validateState(r)
	d.validateAPIConfig(r)
	d.validateWebhooks(r)
	d.validateWorld(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateEngine checks that the resolved engine binary exists.
func (d *Doctor) validateEngine(r *Result) {
	e := d.cfg.Engine
	spec := supervisor.NewSpec(e.InstallDir, e.Executable, e.PythonRoot, e.Main, e.Args)

	info, err := os.Stat(spec.Executable)
	switch {
	case err != nil:
		d.addError(r, "engine", "engine.executable", fmt.Sprintf("speech engine not found at %s", spec.Executable))
	case info.IsDir():
		d.addError(r, "engine", "engine.executable", fmt.Sprintf("%s is a directory", spec.Executable))
	case info.Mode()&0o111 == 0:
		d.addWarning(r, "engine", "engine.executable", fmt.Sprintf("%s is not executable", spec.Executable))
	}

	if e.Main != "" {
		if _, err := os.Stat(e.Main); err != nil {
			d.addError(r, "engine", "engine.main", fmt.Sprintf("entry point not found at %s", e.Main))
		}
	}
	if e.InstallDir != "" {
		if info, err := os.Stat(e.InstallDir); err != nil || !info.IsDir() {
			d.addWarning(r, "engine", "engine.install_dir", fmt.Sprintf("install dir %s does not exist; the engine runs with it as working directory", e.InstallDir))
		}
	}
	if !e.Restarts() {
		d.addWarning(r, "engine", "engine.restart_on_exit", "engine exits will not be followed by a relaunch")
	}
}

// validateDispatch checks that every routed request type has a handler.
func (d *Doctor) validateDispatch(r *Result) {
	for i, t := range d.cfg.Dispatch.TickingRequests {
		if !d.types[t] {
			d.addError(r, "dispatch", fmt.Sprintf("dispatch.ticking_requests[%d]", i),
				fmt.Sprintf("no handler registered for %q", t))
		}
	}
	for i, t := range d.cfg.Dispatch.UnvalidatedAllow {
		if !d.types[t] {
			d.addWarning(r, "dispatch", fmt.Sprintf("dispatch.unvalidated_allow[%d]", i),
				fmt.Sprintf("no handler registered for %q", t))
		}
	}
	if d.cfg.Dispatch.Budget >= d.cfg.Service.TickRate {
		d.addWarning(r, "dispatch", "dispatch.budget",
			fmt.Sprintf("budget %s is not below the frame time %s; request draining can stall frames",
				d.cfg.Dispatch.Budget, d.cfg.Service.TickRate))
	}
}

func (d *Doctor) validateState(r *Result) {
	if err := storage.CheckLocalFilesystem(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

// validateAPIConfig checks admin API settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey != "" || len(d.cfg.API.Auth.Tokens) > 0 {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q", d.cfg.API.Listen))
		return
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		d.addWarning(r, "api", "api.auth", "API enabled without authentication")
		return
	}
	d.addError(r, "api", "api.auth", fmt.Sprintf("API listens on %s without authentication", d.cfg.API.Listen))
}

func (d *Doctor) validateWebhooks(r *Result) {
	for i, ep := range d.cfg.Webhooks.Endpoints {
		if _, err := webhook.ParseMaxBodySize(ep.MaxBodySize); err != nil {
			d.addError(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].max_body_size", i), err.Error())
		}
		if len(ep.Secret) < 16 {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].secret", i), "secret is shorter than 16 characters")
		}
	}
}

// validateWorld checks the world file loads and that every location can be
// reached from the player start.
func (d *Doctor) validateWorld(r *Result) {
	if d.worldErr != nil {
		d.addError(r, "world", "world.path", d.worldErr.Error())
		return
	}
	if d.world == nil {
		return
	}

	names := map[string]bool{}
	var collect func(locs []navgraph.Location)
	collect = func(locs []navgraph.Location) {
		for _, l := range locs {
			names[l.Name] = true
			for _, b := range l.Buildings {
				if b.Interior != nil {
					collect([]navgraph.Location{*b.Interior})
				}
			}
		}
	}
	collect(d.world.Locations)

	var dangling []string
	var walk func(locs []navgraph.Location)
	walk = func(locs []navgraph.Location) {
		for _, l := range locs {
			for _, w := range l.Warps {
				if !names[w.Target] {
					dangling = append(dangling, fmt.Sprintf("%s->%s", l.Name, w.Target))
				}
			}
			for _, door := range l.Doors {
				if !names[door.Target] {
					dangling = append(dangling, fmt.Sprintf("%s->%s", l.Name, door.Target))
				}
			}
			for _, b := range l.Buildings {
				if b.Interior != nil {
					walk([]navgraph.Location{*b.Interior})
				}
			}
		}
	}
	walk(d.world.Locations)
	if len(dangling) > 0 {
		sort.Strings(dangling)
		d.addWarning(r, "world", "world.locations",
			fmt.Sprintf("connections to unknown locations are ignored: %s", strings.Join(dangling, ", ")))
	}

	g := navgraph.New(world.New(d.world))
	start := d.world.Player.Location
	var unreachable []string
	for _, name := range g.Nodes() {
		_, found, err := g.FindRouteTo(start, name)
		if err != nil || !found {
			unreachable = append(unreachable, name)
		}
	}
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		d.addWarning(r, "world", "world.locations",
			fmt.Sprintf("not reachable from %s: %s", start, strings.Join(unreachable, ", ")))
	}
}

// FormatHuman returns a human-readable summary.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}
	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
