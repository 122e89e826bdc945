// Package inspect renders reports about recorded speech engine runs.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/voxbridge/internal/runlog"
)

// RunGetter looks up one recorded run.
type RunGetter interface {
	Get(ctx context.Context, id string) (*runlog.Run, error)
}

// Run statuses.
const (
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusFailed  = "failed"
	StatusKilled  = "killed"
)

// Report is the structured JSON representation of a run report.
type Report struct {
	RunID      string     `json:"run_id"`
	PID        int        `json:"pid"`
	Executable string     `json:"executable"`
	Args       []string   `json:"args"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Duration   string     `json:"duration"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// BuildReport renders a terminal-friendly report for one run.
func BuildReport(ctx context.Context, runs RunGetter, runID string, now time.Time) (string, error) {
	report, err := gatherReport(ctx, runs, runID, now)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Engine Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "PID         : %d\n", report.PID)
	fmt.Fprintf(&out, "Executable  : %s\n", report.Executable)
	if len(report.Args) > 0 {
		fmt.Fprintf(&out, "Args        : %s\n", strings.Join(report.Args, " "))
	} else {
		fmt.Fprintf(&out, "Args        : <none>\n")
	}
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	if report.EndedAt != nil {
		fmt.Fprintf(&out, "Ended       : %s\n", report.EndedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&out, "Duration    : %s\n", report.Duration)
	if report.ExitCode != nil {
		fmt.Fprintf(&out, "Exit code   : %d\n", *report.ExitCode)
	}
	if report.LastError != "" {
		fmt.Fprintf(&out, "Last error  : %s\n", report.LastError)
	}
	return out.String(), nil
}

// BuildJSONReport returns the same report as indented JSON.
func BuildJSONReport(ctx context.Context, runs RunGetter, runID string, now time.Time) (string, error) {
	report, err := gatherReport(ctx, runs, runID, now)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data), nil
}

func gatherReport(ctx context.Context, runs RunGetter, runID string, now time.Time) (*Report, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	run, err := runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	args := run.Args
	if args == nil {
		args = []string{}
	}
	return &Report{
		RunID:      run.ID,
		PID:        run.PID,
		Executable: run.Executable,
		Args:       args,
		Status:     status(run),
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
		Duration:   run.Duration(now).Round(time.Millisecond).String(),
		ExitCode:   run.ExitCode,
		LastError:  run.LastError,
	}, nil
}

func status(run *runlog.Run) string {
	switch {
	case run.EndedAt == nil:
		return StatusRunning
	case run.Killed:
		return StatusKilled
	case run.ExitCode != nil && *run.ExitCode != 0, run.LastError != "":
		return StatusFailed
	default:
		return StatusExited
	}
}
