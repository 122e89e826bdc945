package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/voxbridge/internal/runlog"
	"github.com/mattjoyce/voxbridge/internal/storage"
	"github.com/mattjoyce/voxbridge/internal/supervisor"
)

func openStore(t *testing.T) *runlog.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return runlog.New(db)
}

func TestBuildReportRendersFinishedRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	t0 := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	spec := supervisor.Spec{Executable: "/opt/vox/speech-client", Args: []string{"--python_root", "/opt/vox"}}

	if err := store.RecordStart(ctx, "run-a", 4242, spec, t0); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := store.RecordExit(ctx, supervisor.ExitInfo{RunID: "run-a", Code: 2, Err: "exit status 2"}, t0.Add(90*time.Second)); err != nil {
		t.Fatalf("RecordExit: %v", err)
	}

	out, err := BuildReport(ctx, store, "run-a", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, want := range []string{
		"Run ID      : run-a",
		"PID         : 4242",
		"Args        : --python_root /opt/vox",
		"Status      : failed",
		"Duration    : 1m30s",
		"Exit code   : 2",
		"Last error  : exit status 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestBuildJSONReportRunningRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	t0 := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	if err := store.RecordStart(ctx, "run-b", 7, supervisor.Spec{Executable: "speech-client"}, t0); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	out, err := BuildJSONReport(ctx, store, "run-b", t0.Add(5*time.Second))
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var got Report
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %q, want %q", got.Status, StatusRunning)
	}
	if got.Duration != "5s" {
		t.Errorf("duration = %q, want 5s", got.Duration)
	}
	if got.EndedAt != nil || got.ExitCode != nil {
		t.Errorf("running run should have no end: %+v", got)
	}
	if len(got.Args) != 0 {
		t.Errorf("args = %v, want empty", got.Args)
	}
}

func TestBuildReportKilledAndClean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	t0 := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	spec := supervisor.Spec{Executable: "speech-client"}
	for _, id := range []string{"killed", "clean"} {
		if err := store.RecordStart(ctx, id, 1, spec, t0); err != nil {
			t.Fatalf("RecordStart(%s): %v", id, err)
		}
	}
	if err := store.RecordExit(ctx, supervisor.ExitInfo{RunID: "killed", Code: -1, Killed: true}, t0.Add(time.Second)); err != nil {
		t.Fatalf("RecordExit: %v", err)
	}
	if err := store.RecordExit(ctx, supervisor.ExitInfo{RunID: "clean"}, t0.Add(time.Second)); err != nil {
		t.Fatalf("RecordExit: %v", err)
	}

	for id, want := range map[string]string{"killed": StatusKilled, "clean": StatusExited} {
		out, err := BuildReport(ctx, store, id, t0)
		if err != nil {
			t.Fatalf("BuildReport(%s): %v", id, err)
		}
		if !strings.Contains(out, "Status      : "+want) {
			t.Errorf("%s: want status %s in:\n%s", id, want, out)
		}
	}
}

func TestBuildReportUnknownRun(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	_, err := BuildReport(context.Background(), store, "ghost", time.Now())
	if !errors.Is(err, runlog.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if _, err := BuildReport(context.Background(), store, "  ", time.Now()); err == nil {
		t.Fatal("expected error for empty run id")
	}
}
