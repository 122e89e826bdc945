package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Spec describes how to start the speech engine.
type Spec struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string
}

// NewSpec derives the engine invocation from the install layout. An empty
// pythonRoot defaults to <installDir>/lib/speech-client/dist and an empty
// executable to the bundled speech-client binary inside it. When main is
// set the executable is treated as an interpreter and main is passed first.
func NewSpec(installDir, executable, pythonRoot, main string, extra []string) Spec {
	if pythonRoot == "" {
		pythonRoot = filepath.Join(installDir, "lib", "speech-client", "dist")
	}
	if executable == "" {
		executable = filepath.Join(pythonRoot, "speech-client")
	}
	var args []string
	if main != "" {
		args = append(args, main)
	}
	args = append(args, "--python_root", pythonRoot)
	args = append(args, extra...)
	return Spec{Executable: executable, Args: args, Dir: installDir}
}

// ExitInfo describes how one engine run ended.
type ExitInfo struct {
	RunID    string        `json:"run_id"`
	PID      int           `json:"pid"`
	Code     int           `json:"code"`
	Killed   bool          `json:"killed"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	// Released lists buttons the run was holding when it ended. They are
	// still down on the host device until the exit handler lifts them.
	Released []string `json:"released,omitempty"`
}

// Process is one running engine instance.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	PID() int
	Kill() error
	// Wait blocks until the process exits. Callers must finish reading
	// Stdout and Stderr first.
	Wait() (code int, err error)
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// ExecSpawner starts real OS processes.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Executable, err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) PID() int              { return p.cmd.Process.Pid }

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
