// Package runner executes external commands (the Image Builder's make,
// customization scripts, package managers) on the host.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/bitswalk/ibforge/src/common/errors"
	"github.com/bitswalk/ibforge/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the runner package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// stderrTailLines bounds how much captured stderr ends up in an error
const stderrTailLines = 20

// stderrTailBytes bounds how much stderr is held in memory per command
const stderrTailBytes = 16 * 1024

// Command describes one external process invocation
type Command struct {
	Name   string            // Executable name or path
	Args   []string          // Arguments
	Dir    string            // Working directory (empty = current)
	Env    map[string]string // Variables added on top of the host environment
	Stdout io.Writer         // Optional override of the executor's stdout
	Stderr io.Writer         // Optional override of the executor's stderr
}

// String renders the command line for logs
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Executor runs external commands
type Executor interface {
	Run(ctx context.Context, cmd Command) error
}

// Parse splits a shell-style command string into a Command
func Parse(cmdString string) (Command, error) {
	args, err := shellwords.Parse(cmdString)
	if err != nil {
		return Command{}, errors.ErrInvalidConfig.WithMessagef("cannot parse command %q", cmdString).WithCause(err)
	}
	if len(args) == 0 {
		return Command{}, errors.ErrInvalidConfig.WithMessage("empty command")
	}
	return Command{Name: args[0], Args: args[1:]}, nil
}

// Host runs commands directly on the host, streaming their output
type Host struct {
	stdout io.Writer
	stderr io.Writer
}

// NewHost creates a host executor. Nil writers default to the process's
// own stdout and stderr.
func NewHost(stdout, stderr io.Writer) *Host {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Host{stdout: stdout, stderr: stderr}
}

// Run executes cmd and waits for it. Cancelling ctx kills the whole
// process group so that children of make and bash die with it.
func (h *Host) Run(ctx context.Context, c Command) error {
	if c.Name == "" {
		return errors.ErrInternal.WithMessage("no command specified")
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout := h.stdout
	if c.Stdout != nil {
		stdout = c.Stdout
	}
	stderrOut := h.stderr
	if c.Stderr != nil {
		stderrOut = c.Stderr
	}

	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, stderrOut)

	log.Debug("Running command", "command", c.String(), "dir", c.Dir)
	start := time.Now()

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := fmt.Sprintf("%s exited with status %d", c.String(), exitCode(err))
		if tail := tailLines(stderr.String(), stderrTailLines); tail != "" {
			msg += ": " + tail
		}
		return errors.ErrExternalTool.WithMessage(msg).WithCause(err)
	}

	log.Debug("Command finished", "command", c.Name, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// exitCode returns the process exit status, or -1 when it did not exit
// normally (signal, failed start)
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// mergeEnv appends overrides to base in key order. Later entries win
// when exec resolves duplicates.
func mergeEnv(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return env
}

// tailBuffer is an io.Writer that keeps only the last max bytes written
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.max {
		t.buf = append(t.buf[:0], p[n-t.max:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
