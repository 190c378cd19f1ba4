// Package logs provides a common logging facility for ibforge.
// It supports output to stderr, stdout or systemd journald based on configuration.
package logs

import (
	"io"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"
)

// LogOutput defines the output destination for logs
type LogOutput string

const (
	// OutputStderr sends logs to standard error, keeping stdout for command output
	OutputStderr LogOutput = "stderr"
	// OutputStdout sends logs to standard output
	OutputStdout LogOutput = "stdout"
	// OutputJournald sends logs to systemd journald
	OutputJournald LogOutput = "journald"
	// OutputAuto selects journald when running under systemd, otherwise stderr
	OutputAuto LogOutput = "auto"
)

// Logger wraps the charm log.Logger with additional configuration
type Logger struct {
	*log.Logger
	output LogOutput
}

// Config holds the configuration for the logger
type Config struct {
	// Output specifies where logs should be sent (stderr, stdout, journald, auto)
	Output LogOutput
	// Level sets the minimum log level (debug, info, warn, error)
	Level string
	// Prefix sets a prefix for all log messages
	Prefix string
	// Writer overrides the destination entirely when set (used by tests)
	Writer io.Writer
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Output: OutputAuto,
		Level:  "info",
		Prefix: "",
	}
}

// journaldAvailable checks if the process runs under systemd with journald reachable
func journaldAvailable() bool {
	if os.Getenv("INVOCATION_ID") == "" {
		return false
	}
	if _, err := exec.LookPath("systemd-cat"); err != nil {
		return false
	}
	if _, err := os.Stat("/run/systemd/journal/socket"); err != nil {
		return false
	}
	return true
}

// ParseLevel converts a string level to log.Level
func ParseLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New creates a new Logger with the given configuration
func New(cfg Config) *Logger {
	var writer io.Writer
	var output LogOutput

	switch {
	case cfg.Writer != nil:
		writer = cfg.Writer
		output = cfg.Output
	case cfg.Output == OutputJournald || cfg.Output == OutputAuto:
		if journaldAvailable() {
			writer = newJournaldWriter()
			output = OutputJournald
		} else {
			writer = os.Stderr
			output = OutputStderr
		}
	case cfg.Output == OutputStdout:
		writer = os.Stdout
		output = OutputStdout
	default:
		writer = os.Stderr
		output = OutputStderr
	}

	logger := log.NewWithOptions(writer, log.Options{
		Level:           ParseLevel(cfg.Level),
		Prefix:          cfg.Prefix,
		ReportTimestamp: true,
		ReportCaller:    false,
	})

	return &Logger{
		Logger: logger,
		output: output,
	}
}

// NewDefault creates a new Logger with default configuration
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// NewDiscard creates a Logger that drops everything
func NewDiscard() *Logger {
	return New(Config{Writer: io.Discard, Level: "error"})
}

// Output returns the current output destination
func (l *Logger) Output() LogOutput {
	return l.output
}

// journaldWriter implements io.Writer for journald
type journaldWriter struct {
	identifier string
}

// newJournaldWriter creates a writer that sends output to journald
func newJournaldWriter() *journaldWriter {
	return &journaldWriter{
		identifier: "ibforge",
	}
}

// Write implements io.Writer for journald
// It uses systemd-cat to send messages to journald
func (w *journaldWriter) Write(p []byte) (n int, err error) {
	cmd := exec.Command("systemd-cat", "-t", w.identifier)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return os.Stderr.Write(p)
	}

	if err := cmd.Start(); err != nil {
		return os.Stderr.Write(p)
	}

	n, err = stdin.Write(p)
	stdin.Close()

	// Message was written even if systemd-cat reports a failure on exit
	_ = cmd.Wait()

	return n, nil
}
