package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Config describes how to invoke the external transcription process:
// <Command> [Script] <input> <output> [Model].
type Config struct {
	Command string
	Script  string
	Model   string
}

const waitDelay = 10 * time.Second

// ErrLaunch marks failures to start the process at all.
var ErrLaunch = errors.New("engine launch failed")

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("transcription process exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("transcription process exited with code %d:\n%s", e.ExitCode, stderr)
}

// Result is what a finished invocation left behind.
type Result struct {
	ExitCode int
	Stderr   string
}

// Engine runs the external speech-to-text process.
type Engine struct {
	cfg      Config
	lookPath func(file string) (string, error)
	stat     func(name string) (os.FileInfo, error)
	// stderrSink receives a copy of stderr as it is produced.
	stderrSink io.Writer
}

func New(cfg Config) *Engine {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "python3"
	}
	return &Engine{
		cfg:      cfg,
		lookPath: exec.LookPath,
		stat:     os.Stat,
	}
}

// WithStderrSink mirrors the process's stderr to w, e.g. a log writer.
func (e *Engine) WithStderrSink(w io.Writer) *Engine {
	e.stderrSink = w
	return e
}

// Check verifies the executable and, if configured, the script exist.
func (e *Engine) Check() error {
	if _, err := e.lookPath(e.cfg.Command); err != nil {
		return fmt.Errorf("%w: executable %q not found: %v", ErrLaunch, e.cfg.Command, err)
	}
	if e.cfg.Script != "" {
		if _, err := e.stat(e.cfg.Script); err != nil {
			return fmt.Errorf("%w: script not found: %s", ErrLaunch, e.cfg.Script)
		}
	}
	return nil
}

func (e *Engine) args(inputPath, outputPath string) []string {
	args := make([]string, 0, 4)
	if e.cfg.Script != "" {
		args = append(args, e.cfg.Script)
	}
	args = append(args, inputPath, outputPath)
	if e.cfg.Model != "" {
		args = append(args, e.cfg.Model)
	}
	return args
}

// Run invokes the process and blocks until it exits, copying its stdout to
// stdout as it arrives. Non-zero exits come back as *ExitError, start
// failures and a missing script wrap ErrLaunch.
func (e *Engine) Run(ctx context.Context, inputPath, outputPath string, stdout io.Writer) (Result, error) {
	cmdPath, err := e.lookPath(e.cfg.Command)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	// a missing script is a launch failure, not an interpreter exit code
	if e.cfg.Script != "" {
		if _, err := e.stat(e.cfg.Script); err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("%w: script not found: %s", ErrLaunch, e.cfg.Script)
		}
	}

	cmd := exec.CommandContext(ctx, cmdPath, e.args(inputPath, outputPath)...)
	// children that inherit stdout must not hold Wait open forever
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	if e.stderrSink != nil {
		cmd.Stderr = io.MultiWriter(&stderr, e.stderrSink)
	} else {
		cmd.Stderr = &stderr
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	err = cmd.Wait()
	result := Result{Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("transcription process stopped: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{ExitCode: result.ExitCode, Stderr: result.Stderr}
		}
		return result, fmt.Errorf("wait for transcription process: %w", err)
	}
	return result, nil
}
