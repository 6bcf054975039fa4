package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"vderm-backend/internal/metrics"

	"golang.org/x/sync/semaphore"
)

// ErrClassifierBusy is returned when no classifier slot frees up within the
// queue timeout.
var ErrClassifierBusy = errors.New("classifier is at capacity, try again later")

var ErrEmptyImage = errors.New("image is empty")

const (
	FailureProcess = "process"
	FailureParse   = "parse"
	FailureTimeout = "timeout"

	maxStderrInMessage = 2048
)

// InvocationError describes a classifier run that did not produce a
// prediction. Stderr holds whatever the process wrote to its diagnostic
// channel.
type InvocationError struct {
	Reason   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("classifier %s failure", e.Reason)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		if len(stderr) > maxStderrInMessage {
			stderr = stderr[len(stderr)-maxStderrInMessage:]
		}
		msg += ": " + stderr
	}
	return msg
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// ClassifierPaths is the resolved location of the classifier for the current
// deployment target. Args are placed before the image path.
type ClassifierPaths struct {
	Executable string
	Args       []string
	ModelPath  string
}

type ClassifierOptions struct {
	Timeout        time.Duration
	QueueTimeout   time.Duration
	MaxConcurrency int64
	TempDir        string
}

type Classifier struct {
	paths   ClassifierPaths
	opts    ClassifierOptions
	slots   *semaphore.Weighted
	tempDir string
}

func NewClassifier(paths ClassifierPaths, opts ClassifierOptions) (*Classifier, error) {
	if paths.Executable == "" {
		return nil, fmt.Errorf("classifier executable must be specified")
	}
	if opts.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("classifier max concurrency must be positive, got %d", opts.MaxConcurrency)
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("classifier timeout must be positive, got %v", opts.Timeout)
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	} else if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return nil, fmt.Errorf("error creating classifier temp dir %s: %w", tempDir, err)
	}

	return &Classifier{
		paths:   paths,
		opts:    opts,
		slots:   semaphore.NewWeighted(opts.MaxConcurrency),
		tempDir: tempDir,
	}, nil
}

// Infer runs the classifier on one image. The returned error is either an
// *InvocationError, ErrClassifierBusy, or the context's error.
func (c *Classifier) Infer(ctx context.Context, image []byte) (Prediction, error) {
	if len(image) == 0 {
		return Prediction{}, ErrEmptyImage
	}

	if err := c.acquire(ctx); err != nil {
		if errors.Is(err, ErrClassifierBusy) {
			metrics.ClassifierInvocations.WithLabelValues(metrics.OutcomeBusy).Inc()
		}
		return Prediction{}, err
	}
	defer c.slots.Release(1)

	metrics.ClassifierInFlight.Inc()
	defer metrics.ClassifierInFlight.Dec()

	var pred Prediction
	err := withTempImage(c.tempDir, image, func(path string) error {
		var runErr error
		pred, runErr = c.run(ctx, path)
		return runErr
	})

	var invErr *InvocationError
	switch {
	case err == nil:
		metrics.ClassifierInvocations.WithLabelValues(metrics.OutcomeSuccess).Inc()
	case errors.As(err, &invErr):
		switch invErr.Reason {
		case FailureParse:
			metrics.ClassifierInvocations.WithLabelValues(metrics.OutcomeParseError).Inc()
		case FailureTimeout:
			metrics.ClassifierInvocations.WithLabelValues(metrics.OutcomeTimeout).Inc()
		default:
			metrics.ClassifierInvocations.WithLabelValues(metrics.OutcomeProcessError).Inc()
		}
	default:
		metrics.ClassifierInvocations.WithLabelValues(metrics.OutcomeProcessError).Inc()
	}

	if err != nil {
		return Prediction{}, err
	}
	return pred, nil
}

func (c *Classifier) acquire(ctx context.Context) error {
	if c.opts.QueueTimeout <= 0 {
		if !c.slots.TryAcquire(1) {
			return ErrClassifierBusy
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.QueueTimeout)
	defer cancel()

	if err := c.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClassifierBusy
	}
	return nil
}

func (c *Classifier) run(ctx context.Context, imagePath string) (Prediction, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	args := append(append([]string{}, c.paths.Args...), imagePath)
	cmd := exec.CommandContext(runCtx, c.paths.Executable, args...)
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")
	if c.paths.ModelPath != "" {
		cmd.Env = append(cmd.Env, "MODEL_PATH="+c.paths.ModelPath)
	}
	// Children that inherit the pipes can keep Wait blocked after the kill.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	metrics.ClassifierDuration.Observe(time.Since(start).Seconds())

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		slog.Error("classifier timed out", "timeout", c.opts.Timeout, "stderr", stderr.String())
		return Prediction{}, &InvocationError{
			Reason: FailureTimeout,
			Stderr: stderr.String(),
			Err:    fmt.Errorf("no result after %v", c.opts.Timeout),
		}
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		slog.Error("classifier process failed", "exit_code", exitCode, "error", err, "stderr", stderr.String())
		return Prediction{}, &InvocationError{
			Reason:   FailureProcess,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	pred, err := ParseClassifierOutput(stdout.Bytes())
	if err != nil {
		slog.Error("unable to parse classifier output", "error", err, "stdout", stdout.String(), "stderr", stderr.String())
		return Prediction{}, &InvocationError{
			Reason: FailureParse,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return pred, nil
}

// withTempImage writes image to a fresh file in dir, calls fn with its path and
// removes the file once fn returns.
func withTempImage(dir string, image []byte, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, "classify-*.jpg")
	if err != nil {
		return fmt.Errorf("error creating temp image file: %w", err)
	}
	path := f.Name()

	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("unable to remove temp image file", "path", path, "error", err)
		}
	}()

	if _, err := f.Write(image); err != nil {
		f.Close()
		return fmt.Errorf("error writing temp image file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing temp image file: %w", err)
	}

	return fn(path)
}
