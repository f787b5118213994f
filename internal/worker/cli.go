package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	stderrTail = 2000
	promptLog  = 500

	// waitDelay bounds how long Wait blocks on pipes held open by
	// grandchildren after the worker itself has been killed.
	waitDelay = 5 * time.Second
)

// CLI runs the agent command line tool as a subprocess.
type CLI struct {
	binary string
	dir    string
	logger *zap.Logger
}

func NewCLI(binary, dir string, logger *zap.Logger) *CLI {
	return &CLI{
		binary: binary,
		dir:    dir,
		logger: logger.Named("worker"),
	}
}

func (c *CLI) Invoke(ctx context.Context, req Request) (Result, error) {
	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(callCtx, c.binary, buildArgs(req)...)
	cmd.Dir = c.dir
	cmd.WaitDelay = waitDelay
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(req.Env)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("invoking worker",
		zap.String("label", req.Label),
		zap.Duration("timeout", req.Timeout),
		zap.Bool("session", req.SessionID != "" || req.ResumeSessionID != ""),
		zap.String("prompt", clip(req.Prompt, promptLog)))

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		// The parent context being cancelled is an interrupt, not a timeout.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			c.logger.Error("worker timed out",
				zap.String("label", req.Label), zap.Duration("timeout", req.Timeout))
			return nil, &Error{Kind: KindTimeout, Label: req.Label, Err: callCtx.Err()}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			tail := clip(stderr.String(), stderrTail)
			c.logger.Error("worker exited with error",
				zap.String("label", req.Label),
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.String("stderr", tail))
			return nil, &Error{Kind: KindExit, Label: req.Label, ExitCode: exitErr.ExitCode(), Stderr: tail}
		}
		return nil, &Error{Kind: KindStart, Label: req.Label, Err: err}
	}

	result, err := Unwrap(stdout.Bytes())
	if err != nil {
		kind := KindMalformed
		if errors.Is(err, errEmptyOutput) {
			kind = KindEmpty
		}
		c.logger.Error("worker returned unusable output",
			zap.String("label", req.Label),
			zap.String("kind", string(kind)),
			zap.String("raw", clip(stdout.String(), stderrTail)))
		return nil, &Error{Kind: kind, Label: req.Label, Err: err}
	}

	c.logger.Debug("worker finished",
		zap.String("label", req.Label), zap.Duration("elapsed", elapsed))
	return result, nil
}

func buildArgs(req Request) []string {
	args := []string{
		"-p", req.Prompt,
		"--dangerously-skip-permissions",
		"--output-format", "json",
	}
	if req.Schema != "" {
		args = append(args, "--json-schema", req.Schema)
	}
	if req.SessionID != "" {
		args = append(args, "--session-id", req.SessionID)
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	return args
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// clip keeps the first n characters of s.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
