// Package scan runs malware checks on downloaded files.
package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Verdict is the outcome of scanning one file.
type Verdict struct {
	Findings []string
}

// Clean reports whether no findings were reported.
func (v Verdict) Clean() bool { return len(v.Findings) == 0 }

func (v Verdict) String() string {
	if v.Clean() {
		return "clean"
	}
	return strings.Join(v.Findings, "; ")
}

// Scanner checks a local file. An error means the scan itself failed and
// the file must be treated as unverified.
type Scanner interface {
	Scan(ctx context.Context, path string) (Verdict, error)
}

// Nop reports every file clean.
type Nop struct{}

func (Nop) Scan(context.Context, string) (Verdict, error) { return Verdict{}, nil }

// PathPlaceholder in Command.Args is replaced with the scanned path. When
// no argument contains it the path is appended.
const PathPlaceholder = "{}"

// Command runs an external scanner. Any non-blank output line on stdout is
// a finding. A non-zero exit with no output is a scan failure.
type Command struct {
	Name string
	Args []string
}

// NewCommand returns a Command scanner; name is resolved through PATH.
func NewCommand(name string, args ...string) *Command {
	return &Command{Name: name, Args: args}
}

func (c *Command) args(path string) []string {
	out := make([]string, 0, len(c.Args)+1)
	replaced := false
	for _, a := range c.Args {
		if strings.Contains(a, PathPlaceholder) {
			a = strings.ReplaceAll(a, PathPlaceholder, path)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}

func (c *Command) Scan(ctx context.Context, path string) (Verdict, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.args(path)...) //nolint:gosec // scanner command is operator configured
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var v Verdict
	for _, line := range strings.Split(stdout.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			v.Findings = append(v.Findings, line)
		}
	}
	if !v.Clean() {
		return v, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return v, fmt.Errorf("scanner %s exited %d: %s", c.Name, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return v, fmt.Errorf("run scanner %s: %w", c.Name, runErr)
	}
	return v, nil
}
