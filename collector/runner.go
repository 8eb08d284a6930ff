package collector

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Output is the captured result of a finished telemetry command.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Diagnostic returns the combined captured text, for error reporting.
func (o Output) Diagnostic() string {
	return string(bytes.TrimSpace(append(append([]byte{}, o.Stdout...), o.Stderr...)))
}

// RunFunc runs a command to completion. A non-zero exit status is reported
// through Output.ExitCode; the error is reserved for failures to run at all.
type RunFunc func(ctx context.Context, name string, args ...string) (Output, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) (Output, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, err
	}
	return out, nil
}
