package runner

import (
	"context"
	"io"
	"time"
)

// Command describes a single process invocation.
type Command struct {
	Path string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env replaces the process environment when non-nil.
	Env []string
	// Output, when set, receives stdout and stderr as they are produced.
	Output io.Writer
}

// Result captures the outcome of a process execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error // detailed go error if any
}

// Failed reports whether the process did not exit cleanly.
func (r Result) Failed() bool {
	return r.ExitCode != 0 || r.Error != nil
}

// JobRunner executes a single process.
type JobRunner interface {
	// Run executes the command within the context.
	// It returns a Result containing exit code and captured output.
	Run(ctx context.Context, cmd Command) Result
}
