// Package exec provides the process-spawning seam used for git and agent processes.
package exec

import (
	"context"
	"io"
)

// CommandRunner defines the interface for running short-lived external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)
}

// Command describes a long-running process to spawn.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current environment.
	Env []string
}

// Argv returns the name followed by the arguments.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// Spawner starts long-running processes whose output is streamed.
type Spawner interface {
	// Spawn starts the command. The context only bounds the start; the
	// process keeps running until it exits or Kill is called.
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

// Process is a running child process.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit code.
	// Read Stdout and Stderr to completion before calling Wait.
	Wait() (exitCode int, err error)
	Kill() error
	// Command reports what was asked for, before any policy wrapping.
	Command() Command
}
