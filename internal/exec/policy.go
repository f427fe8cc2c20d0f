package exec

import (
	"context"
	"fmt"
	"strings"
)

// PolicyRunner spawns and runs commands through a sandbox wrapper.
//
// Wrapper is an argv template. "{dir}" inside any element is replaced with
// the command's working directory. An element equal to "{argv}" is replaced
// by the full command argv; without one, the argv is appended at the end.
type PolicyRunner struct {
	Inner   Spawner
	Wrapper []string
}

// NewPolicyRunner wraps inner with the given template. An empty template
// spawns commands unchanged.
func NewPolicyRunner(inner Spawner, wrapper []string) *PolicyRunner {
	return &PolicyRunner{Inner: inner, Wrapper: wrapper}
}

// Wrap returns the command actually executed for c.
func (p *PolicyRunner) Wrap(c Command) Command {
	if len(p.Wrapper) == 0 {
		return c
	}

	var argv []string
	spliced := false
	for _, part := range p.Wrapper {
		if part == "{argv}" {
			argv = append(argv, c.Argv()...)
			spliced = true
			continue
		}
		argv = append(argv, strings.ReplaceAll(part, "{dir}", c.Dir))
	}
	if !spliced {
		argv = append(argv, c.Argv()...)
	}

	return Command{Name: argv[0], Args: argv[1:], Dir: c.Dir, Env: c.Env}
}

// Spawn starts the wrapped command. The returned process still reports the
// unwrapped command.
func (p *PolicyRunner) Spawn(ctx context.Context, c Command) (Process, error) {
	proc, err := p.Inner.Spawn(ctx, p.Wrap(c))
	if err != nil {
		return nil, err
	}
	return &semanticProcess{Process: proc, semantic: c}, nil
}

type semanticProcess struct {
	Process
	semantic Command
}

func (s *semanticProcess) Command() Command { return s.semantic }

// Run executes the wrapped command in workDir. Inner must also be a
// CommandRunner.
func (p *PolicyRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	runner, ok := p.Inner.(CommandRunner)
	if !ok {
		return nil, fmt.Errorf("sandbox: %T cannot run commands", p.Inner)
	}
	w := p.Wrap(Command{Name: name, Args: args, Dir: workDir})
	return runner.Run(ctx, w.Dir, w.Name, w.Args...)
}

var (
	_ Spawner       = (*PolicyRunner)(nil)
	_ CommandRunner = (*PolicyRunner)(nil)
)
