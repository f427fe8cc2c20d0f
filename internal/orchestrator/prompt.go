package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// PromptBuilder produces the text handed to the agent. Hosts with their own
// prompt assembly replace DefaultPrompts.
type PromptBuilder interface {
	// System is appended to the agent's system prompt for every run of the task.
	System(t *models.Task, dir string) string
	// Task starts (or resumes) work on the task.
	Task(t *models.Task) string
	// Commit asks the agent to commit what it left uncommitted.
	Commit(t *models.Task, files []string) string
	// Conflict asks the agent to merge target into its branch and resolve conflicts.
	Conflict(t *models.Task, target string, files []string) string
}

// DefaultPrompts is a minimal PromptBuilder.
type DefaultPrompts struct{}

var _ PromptBuilder = DefaultPrompts{}

const systemPrompt = `You are working on one task from a shared task list, inside a git
working directory that belongs to you alone for the duration of the task.

- Work only in %s.
- Commit your work on the current branch with clear messages. Do not push,
  merge, or switch branches; the orchestrator does that.
- Leave the working tree clean when you finish.
- If you cannot finish, say why in your final message.
`

func (DefaultPrompts) System(t *models.Task, dir string) string {
	return fmt.Sprintf(systemPrompt, dir)
}

func (DefaultPrompts) Task(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n", t.ID, t.Title)

	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("\n## Acceptance criteria\n")
		for _, c := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if len(t.Steps) > 0 {
		b.WriteString("\n## Steps\n")
		for i, s := range t.Steps {
			mark := " "
			if s.Status == models.StepStatusDone {
				mark = "x"
			}
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, s.Instruction)
			for _, c := range s.AcceptanceCriteria {
				fmt.Fprintf(&b, "   - %s\n", c)
			}
		}
	}

	if t.Checkpoint != "" {
		fmt.Fprintf(&b, "\n## Checkpoint\n%s\n", t.Checkpoint)
	}

	if len(t.AINotes) > 0 {
		b.WriteString("\n## Notes from earlier attempts\n")
		for _, n := range t.AINotes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

func (DefaultPrompts) Commit(t *models.Task, files []string) string {
	return fmt.Sprintf("You left uncommitted changes in these files:\n%s\n\n"+
		"Review them, then commit everything that belongs to task %s. "+
		"Remove anything that does not. The working tree must be clean when you finish.",
		bullets(files), t.ID)
}

func (DefaultPrompts) Conflict(t *models.Task, target string, files []string) string {
	return fmt.Sprintf("Merging your branch into %s conflicts in:\n%s\n\n"+
		"Merge %s into your branch, resolve the conflicts keeping the intent of both sides, "+
		"and commit the merge. Do not push.",
		target, bullets(files), target)
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "- (none listed)"
	}
	return "- " + strings.Join(items, "\n- ")
}
