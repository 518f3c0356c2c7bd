package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sigil/pkg/state"
)

// CommandResult is the closed result type for bang commands: either a
// TextResult or an ErrorResult, never both.
type CommandResult interface {
	isCommandResult()
}

// TextResult carries a successful command reply.
type TextResult struct {
	Text string
}

func (TextResult) isCommandResult() {}

// ErrorResult carries a user-facing command failure.
type ErrorResult struct {
	Message string
}

func (ErrorResult) isCommandResult() {}

// RunCommand executes a "!name arg..." command against the registry.
// Positional arguments bind to the tool's properties in declaration
// order; the last property absorbs everything that remains, so free
// text never needs quoting. The conversation context may be mutated
// and must be saved by the caller on success.
func RunCommand(ctx context.Context, reg *Registry, cc *state.ConversationContext, input string) CommandResult {
	fields := strings.Fields(strings.TrimPrefix(input, "!"))
	if len(fields) == 0 {
		return ErrorResult{Message: "Empty command. Try !help."}
	}

	name := fields[0]
	d, ok := reg.Get(name)
	if !ok {
		return ErrorResult{Message: fmt.Sprintf("Unknown command '!%s'. Try !help.", name)}
	}

	args := bindPositional(d.Schema.Properties, fields[1:])
	for _, req := range d.Schema.Required {
		if v, present := args[req]; !present || v == "" {
			return ErrorResult{Message: fmt.Sprintf("Missing argument '%s' for !%s.", req, name)}
		}
	}

	slog.InfoContext(ctx, "Executing command", "name", name, "args", args)
	res, err := d.Execute(ctx, cc, args)
	if err != nil {
		slog.ErrorContext(ctx, "Command failed", "name", name, "error", err)
		return ErrorResult{Message: fmt.Sprintf("Command failed: %v", err)}
	}
	return TextResult{Text: res}
}

// bindPositional maps positional arguments onto named properties. The
// last property soaks up the remaining words joined by spaces.
func bindPositional(props []Property, args []string) map[string]any {
	bound := make(map[string]any, len(props))
	for i, p := range props {
		if i >= len(args) {
			break
		}
		if i == len(props)-1 {
			bound[p.Name] = strings.Join(args[i:], " ")
		} else {
			bound[p.Name] = args[i]
		}
	}
	return bound
}
