package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"sigil/pkg/api"
	"sigil/pkg/state"
)

// NewPingTool answers with a liveness check.
func NewPingTool() Descriptor {
	return Descriptor{
		Name:        "ping",
		Description: "Check that the assistant is alive and responding.",
		Execute: func(_ context.Context, _ *state.ConversationContext, _ map[string]any) (string, error) {
			return "pong", nil
		},
	}
}

// NewHelpTool lists every registered tool with its description.
func NewHelpTool(reg *Registry) Descriptor {
	return Descriptor{
		Name:        "help",
		Description: "List the available commands and what they do.",
		Execute: func(_ context.Context, _ *state.ConversationContext, _ map[string]any) (string, error) {
			var sb strings.Builder
			sb.WriteString("Available commands:\n")
			for _, d := range reg.All() {
				fmt.Fprintf(&sb, "!%s - %s\n", d.Name, d.Description)
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	}
}

// NewTaskTool manages the conversation's to-do list.
func NewTaskTool() Descriptor {
	return Descriptor{
		Name:        "task",
		Description: "Manage the to-do list: add, list, done, remove or clear.",
		Schema: Schema{
			Properties: []Property{
				{Name: "sub_command", Type: "string", Description: "One of: add, list, done, remove, clear."},
				{Name: "text", Type: "string", Description: "Task text for add, or the task number for done/remove."},
			},
			Required: []string{"sub_command"},
		},
		Execute: func(_ context.Context, cc *state.ConversationContext, args map[string]any) (string, error) {
			sub, _ := args["sub_command"].(string)
			text, _ := args["text"].(string)

			switch sub {
			case "add":
				if text == "" {
					return "", fmt.Errorf("nothing to add, usage: !task add <text>")
				}
				cc.Tasks = append(cc.Tasks, text)
				return "Added to-do: " + text, nil

			case "list":
				if len(cc.Tasks) == 0 {
					return "No to-dos.", nil
				}
				var sb strings.Builder
				sb.WriteString("To-dos:\n")
				for i, t := range cc.Tasks {
					fmt.Fprintf(&sb, "%d. %s\n", i+1, t)
				}
				return strings.TrimRight(sb.String(), "\n"), nil

			case "done", "remove":
				n, err := strconv.Atoi(text)
				if err != nil || n < 1 || n > len(cc.Tasks) {
					return "", fmt.Errorf("usage: !task %s <number between 1 and %d>", sub, len(cc.Tasks))
				}
				item := cc.Tasks[n-1]
				cc.Tasks = append(cc.Tasks[:n-1], cc.Tasks[n:]...)
				if sub == "done" {
					return "Done: " + item, nil
				}
				return "Removed to-do: " + item, nil

			case "clear":
				n := len(cc.Tasks)
				cc.Tasks = nil
				return fmt.Sprintf("Cleared %d to-do(s).", n), nil

			default:
				return "", fmt.Errorf("unknown sub-command %q, expected add, list, done, remove or clear", sub)
			}
		},
	}
}

// NewConfigTool reads and changes per-conversation settings. Only the
// interaction mode is configurable today.
func NewConfigTool() Descriptor {
	return Descriptor{
		Name:        "config",
		Description: "Show or change conversation settings, e.g. the interaction mode (ai, mention, quiet).",
		Schema: Schema{
			Properties: []Property{
				{Name: "setting", Type: "string", Description: "The setting name; currently only 'mode'."},
				{Name: "value", Type: "string", Description: "New value, omit to show the current one."},
			},
			Required: []string{"setting"},
		},
		Execute: func(_ context.Context, cc *state.ConversationContext, args map[string]any) (string, error) {
			setting, _ := args["setting"].(string)
			value, _ := args["value"].(string)

			if setting != "mode" {
				return "", fmt.Errorf("unknown setting %q, only 'mode' is supported", setting)
			}
			if value == "" {
				return fmt.Sprintf("Current mode: %s", cc.Mode), nil
			}
			if !state.ValidMode(value) {
				return "", fmt.Errorf("invalid mode %q, expected ai, mention or quiet", value)
			}
			cc.Mode = state.Mode(value)
			return fmt.Sprintf("Mode set to %s.", value), nil
		},
	}
}

// NewNoteTool pins a free-form note onto the conversation.
func NewNoteTool() Descriptor {
	return Descriptor{
		Name:        "note",
		Description: "Pin a note to this conversation, show it, or clear it with 'clear'.",
		Schema: Schema{
			Properties: []Property{
				{Name: "text", Type: "string", Description: "The note text; empty shows the current note, 'clear' removes it."},
			},
		},
		Execute: func(_ context.Context, cc *state.ConversationContext, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			switch text {
			case "":
				if cc.PinnedNote == "" {
					return "No pinned note.", nil
				}
				return "Pinned note: " + cc.PinnedNote, nil
			case "clear":
				cc.PinnedNote = ""
				return "Pinned note cleared.", nil
			default:
				cc.PinnedNote = text
				return "Pinned note updated.", nil
			}
		},
	}
}

// NewContextTool inspects and wipes the conversation transcript. On
// clear the cache tiers are invalidated so a stale copy cannot
// resurface the history.
func NewContextTool(store api.ContextStore) Descriptor {
	const viewLimit = 10
	return Descriptor{
		Name:        "context",
		Description: "Manage conversation memory: 'view' shows recent turns, 'clear' forgets the transcript.",
		Schema: Schema{
			Properties: []Property{
				{Name: "sub_command", Type: "string", Description: "One of: view, clear."},
			},
			Required: []string{"sub_command"},
		},
		Execute: func(ctx context.Context, cc *state.ConversationContext, args map[string]any) (string, error) {
			sub, _ := args["sub_command"].(string)
			switch sub {
			case "view":
				if len(cc.History) == 0 {
					return "Chat history is empty.", nil
				}
				start := len(cc.History) - viewLimit
				if start < 0 {
					start = 0
				}
				var sb strings.Builder
				for i, e := range cc.History[start:] {
					var content string
					for _, p := range e.Parts {
						if p.Text != "" {
							content = p.Text
							break
						}
					}
					fmt.Fprintf(&sb, "%d. %s: %s\n", start+i+1, e.Role, content)
				}
				return strings.TrimRight(sb.String(), "\n"), nil

			case "clear":
				cc.History = nil
				if err := store.Invalidate(ctx, cc.ChatID); err != nil {
					return "", err
				}
				return "Context cleared.", nil

			default:
				return "", fmt.Errorf("unknown sub-command %q, expected view or clear", sub)
			}
		},
	}
}
