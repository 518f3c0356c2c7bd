package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatForSignal(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fenced block becomes spoiler monospace",
			in:   "Here you go:\n```go\nfmt.Println(\"hi\")\n```\nEnjoy!",
			want: "Here you go:\n||`fmt.Println(\"hi\")\n`||\nEnjoy!",
		},
		{
			name: "fence without language tag",
			in:   "Run this:\n```\nls -la\n```\ndone",
			want: "Run this:\n||`ls -la\n`||\ndone",
		},
		{
			name: "star bullets become dashes",
			in:   "Options:\n* first\n  * second",
			want: "Options:\n- first\n- second",
		},
		{
			name: "blank runs collapse to one empty line",
			in:   "a\n\n\n\nb",
			want: "a\n\nb",
		},
		{
			name: "gaps between list items are removed",
			in:   "Steps:\n- one\n\n- two\n\n- three",
			want: "Steps:\n- one\n- two\n- three",
		},
		{
			name: "gaps between numbered items are removed",
			in:   "Plan:\n1. wake up\n\n2. coffee",
			want: "Plan:\n1. wake up\n2. coffee",
		},
		{
			name: "dangling markup at the edges is trimmed",
			in:   "**hello there**",
			want: "hello there",
		},
		{
			name: "surrounding whitespace is trimmed",
			in:   "  \n  fine.  \n",
			want: "fine.",
		},
		{
			name: "plain text passes through",
			in:   "Added to-do: buy milk",
			want: "Added to-do: buy milk",
		},
		{
			name: "inner formatting is preserved",
			in:   "this is *important* and `mono`.",
			want: "this is *important* and `mono`.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatForSignal(tc.in))
		})
	}
}
