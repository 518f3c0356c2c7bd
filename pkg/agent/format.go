package agent

import (
	"regexp"
	"strings"
)

// Signal renders ||...|| as a spoiler and backticks as monospace, but
// has no concept of fenced code blocks, so model output needs a pass
// before it goes out.
var (
	codeFenceRe      = regexp.MustCompile("(?s)```(?:\\w+\n)?(.*?)```")
	bulletRe         = regexp.MustCompile(`(?m)^\s*\*\s+`)
	blankRunRe       = regexp.MustCompile(`\n{3,}`)
	dashListGapRe    = regexp.MustCompile(`(\n- .*\n)\n`)
	numListGapRe     = regexp.MustCompile(`(\n\d+\..*\n)\n`)
	boldLineGapRe    = regexp.MustCompile(`(\n\*[^*]+\*.*\n)\n`)
	leadingMarkupRe  = regexp.MustCompile("^(\\*|_|~|`|\\|)+")
	trailingMarkupRe = regexp.MustCompile("(\\*|_|~|`|\\|)+$")
)

// FormatForSignal cleans up model output for delivery: fenced code
// blocks become spoiler-wrapped monospace, star bullets become
// dashes, blank runs collapse and dangling markup at the boundaries
// is trimmed.
func FormatForSignal(text string) string {
	text = codeFenceRe.ReplaceAllString(text, "||`$1`||")
	text = bulletRe.ReplaceAllString(text, "- ")
	text = strings.TrimSpace(text)
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = dashListGapRe.ReplaceAllString(text, "$1")
	text = numListGapRe.ReplaceAllString(text, "$1")
	text = boldLineGapRe.ReplaceAllString(text, "$1")
	text = leadingMarkupRe.ReplaceAllString(text, "")
	text = trailingMarkupRe.ReplaceAllString(text, "")
	return text
}
