package assess

import (
	"fmt"
	"html"
	"strings"

	"minder/internal/transcript"
)

// instructions primes the assessor: judge completion from the provided XML
// sections only, and produce at most one short imperative directive.
const instructions = `You supervise a long-running terminal task. Using ONLY the provided XML sections, decide if the high-level goal is done; if not, produce one short imperative command to move the task towards the goal.

The wait_output shows information about the world, for use in deciding if the goal is done. The pane_tail shows the task's current screen.

If the task appears to have gone off the rails and is not following its goal, stop it.

Sections are in strict XML with clear starts/ends:
<high_level_goal>...</high_level_goal>
<transcript>...</transcript>
<wait_output>...</wait_output>
<pane_tail>...</pane_tail>

Rules:
- If complete, action="stop" and command="" (empty string).
- If concerns about the task's behavior are detected, action="stop" and command="" (empty string).
- If more work is needed, action="continue" and command is one concrete directive.
- The command must be imperative, under 160 characters, at most 2 sentences, with no meta-talk or explanation.
- Feed the goal back to the task. No speculation.
- XML is used to delineate prompts vs data.

Return a single JSON object with fields: action, command. Do not include markdown.`

// promptOverhead reserves room for the instructions and the non-transcript
// sections when truncating the transcript to the context budget.
const promptOverhead = 600

// BuildPrompt assembles the assessor prompt. The transcript section is
// chronological (oldest first) and is cut from the front to fit the budget,
// with headroom reserved for the instructions and the other sections.
func BuildPrompt(c Context, ctxBudget int) string {
	tail := c.Transcript
	maxTranscript := ctxBudget - len(instructions) - 3*promptOverhead
	if maxTranscript < 0 {
		maxTranscript = 0
	}
	if len(tail) > maxTranscript {
		tail = "..." + transcript.CutHead(tail, maxTranscript)
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n<context>\n")
	writeSection(&b, "high_level_goal", c.Plan)
	writeSection(&b, "transcript", tail)
	writeSection(&b, "wait_output", c.WaitOutput)
	writeSection(&b, "pane_tail", c.PaneTail)
	b.WriteString("</context>\n")
	return b.String()
}

// writeSection emits one escaped XML section so pane content can never
// break out of its tags.
func writeSection(b *strings.Builder, tag, body string) {
	fmt.Fprintf(b, "  <%s>\n%s\n  </%s>\n", tag, html.EscapeString(body), tag)
}
