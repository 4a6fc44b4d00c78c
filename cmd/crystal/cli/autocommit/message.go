package autocommit

import (
	"fmt"
	"strings"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/stringutil"
)

// fallbackCommitMessage is used when the prompt yields nothing usable.
const fallbackCommitMessage = "Agent session updates"

// CommitMessage derives a checkpoint commit message from the user's prompt,
// prefixed with the configured checkpoint prefix. With no prompt at all the
// message names the execution sequence instead.
func CommitMessage(prefix, prompt string, executionSequence int) string {
	if strings.TrimSpace(prompt) == "" {
		return prefix + fmt.Sprintf("execution %d", executionSequence)
	}
	return prefix + cleanPrompt(prompt)
}

// cleanPrompt cleans up a user prompt to make it suitable as a commit message.
// Uses a loop to remove all matching prefixes until none remain.
func cleanPrompt(prompt string) string {
	cleaned := strings.TrimSpace(prompt)

	prefixes := []string{
		"Can you ",
		"can you ",
		"Please ",
		"please ",
		"Let's ",
		"let's ",
		"Could you ",
		"could you ",
		"Would you ",
		"would you ",
		"I want you to ",
		"I'd like you to ",
		"I need you to ",
	}

	for {
		found := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(cleaned, prefix) {
				cleaned = strings.TrimPrefix(cleaned, prefix)
				found = true
				break
			}
		}
		if !found {
			break
		}
	}

	cleaned = stringutil.FirstLine(cleaned)
	cleaned = strings.TrimSuffix(cleaned, "?")
	cleaned = strings.TrimSpace(cleaned)

	// Truncate to 72 characters (rune-safe for multi-byte UTF-8)
	cleaned = stringutil.TruncateRunes(cleaned, 72, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = stringutil.CapitalizeFirst(cleaned)

	if cleaned == "" {
		return fallbackCommitMessage
	}
	return cleaned
}
