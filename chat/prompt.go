package chat

import "strings"

// DefaultParticipantID is the participant that handles prompts without
// an explicit @participant mention.
const DefaultParticipantID = "default"

// ParsedPrompt is the result of splitting a raw user prompt into its
// participant mention, slash command and remaining text.
type ParsedPrompt struct {
	ParticipantID string
	Command       string
	Prompt        string
}

// ParsePrompt extracts an optional leading "@participant" mention and
// an optional "/command" that follows it. The rest of the prompt is
// returned with single spaces between words. Parsing an already parsed
// remainder yields the same result.
func ParsePrompt(prompt string) ParsedPrompt {
	parsed := ParsedPrompt{ParticipantID: DefaultParticipantID}

	parts := strings.Fields(strings.TrimSpace(prompt))
	if len(parts) == 0 {
		return parsed
	}

	if strings.HasPrefix(parts[0], "@") && len(parts[0]) > 1 {
		parsed.ParticipantID = parts[0][1:]
		parts = parts[1:]
	}

	if len(parts) > 0 && strings.HasPrefix(parts[0], "/") && len(parts[0]) > 1 {
		parsed.Command = parts[0][1:]
		parts = parts[1:]
	}

	parsed.Prompt = strings.Join(parts, " ")
	return parsed
}
