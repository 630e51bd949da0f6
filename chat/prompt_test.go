package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   ParsedPrompt
	}{
		{
			name:   "plain prompt",
			prompt: "explain this code",
			want:   ParsedPrompt{ParticipantID: "default", Prompt: "explain this code"},
		},
		{
			name:   "participant mention",
			prompt: "@test hello there",
			want:   ParsedPrompt{ParticipantID: "test", Prompt: "hello there"},
		},
		{
			name:   "participant and command",
			prompt: "@test /repeat say this",
			want:   ParsedPrompt{ParticipantID: "test", Command: "repeat", Prompt: "say this"},
		},
		{
			name:   "command without participant",
			prompt: "/newNotebook plot a sine wave",
			want:   ParsedPrompt{ParticipantID: "default", Command: "newNotebook", Prompt: "plot a sine wave"},
		},
		{
			name:   "extra whitespace collapsed",
			prompt: "  @test   /test   a   b  ",
			want:   ParsedPrompt{ParticipantID: "test", Command: "test", Prompt: "a b"},
		},
		{
			name:   "empty prompt",
			prompt: "   ",
			want:   ParsedPrompt{ParticipantID: "default"},
		},
		{
			name:   "bare at sign is not a mention",
			prompt: "@ hello",
			want:   ParsedPrompt{ParticipantID: "default", Prompt: "@ hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePrompt(tt.prompt))
		})
	}
}

func TestParsePromptIdempotent(t *testing.T) {
	first := ParsePrompt("@test /repeat say this")
	second := ParsePrompt(first.Prompt)
	assert.Equal(t, "say this", second.Prompt)
	assert.Equal(t, "default", second.ParticipantID)
	assert.Equal(t, "", second.Command)
}
