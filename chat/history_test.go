package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryAddAndGet(t *testing.T) {
	h := NewHistory()
	h.Add("chat-1", UserMessage("hello"))
	h.Add("chat-1", AssistantMessage("hi"))

	msgs := h.Messages("chat-1")
	assert.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Empty(t, h.Messages("chat-2"))
}

func TestHistoryLimit(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 15; i++ {
		h.Add("chat-1", AssistantMessage(fmt.Sprintf("msg %d", i)))
	}

	msgs := h.Messages("chat-1")
	assert.Len(t, msgs, MaxHistoryMessages)
	assert.Equal(t, "msg 5", msgs[0].Content)
	assert.Equal(t, "msg 14", msgs[len(msgs)-1].Content)
}

func TestHistoryParticipantSwitchClears(t *testing.T) {
	h := NewHistory()
	h.Add("chat-1", UserMessage("@test /repeat hello"))
	h.Add("chat-1", AssistantMessage("repeating: hello"))

	h.Add("chat-1", UserMessage("now a plain question"))

	msgs := h.Messages("chat-1")
	assert.Len(t, msgs, 1)
	assert.Equal(t, "now a plain question", msgs[0].Content)
}

func TestHistorySameParticipantKeeps(t *testing.T) {
	h := NewHistory()
	h.Add("chat-1", UserMessage("first question"))
	h.Add("chat-1", AssistantMessage("answer"))
	h.Add("chat-1", UserMessage("second question"))

	assert.Len(t, h.Messages("chat-1"), 3)
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.Add("chat-1", UserMessage("hello"))
	h.Add("chat-2", UserMessage("hello"))

	assert.True(t, h.Clear("chat-1"))
	assert.False(t, h.Clear("chat-1"))
	assert.Empty(t, h.Messages("chat-1"))
	assert.Len(t, h.Messages("chat-2"), 1)

	h.ClearAll()
	assert.Empty(t, h.Messages("chat-2"))
}

func TestHistoryMessagesReturnsCopy(t *testing.T) {
	h := NewHistory()
	h.Add("chat-1", UserMessage("hello"))

	msgs := h.Messages("chat-1")
	msgs[0].Content = "mutated"

	assert.Equal(t, "hello", h.Messages("chat-1")[0].Content)
}
