package chat

import "context"

// Response is the channel a participant streams its output through.
// One Response belongs to exactly one chat request; Finish must be
// called exactly once when the response is complete.
type Response interface {
	ChatID() string
	MessageID() string

	Stream(event Event)
	Finish()

	// RunUICommand executes a frontend command and blocks until the
	// frontend reports the result or ctx is done.
	RunUICommand(ctx context.Context, command string, args map[string]any) (map[string]any, error)

	// WaitUserInput blocks until the frontend delivers user input for
	// the given callback id or ctx is done.
	WaitUserInput(ctx context.Context, callbackID string) (map[string]any, error)
}
