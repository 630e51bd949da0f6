package chat

// EventType identifies a stream event on the wire.
type EventType string

const (
	EventLLMRaw       EventType = "llm-raw"
	EventMarkdown     EventType = "markdown"
	EventMarkdownPart EventType = "markdown-part"
	EventImage        EventType = "image"
	EventHTMLFrame    EventType = "html-frame"
	EventAnchor       EventType = "anchor"
	EventButton       EventType = "button"
	EventProgress     EventType = "progress"
	EventConfirmation EventType = "confirmation"
)

// Event is anything a participant can stream to the UI.
type Event interface {
	Type() EventType
}

// Markdown renders a complete markdown block. Streaming one also
// records it as an assistant message in the chat history.
type Markdown struct {
	Content string
	Detail  map[string]any
}

// MarkdownPart renders an incremental markdown fragment. Fragments are
// accumulated and recorded in history when the response finishes.
type MarkdownPart struct {
	Content string
}

// Image renders an image from a source URL or data URI.
type Image struct {
	Content string
}

// HTMLFrame renders raw HTML inside a sandboxed frame.
type HTMLFrame struct {
	Source string
	Height int
}

// Anchor renders a hyperlink.
type Anchor struct {
	URI   string
	Title string
}

// Button renders a button that runs a frontend command when clicked.
type Button struct {
	Title     string
	CommandID string
	Args      map[string]any
}

// Progress shows a transient progress indicator.
type Progress struct {
	Title string
}

// Confirmation asks the user to approve or reject an action. The
// confirm and cancel args are echoed back by the frontend as user
// input.
type Confirmation struct {
	Title        string
	Message      string
	ConfirmArgs  map[string]any
	CancelArgs   map[string]any
	ConfirmLabel string
	CancelLabel  string
}

// RawChunk passes a provider delta chunk through untouched.
type RawChunk struct {
	Chunk map[string]any
}

func (Markdown) Type() EventType     { return EventMarkdown }
func (MarkdownPart) Type() EventType { return EventMarkdownPart }
func (Image) Type() EventType        { return EventImage }
func (HTMLFrame) Type() EventType    { return EventHTMLFrame }
func (Anchor) Type() EventType       { return EventAnchor }
func (Button) Type() EventType       { return EventButton }
func (Progress) Type() EventType     { return EventProgress }
func (Confirmation) Type() EventType { return EventConfirmation }
func (RawChunk) Type() EventType     { return EventLLMRaw }
