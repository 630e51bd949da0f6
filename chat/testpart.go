package chat

import (
	"context"
	"fmt"
)

// TestParticipant exercises the streaming event types and the tool
// call loop end to end without a real backend. Useful for frontend
// development and for driving the loop in tests.
type TestParticipant struct{}

func NewTestParticipant() *TestParticipant { return &TestParticipant{} }

func (p *TestParticipant) ID() string          { return "test" }
func (p *TestParticipant) Name() string        { return "Test Participant" }
func (p *TestParticipant) Description() string { return "Test Participant" }
func (p *TestParticipant) IconPath() string    { return "" }

func (p *TestParticipant) Commands() []Command {
	return []Command{
		{Name: "repeat", Description: "Repeats the prompt"},
		{Name: "test", Description: "Test command"},
	}
}

func (p *TestParticipant) AllowedContextProviders() []string { return []string{"*"} }

func (p *TestParticipant) Tools(req *Request) []Tool {
	return []Tool{
		NewFahrenheitToCelciusTool(),
		NewCelciusToKelvinTool(),
	}
}

func (p *TestParticipant) HandleRequest(ctx context.Context, req *Request, resp Response) error {
	switch req.Command {
	case "repeat":
		resp.Stream(Markdown{Content: "repeating: " + req.Prompt})
		resp.Finish()
		return nil
	case "test":
		for i := 1; i <= 5; i++ {
			resp.Stream(Markdown{Content: fmt.Sprintf("Hello world %d!\n\n", i)})
		}
		resp.Stream(Progress{Title: "Running..."})
		resp.Stream(HTMLFrame{Source: "<b>Bold text</b>", Height: 30})
		resp.Stream(Anchor{URI: "https://www.jupyter.org", Title: "Click me!"})
		resp.Stream(Button{Title: "Button title", CommandID: "apputils:notify", Args: map[string]any{
			"message": "Copilot chat button was clicked",
			"type":    "success",
			"options": map[string]any{"autoClose": false},
		}})
		resp.Finish()
		return nil
	}

	RunWithTools(ctx, req, resp, p.Tools(req), RequestOptions{})
	return nil
}

func temperatureSchema(name, description, unit string) ToolSchema {
	return ToolSchema{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters: objectParameters(map[string]any{
				"temperature": map[string]any{
					"type":        "number",
					"description": "Temperature in " + unit,
				},
			}, "temperature"),
		},
	}
}

type fahrenheitToCelciusTool struct{}

func NewFahrenheitToCelciusTool() Tool { return &fahrenheitToCelciusTool{} }

func (t *fahrenheitToCelciusTool) Name() string  { return "convert_fahnrenheit_to_celcius" }
func (t *fahrenheitToCelciusTool) Title() string { return "Convert Fahrenheit to Celcius Tool" }
func (t *fahrenheitToCelciusTool) Tags() []string {
	return []string{"test-participant-tool"}
}
func (t *fahrenheitToCelciusTool) Description() string {
	return "This is a tool that converts fahrenheit to celcius"
}
func (t *fahrenheitToCelciusTool) Schema() ToolSchema {
	return temperatureSchema(t.Name(), t.Description(), "fahrenheit")
}

func (t *fahrenheitToCelciusTool) PreInvoke(req *Request, args map[string]any) *PreInvokeResult {
	return &PreInvokeResult{
		Message:             "Converting fahrenheit to celcius",
		ConfirmationTitle:   "Confirm conversion",
		ConfirmationMessage: "Are you sure you want to convert the temperature?",
	}
}

func (t *fahrenheitToCelciusTool) Call(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error) {
	temperature, _ := args["temperature"].(float64)
	return map[string]any{"celcius": (temperature - 32) * 5 / 9}, nil
}

type celciusToKelvinTool struct{}

func NewCelciusToKelvinTool() Tool { return &celciusToKelvinTool{} }

func (t *celciusToKelvinTool) Name() string  { return "convert_celcius_to_kelvin" }
func (t *celciusToKelvinTool) Title() string { return "Convert Celcius to Kelvin Tool" }
func (t *celciusToKelvinTool) Tags() []string {
	return []string{"test-participant-tool"}
}
func (t *celciusToKelvinTool) Description() string {
	return "This is a tool that converts celcius to kelvin"
}
func (t *celciusToKelvinTool) Schema() ToolSchema {
	return temperatureSchema(t.Name(), t.Description(), "celcius")
}

func (t *celciusToKelvinTool) PreInvoke(req *Request, args map[string]any) *PreInvokeResult {
	return &PreInvokeResult{Message: "Converting celcius to kelvin"}
}

func (t *celciusToKelvinTool) Call(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error) {
	temperature, _ := args["temperature"].(float64)
	return map[string]any{"kelvin": temperature + 273.15}, nil
}
