package model

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/nstogner/padawan/pkg/domain"
)

// Role identifies the sender of a message.
type Role string

const (
	// RoleUser is the mission task and any user-side context.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model, such as a function call.
	RoleAssistant Role = "assistant"
	// RoleFunction carries the result of a function call back to the model.
	RoleFunction Role = "function"
)

// Message represents a message in the model's conversation context.
type Message struct {
	Role Role

	// Text content, for user messages and plain assistant replies.
	Text string

	// FunctionCall is set on assistant messages that invoked a function.
	FunctionCall *FunctionCall

	// FunctionResult is set on function messages.
	FunctionResult *FunctionResult
}

// FunctionCall is a function invocation chosen by the model.
type FunctionCall struct {
	Name string `json:"name"`
	// Arguments is the JSON-encoded argument object.
	Arguments string `json:"arguments"`
}

// FunctionResult is the observation returned for a function call.
type FunctionResult struct {
	Name    string
	Content string
}

// FunctionDecl declares a function the model may call. All parameters are required.
type FunctionDecl struct {
	Name        string
	Description string
	Parameters  []domain.ToolParameter
}

// Request is a single generation request.
type Request struct {
	// Model identifies which model to use (e.g. "gemini-2.0-flash").
	Model string
	// Instructions is the system prompt.
	Instructions string
	// Messages is the conversation history.
	Messages []Message
	// Functions are offered to the model as callable tools.
	Functions []FunctionDecl
}

// Provider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "openai").
	Name() string

	// Generate sends the request and returns the raw generation. When the
	// model calls a function the generation is the JSON object produced by
	// EncodeFunctionCall; otherwise it is the model's text.
	//
	// Errors that stem from an HTTP response should carry its status code
	// (see caller.WithStatus) so they can be classified for retries.
	Generate(ctx context.Context, req Request) (string, error)
}

// EncodeFunctionCall renders a function call as a generation:
// {"name": <name>, "arguments": <JSON-encoded arguments string>}.
func EncodeFunctionCall(name, arguments string) string {
	if arguments == "" {
		arguments = "{}"
	}
	b, _ := json.Marshal(FunctionCall{Name: name, Arguments: arguments})
	return string(b)
}

// OrderedArguments encodes a decoded argument map, placing declared
// parameters first in declaration order and any others after them.
func OrderedArguments(args map[string]any, decls []FunctionDecl, name string) (string, error) {
	var ordered domain.Args
	seen := make(map[string]bool, len(args))
	for _, d := range decls {
		if d.Name != name {
			continue
		}
		for _, p := range d.Parameters {
			if v, ok := args[p.Name]; ok {
				ordered = append(ordered, domain.Arg{Name: p.Name, Value: v})
				seen[p.Name] = true
			}
		}
	}
	rest := make([]string, 0, len(args))
	for k := range args {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	for _, k := range rest {
		ordered = append(ordered, domain.Arg{Name: k, Value: args[k]})
	}

	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
