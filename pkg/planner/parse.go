package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nstogner/padawan/pkg/domain"
)

// ParseError reports a generation that looked like a function call but could
// not be decoded into one.
type ParseError struct {
	Generation string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unusable function call from model: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseGeneration decodes a raw generation.
//
// A JSON object {"name": ..., "arguments": ...} becomes an Action. The
// arguments are a JSON-encoded string holding a flat object of scalars; an
// inline object is accepted too. Anything that is not a JSON object is a
// Finish carrying the text. A call to the "none" pseudo-function is a Finish
// carrying its message argument.
func ParseGeneration(gen string) (Decision, error) {
	trimmed := strings.TrimSpace(gen)
	if !strings.HasPrefix(trimmed, "{") || !json.Valid([]byte(trimmed)) {
		return Finish{Text: trimmed}, nil
	}

	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(trimmed), &call); err != nil {
		return nil, &ParseError{Generation: gen, Err: err}
	}
	if call.Name == "" {
		return nil, &ParseError{Generation: gen, Err: fmt.Errorf("missing function name")}
	}

	raw := bytes.TrimSpace(call.Arguments)
	var encoded string
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, &ParseError{Generation: gen, Err: err}
		}
	case raw[0] == '{':
		encoded = string(raw)
	default:
		return nil, &ParseError{Generation: gen, Err: fmt.Errorf("arguments of %s are neither a string nor an object", call.Name)}
	}

	args, err := domain.ParseArgs(encoded)
	if err != nil {
		return nil, &ParseError{Generation: gen, Err: fmt.Errorf("arguments of %s: %w", call.Name, err)}
	}

	if call.Name == FinishName {
		return Finish{Text: finishText(args)}, nil
	}
	return Action{Name: call.Name, Args: args}, nil
}

// finishText picks the message a model passed to the "none" pseudo-function.
// Without a string argument the arguments themselves are the text; no
// arguments at all give an empty text.
func finishText(args domain.Args) string {
	for _, name := range []string{"text", "message", "summary", "answer", "reason"} {
		if v, ok := args.Get(name); ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	for _, a := range args {
		if s, ok := a.Value.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if len(args) == 0 {
		return ""
	}
	return args.String()
}
