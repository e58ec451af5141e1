// Package openai implements model.Provider against any OpenAI-compatible
// chat completions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/nstogner/padawan/pkg/caller"
	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/model"
)

const defaultTimeout = 60 * time.Second

// Config configures the provider.
type Config struct {
	APIKey string
	// BaseURL defaults to the OpenAI API.
	BaseURL    string
	HTTPClient *http.Client
}

// Provider implements model.Provider using the go-openai client.
type Provider struct {
	client *goopenai.Client
}

var _ model.Provider = (*Provider)(nil)

// New creates a provider.
func New(cfg Config) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	cc := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		cc.BaseURL = baseURL
	}
	cc.HTTPClient = cfg.HTTPClient
	if cc.HTTPClient == nil {
		cc.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Provider{client: goopenai.NewClientWithConfig(cc)}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

// Generate sends the conversation and returns the raw generation.
func (p *Provider) Generate(ctx context.Context, req model.Request) (string, error) {
	slog.Debug("OpenAI.Generate", "model", req.Model, "messageCount", len(req.Messages), "functionCount", len(req.Functions))

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toMessages(req),
		Tools:    toTools(req.Functions),
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		fc := msg.ToolCalls[0].Function
		return model.EncodeFunctionCall(fc.Name, fc.Arguments), nil
	}
	if msg.FunctionCall != nil {
		return model.EncodeFunctionCall(msg.FunctionCall.Name, msg.FunctionCall.Arguments), nil
	}
	return msg.Content, nil
}

// toMessages maps the conversation onto chat messages. Each function result
// answers the most recent function call.
func toMessages(req model.Request) []goopenai.ChatCompletionMessage {
	var msgs []goopenai.ChatCompletionMessage
	if req.Instructions != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.Instructions})
	}
	var callID string
	calls := 0
	for _, m := range req.Messages {
		switch {
		case m.FunctionCall != nil:
			calls++
			callID = fmt.Sprintf("call_%d", calls)
			args := m.FunctionCall.Arguments
			if args == "" {
				args = "{}"
			}
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role: goopenai.ChatMessageRoleAssistant,
				ToolCalls: []goopenai.ToolCall{{
					ID:       callID,
					Type:     goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{Name: m.FunctionCall.Name, Arguments: args},
				}},
			})
		case m.FunctionResult != nil:
			msgs = append(msgs, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				ToolCallID: callID,
				Content:    m.FunctionResult.Content,
			})
		case m.Role == model.RoleAssistant:
			msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: m.Text})
		default:
			msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: m.Text})
		}
	}
	return msgs
}

func toTools(funcs []model.FunctionDecl) []goopenai.Tool {
	if len(funcs) == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, len(funcs))
	for _, f := range funcs {
		props := make(map[string]jsonschema.Definition, len(f.Parameters))
		required := make([]string, 0, len(f.Parameters))
		for _, p := range f.Parameters {
			props[p.Name] = jsonschema.Definition{Type: schemaType(p.Type), Description: p.Description}
			required = append(required, p.Name)
		}
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        f.Name,
				Description: f.Description,
				Parameters: jsonschema.Definition{
					Type:       jsonschema.Object,
					Properties: props,
					Required:   required,
				},
			},
		})
	}
	return tools
}

func schemaType(t domain.ParamType) jsonschema.DataType {
	switch t {
	case domain.ParamBoolean:
		return jsonschema.Boolean
	case domain.ParamNumber:
		return jsonschema.Number
	default:
		return jsonschema.String
	}
}

// classify attaches the HTTP status of API errors so the caller can decide
// whether to retry.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return caller.WithStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return caller.WithStatus(reqErr.HTTPStatusCode, err)
	}
	return err
}
