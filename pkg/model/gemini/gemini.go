package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/nstogner/padawan/pkg/caller"
	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/model"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// Option customizes the genai client configuration.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(cc *genai.ClientConfig) { cc.HTTPOptions.BaseURL = url }
}

// WithHTTPClient sets the client used for API requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *genai.ClientConfig) { cc.HTTPClient = c }
}

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cc)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Generate sends the conversation to Gemini and returns the raw generation.
func (p *Provider) Generate(ctx context.Context, req model.Request) (string, error) {
	slog.Debug("Gemini.Generate", "model", req.Model, "messageCount", len(req.Messages), "functionCount", len(req.Functions))

	contents, err := toContents(req.Messages)
	if err != nil {
		return "", caller.Permanent(err)
	}

	config := &genai.GenerateContentConfig{}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}
	if len(req.Functions) > 0 {
		config.Tools = buildToolDeclarations(req.Functions)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", classify(err)
	}

	// Only the first candidate is considered.
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			args, err := model.OrderedArguments(part.FunctionCall.Args, req.Functions, part.FunctionCall.Name)
			if err != nil {
				return "", caller.Permanent(fmt.Errorf("encoding function arguments: %w", err))
			}
			return model.EncodeFunctionCall(part.FunctionCall.Name, args), nil
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	return text.String(), nil
}

func toContents(messages []model.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range messages {
		switch {
		case msg.FunctionCall != nil:
			var args map[string]any
			if msg.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(msg.FunctionCall.Arguments), &args); err != nil {
					return nil, fmt.Errorf("decoding arguments of %s: %w", msg.FunctionCall.Name, err)
				}
			}
			contents = append(contents, &genai.Content{
				Role: "model",
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{Name: msg.FunctionCall.Name, Args: args},
				}},
			})
		case msg.FunctionResult != nil:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name: msg.FunctionResult.Name,
						Response: map[string]any{
							"result": msg.FunctionResult.Content,
						},
					},
				}},
			})
		default:
			role := "user"
			if msg.Role == model.RoleAssistant {
				role = "model"
			}
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: msg.Text}},
			})
		}
	}
	return contents, nil
}

func buildToolDeclarations(funcs []model.FunctionDecl) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(funcs))
	for _, f := range funcs {
		props := make(map[string]*genai.Schema, len(f.Parameters))
		required := make([]string, 0, len(f.Parameters))
		for _, p := range f.Parameters {
			props[p.Name] = &genai.Schema{Type: schemaType(p.Type), Description: p.Description}
			required = append(required, p.Name)
		}
		decl := &genai.FunctionDeclaration{
			Name:        f.Name,
			Description: f.Description,
		}
		if len(props) > 0 {
			decl.Parameters = &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   required,
			}
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func schemaType(t domain.ParamType) genai.Type {
	switch t {
	case domain.ParamBoolean:
		return genai.TypeBoolean
	case domain.ParamNumber:
		return genai.TypeNumber
	default:
		return genai.TypeString
	}
}

// classify attaches the HTTP status of API errors so the caller can decide
// whether to retry.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return caller.WithStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return caller.WithStatus(apiErrPtr.Code, err)
	}
	return err
}
