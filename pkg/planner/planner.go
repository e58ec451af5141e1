// Package planner asks a language model for the next action of a mission.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/padawan/pkg/caller"
	"github.com/nstogner/padawan/pkg/domain"
	"github.com/nstogner/padawan/pkg/model"
)

// FinishName is the pseudo-function a free-text answer is attributed to.
const FinishName = "none"

// MissionContext describes the work a mission was assigned.
type MissionContext struct {
	MissionID string
	Owner     string
	Repo      string
	Issue     int
	// Task optionally replaces the default issue-resolution task text.
	Task string
	// Model selects the model or deployment used for planning.
	Model string
}

// Decision is the outcome of a planning round: an Action or a Finish.
type Decision interface {
	decision()
}

// Action is a function call chosen by the model.
type Action struct {
	Name string
	Args domain.Args
}

// Finish is a terminal free-text answer.
type Finish struct {
	Text string
}

func (Action) decision() {}
func (Finish) decision() {}

// Planner turns mission state into the next Decision.
type Planner struct {
	provider model.Provider
	caller   *caller.Caller
}

// New creates a Planner. All model requests go through c.
func New(provider model.Provider, c *caller.Caller) *Planner {
	return &Planner{provider: provider, caller: c}
}

const instructions = `You are padawan, an autonomous software developer working on a GitHub repository.

You make progress by calling the functions you are given, one at a time. After each call you receive its result and decide what to do next.

## Guidelines

- Always call a function when there is work left to do. Pass every declared parameter.
- Function results may be errors. Read them and adjust your next call instead of repeating it.
- Files you touch live in a workspace private to this mission. Clone the repository before reading or editing it.
- When the task is complete, or cannot be completed, reply with a short plain-text summary of what you did instead of calling a function.`

// Plan issues one model request built from the mission context, the tool
// catalog and the replayed step history, and parses the generation.
//
// Errors from the model backend are returned as-is (a *caller.Error once
// retries are exhausted). A generation that looks like a function call but
// cannot be decoded yields a *ParseError.
func (p *Planner) Plan(ctx context.Context, mc MissionContext, catalog []domain.Tool, history []domain.MissionStep) (Decision, error) {
	req := model.Request{
		Model:        mc.Model,
		Instructions: instructions,
		Messages:     BuildMessages(mc, history),
		Functions:    FunctionDecls(catalog),
	}

	slog.Debug("Planning", "missionID", mc.MissionID, "steps", len(history), "tools", len(catalog))
	gen, err := caller.Call(ctx, p.caller, "llm", func(ctx context.Context) (string, error) {
		return p.provider.Generate(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", p.provider.Name(), err)
	}
	return ParseGeneration(gen)
}

// TaskText is the user message that opens every mission conversation.
func TaskText(mc MissionContext) string {
	if mc.Task != "" {
		return mc.Task
	}
	return fmt.Sprintf("Resolve issue #%d in the GitHub repository %s/%s. Start by reading the issue.",
		mc.Issue, mc.Owner, mc.Repo)
}

// BuildMessages replays the history as alternating function calls and
// results after the task message.
func BuildMessages(mc MissionContext, history []domain.MissionStep) []model.Message {
	msgs := make([]model.Message, 0, 1+2*len(history))
	msgs = append(msgs, model.Message{Role: model.RoleUser, Text: TaskText(mc)})
	for _, s := range history {
		args, _ := s.FunctionArgs.MarshalJSON()
		msgs = append(msgs,
			model.Message{
				Role:         model.RoleAssistant,
				FunctionCall: &model.FunctionCall{Name: s.FunctionName, Arguments: string(args)},
			},
			model.Message{
				Role:           model.RoleFunction,
				FunctionResult: &model.FunctionResult{Name: s.FunctionName, Content: s.Observation},
			},
		)
	}
	return msgs
}

// FunctionDecls declares every catalog tool under its normalized name.
func FunctionDecls(catalog []domain.Tool) []model.FunctionDecl {
	decls := make([]model.FunctionDecl, 0, len(catalog))
	for _, t := range catalog {
		decls = append(decls, model.FunctionDecl{
			Name:        domain.NormalizeName(t.Name),
			Description: strings.TrimSpace(t.Description),
			Parameters:  t.Parameters,
		})
	}
	return decls
}
