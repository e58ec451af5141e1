package domain

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Mission is a unit of work assigned to the agent, such as resolving an issue.
type Mission struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	StartDate time.Time `json:"start_date"`
	// ReportID references the published mission report. Set once, when the mission ends.
	ReportID string `json:"report_id,omitempty"`
}

// MissionSummary is a Mission along with its latest status and step count.
type MissionSummary struct {
	Mission
	Status    Status `json:"status,omitempty"`
	StepCount int    `json:"step_count"`
}

// MissionEvent is an append-only status record for a mission. The most recent
// event is authoritative for the mission's current status.
type MissionEvent struct {
	ID        string    `json:"id"`
	MissionID string    `json:"mission_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Details   string    `json:"details,omitempty"`
}

// MissionStep records a single tool invocation decided by the planner.
type MissionStep struct {
	ID            string     `json:"id"`
	MissionID     string     `json:"mission_id"`
	FunctionName  string     `json:"function_name"`
	FunctionArgs  Args       `json:"function_args"`
	Observation   string     `json:"observation"`
	ExecutionDate time.Time  `json:"execution_date"`
	EndDate       *time.Time `json:"end_date,omitempty"` // nil until the step completes
}

// Completed reports whether the step's observation has been recorded.
func (s MissionStep) Completed() bool { return s.EndDate != nil }

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamBoolean ParamType = "boolean"
	ParamNumber  ParamType = "number"
)

// ToolParameter describes one named argument of a Tool.
type ToolParameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
}

// Tool is an externally registered HTTP endpoint the agent can call.
//
// API is a URL template where {name} placeholders are filled from the call's
// arguments (and the padawan_api base URL). Format is an optional template
// applied to JSON responses to turn them into observation text.
type Tool struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	API         string          `json:"api"`
	Method      string          `json:"method"`
	Format      string          `json:"format,omitempty"`
	Parameters  []ToolParameter `json:"parameters"`
}

// Validate checks that the tool can be offered to the planner.
func (t Tool) Validate() error {
	if NormalizeName(t.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.API == "" {
		return fmt.Errorf("tool %s: api is required", t.Name)
	}
	switch strings.ToUpper(t.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("tool %s: unsupported method %q", t.Name, t.Method)
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter name is required", t.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %s: duplicate parameter %q", t.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case ParamString, ParamBoolean, ParamNumber:
		default:
			return fmt.Errorf("tool %s: parameter %s has unsupported type %q", t.Name, p.Name, p.Type)
		}
	}
	return nil
}

// Token is a bearer credential used for requests to a given domain.
type Token struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
	Token  string `json:"token"`
}

// NormalizeName turns a display name into the action name offered to the
// model: lowercased, with runs of whitespace replaced by underscores.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}
