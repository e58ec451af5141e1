// Package tools implements the built-in workspace tools. Each tool is served
// over HTTP and registered in the tool catalog like any external tool, so the
// planner reaches it through the regular invoker.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nstogner/padawan/pkg/domain"
)

// Result is the JSON body a tool responds with. Every result carries a
// "success" field.
type Result map[string]any

// Tool defines the interface that all built-in tools must implement.
type Tool interface {
	Name() string
	Description() string
	Method() string
	Parameters() []domain.ToolParameter
	Execute(ctx context.Context, ws Workspace, args domain.Args) (Result, error)
}

// Registry manages the available tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new, empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// DefaultRegistry returns a registry holding every built-in tool.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&GitCloneTool{})
	r.Register(&GitCheckoutTool{})
	r.Register(&GitAddTool{})
	r.Register(&ReadFileTool{})
	r.Register(&InsertTextTool{})
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools ordered by name.
func (r *Registry) List() []Tool {
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Definitions returns catalog entries for the registered tools. Their API
// templates point at the {padawan_api} base URL.
func (r *Registry) Definitions() []domain.Tool {
	var defs []domain.Tool
	for _, t := range r.List() {
		defs = append(defs, domain.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			API:         "{padawan_api}/tools/" + t.Name(),
			Method:      t.Method(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Workspace is the directory a mission's tools operate in.
type Workspace struct {
	MissionID string
	Dir       string
}

// NewWorkspace scopes root to the mission. The mission ID must be a single
// path element.
func NewWorkspace(root, missionID string) (Workspace, error) {
	if missionID == "" {
		return Workspace{}, fmt.Errorf("mission id is required")
	}
	if missionID == "." || missionID == ".." || strings.ContainsAny(missionID, `/\`) {
		return Workspace{}, fmt.Errorf("invalid mission id %q", missionID)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolving workspace root: %w", err)
	}
	return Workspace{MissionID: missionID, Dir: filepath.Join(abs, missionID)}, nil
}

// Resolve joins rel onto the workspace directory and rejects paths that
// escape it. Symlinks are not followed; use Open for file access.
func (w Workspace) Resolve(rel string) (string, error) {
	r, err := w.relPath(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.Dir, r), nil
}

func (w Workspace) relPath(rel string) (string, error) {
	full := filepath.Join(w.Dir, rel)
	r, err := filepath.Rel(w.Dir, full)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", rel, err)
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the mission workspace", rel)
	}
	return r, nil
}

// OpenFile opens rel inside the workspace. Symlinks resolving outside the
// workspace are rejected.
func (w Workspace) OpenFile(rel string, flag int, perm os.FileMode) (*os.File, error) {
	r, err := w.relPath(rel)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(w.Dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	return root.OpenFile(r, flag, perm)
}

func (w Workspace) exists() bool {
	_, err := os.Stat(w.Dir)
	return err == nil
}

func stringArg(args domain.Args, name string) (string, error) {
	v, ok := args.Get(name)
	if !ok {
		return "", fmt.Errorf("argument '%s' is required", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument '%s' must be a non-empty string", name)
	}
	return s, nil
}

func intArg(args domain.Args, name string) (int, error) {
	v, ok := args.Get(name)
	if !ok {
		return 0, fmt.Errorf("argument '%s' is required", name)
	}
	var (
		f   float64
		err error
	)
	switch v := v.(type) {
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(v, 64)
	case float64:
		f = v
	case int:
		return v, nil
	default:
		err = fmt.Errorf("unexpected type %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("argument '%s' must be a number: %w", name, err)
	}
	return int(f), nil
}
