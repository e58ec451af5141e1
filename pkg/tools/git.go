package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nstogner/padawan/pkg/domain"
)

var alreadyClonedRe = regexp.MustCompile(`fatal: destination path '[^']+' already exists and is not an empty directory`)

// runGit runs git in dir. A failed command is reported with its stderr.
func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("Running git", "dir", dir, "args", args)
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return errors.New(msg)
		}
		return err
	}
	return nil
}

func gitFailure(err error) Result {
	return Result{"success": false, "error": err.Error()}
}

func requireWorkspace(ws Workspace) error {
	if !ws.exists() {
		return fmt.Errorf("no repository has been cloned for mission %s", ws.MissionID)
	}
	return nil
}

// --- Clone Tool ---

type GitCloneTool struct{}

func (t *GitCloneTool) Name() string   { return "git_clone_repository" }
func (t *GitCloneTool) Method() string { return http.MethodPost }

func (t *GitCloneTool) Description() string {
	return "Clone a git repository into the mission workspace. Cloning again reports that the repository already existed."
}

func (t *GitCloneTool) Parameters() []domain.ToolParameter {
	return []domain.ToolParameter{
		{Name: "url", Type: domain.ParamString, Description: "The clone URL of the repository."},
	}
}

func (t *GitCloneTool) Execute(ctx context.Context, ws Workspace, args domain.Args) (Result, error) {
	url, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(url, "-") {
		return nil, fmt.Errorf("invalid repository url %q", url)
	}
	parent := filepath.Dir(ws.Dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	slog.Info("Cloning repository", "missionID", ws.MissionID, "url", url)
	if err := runGit(ctx, parent, "clone", "--", url, ws.Dir); err != nil {
		if alreadyClonedRe.MatchString(err.Error()) {
			return Result{"success": true, "alreadyExisted": true}, nil
		}
		return gitFailure(err), nil
	}
	return Result{"success": true, "alreadyExisted": false}, nil
}

// --- Checkout Tool ---

type GitCheckoutTool struct{}

func (t *GitCheckoutTool) Name() string   { return "git_checkout_new_branch" }
func (t *GitCheckoutTool) Method() string { return http.MethodPost }

func (t *GitCheckoutTool) Description() string {
	return "Create a new branch in the cloned repository and switch to it."
}

func (t *GitCheckoutTool) Parameters() []domain.ToolParameter {
	return []domain.ToolParameter{
		{Name: "branch", Type: domain.ParamString, Description: "The name of the new branch."},
	}
}

func (t *GitCheckoutTool) Execute(ctx context.Context, ws Workspace, args domain.Args) (Result, error) {
	branch, err := stringArg(args, "branch")
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(branch, "-") {
		return nil, fmt.Errorf("invalid branch name %q", branch)
	}
	if err := requireWorkspace(ws); err != nil {
		return gitFailure(err), nil
	}
	if err := runGit(ctx, ws.Dir, "checkout", "-b", branch); err != nil {
		return gitFailure(err), nil
	}
	return Result{"success": true}, nil
}

// --- Add Tool ---

type GitAddTool struct{}

func (t *GitAddTool) Name() string   { return "git_add_file" }
func (t *GitAddTool) Method() string { return http.MethodPost }

func (t *GitAddTool) Description() string {
	return "Stage a file in the cloned repository for the next commit."
}

func (t *GitAddTool) Parameters() []domain.ToolParameter {
	return []domain.ToolParameter{
		{Name: "filename", Type: domain.ParamString, Description: "The path of the file, relative to the repository root."},
	}
}

func (t *GitAddTool) Execute(ctx context.Context, ws Workspace, args domain.Args) (Result, error) {
	filename, err := stringArg(args, "filename")
	if err != nil {
		return nil, err
	}
	if _, err := ws.Resolve(filename); err != nil {
		return nil, err
	}
	if err := requireWorkspace(ws); err != nil {
		return gitFailure(err), nil
	}
	if err := runGit(ctx, ws.Dir, "add", "--", filename); err != nil {
		return gitFailure(err), nil
	}
	return Result{"success": true}, nil
}
