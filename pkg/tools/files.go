package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sort"

	"github.com/nstogner/padawan/pkg/domain"
)

// --- Read File Tool ---

type ReadFileTool struct{}

func (t *ReadFileTool) Name() string   { return "fs_read_file" }
func (t *ReadFileTool) Method() string { return http.MethodGet }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file in the cloned repository. When the file does not exist, the files at the repository root are listed instead."
}

func (t *ReadFileTool) Parameters() []domain.ToolParameter {
	return []domain.ToolParameter{
		{Name: "filename", Type: domain.ParamString, Description: "The path of the file, relative to the repository root."},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, ws Workspace, args domain.Args) (Result, error) {
	filename, err := stringArg(args, "filename")
	if err != nil {
		return nil, err
	}
	slog.Debug("Reading file", "missionID", ws.MissionID, "filename", filename)
	data, err := readFile(ws, filename)
	if errors.Is(err, fs.ErrNotExist) {
		ls, lerr := listDir(ws.Dir)
		if lerr != nil {
			return Result{"success": false, "error": fmt.Sprintf("file %s not found and the workspace could not be listed: %v", filename, lerr)}, nil
		}
		return Result{"success": false, "ls": ls}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Result{"success": true, "contents": string(data)}, nil
}

func readFile(ws Workspace, filename string) ([]byte, error) {
	f, err := ws.OpenFile(filename, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		names = append(names, e.Name()+suffix)
	}
	sort.Strings(names)
	return names, nil
}

// --- Insert Text Tool ---

type InsertTextTool struct{}

func (t *InsertTextTool) Name() string   { return "fs_insert_text" }
func (t *InsertTextTool) Method() string { return http.MethodPost }

func (t *InsertTextTool) Description() string {
	return "Insert text into an existing file in the cloned repository at the given character position."
}

func (t *InsertTextTool) Parameters() []domain.ToolParameter {
	return []domain.ToolParameter{
		{Name: "filename", Type: domain.ParamString, Description: "The path of the file, relative to the repository root."},
		{Name: "text", Type: domain.ParamString, Description: "The text to insert."},
		{Name: "position", Type: domain.ParamNumber, Description: "The character offset to insert the text at."},
	}
}

func (t *InsertTextTool) Execute(ctx context.Context, ws Workspace, args domain.Args) (Result, error) {
	filename, err := stringArg(args, "filename")
	if err != nil {
		return nil, err
	}
	v, ok := args.Get("text")
	if !ok {
		return nil, fmt.Errorf("argument 'text' is required")
	}
	text, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("argument 'text' must be a string")
	}
	position, err := intArg(args, "position")
	if err != nil {
		return nil, err
	}
	f, err := ws.OpenFile(filename, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return Result{"success": false, "error": err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Positions count characters, clamped to the file bounds.
	content := []rune(string(data))
	position = max(0, min(position, len(content)))
	out := string(content[:position]) + text + string(content[position:])

	slog.Debug("Inserting text", "missionID", ws.MissionID, "filename", filename, "position", position, "size", len(text))
	if err := f.Truncate(0); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if _, err := f.WriteAt([]byte(out), 0); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return Result{"success": true}, nil
}
