package domain

import (
	"encoding/json"
	"testing"
)

func TestParseArgsPreservesOrder(t *testing.T) {
	args, err := ParseArgs(`{"repo":"widgets","owner":"acme","page":2,"draft":false}`)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	want := []string{"repo", "owner", "page", "draft"}
	if len(args) != len(want) {
		t.Fatalf("len = %d, want %d", len(args), len(want))
	}
	for i, name := range want {
		if args[i].Name != name {
			t.Errorf("args[%d].Name = %q, want %q", i, args[i].Name, name)
		}
	}
	if got := args.String(); got != `{"repo":"widgets","owner":"acme","page":2,"draft":false}` {
		t.Errorf("String() = %s", got)
	}
}

func TestParseArgsRejectsNonScalars(t *testing.T) {
	for _, in := range []string{
		`{"a":{"b":1}}`,
		`{"a":[1,2]}`,
		`{"a":null}`,
		`[1,2]`,
		`"text"`,
		`{"a":1} {"b":2}`,
		`{"a":`,
	} {
		if _, err := ParseArgs(in); err == nil {
			t.Errorf("ParseArgs(%s): expected error", in)
		}
	}
}

func TestParseArgsEmpty(t *testing.T) {
	args, err := ParseArgs("  ")
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if len(args) != 0 {
		t.Errorf("len = %d, want 0", len(args))
	}
	if got := args.String(); got != "{}" {
		t.Errorf("String() = %s, want {}", got)
	}
}

func TestArgsSetReplacesInPlace(t *testing.T) {
	args := Args{{Name: "a", Value: 1}, {Name: "b", Value: 2}}
	args = args.Set("a", "x")
	args = args.Set("c", true)
	if len(args) != 3 || args[0].Value != "x" || args[2].Name != "c" {
		t.Errorf("unexpected args: %#v", args)
	}
	if err := args.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := args.Set("d", []string{"x"}).Validate(); err == nil {
		t.Error("expected Validate to reject a slice value")
	}
}

func TestFormatScalar(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"acme", "acme"},
		{true, "true"},
		{json.Number("2"), "2"},
		{2.0, "2"},
		{2.5, "2.5"},
		{42, "42"},
	}
	for _, tt := range tests {
		if got := FormatScalar(tt.in); got != tt.want {
			t.Errorf("FormatScalar(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Git Clone Repository": "git_clone_repository",
		"  fs_read_file ":      "fs_read_file",
		"GitHub  Issue\tGet":   "github_issue_get",
		"":                     "",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToolValidate(t *testing.T) {
	tool := Tool{
		Name:   "github_issue_get",
		API:    "https://api.github.com/repos/{owner}/{repo}/issues/{issue_number}",
		Method: "GET",
		Parameters: []ToolParameter{
			{Name: "owner", Type: ParamString},
			{Name: "repo", Type: ParamString},
			{Name: "issue_number", Type: ParamNumber},
		},
	}
	if err := tool.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	dup := tool
	dup.Parameters = append([]ToolParameter{}, tool.Parameters...)
	dup.Parameters = append(dup.Parameters, ToolParameter{Name: "owner", Type: ParamString})
	if err := dup.Validate(); err == nil {
		t.Error("expected duplicate parameter error")
	}

	bad := tool
	bad.Method = "TRACE"
	if err := bad.Validate(); err == nil {
		t.Error("expected unsupported method error")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusStopped, StatusFinished, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusRunning, StatusStop} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
