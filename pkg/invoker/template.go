package invoker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"text/template"

	"github.com/nstogner/padawan/pkg/domain"
)

// PadawanAPIVar is the URL template variable holding the base URL of the
// built-in tool endpoints.
const PadawanAPIVar = "padawan_api"

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// TemplateError reports placeholders that could not be resolved.
type TemplateError struct {
	Template string
	Missing  []string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("unresolved placeholders %s in %q", strings.Join(e.Missing, ", "), e.Template)
}

// RenderURL fills {name} placeholders in tmpl from args, plus {padawan_api}
// from padawanAPI. Values are escaped for the URL component they land in.
// It returns the rendered URL and the names of the arguments it consumed.
func RenderURL(tmpl string, args domain.Args, padawanAPI string) (string, map[string]bool, error) {
	queryStart := strings.IndexByte(tmpl, '?')
	used := make(map[string]bool)

	var (
		b       strings.Builder
		missing []string
		last    int
	)
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(tmpl, -1) {
		start, end := m[0], m[1]
		name := tmpl[m[2]:m[3]]
		b.WriteString(tmpl[last:start])
		last = end

		if name == PadawanAPIVar && padawanAPI != "" {
			b.WriteString(strings.TrimRight(padawanAPI, "/"))
			continue
		}
		v, ok := args.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		used[name] = true
		s := domain.FormatScalar(v)
		if queryStart >= 0 && start > queryStart {
			b.WriteString(url.QueryEscape(s))
		} else {
			b.WriteString(url.PathEscape(s))
		}
	}
	b.WriteString(tmpl[last:])

	if len(missing) > 0 {
		return "", nil, &TemplateError{Template: tmpl, Missing: missing}
	}
	return b.String(), used, nil
}

var formatCache sync.Map // format string -> *template.Template

var formatFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// RenderFormat applies a tool's response format template to decoded JSON.
// The template uses text/template syntax with the response as its data, for
// example "{{.title}} ({{.state}})".
func RenderFormat(format string, data any) (string, error) {
	var tmpl *template.Template
	if cached, ok := formatCache.Load(format); ok {
		tmpl = cached.(*template.Template)
	} else {
		parsed, err := template.New("format").Funcs(formatFuncs).Option("missingkey=error").Parse(format)
		if err != nil {
			return "", fmt.Errorf("parsing format template: %w", err)
		}
		formatCache.Store(format, parsed)
		tmpl = parsed
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering format template: %w", err)
	}
	return buf.String(), nil
}
