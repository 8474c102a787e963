// Package config loads workflow specs from JSON documents. Environment
// placeholder substitution happens here, and only here: by the time a
// spec reaches validation or the engine every {{VAR}} is resolved.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rendis/leadflow/pkg/schema"
)

// placeholderRe matches {{VAR_NAME}} markers in workflow documents.
var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// LoadWorkflow reads a workflow JSON file, substitutes environment
// placeholders and decodes the spec. Unresolved placeholders are an
// error: a spec with a missing API key should fail at load, not at the
// step that needed it.
func LoadWorkflow(path string) (*schema.WorkflowSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "read workflow file: %s", err.Error()).WithCause(err)
	}
	return ParseWorkflow(raw, os.LookupEnv)
}

// ParseWorkflow decodes a workflow document, resolving {{VAR}} markers
// through lookup. Values are JSON-escaped before splicing so secrets
// containing quotes or backslashes cannot corrupt the document.
func ParseWorkflow(raw []byte, lookup func(string) (string, bool)) (*schema.WorkflowSpec, error) {
	resolved, err := substitute(string(raw), lookup)
	if err != nil {
		return nil, err
	}

	var spec schema.WorkflowSpec
	dec := json.NewDecoder(strings.NewReader(resolved))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode workflow: %s", err.Error()).WithCause(err)
	}
	return &spec, nil
}

func substitute(doc string, lookup func(string) (string, bool)) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(doc, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return jsonEscape(value)
	})
	if len(missing) > 0 {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"unresolved placeholders: %s", strings.Join(dedupe(missing), ", ")).
			WithDetails(map[string]any{"placeholders": dedupe(missing)})
	}
	return out, nil
}

// jsonEscape escapes a substituted value for splicing inside a JSON
// string literal. The marshalled form includes surrounding quotes,
// which are stripped because the document supplies its own.
func jsonEscape(value string) string {
	b, err := json.Marshal(value)
	if err != nil {
		return value
	}
	return string(b[1 : len(b)-1])
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Describe returns a short human summary of a spec, used by the CLI.
func Describe(spec *schema.WorkflowSpec) string {
	return fmt.Sprintf("%s (version %s, %d steps)", spec.Name, orDefault(spec.Version, "unversioned"), len(spec.Steps))
}

func orDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
