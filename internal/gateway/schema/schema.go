// Package schema wraps JSON Schema compilation and prompt template rendering
// for the gateway's config loader. Schemas are compiled once at load time;
// templates are parsed once and rendered per request as pure functions of
// their input value.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"text/template"
	"text/template/parse"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema wraps a compiled JSON Schema document alongside its source text,
// which vendor adapters re-encode into tool declarations verbatim.
type Schema struct {
	path     string
	source   json.RawMessage
	compiled *jsonschema.Schema
}

// Compile compiles the JSON Schema document at path. Compilation happens
// once, at config-load time; a malformed document fails the gateway's
// startup rather than a request.
func Compile(path string) (*Schema, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return &Schema{path: path, source: json.RawMessage(source), compiled: compiled}, nil
}

// Path returns the source path the schema was compiled from.
func (s *Schema) Path() string { return s.path }

// Source returns the schema's original JSON document.
func (s *Schema) Source() (json.RawMessage, error) {
	if s.source == nil {
		return nil, fmt.Errorf("schema %s has no source document", s.path)
	}
	return s.source, nil
}

// Validate checks data (a JSON document) against the compiled schema.
func (s *Schema) Validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return err
	}
	return nil
}

// Template is a parsed, side-effect-free prompt template rendered against a
// structured input value.
type Template struct {
	name string
	tmpl *template.Template
}

// LoadTemplate parses the template file at path. Templates never perform IO
// at render time — all file access happens here, once.
func LoadTemplate(path string) (*Template, error) {
	tmpl, err := template.New(path).Funcs(funcMap()).ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	base := tmpl.Templates()[0]
	return &Template{name: path, tmpl: base}, nil
}

// Render renders the template against data and returns the resulting text.
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", t.name, err)
	}
	return buf.String(), nil
}

// NeedsVariables reports whether the template references any field of its
// input value (e.g. {{.AssistantName}}). Used by the config loader's
// role/schema/template coherence check: a template with no field
// references is valid without a matching schema.
func (t *Template) NeedsVariables() bool {
	if t.tmpl.Tree == nil || t.tmpl.Tree.Root == nil {
		return false
	}
	return nodeNeedsVariables(t.tmpl.Tree.Root)
}

func nodeNeedsVariables(n parse.Node) bool {
	switch v := n.(type) {
	case *parse.ListNode:
		if v == nil {
			return false
		}
		for _, c := range v.Nodes {
			if nodeNeedsVariables(c) {
				return true
			}
		}
	case *parse.ActionNode:
		return pipeNeedsVariables(v.Pipe)
	case *parse.IfNode:
		return pipeNeedsVariables(v.Pipe) || nodeNeedsVariables(v.List) || nodeNeedsVariables(v.ElseList)
	case *parse.RangeNode:
		return pipeNeedsVariables(v.Pipe) || nodeNeedsVariables(v.List) || nodeNeedsVariables(v.ElseList)
	case *parse.WithNode:
		return pipeNeedsVariables(v.Pipe) || nodeNeedsVariables(v.List) || nodeNeedsVariables(v.ElseList)
	case *parse.TemplateNode:
		return true
	}
	return false
}

func pipeNeedsVariables(p *parse.PipeNode) bool {
	if p == nil {
		return false
	}
	for _, cmd := range p.Cmds {
		for _, arg := range cmd.Args {
			switch arg.(type) {
			case *parse.FieldNode, *parse.VariableNode, *parse.DotNode:
				return true
			}
		}
	}
	return false
}

func funcMap() template.FuncMap {
	return template.FuncMap{}
}
