package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/schema"
	"github.com/BaSui01/tensorgate/llm"
	"github.com/BaSui01/tensorgate/types"
)

// renderMessages binds the role-scoped inputs to the variant's templates
// and produces the normalized message list, system first.
//
// The rendering policy per role: with a declared schema the input is
// validated against it and then fed to the role's template, which the
// config loader guarantees exists. Without a schema the input must be a
// plain JSON string; a structured value there is a usage error, not
// something to guess about.
func renderMessages(fn *config.Function, v *config.Variant, in Input) ([]llm.Message, error) {
	type role struct {
		name     string
		llmRole  llm.Role
		schema   *schema.Schema
		template *schema.Template
		input    json.RawMessage
	}
	roles := []role{
		{"system", llm.RoleSystem, fn.SystemSchema, v.SystemTemplate, in.System},
		{"user", llm.RoleUser, fn.UserSchema, v.UserTemplate, in.User},
		{"assistant", llm.RoleAssistant, fn.AssistantSchema, v.AssistantTemplate, in.Assistant},
	}

	var out []llm.Message
	for _, r := range roles {
		content, present, err := renderRole(r.name, r.schema, r.template, r.input)
		if err != nil {
			return nil, err
		}
		if present {
			out = append(out, llm.Message{Role: r.llmRole, Content: content})
		}
	}
	if len(out) == 0 {
		return nil, inputValidation("input has no content for any role")
	}
	return out, nil
}

func renderRole(name string, s *schema.Schema, t *schema.Template, input json.RawMessage) (string, bool, error) {
	if s != nil {
		if len(input) == 0 {
			return "", false, inputValidation(fmt.Sprintf("input.%s is required by the function's %s_schema", name, name))
		}
		if err := s.Validate(input); err != nil {
			return "", false, inputValidation(fmt.Sprintf("input.%s: %v", name, err))
		}
		if t == nil {
			// the loader rejects a role schema without a template; guard
			// for registries assembled outside it
			return "", false, inputValidation(fmt.Sprintf("input.%s: function declares a %s_schema but the variant has no %s_template", name, name, name))
		}
		var data map[string]any
		if err := json.Unmarshal(input, &data); err != nil {
			return "", false, inputValidation(fmt.Sprintf("input.%s must be a JSON object: %v", name, err))
		}
		rendered, err := t.Render(data)
		if err != nil {
			return "", false, inputValidation(fmt.Sprintf("input.%s: %v", name, err))
		}
		return rendered, true, nil
	}

	// No schema: a static template renders even without input; otherwise
	// the role's input must be a plain string.
	if len(input) == 0 {
		if t != nil {
			rendered, err := t.Render(nil)
			if err != nil {
				return "", false, inputValidation(fmt.Sprintf("input.%s: %v", name, err))
			}
			return rendered, true, nil
		}
		return "", false, nil
	}

	var raw string
	if err := json.Unmarshal(input, &raw); err != nil {
		return "", false, inputValidation(fmt.Sprintf(
			"input.%s must be a string: the function declares no %s_schema for structured input", name, name))
	}
	return raw, true, nil
}

func inputValidation(msg string) error {
	return types.NewError(types.ErrInputValidation, msg).
		WithHTTPStatus(types.HTTPStatusForCode(types.ErrInputValidation))
}
