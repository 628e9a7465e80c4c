package backend

import (
	"github.com/flosch/pongo2/v6"

	"inferd/pkg/types"
)

// reservedTemplateKeys are context names the renderer always owns; caller
// extras never shadow them.
var reservedTemplateKeys = map[string]bool{
	"messages":              true,
	"tools":                 true,
	"add_generation_prompt": true,
}

// RenderTemplate renders a Jinja-style chat template over the conversation.
// The template sees `messages` (role/content maps), `tools` and
// `add_generation_prompt`, plus any caller extras that don't collide with
// those names. Any parse or execution failure is a template error.
func RenderTemplate(text string, messages []types.Message, tools []types.Tool, extra map[string]any) (string, error) {
	tpl, err := pongo2.FromString(text)
	if err != nil {
		return "", ErrTemplate(err)
	}

	msgs := make([]map[string]any, len(messages))
	for i, m := range messages {
		msgs[i] = map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		}
	}
	toolDefs := make([]map[string]any, len(tools))
	for i, t := range tools {
		toolDefs[i] = map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		}
	}

	ctx := pongo2.Context{
		"messages":              msgs,
		"tools":                 toolDefs,
		"add_generation_prompt": true,
	}
	for k, v := range extra {
		if reservedTemplateKeys[k] {
			continue
		}
		ctx[k] = v
	}

	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", ErrTemplate(err)
	}
	if out == "" {
		return "", ErrTemplate(errEmptyRender)
	}
	return out, nil
}

type emptyRenderError struct{}

func (emptyRenderError) Error() string { return "template rendered empty prompt" }

var errEmptyRender = emptyRenderError{}
