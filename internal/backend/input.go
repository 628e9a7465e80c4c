package backend

import (
	"context"
	"strings"

	"inferd/pkg/types"
)

// resolveInput builds backend input from a conversation. When vision is set,
// image references are loaded and resized into attachments; text-only
// sessions skip attachment work entirely.
func resolveInput(ctx context.Context, messages []types.Message, vision bool) (Input, error) {
	in := Input{Messages: messages}
	if !vision {
		return in, nil
	}
	for i, m := range messages {
		for _, ref := range m.Images {
			if err := ctx.Err(); err != nil {
				return Input{}, err
			}
			data, err := loadAttachment(ref)
			if err != nil {
				return Input{}, err
			}
			in.Attachments = append(in.Attachments, Attachment{MessageIndex: i, Data: data})
		}
	}
	return in, nil
}

// transcriptPrompt is the fallback prompt format for backends without their
// own chat templating: a plain role-tagged transcript ending at the
// assistant turn.
func transcriptPrompt(messages []types.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}
