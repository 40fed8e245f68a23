package notion

import "tasksync/internal/models"

func richTextOf(text, url string) []map[string]any {
	content := map[string]any{"content": truncate(text, models.MaxCodeBlockLength)}
	if url != "" {
		content["link"] = map[string]any{"url": url}
	}
	return []map[string]any{{"type": "text", "text": content}}
}

func encodeBlock(b models.Block) map[string]any {
	kind := string(b.Type)
	if kind == "" {
		kind = string(models.BlockParagraph)
	}

	body := map[string]any{}
	switch b.Type {
	case models.BlockDivider:
	case models.BlockTodo:
		body["rich_text"] = richTextOf(b.Text, b.URL)
		body["checked"] = b.Checked
	case models.BlockCallout:
		body["rich_text"] = richTextOf(b.Text, b.URL)
		if b.Emoji != "" {
			body["icon"] = map[string]any{"type": "emoji", "emoji": b.Emoji}
		}
	case models.BlockCode:
		body["rich_text"] = richTextOf(b.Text, "")
		language := b.Language
		if language == "" {
			language = "plain text"
		}
		body["language"] = language
	case models.BlockToggle:
		body["rich_text"] = richTextOf(b.Text, b.URL)
		if len(b.Children) > 0 {
			children := make([]map[string]any, 0, len(b.Children))
			for _, child := range b.Children {
				children = append(children, encodeBlock(child))
			}
			body["children"] = children
		}
	default:
		body["rich_text"] = richTextOf(b.Text, b.URL)
	}

	return map[string]any{
		"object": "block",
		"type":   kind,
		kind:     body,
	}
}
