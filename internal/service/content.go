package service

import (
	"fmt"
	"strings"

	"tasksync/internal/models"
)

const maxToggleChildren = 100

var urgencyEmoji = map[string]string{
	"high":   "🔴",
	"medium": "🟡",
	"low":    "🟢",
}

// BuildContent renders the page body of a task created from an email. The
// analysis part is omitted when analysis is nil.
func BuildContent(email *models.Email, analysis *models.EmailAnalysis) []models.Block {
	var blocks []models.Block

	if analysis != nil {
		blocks = append(blocks, analysisBlocks(analysis)...)
		blocks = append(blocks, models.Block{Type: models.BlockDivider})
	}

	body := strings.TrimSpace(email.BodyText)
	if body == "" {
		blocks = append(blocks, models.Block{Type: models.BlockParagraph, Text: "No email content available."})
		return blocks
	}

	original := models.Block{Type: models.BlockToggle, Text: "Original Email"}
	for _, chunk := range chunkText(body, models.MaxCodeBlockLength) {
		if len(original.Children) == maxToggleChildren {
			break
		}
		original.Children = append(original.Children, models.Block{Type: models.BlockCode, Text: chunk, Language: "plain text"})
	}
	return append(blocks, original)
}

func analysisBlocks(a *models.EmailAnalysis) []models.Block {
	var blocks []models.Block

	if a.Summary != "" {
		emoji, ok := urgencyEmoji[a.Urgency]
		if !ok {
			emoji = urgencyEmoji["medium"]
		}
		blocks = append(blocks, models.Block{Type: models.BlockCallout, Text: a.Summary, Emoji: emoji})
	}

	if len(a.ActionItems) > 0 {
		blocks = append(blocks, models.Block{Type: models.BlockHeading, Text: "Action Items"})
		for _, item := range a.ActionItems {
			blocks = append(blocks, models.Block{Type: models.BlockTodo, Text: item})
		}
	}

	if len(a.KeyDates) > 0 {
		blocks = append(blocks, models.Block{Type: models.BlockHeading, Text: "Key Dates"})
		for _, d := range a.KeyDates {
			text := d.Date
			if d.Context != "" {
				text = fmt.Sprintf("%s: %s", d.Date, d.Context)
			}
			blocks = append(blocks, models.Block{Type: models.BlockBullet, Text: text})
		}
	}

	if len(a.ImportantLinks) > 0 {
		blocks = append(blocks, models.Block{Type: models.BlockHeading, Text: "Important Links"})
		for _, l := range a.ImportantLinks {
			text := l.Description
			if text == "" {
				text = l.URL
			}
			blocks = append(blocks, models.Block{Type: models.BlockBullet, Text: text, URL: l.URL})
		}
	}

	if len(a.KeyContacts) > 0 {
		blocks = append(blocks, models.Block{Type: models.BlockHeading, Text: "Key Contacts"})
		for _, c := range a.KeyContacts {
			blocks = append(blocks, models.Block{Type: models.BlockBullet, Text: contactLine(c)})
		}
	}
	return blocks
}

func contactLine(c models.Contact) string {
	line := c.Name
	if c.Email != "" {
		if line == "" {
			line = c.Email
		} else {
			line = fmt.Sprintf("%s <%s>", line, c.Email)
		}
	}
	if c.Role != "" {
		line = fmt.Sprintf("%s (%s)", line, c.Role)
	}
	return line
}

// chunkText splits s into pieces of at most size runes.
func chunkText(s string, size int) []string {
	r := []rune(s)
	var out []string
	for len(r) > 0 {
		n := min(size, len(r))
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}

// chunk splits items into consecutive batches of at most size.
func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
