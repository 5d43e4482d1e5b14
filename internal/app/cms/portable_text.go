package cms

import (
	"encoding/json"
	"strings"
)

type block struct {
	Type     string `json:"_type"`
	Style    string `json:"style"`
	Children []struct {
		Type string `json:"_type"`
		Text string `json:"text"`
	} `json:"children"`
}

// Paragraph - один текстовый блок записи
type Paragraph struct {
	Style string
	Text  string
}

// PlainText разворачивает Portable Text в список абзацев.
// Нетекстовые блоки (картинки, embed) пропускаются.
func PlainText(body json.RawMessage) []Paragraph {
	if len(body) == 0 {
		return nil
	}
	var blocks []block
	if err := json.Unmarshal(body, &blocks); err != nil {
		return nil
	}

	out := make([]Paragraph, 0, len(blocks))
	for _, b := range blocks {
		if b.Type != "block" {
			continue
		}
		var sb strings.Builder
		for _, span := range b.Children {
			if span.Type == "span" {
				sb.WriteString(span.Text)
			}
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		style := b.Style
		if style == "" {
			style = "normal"
		}
		out = append(out, Paragraph{Style: style, Text: text})
	}
	return out
}
