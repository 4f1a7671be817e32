package core

import (
	"encoding/json"
	"fmt"
)

// Part represents a polymorphic segment of message content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string `json:"text"`
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data map[string]any `json:"data"`
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// Wire block type identifiers.
const (
	blockText = "text"
	blockData = "data"
)

type wireBlock struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

func marshalParts(parts []Part) ([]wireBlock, error) {
	blocks := make([]wireBlock, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case TextPart:
			blocks = append(blocks, wireBlock{Type: blockText, Text: v.Text})
		case DataPart:
			blocks = append(blocks, wireBlock{Type: blockData, Data: v.Data})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return blocks, nil
}

// unmarshalParts decodes message content which is either a plain JSON string or
// an array of typed blocks.
func unmarshalParts(raw json.RawMessage) ([]Part, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil, nil
		}
		return []Part{TextPart{Text: text}}, nil
	}

	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}

	parts := make([]Part, 0, len(blocks))
	for i, b := range blocks {
		switch b.Type {
		case blockText, "":
			parts = append(parts, TextPart{Text: b.Text})
		case blockData:
			parts = append(parts, DataPart{Data: b.Data})
		default:
			return nil, fmt.Errorf("content block %d: unknown type %q", i, b.Type)
		}
	}
	return parts, nil
}
