package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Tool identifies one kind of drawing action.
type Tool string

const (
	ToolLine               Tool = "line"
	ToolPen                Tool = "pen"
	ToolRect               Tool = "rect"
	ToolCircle             Tool = "circle"
	ToolEraser             Tool = "eraser"
	ToolAddImageBackground Tool = "addImageBackground"
	ToolRectSelect         Tool = "rectSelect"
	ToolEraseRect          Tool = "eraseRect"
	ToolAddTextBox         Tool = "addTextBox"
	ToolSetTextboxText     Tool = "setTextboxText"
	ToolRemoveTextbox      Tool = "removeTextbox"
	ToolSetTextboxPosition Tool = "setTextboxPosition"
	ToolSetTextboxFontSize Tool = "setTextboxFontSize"
	ToolSetTextboxColor    Tool = "setTextboxFontColor"
	ToolClear              Tool = "clear"
)

var knownTools = map[Tool]bool{
	ToolLine:               true,
	ToolPen:                true,
	ToolRect:               true,
	ToolCircle:             true,
	ToolEraser:             true,
	ToolAddImageBackground: true,
	ToolRectSelect:         true,
	ToolEraseRect:          true,
	ToolAddTextBox:         true,
	ToolSetTextboxText:     true,
	ToolRemoveTextbox:      true,
	ToolSetTextboxPosition: true,
	ToolSetTextboxFontSize: true,
	ToolSetTextboxColor:    true,
	ToolClear:              true,
}

// Known reports whether t is a recognized tool.
func (t Tool) Known() bool {
	return knownTools[t]
}

// Operation is one discrete, sequenced drawing action on a whiteboard.
// Sequence is assigned by the store; 0 means not yet persisted.
type Operation struct {
	BoardID   string          `json:"whiteboardId"`
	Sequence  int64           `json:"sequence"`
	Tool      Tool            `json:"tool"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Author    string          `json:"author,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

var ErrInvalidOperation = errors.New("invalid operation")

// geometric tools carry their coordinates in the payload
type coordPayload struct {
	Coords []float64   `json:"coords"`
	Points [][]float64 `json:"points"`
}

type textboxPayload struct {
	ID string `json:"id"`
}

type imagePayload struct {
	URL string `json:"url"`
}

// Validate checks the tool and the payload structure. It does not
// interpret the drawing itself; the clients own rendering semantics.
func (op *Operation) Validate() error {
	if !op.Tool.Known() {
		return fmt.Errorf("%w: unrecognized tool %q", ErrInvalidOperation, op.Tool)
	}

	switch op.Tool {
	case ToolClear:
		return nil

	case ToolLine, ToolRect, ToolCircle, ToolEraser, ToolRectSelect, ToolEraseRect:
		var p coordPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("%w: malformed payload for %s", ErrInvalidOperation, op.Tool)
		}
		if len(p.Coords) < 4 && len(p.Points) == 0 {
			return fmt.Errorf("%w: %s requires coordinates", ErrInvalidOperation, op.Tool)
		}

	case ToolPen:
		var p coordPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("%w: malformed payload for pen", ErrInvalidOperation)
		}
		if len(p.Points) == 0 {
			return fmt.Errorf("%w: pen requires at least one point", ErrInvalidOperation)
		}

	case ToolAddImageBackground:
		var p imagePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil || p.URL == "" {
			return fmt.Errorf("%w: addImageBackground requires an image url", ErrInvalidOperation)
		}

	case ToolAddTextBox, ToolSetTextboxText, ToolRemoveTextbox,
		ToolSetTextboxPosition, ToolSetTextboxFontSize, ToolSetTextboxColor:
		var p textboxPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil || p.ID == "" {
			return fmt.Errorf("%w: %s requires a textbox id", ErrInvalidOperation, op.Tool)
		}
	}

	return nil
}
