package handler

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"whiteboard-backend/internal/engine"
	"whiteboard-backend/internal/model"
)

// WhiteboardHandler serves the request/response surface of the board:
// full loads, REST draws and board settings. db may be nil when metadata
// storage is not configured; settings then fall back to defaults.
type WhiteboardHandler struct {
	db     *gorm.DB
	engine *engine.Engine
}

func NewWhiteboardHandler(db *gorm.DB, eng *engine.Engine) *WhiteboardHandler {
	return &WhiteboardHandler{db: db, engine: eng}
}

type drawRequest struct {
	BoardID string          `json:"wid"`
	Tool    model.Tool      `json:"tool"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Author  string          `json:"author,omitempty"`
}

// GetLoadData returns the full operation list and current sequence, the
// read-only "load stored data" surface used for first paint.
func (h *WhiteboardHandler) GetLoadData(c *fiber.Ctx) error {
	boardID := c.Query("wid")
	if boardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "wid is required"})
	}

	ops, current, err := h.engine.CurrentState(c.Context(), boardID)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "failed to load whiteboard"})
	}

	return c.JSON(BoardStatePayload{
		BoardID:         boardID,
		Operations:      ops,
		CurrentSequence: current,
	})
}

// Draw submits one operation over plain HTTP. The room still receives the
// broadcast; REST callers simply have no connection to echo through.
func (h *WhiteboardHandler) Draw(c *fiber.Ctx) error {
	var req drawRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.BoardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "wid is required"})
	}

	author := req.Author
	if author == "" {
		if username, ok := c.Locals("username").(string); ok {
			author = username
		}
	}

	op := model.Operation{
		Tool:    req.Tool,
		Payload: req.Payload,
		Author:  author,
	}

	seq, err := h.engine.SubmitOperation(c.Context(), req.BoardID, op)
	switch {
	case errors.Is(err, model.ErrInvalidOperation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, engine.ErrPersistenceFailed):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "operation not saved"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "operation failed"})
	}

	return c.JSON(fiber.Map{"success": true, "sequence": seq})
}

// GetSettings returns the board's metadata, creating the row lazily with
// defaults on first access.
func (h *WhiteboardHandler) GetSettings(c *fiber.Ctx) error {
	boardID := c.Query("wid")
	if boardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "wid is required"})
	}

	if h.db == nil {
		return c.JSON(model.DefaultWhiteboard(boardID))
	}

	var board model.Whiteboard
	err := h.db.Where("board_id = ?", boardID).First(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		board = model.DefaultWhiteboard(boardID)
		if err := h.db.Create(&board).Error; err != nil {
			// Lost a lazy-create race; the row exists now.
			if err := h.db.Where("board_id = ?", boardID).First(&board).Error; err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load settings"})
			}
		}
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load settings"})
	}

	return c.JSON(board)
}

type settingsRequest struct {
	Background     *string `json:"background,omitempty"`
	ReadOnly       *bool   `json:"readOnly,omitempty"`
	ShowGrid       *bool   `json:"showGrid,omitempty"`
	DownloadFormat *string `json:"downloadFormat,omitempty"`
}

// UpdateSettings applies a partial settings update.
func (h *WhiteboardHandler) UpdateSettings(c *fiber.Ctx) error {
	boardID := c.Query("wid")
	if boardID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "wid is required"})
	}
	if h.db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "settings storage not configured"})
	}

	var req settingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	updates := map[string]interface{}{}
	if req.Background != nil {
		updates["background"] = *req.Background
	}
	if req.ReadOnly != nil {
		updates["read_only"] = *req.ReadOnly
	}
	if req.ShowGrid != nil {
		updates["show_grid"] = *req.ShowGrid
	}
	if req.DownloadFormat != nil {
		updates["download_format"] = *req.DownloadFormat
	}
	if len(updates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no settings provided"})
	}

	board := model.DefaultWhiteboard(boardID)
	if err := h.db.Where("board_id = ?", boardID).FirstOrCreate(&board).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load settings"})
	}
	if err := h.db.Model(&board).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update settings"})
	}

	return c.JSON(fiber.Map{"success": true})
}
