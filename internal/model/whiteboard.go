package model

import (
	"time"
)

// Whiteboard holds per-board metadata and settings. Rows are created
// lazily on first access and never deleted; clearing a board only wipes
// its operation log.
type Whiteboard struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	BoardID        string    `gorm:"uniqueIndex;not null" json:"whiteboardId"`
	Background     string    `gorm:"default:'#ffffff'" json:"background"`
	ReadOnly       bool      `gorm:"default:false" json:"readOnly"`
	ShowGrid       bool      `gorm:"default:false" json:"showGrid"`
	DownloadFormat string    `gorm:"default:'png'" json:"downloadFormat"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Whiteboard) TableName() string {
	return "whiteboards"
}

// DefaultWhiteboard returns the settings a board starts with.
func DefaultWhiteboard(boardID string) Whiteboard {
	return Whiteboard{
		BoardID:        boardID,
		Background:     "#ffffff",
		ReadOnly:       false,
		ShowGrid:       false,
		DownloadFormat: "png",
	}
}
