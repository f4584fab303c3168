package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssetType 资源类型
type AssetType string

const AssetTypeImage AssetType = "image"

// Asset 故事插图等生成资源，sequence对应imagePrompts下标
type Asset struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	StoryID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_assets_story_sequence,priority:1" json:"storyId"`
	Type      AssetType `gorm:"size:16;not null" json:"type"`
	URL       string    `gorm:"not null" json:"url"`
	Prompt    string    `gorm:"type:text" json:"prompt"`
	Sequence  int       `gorm:"not null;uniqueIndex:idx_assets_story_sequence,priority:2" json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate 补全ID和类型
func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Type == "" {
		a.Type = AssetTypeImage
	}
	return nil
}
