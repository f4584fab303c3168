package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AgeGroup 目标读者年龄段
type AgeGroup string

const (
	AgeGroup3To5  AgeGroup = "3-5"
	AgeGroup5To8  AgeGroup = "5-8"
	AgeGroup8To12 AgeGroup = "8-12"
)

// Language 故事语言
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
	LanguageFrench  Language = "fr"
)

// Story 故事记录
type Story struct {
	ID          string         `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string         `gorm:"size:100;not null" json:"title"`
	Description *string        `gorm:"size:500" json:"description,omitempty"`
	AgeGroup    AgeGroup       `gorm:"size:8;not null" json:"ageGroup"`
	Language    Language       `gorm:"size:8;not null" json:"language"`
	UserID      string         `gorm:"index;not null" json:"userId"`
	Status      Status         `gorm:"size:32;not null;index" json:"status"`
	Content     datatypes.JSON `json:"content"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// BeforeCreate 补全ID、初始状态和空内容
func (s *Story) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusDraft
	}
	if len(s.Content) == 0 {
		b, err := json.Marshal(EmptyContent())
		if err != nil {
			return err
		}
		s.Content = b
	}
	return nil
}

// StoryContent 生成的故事内容
type StoryContent struct {
	Structure    *StoryStructure `json:"structure"`
	Scenes       []Scene         `json:"scenes"`
	ImagePrompts []string        `json:"imagePrompts"`
}

// StoryStructure 故事文本结构
type StoryStructure struct {
	Introduction string    `json:"introduction"`
	Chapters     []Chapter `json:"chapters"`
	Conclusion   string    `json:"conclusion"`
}

// Chapter 故事章节
type Chapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Mood    string `json:"mood"`
}

// Scene 场景描述
type Scene struct {
	Chapter       int      `json:"chapter"`
	Setting       string   `json:"setting"`
	Characters    []string `json:"characters"`
	Action        string   `json:"action"`
	Mood          string   `json:"mood"`
	VisualDetails string   `json:"visualDetails"`
}

// ContentFailure 生成失败时写入content的诊断信息
type ContentFailure struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// EmptyContent 新建故事时的初始内容
func EmptyContent() StoryContent {
	return StoryContent{Scenes: []Scene{}, ImagePrompts: []string{}}
}

// ParseContent 解析content字段
func (s *Story) ParseContent() (*StoryContent, error) {
	content := EmptyContent()
	if len(s.Content) == 0 {
		return &content, nil
	}
	if err := json.Unmarshal(s.Content, &content); err != nil {
		return nil, fmt.Errorf("decode story content: %w", err)
	}
	return &content, nil
}

// ImagePrompts 返回内容中的图片提示词，内容不可解析时返回nil
func (s *Story) ImagePrompts() []string {
	content, err := s.ParseContent()
	if err != nil {
		return nil
	}
	return content.ImagePrompts
}

// EncodeContent 将内容编码为可写入content列的JSON
func EncodeContent(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode story content: %w", err)
	}
	return datatypes.JSON(b), nil
}
