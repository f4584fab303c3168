package service

import (
	"errors"
	"fmt"
	"strings"

	"wisestory/internal/imagegen"
	"wisestory/internal/repository"
	"wisestory/internal/storage"
)

var (
	ErrNotFound             = repository.ErrNotFound
	ErrImageGeneration      = imagegen.ErrImageGeneration
	ErrStorage              = storage.ErrStorage
	ErrGeneration           = errors.New("content generation failed")
	ErrAssetGeneration      = errors.New("asset generation failed")
	ErrNoPrompts            = errors.New("no image prompts found")
	ErrGenerationInProgress = errors.New("generation already in progress")
	ErrPromptIndex          = errors.New("image prompt index out of range")
)

// GenerationError 文本内容生成失败
type GenerationError struct {
	Reason string
	Cause  error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("content generation failed: %s: %v", e.Reason, e.Cause)
	}
	return "content generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrGeneration}
	}
	return []error{ErrGeneration, e.Cause}
}

// AssetGenerationError 一次资源生成中失败的条目，格式为"Image {n}: {原因}"
type AssetGenerationError struct {
	Failures []string
}

func (e *AssetGenerationError) Error() string {
	return fmt.Sprintf("failed to generate %d image(s): %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

func (e *AssetGenerationError) Unwrap() error {
	return ErrAssetGeneration
}
