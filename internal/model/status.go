package model

import (
	"errors"
	"fmt"
	"slices"
)

// Status 故事生成状态
type Status string

const (
	StatusDraft             Status = "draft"
	StatusProcessingContent Status = "processing_content"
	StatusProcessingAssets  Status = "processing_assets"
	StatusGeneratedContent  Status = "generated_content"
	StatusGenerated         Status = "generated"
	StatusError             Status = "error"
)

// Event 触发状态迁移的事件
type Event string

const (
	EventStartContent     Event = "start_content"
	EventContentGenerated Event = "content_generated"
	EventStartAssets      Event = "start_assets"
	EventAssetsGenerated  Event = "assets_generated"
	EventAssetsFailed     Event = "assets_failed"
	EventFail             Event = "fail"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type transition struct {
	from []Status
	to   Status
}

var transitions = map[Event]transition{
	EventStartContent: {
		from: []Status{StatusDraft, StatusGeneratedContent, StatusGenerated, StatusError},
		to:   StatusProcessingContent,
	},
	EventContentGenerated: {
		from: []Status{StatusProcessingContent},
		to:   StatusGeneratedContent,
	},
	EventStartAssets: {
		from: []Status{StatusGeneratedContent, StatusGenerated, StatusError},
		to:   StatusProcessingAssets,
	},
	EventAssetsGenerated: {
		from: []Status{StatusProcessingAssets},
		to:   StatusGenerated,
	},
	EventAssetsFailed: {
		from: []Status{StatusProcessingAssets},
		to:   StatusError,
	},
	EventFail: {
		from: []Status{StatusProcessingContent, StatusProcessingAssets},
		to:   StatusError,
	},
}

// Next 计算current在event下的目标状态
func Next(current Status, event Event) (Status, error) {
	t, ok := transitions[event]
	if !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	if !slices.Contains(t.from, current) {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, current)
	}
	return t.to, nil
}

// Sources 返回event允许的源状态，用于条件更新
func Sources(event Event) []Status {
	return slices.Clone(transitions[event].from)
}

// Target 返回event的目标状态
func Target(event Event) Status {
	return transitions[event].to
}

// IsProcessing 是否处于生成中
func (s Status) IsProcessing() bool {
	return s == StatusProcessingContent || s == StatusProcessingAssets
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusProcessingContent, StatusProcessingAssets,
		StatusGeneratedContent, StatusGenerated, StatusError:
		return true
	}
	return false
}
