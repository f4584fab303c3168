package queue

import (
	"context"
	"errors"
)

var (
	ErrQueueFull    = errors.New("asset queue is full")
	ErrQueueStopped = errors.New("asset queue is stopped")
)

// Handler 处理一个故事的插图生成任务
type Handler func(ctx context.Context, storyID string) error

// Task 队列消息
type Task struct {
	StoryID string `json:"story_id"`
}
