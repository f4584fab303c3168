package queue

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Inline 在调用方goroutine中同步执行任务，失败只记录日志
type Inline struct {
	handler Handler
	log     logrus.FieldLogger
}

func NewInline(handler Handler, log logrus.FieldLogger) *Inline {
	return &Inline{handler: handler, log: log.WithField("dispatcher", "inline")}
}

func (d *Inline) Dispatch(ctx context.Context, storyID string) error {
	if err := d.handler(ctx, storyID); err != nil {
		d.log.WithError(err).WithField("story_id", storyID).Error("asset generation failed")
	}
	return nil
}
