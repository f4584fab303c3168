package queue

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Local 进程内有界任务队列
type Local struct {
	handler Handler
	workers int
	tasks   chan Task
	log     logrus.FieldLogger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewLocal 创建进程内队列，size为缓冲区大小
func NewLocal(handler Handler, workers, size int, log logrus.FieldLogger) *Local {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	return &Local{
		handler: handler,
		workers: workers,
		tasks:   make(chan Task, size),
		log:     log.WithField("dispatcher", "local"),
	}
}

// Start 启动工作协程，ctx取消后处理中的任务会收到取消信号
func (q *Local) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			for task := range q.tasks {
				q.run(ctx, id, task)
			}
		}(i)
	}
	q.log.WithField("workers", q.workers).Info("asset workers started")
}

func (q *Local) run(ctx context.Context, worker int, task Task) {
	log := q.log.WithFields(logrus.Fields{"worker": worker, "story_id": task.StoryID})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("asset task panicked")
		}
	}()
	if err := q.handler(ctx, task.StoryID); err != nil {
		log.WithError(err).Error("asset generation failed")
		return
	}
	log.Info("asset generation finished")
}

// Dispatch 入队，不阻塞
func (q *Local) Dispatch(ctx context.Context, storyID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.tasks <- Task{StoryID: storyID}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 停止接收任务并等待队列中任务处理完毕
func (q *Local) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
	q.log.Info("asset workers stopped")
}
