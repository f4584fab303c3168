package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const DefaultQueueName = "story_asset_tasks"

// RabbitMQ 基于持久化队列派发插图任务
type RabbitMQ struct {
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	queueName string
	handler   Handler
	log       logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRabbitMQ 连接RabbitMQ并声明队列
func NewRabbitMQ(url, queueName string, handler Handler, log logrus.FieldLogger) (*RabbitMQ, error) {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if _, err := declareQueue(ch, queueName); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &RabbitMQ{
		conn:      conn,
		pubCh:     ch,
		queueName: queueName,
		handler:   handler,
		log:       log.WithFields(logrus.Fields{"dispatcher": "rabbitmq", "queue": queueName}),
	}, nil
}

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return q, fmt.Errorf("failed to declare queue '%s': %w", name, err)
	}
	return q, nil
}

// Dispatch 发布任务消息
func (r *RabbitMQ) Dispatch(ctx context.Context, storyID string) error {
	body, err := EncodeTask(Task{StoryID: storyID})
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.pubCh.PublishWithContext(ctx,
		"",          // exchange
		r.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish asset task: %w", err)
	}
	r.log.WithField("story_id", storyID).Debug("asset task published")
	return nil
}

// Start 在独立channel上消费任务，handler返回后确认消息
func (r *RabbitMQ) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("consumer already started")
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}
	msgs, err := ch.Consume(
		r.queueName,
		fmt.Sprintf("asset-consumer-%d", time.Now().UnixNano()),
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	localCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		defer ch.Close()
		for {
			select {
			case <-localCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					r.log.Warn("delivery channel closed")
					return
				}
				if localCtx.Err() != nil {
					// 已开始关闭，交还给队列
					_ = msg.Nack(false, true)
					return
				}
				r.handle(localCtx, msg)
			}
		}
	}()
	r.log.Info("asset consumer started")
	return nil
}

func (r *RabbitMQ) handle(ctx context.Context, msg amqp.Delivery) {
	task, err := DecodeTask(msg.Body)
	if err != nil {
		r.log.WithError(err).Error("discarding malformed asset task")
		_ = msg.Nack(false, false)
		return
	}
	log := r.log.WithField("story_id", task.StoryID)
	// 关闭时等待当前任务完成，不中断生成
	// 失败已写入故事状态，不重新入队
	if err := r.handler(context.WithoutCancel(ctx), task.StoryID); err != nil {
		log.WithError(err).Error("asset generation failed")
	} else {
		log.Info("asset generation finished")
	}
	if err := msg.Ack(false); err != nil {
		log.WithError(err).Error("failed to ack asset task")
	}
}

// Close 停止接收新任务，等待当前任务完成后关闭连接
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	var errs []error
	if err := r.pubCh.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EncodeTask 编码任务消息
func EncodeTask(t Task) ([]byte, error) {
	if t.StoryID == "" {
		return nil, errors.New("story id required")
	}
	return json.Marshal(t)
}

// DecodeTask 解码任务消息
func DecodeTask(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return t, fmt.Errorf("decode asset task: %w", err)
	}
	if t.StoryID == "" {
		return t, errors.New("story id required")
	}
	return t, nil
}
