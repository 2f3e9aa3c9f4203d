package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatif-server/internal/models"
	"whatif-server/internal/worker"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// JobConsumer читает задачи генерации из очереди и передает их локальному пулу.
type JobConsumer struct {
	conn       *amqp.Connection
	dispatcher worker.Dispatcher
	queueName  string
	prefetch   int
	// requeueDelay - пауза перед nack с requeue, когда пул занят.
	requeueDelay time.Duration
	logger       *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewJobConsumer создает консьюмера. dispatcher обычно *worker.Pool.
func NewJobConsumer(conn *amqp.Connection, dispatcher worker.Dispatcher, queueName string, prefetch int, logger *zap.Logger) *JobConsumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &JobConsumer{
		conn:         conn,
		dispatcher:   dispatcher,
		queueName:    queueName,
		prefetch:     prefetch,
		requeueDelay: 500 * time.Millisecond,
		logger:       logger.Named("JobConsumer"),
		stop:         make(chan struct{}),
	}
}

// StartConsuming блокируется до Stop, отмены ctx или закрытия канала брокера.
func (c *JobConsumer) StartConsuming(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("consumer: не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	if err := declareGenerationQueue(ch, c.queueName); err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("consumer: не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"whatif-generation-consumer",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consumer: не удалось зарегистрировать консьюмера: %w", err)
	}
	c.logger.Info("Consumer started", zap.String("queue", c.queueName), zap.Int("prefetch", c.prefetch))

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			if stop := c.handleDelivery(ctx, d); stop {
				return nil
			}
		case <-c.stop:
			c.logger.Info("Consumer stop requested")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleDelivery возвращает true, если консьюмер должен остановиться.
func (c *JobConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) bool {
	var job models.GenerationJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.ConversationID == "" || job.RunID == "" {
		c.logger.Error("Malformed generation job, dead-lettering",
			zap.Uint64("deliveryTag", d.DeliveryTag), zap.Error(err))
		_ = d.Nack(false, false)
		return false
	}
	log := c.logger.With(zap.String("conversationID", job.ConversationID), zap.String("runID", job.RunID))

	err := c.dispatcher.Dispatch(ctx, job)
	switch {
	case err == nil:
		// Задача в локальной очереди; дальнейшие сбои обрабатывает воркер.
		_ = d.Ack(false)
		return false
	case errors.Is(err, worker.ErrQueueFull):
		log.Warn("Worker pool is full, requeueing job")
		select {
		case <-time.After(c.requeueDelay):
		case <-c.stop:
		case <-ctx.Done():
		}
		_ = d.Nack(false, true)
		return false
	default:
		log.Warn("Worker pool rejected job, requeueing and stopping", zap.Error(err))
		_ = d.Nack(false, true)
		return errors.Is(err, worker.ErrPoolClosed)
	}
}

// Stop останавливает консьюмер. Безопасно вызывать несколько раз.
func (c *JobConsumer) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Consumer stopping")
		close(c.stop)
	})
}
