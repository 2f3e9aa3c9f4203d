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

// ErrPublishNotConfirmed - брокер не подтвердил сообщение.
var ErrPublishNotConfirmed = errors.New("publish was not confirmed by broker")

// RabbitMQDispatcher публикует задачи генерации в очередь. Реализует worker.Dispatcher.
type RabbitMQDispatcher struct {
	mu             sync.Mutex
	channel        *amqp.Channel
	queueName      string
	publishTimeout time.Duration
	logger         *zap.Logger
}

// Compile-time check
var _ worker.Dispatcher = (*RabbitMQDispatcher)(nil)

// NewRabbitMQDispatcher открывает канал в режиме publisher confirms и объявляет очередь.
func NewRabbitMQDispatcher(conn *amqp.Connection, queueName string, logger *zap.Logger) (*RabbitMQDispatcher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: не удалось открыть канал: %w", err)
	}
	if err := declareGenerationQueue(ch, queueName); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("dispatcher: не удалось включить confirm mode: %w", err)
	}
	d := &RabbitMQDispatcher{
		channel:        ch,
		queueName:      queueName,
		publishTimeout: 10 * time.Second,
		logger:         logger.Named("RabbitMQDispatcher"),
	}
	d.logger.Info("Generation queue declared", zap.String("queue", queueName))
	return d, nil
}

// Dispatch публикует задачу и ждет подтверждения брокера (но не выполнения задачи).
func (d *RabbitMQDispatcher) Dispatch(ctx context.Context, job models.GenerationJob) error {
	log := d.logger.With(zap.String("conversationID", job.ConversationID), zap.String("runID", job.RunID))

	body, err := json.Marshal(job)
	if err != nil {
		log.Error("Failed to marshal generation job", zap.Error(err))
		return fmt.Errorf("ошибка сериализации задачи генерации: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()

	d.mu.Lock()
	confirmation, err := d.channel.PublishWithDeferredConfirmWithContext(ctx,
		"",          // default exchange
		d.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.RunID,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        "whatif-server",
		},
	)
	d.mu.Unlock()
	if err != nil {
		log.Error("Failed to publish generation job", zap.Error(err))
		return fmt.Errorf("ошибка публикации задачи генерации: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		log.Error("Publish confirmation wait failed", zap.Error(err))
		return fmt.Errorf("ошибка ожидания подтверждения: %w", err)
	}
	if !acked {
		log.Error("Broker nacked generation job")
		return ErrPublishNotConfirmed
	}
	log.Debug("Generation job published", zap.String("queue", d.queueName))
	return nil
}

// Close закрывает канал.
func (d *RabbitMQDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channel != nil {
		return d.channel.Close()
	}
	return nil
}
