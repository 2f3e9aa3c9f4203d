// Package messaging передает задачи генерации через RabbitMQ.
package messaging

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const deadLetterRoutingKey = "dlq"

// DeadLetterQueueName - очередь, куда попадают нечитаемые задачи.
func DeadLetterQueueName(queueName string) string { return queueName + "_dlq" }

func deadLetterExchangeName(queueName string) string { return queueName + "_dlx" }

// declareGenerationQueue объявляет durable-очередь задач вместе с DLX/DLQ.
// Параметры должны совпадать у паблишера и консьюмера.
func declareGenerationQueue(ch *amqp.Channel, queueName string) error {
	dlx := deadLetterExchangeName(queueName)
	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLX '%s': %w", dlx, err)
	}
	dlq := DeadLetterQueueName(queueName)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("не удалось объявить DLQ '%s': %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, deadLetterRoutingKey, dlx, false, nil); err != nil {
		return fmt.Errorf("не удалось привязать DLQ '%s': %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	); err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", queueName, err)
	}
	return nil
}

// Connect подключается к RabbitMQ с несколькими попытками.
func Connect(url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var conn *amqp.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}
