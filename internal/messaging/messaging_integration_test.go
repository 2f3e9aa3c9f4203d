package messaging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"whatif-server/internal/messaging"
	"whatif-server/internal/models"
	"whatif-server/internal/testutil"
	"whatif-server/internal/worker"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type MessagingSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	conn      *amqp.Connection
	logger    *zap.Logger
}

func TestMessagingSuite(t *testing.T) {
	testutil.RequireDocker(t)
	suite.Run(t, new(MessagingSuite))
}

func (s *MessagingSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()

	var err error
	s.container, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(s.T(), err)

	url, err := s.container.AmqpURL(s.ctx)
	require.NoError(s.T(), err)
	s.conn, err = messaging.Connect(url, 5, time.Second, s.logger)
	require.NoError(s.T(), err)
}

func (s *MessagingSuite) TearDownSuite() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []models.GenerationJob
}

func (r *recordingDispatcher) Dispatch(_ context.Context, job models.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (s *MessagingSuite) TestPublishAndConsume() {
	queue := "generation_tasks_roundtrip"
	publisher, err := messaging.NewRabbitMQDispatcher(s.conn, queue, s.logger)
	s.Require().NoError(err)
	defer publisher.Close()

	job := models.GenerationJob{
		ConversationID: "conv-1",
		RunID:          "run-1",
		UserMessage:    "What if dinosaurs survived?",
		SystemPrompt:   "sys",
		History:        []models.Message{{Role: models.RoleUser, Content: "earlier"}},
	}
	s.Require().NoError(publisher.Dispatch(s.ctx, job))

	rec := &recordingDispatcher{}
	consumer := messaging.NewJobConsumer(s.conn, rec, queue, 2, s.logger)
	done := make(chan error, 1)
	go func() { done <- consumer.StartConsuming(s.ctx) }()

	s.Eventually(func() bool { return rec.count() == 1 }, 10*time.Second, 50*time.Millisecond)
	consumer.Stop()
	s.NoError(<-done)

	rec.mu.Lock()
	got := rec.jobs[0]
	rec.mu.Unlock()
	s.Equal(job.ConversationID, got.ConversationID)
	s.Equal(job.RunID, got.RunID)
	s.Equal(job.UserMessage, got.UserMessage)
	s.Require().Len(got.History, 1)
}

func (s *MessagingSuite) TestMalformedJobIsDeadLettered() {
	queue := "generation_tasks_malformed"
	publisher, err := messaging.NewRabbitMQDispatcher(s.conn, queue, s.logger)
	s.Require().NoError(err)
	defer publisher.Close()

	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()
	s.Require().NoError(ch.PublishWithContext(s.ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        []byte(`{"conversation_id": 42`),
	}))

	rec := &recordingDispatcher{}
	consumer := messaging.NewJobConsumer(s.conn, rec, queue, 1, s.logger)
	go func() { _ = consumer.StartConsuming(s.ctx) }()
	defer consumer.Stop()

	s.Eventually(func() bool {
		q, err := ch.QueueDeclarePassive(messaging.DeadLetterQueueName(queue), true, false, false, false, nil)
		return err == nil && q.Messages == 1
	}, 10*time.Second, 100*time.Millisecond)
	s.Equal(0, rec.count())
}

type fullDispatcher struct {
	mu       sync.Mutex
	attempts int
}

func (f *fullDispatcher) Dispatch(context.Context, models.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts < 3 {
		return worker.ErrQueueFull
	}
	return nil
}

func (s *MessagingSuite) TestFullPoolRequeues() {
	queue := "generation_tasks_requeue"
	publisher, err := messaging.NewRabbitMQDispatcher(s.conn, queue, s.logger)
	s.Require().NoError(err)
	defer publisher.Close()
	s.Require().NoError(publisher.Dispatch(s.ctx, models.GenerationJob{ConversationID: "c", RunID: "r"}))

	full := &fullDispatcher{}
	consumer := messaging.NewJobConsumer(s.conn, full, queue, 1, s.logger)
	go func() { _ = consumer.StartConsuming(s.ctx) }()
	defer consumer.Stop()

	s.Eventually(func() bool {
		full.mu.Lock()
		defer full.mu.Unlock()
		return full.attempts >= 3
	}, 15*time.Second, 100*time.Millisecond)
}
