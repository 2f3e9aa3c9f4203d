package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"whatif-server/internal/coordination"
	"whatif-server/internal/models"
	"whatif-server/internal/prompt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memoryMessages - потокобезопасная замена Durable Message Store.
type memoryMessages struct {
	mu          sync.Mutex
	seq         int
	byID        map[uuid.UUID]int
	items       []storedMessage
	appendCalls int
	// failAppend returns the error for the n-th call (1-based); nil means success.
	failAppend func(call int) error
	// beforeAppend runs outside the lock and may block to hold a writer back.
	beforeAppend func(msg *models.Message)
	listErr      error
}

type storedMessage struct {
	seq int
	msg models.Message
}

func newMemoryMessages() *memoryMessages {
	return &memoryMessages{byID: map[uuid.UUID]int{}}
}

func (m *memoryMessages) Append(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	hook := m.beforeAppend
	m.mu.Unlock()
	if hook != nil {
		hook(msg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if m.failAppend != nil {
		if err := m.failAppend(m.appendCalls); err != nil {
			return err
		}
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, ok := m.byID[msg.ID]; ok {
		return nil
	}
	m.seq++
	m.byID[msg.ID] = m.seq
	m.items = append(m.items, storedMessage{seq: m.seq, msg: *msg})
	return nil
}

func (m *memoryMessages) ListRecent(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var matched []storedMessage
	for _, it := range m.items {
		if it.msg.ConversationID == conversationID {
			matched = append(matched, it)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })
	out := []models.Message{}
	for i := 0; i < len(matched) && i < limit; i++ {
		out = append(out, matched[i].msg)
	}
	return out, nil
}

func (m *memoryMessages) byRole(conversationID string, role models.MessageRole) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, it := range m.items {
		if it.msg.ConversationID == conversationID && it.msg.Role == role {
			out = append(out, it.msg)
		}
	}
	return out
}

func (m *memoryMessages) setFailAppend(f func(call int) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppend = f
}

func (m *memoryMessages) setBeforeAppend(f func(msg *models.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeAppend = f
}

func (m *memoryMessages) contents(conversationID string, role models.MessageRole) []string {
	var out []string
	for _, msg := range m.byRole(conversationID, role) {
		out = append(out, msg.Content)
	}
	return out
}

// staticAccess разрешает доступ всем, если err не задан.
type staticAccess struct {
	err error
}

func (a staticAccess) CheckAccess(context.Context, string, uuid.UUID) error { return a.err }

func (a staticAccess) Create(context.Context, string, uuid.UUID, string) error { return nil }

// captureDispatcher запоминает задания, не выполняя их.
type captureDispatcher struct {
	mu   sync.Mutex
	jobs []models.GenerationJob
	err  error
}

func (d *captureDispatcher) Dispatch(_ context.Context, job models.GenerationJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *captureDispatcher) dispatched() []models.GenerationJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.GenerationJob(nil), d.jobs...)
}

// unavailableStore emulates an unreachable coordination backend.
type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string) (coordination.Entry, error) {
	return coordination.Entry{}, coordination.ErrUnavailable
}

func (unavailableStore) Set(context.Context, string, coordination.Entry, time.Duration) error {
	return coordination.ErrUnavailable
}

func (unavailableStore) SetIfAbsent(context.Context, string, coordination.Entry, time.Duration) (bool, error) {
	return false, coordination.ErrUnavailable
}

func (unavailableStore) CompareAndSet(context.Context, string, coordination.Entry, time.Duration) (bool, error) {
	return false, coordination.ErrUnavailable
}

func (unavailableStore) Delete(context.Context, ...string) error { return coordination.ErrUnavailable }

// gatedStore holds back the next Set of one key until released.
type gatedStore struct {
	coordination.Store
	mu      sync.Mutex
	key     string
	reached chan struct{}
	release chan struct{}
}

// hold arms the gate for key and returns channels signalling that the
// writer arrived and letting it through.
func (g *gatedStore) hold(key string) (reached <-chan struct{}, release chan<- struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.key = key
	g.reached = make(chan struct{})
	g.release = make(chan struct{})
	return g.reached, g.release
}

func (g *gatedStore) Set(ctx context.Context, key string, entry coordination.Entry, ttl time.Duration) error {
	g.mu.Lock()
	armed := g.key != "" && g.key == key
	reached, release := g.reached, g.release
	if armed {
		g.key = ""
	}
	g.mu.Unlock()

	if armed {
		close(reached)
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.Store.Set(ctx, key, entry, ttl)
}

func newGatedTaskStore(t *testing.T) (*coordination.TaskStore, *gatedStore) {
	t.Helper()
	mem := coordination.NewMemoryStore(0, zap.NewNop())
	t.Cleanup(mem.Close)
	gated := &gatedStore{Store: mem}
	return coordination.NewTaskStore(gated, 10*time.Minute, zap.NewNop()), gated
}

// waitFor fails the test if ch is not closed within a second.
func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func newTestTaskStore(t *testing.T) *coordination.TaskStore {
	t.Helper()
	mem := coordination.NewMemoryStore(0, zap.NewNop())
	t.Cleanup(mem.Close)
	return coordination.NewTaskStore(mem, 10*time.Minute, zap.NewNop())
}

func newTestSubmission(tasks *coordination.TaskStore, messages *memoryMessages, dispatcher *captureDispatcher) *SubmissionService {
	builder := prompt.NewBuilder(messages, prompt.EstimateCounter{}, "You are a storyteller.", 10, 0, zap.NewNop())
	return NewSubmissionService(staticAccess{}, messages, tasks, builder, dispatcher, SubmissionConfig{
		MaxMessageLength:  100,
		LockTTL:           5 * time.Second,
		LockWait:          2 * time.Second,
		LockRetryInterval: 5 * time.Millisecond,
	}, zap.NewNop())
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		GenerationTimeout:  time.Second,
		MaxGeneratedLength: 1000,
		PersistMaxAttempts: 3,
		PersistRetryDelay:  time.Millisecond,
	}
}

func newTestPoll(tasks *coordination.TaskStore, messages *memoryMessages, window time.Duration) *PollService {
	return NewPollService(staticAccess{}, messages, tasks, PollConfig{
		WaitWindow:           window,
		Interval:             10 * time.Millisecond,
		FallbackHistoryLimit: 10,
	}, zap.NewNop())
}

func queuedTask(conversationID, runID string) *models.Task {
	return &models.Task{
		ID:             conversationID,
		ConversationID: conversationID,
		RunID:          runID,
		Status:         models.TaskStatusQueued,
	}
}

// scriptedGenerator отдает ответы по очереди; после исчерпания - err.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	n       int
	// block, если задан, держит генерацию до закрытия канала или отмены ctx.
	block chan struct{}
}

func (g *scriptedGenerator) Generate(ctx context.Context, _ string, _ []models.Message, _ string) (string, error) {
	g.mu.Lock()
	g.n++
	n := g.n
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if n > len(g.replies) {
		if g.err != nil {
			return "", g.err
		}
		return "", errors.New("no scripted reply")
	}
	return g.replies[n-1], nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
