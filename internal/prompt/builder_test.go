package prompt_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"whatif-server/internal/mocks"
	"whatif-server/internal/models"
	"whatif-server/internal/prompt"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func msg(role models.MessageRole, content string, at time.Time) models.Message {
	return models.Message{ID: uuid.New(), ConversationID: "C1", Role: role, Content: content, CreatedAt: at}
}

func TestBuilder_ChronologicalWithoutFreshMessage(t *testing.T) {
	base := time.Now()
	fresh := msg(models.RoleUser, "fresh", base.Add(3*time.Second))
	newestFirst := []models.Message{
		fresh,
		msg(models.RoleAssistant, "a1", base.Add(2*time.Second)),
		msg(models.RoleUser, "u1", base.Add(time.Second)),
	}

	repo := mocks.NewMockMessageRepository(t)
	repo.On("ListRecent", context.Background(), "C1", 11).Return(newestFirst, nil)

	b := prompt.NewBuilder(repo, prompt.EstimateCounter{}, "system", 10, 0, zap.NewNop())
	p, err := b.Build(context.Background(), "C1", fresh.ID, "fresh")
	require.NoError(t, err)

	assert.Equal(t, "system", p.SystemPrompt)
	require.Len(t, p.History, 2)
	assert.Equal(t, "u1", p.History[0].Content)
	assert.Equal(t, "a1", p.History[1].Content)
}

func TestBuilder_TrimsOldestFirst(t *testing.T) {
	base := time.Now()
	long := strings.Repeat("x", 400) // ~100 tokens
	newestFirst := []models.Message{
		msg(models.RoleAssistant, "newest", base.Add(3*time.Second)),
		msg(models.RoleUser, long, base.Add(2*time.Second)),
		msg(models.RoleAssistant, long, base.Add(time.Second)),
	}

	repo := mocks.NewMockMessageRepository(t)
	repo.On("ListRecent", context.Background(), "C1", 4).Return(newestFirst, nil)

	// system(3) + user(1) + newest(2) + one long(100) fits into 120, two long do not
	b := prompt.NewBuilder(repo, prompt.EstimateCounter{}, "sys prompt", 3, 120, zap.NewNop())
	p, err := b.Build(context.Background(), "C1", uuid.New(), "hey")
	require.NoError(t, err)

	require.Len(t, p.History, 2)
	assert.Equal(t, models.RoleUser, p.History[0].Role)
	assert.Equal(t, "newest", p.History[1].Content)
}

func TestBuilder_HistoryDisabled(t *testing.T) {
	repo := mocks.NewMockMessageRepository(t)
	b := prompt.NewBuilder(repo, prompt.EstimateCounter{}, "sys", 0, 100, zap.NewNop())

	p, err := b.Build(context.Background(), "C1", uuid.New(), "hi")
	require.NoError(t, err)
	assert.Empty(t, p.History)
	repo.AssertNotCalled(t, "ListRecent")
}

func TestBuilder_RepositoryError(t *testing.T) {
	repo := mocks.NewMockMessageRepository(t)
	repo.On("ListRecent", context.Background(), "C1", 6).Return(nil, models.ErrDurableStoreUnavailable)

	b := prompt.NewBuilder(repo, prompt.EstimateCounter{}, "sys", 5, 0, zap.NewNop())
	_, err := b.Build(context.Background(), "C1", uuid.New(), "hi")
	assert.True(t, errors.Is(err, models.ErrDurableStoreUnavailable))
}

func TestEstimateCounter(t *testing.T) {
	c := prompt.EstimateCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 2, c.Count("привет"))
}
