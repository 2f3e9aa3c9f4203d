package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"whatif-server/internal/mocks"
	"whatif-server/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConversationService_Create(t *testing.T) {
	convs := mocks.NewMockConversationRepository(t)
	userID := uuid.New()
	convs.On("Create", mock.Anything, mock.AnythingOfType("string"), userID, "Rome never fell").Return(nil).Once()

	id, err := NewConversationService(convs, zap.NewNop()).Create(context.Background(), userID, " Rome never fell ")
	require.NoError(t, err)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)
}

func TestConversationService_CreateErrors(t *testing.T) {
	convs := mocks.NewMockConversationRepository(t)
	svc := NewConversationService(convs, zap.NewNop())

	_, err := svc.Create(context.Background(), uuid.New(), strings.Repeat("x", maxTitleLength+1))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	convs.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()
	_, err = svc.Create(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, models.ErrDurableStoreUnavailable)
}
