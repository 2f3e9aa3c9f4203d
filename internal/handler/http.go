package handler

import (
	"context"
	"errors"
	"net/http"

	"whatif-server/internal/middleware"
	"whatif-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submitter принимает сообщения пользователя.
type Submitter interface {
	Submit(ctx context.Context, userID uuid.UUID, conversationID, content string) (models.Accepted, error)
}

// Poller отдает состояние задачи разговора.
type Poller interface {
	Poll(ctx context.Context, userID uuid.UUID, conversationID string) (models.PollResult, error)
	Snapshot(ctx context.Context, userID uuid.UUID, conversationID string) (models.PollResult, error)
}

// ConversationCreator заводит новые разговоры.
type ConversationCreator interface {
	Create(ctx context.Context, userID uuid.UUID, title string) (string, error)
}

// ConversationHandler обрабатывает HTTP запросы разговоров.
type ConversationHandler struct {
	creator   ConversationCreator
	submitter Submitter
	poller    Poller
	logger    *zap.Logger
}

// NewConversationHandler создает новый ConversationHandler.
func NewConversationHandler(creator ConversationCreator, submitter Submitter, poller Poller, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		creator:   creator,
		submitter: submitter,
		poller:    poller,
		logger:    logger.Named("ConversationHandler"),
	}
}

// RegisterRoutes регистрирует маршруты. auth проверяет токен пользователя.
func (h *ConversationHandler) RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	router.GET("/health", h.health)

	conversations := router.Group("/conversations", auth)
	{
		conversations.POST("", h.createConversation)
		conversations.POST("/:id/messages", h.submitMessage)
		conversations.GET("/:id/poll", h.poll)
		conversations.GET("/:id/task", h.task)
	}
}

func (h *ConversationHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *ConversationHandler) createConversation(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		handleServiceError(c, h.logger, models.ErrUnauthorized)
		return
	}

	var req CreateConversationRequest
	// Тело необязательно: разговор без заголовка допустим.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Code: models.ErrCodeBadRequest, Message: "Invalid request body"})
			return
		}
	}

	id, err := h.creator.Create(c.Request.Context(), userID, req.Title)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, CreateConversationResponse{ID: id})
}

func (h *ConversationHandler) submitMessage(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		handleServiceError(c, h.logger, models.ErrUnauthorized)
		return
	}

	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Code: models.ErrCodeBadRequest, Message: "Invalid request body"})
		return
	}

	accepted, err := h.submitter.Submit(c.Request.Context(), userID, c.Param("id"), req.Content)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, accepted)
}

func (h *ConversationHandler) poll(c *gin.Context) {
	h.respondPoll(c, h.poller.Poll)
}

func (h *ConversationHandler) task(c *gin.Context) {
	h.respondPoll(c, h.poller.Snapshot)
}

func (h *ConversationHandler) respondPoll(c *gin.Context, read func(context.Context, uuid.UUID, string) (models.PollResult, error)) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		handleServiceError(c, h.logger, models.ErrUnauthorized)
		return
	}

	res, err := read(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if res.Status == models.TaskStatusUnknown {
			// Обе базы недоступны: клиент получает статус задачи, а не голый 5xx.
			h.logger.Warn("Poll could not reach any store", zap.String("conversationID", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, models.TaskErrorResponse{
				TaskID: res.TaskID,
				Status: models.TaskStatusUnknown,
				Error:  "task status temporarily unavailable",
			})
			return
		}
		handleServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func handleServiceError(c *gin.Context, logger *zap.Logger, err error) {
	var status int
	var body any

	switch {
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrEmptyMessage),
		errors.Is(err, models.ErrMessageTooLong):
		status = http.StatusBadRequest
		body = models.ErrorResponse{Code: models.ErrCodeValidation, Message: err.Error()}
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusUnauthorized
		body = models.ErrorResponse{Code: models.ErrCodeUnauthorized, Message: "Unauthorized"}
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
		body = models.ErrorResponse{Code: models.ErrCodeForbidden, Message: "Access denied"}
	case errors.Is(err, models.ErrConversationNotFound):
		status = http.StatusNotFound
		body = models.ErrorResponse{Code: models.ErrCodeNotFound, Message: "Conversation not found"}
	case errors.Is(err, models.ErrDispatchUnavailable):
		status = http.StatusServiceUnavailable
		body = models.TaskErrorResponse{
			TaskID: c.Param("id"),
			Status: models.TaskStatusFailed,
			Error:  models.TaskErrorNotScheduled,
		}
	case errors.Is(err, models.ErrCoordinationUnavailable),
		errors.Is(err, models.ErrDurableStoreUnavailable):
		status = http.StatusServiceUnavailable
		body = models.TaskErrorResponse{
			Status: models.TaskStatusUnknown,
			Error:  "service temporarily unavailable, retry later",
		}
	case errors.Is(err, context.Canceled):
		// Клиент ушел, отвечать некому.
		c.Abort()
		return
	default:
		status = http.StatusInternalServerError
		body = models.ErrorResponse{Code: models.ErrCodeInternal, Message: "Internal server error"}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}
