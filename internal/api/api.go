package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/healthadvisor/server/internal/chat"
	"github.com/healthadvisor/server/internal/models"
	"github.com/healthadvisor/server/internal/ratelimit"
)

// ChatService is the orchestrator surface the HTTP layer consumes.
type ChatService interface {
	CreateConversation(ctx context.Context, userID, initialMessage string) (*chat.TurnResult, error)
	SendMessage(ctx context.Context, userID, conversationID, message string) (*chat.TurnResult, error)
	GetConversationMessages(ctx context.Context, conversationID, userID string, page models.Page) (*models.MessagePage, error)
	GetUserConversations(ctx context.Context, userID string, page models.Page) (*models.ConversationPage, error)
}

// HealthRecords covers the health-record read and write paths.
type HealthRecords interface {
	LogRecord(ctx context.Context, record models.HealthRecord) (*models.HealthRecord, error)
	RecentRecords(ctx context.Context, userID string, recordType models.RecordType, limit int) ([]models.HealthRecord, error)
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type Handler struct {
	authService AuthService
	chatService ChatService
	records     HealthRecords
	verifier    TokenVerifier
	limiter     ratelimit.Limiter
	logger      *zap.Logger
}

func NewHandler(authService AuthService, chatService ChatService, records HealthRecords, verifier TokenVerifier, limiter ratelimit.Limiter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		authService: authService,
		chatService: chatService,
		records:     records,
		verifier:    verifier,
		limiter:     limiter,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	authGroup := router.Group("/api/auth")
	authGroup.POST("/register", h.handleRegister)
	authGroup.POST("/login", h.handleLogin)

	apiGroup := router.Group("/api", h.requireUser)

	chatGroup := apiGroup.Group("/chat")
	chatGroup.POST("/conversations", h.rateLimited, h.handleCreateConversation)
	chatGroup.POST("/messages", h.rateLimited, h.handleSendMessage)
	chatGroup.GET("/conversations", h.handleListConversations)
	chatGroup.GET("/conversations/:id/messages", h.handleListMessages)

	healthGroup := apiGroup.Group("/health-records")
	healthGroup.POST("/meals", h.handleLogMeal)
	healthGroup.POST("/lab-results", h.handleLogLabResult)
	healthGroup.POST("/symptoms", h.handleLogSymptom)
	healthGroup.GET("/:type", h.handleRecentRecords)
}

type createConversationRequest struct {
	Message string `json:"message"`
}

type sendMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

func (h *Handler) handleCreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_payload", "invalid request payload")
		return
	}

	result, err := h.chatService.CreateConversation(c.Request.Context(), currentUserID(c), req.Message)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *Handler) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_payload", "invalid request payload")
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), currentUserID(c), req.ConversationID, req.Message)
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleListConversations(c *gin.Context) {
	page, err := h.chatService.GetUserConversations(c.Request.Context(), currentUserID(c), pageFromQuery(c))
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *Handler) handleListMessages(c *gin.Context) {
	conversationID := c.Param("id")

	page, err := h.chatService.GetConversationMessages(c.Request.Context(), conversationID, currentUserID(c), pageFromQuery(c))
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

type mealRequest struct {
	Description string    `json:"description"`
	MealType    string    `json:"mealType"`
	RecordedAt  time.Time `json:"recordedAt"`
}

type labResultRequest struct {
	TestType   string            `json:"testType"`
	Results    map[string]string `json:"results"`
	RecordedAt time.Time         `json:"recordedAt"`
}

type symptomRequest struct {
	Description string    `json:"description"`
	Severity    int       `json:"severity"`
	Duration    string    `json:"duration"`
	RecordedAt  time.Time `json:"recordedAt"`
}

func (h *Handler) handleLogMeal(c *gin.Context) {
	var req mealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_payload", "invalid request payload")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(c, http.StatusBadRequest, "invalid_input", "description is required")
		return
	}

	h.logRecord(c, models.HealthRecord{
		UserID:      currentUserID(c),
		Type:        models.RecordMeal,
		Description: req.Description,
		MealType:    req.MealType,
		RecordedAt:  req.RecordedAt,
	})
}

func (h *Handler) handleLogLabResult(c *gin.Context) {
	var req labResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_payload", "invalid request payload")
		return
	}
	if strings.TrimSpace(req.TestType) == "" {
		writeError(c, http.StatusBadRequest, "invalid_input", "testType is required")
		return
	}

	h.logRecord(c, models.HealthRecord{
		UserID:     currentUserID(c),
		Type:       models.RecordLabResult,
		TestType:   req.TestType,
		Results:    req.Results,
		RecordedAt: req.RecordedAt,
	})
}

func (h *Handler) handleLogSymptom(c *gin.Context) {
	var req symptomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_payload", "invalid request payload")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(c, http.StatusBadRequest, "invalid_input", "description is required")
		return
	}
	if req.Severity < 0 || req.Severity > 10 {
		writeError(c, http.StatusBadRequest, "invalid_input", "severity must be between 0 and 10")
		return
	}

	h.logRecord(c, models.HealthRecord{
		UserID:      currentUserID(c),
		Type:        models.RecordSymptom,
		Description: req.Description,
		Severity:    req.Severity,
		Duration:    req.Duration,
		RecordedAt:  req.RecordedAt,
	})
}

func (h *Handler) logRecord(c *gin.Context, record models.HealthRecord) {
	stored, err := h.records.LogRecord(c.Request.Context(), record)
	if err != nil {
		h.logger.Error("log health record failed", zap.String("type", string(record.Type)), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal_error", "failed to save record")
		return
	}

	c.JSON(http.StatusCreated, stored)
}

func (h *Handler) handleRecentRecords(c *gin.Context) {
	recordType, ok := recordTypeFromPath(c.Param("type"))
	if !ok {
		writeError(c, http.StatusNotFound, "not_found", "unknown record type")
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	records, err := h.records.RecentRecords(c.Request.Context(), currentUserID(c), recordType, limit)
	if err != nil {
		h.logger.Error("list health records failed", zap.String("type", string(recordType)), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal_error", "failed to load records")
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": records})
}

// writeChatError maps the orchestrator's error taxonomy onto HTTP statuses.
// Unrecognized errors become opaque 500s; nothing from the store or the
// provider leaks to the client.
func (h *Handler) writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
		writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, models.ErrConversationNotFound):
		writeError(c, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		writeError(c, http.StatusServiceUnavailable, "service_unavailable", "assistant is temporarily unavailable")
	default:
		h.logger.Error("chat request failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

func recordTypeFromPath(raw string) (models.RecordType, bool) {
	switch raw {
	case "meals":
		return models.RecordMeal, true
	case "lab-results":
		return models.RecordLabResult, true
	case "symptoms":
		return models.RecordSymptom, true
	default:
		return "", false
	}
}

func pageFromQuery(c *gin.Context) models.Page {
	page := models.Page{}
	if raw := c.Query("page"); raw != "" {
		page.Number, _ = strconv.Atoi(raw)
	}
	if raw := c.Query("limit"); raw != "" {
		page.Limit, _ = strconv.Atoi(raw)
	}
	return page.Normalize()
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":  code,
		"error": message,
	})
}
