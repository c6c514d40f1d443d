package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/repository"
)

type BotHandler struct {
	bots   *repository.BotRepository
	outbox *repository.OutboxRepository
	logger logger.Logger
}

func NewBotHandler(bots *repository.BotRepository, outbox *repository.OutboxRepository, log logger.Logger) *BotHandler {
	return &BotHandler{
		bots:   bots,
		outbox: outbox,
		logger: log,
	}
}

type createBotRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *BotHandler) Create(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	bot := &models.Bot{
		UserID:      userID(c),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.bots.Create(c.Request.Context(), bot); err != nil {
		h.logger.Error("Failed to create bot",
			logger.String("name", req.Name),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create bot"})
		return
	}

	h.logger.Info("Bot created",
		logger.String("bot_id", bot.ID),
		logger.String("user_id", bot.UserID),
	)
	c.JSON(http.StatusCreated, bot)
}

func (h *BotHandler) GetByID(c *gin.Context) {
	bot, err := h.bots.GetByID(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Bot not found"})
			return
		}
		h.logger.Error("Failed to get bot", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get bot"})
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (h *BotHandler) List(c *gin.Context) {
	bots, err := h.bots.List(c.Request.Context(), userID(c))
	if err != nil {
		h.logger.Error("Failed to list bots", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list bots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots, "count": len(bots)})
}

type updateBotRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *BotHandler) Update(c *gin.Context) {
	var req updateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	bot := &models.Bot{
		ID:          c.Param("id"),
		UserID:      userID(c),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.bots.Update(c.Request.Context(), bot); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Bot not found"})
			return
		}
		h.logger.Error("Failed to update bot", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update bot"})
		return
	}

	updated, err := h.bots.GetByID(c.Request.Context(), bot.ID, bot.UserID)
	if err != nil {
		c.JSON(http.StatusOK, bot)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *BotHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.bots.DeleteWithCleanup(c.Request.Context(), h.outbox, id, userID(c)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Bot not found"})
			return
		}
		h.logger.Error("Failed to delete bot",
			logger.String("bot_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete bot"})
		return
	}

	h.logger.Info("Bot deleted", logger.String("bot_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
