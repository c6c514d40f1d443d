package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
	"github.com/jonesrussell/fluentbot/internal/storage"
)

type SourceHandler struct {
	bots      *repository.BotRepository
	sources   *repository.SourceRepository
	documents *repository.DocumentRepository
	outbox    *repository.OutboxRepository
	producer  *queue.Producer
	blobs     storage.Store
	logger    logger.Logger
}

func NewSourceHandler(
	bots *repository.BotRepository,
	sources *repository.SourceRepository,
	documents *repository.DocumentRepository,
	outbox *repository.OutboxRepository,
	producer *queue.Producer,
	blobs storage.Store,
	log logger.Logger,
) *SourceHandler {
	return &SourceHandler{
		bots:      bots,
		sources:   sources,
		documents: documents,
		outbox:    outbox,
		producer:  producer,
		blobs:     blobs,
		logger:    log,
	}
}

type createSourceRequest struct {
	Type            string `form:"type" json:"type" binding:"required"`
	Title           string `form:"title" json:"title"`
	URL             string `form:"url" json:"url"`
	RefreshSchedule string `form:"refresh_schedule" json:"refresh_schedule"`
}

// Create adds a source to a bot and queues its ingestion job. URL-list
// sources arrive as multipart uploads; the file lands in the blob store
// before the row is written so the job can always find it.
func (h *SourceHandler) Create(c *gin.Context) {
	botID := c.Param("id")
	uid := userID(c)

	if _, err := h.bots.GetByID(c.Request.Context(), botID, uid); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Bot not found"})
			return
		}
		h.logger.Error("Failed to load bot", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load bot"})
		return
	}

	var req createSourceRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	sourceType := models.SourceType(req.Type)
	if !sourceType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source type", "type": req.Type})
		return
	}

	schedule := models.RefreshSchedule(req.RefreshSchedule)
	if req.RefreshSchedule == "" {
		schedule = models.RefreshNever
	}
	if !schedule.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown refresh schedule", "refresh_schedule": req.RefreshSchedule})
		return
	}

	source := &models.Source{
		BotID:           botID,
		UserID:          uid,
		Type:            sourceType,
		Title:           req.Title,
		RefreshSchedule: schedule,
	}

	switch sourceType {
	case models.SourceTypeURL:
		if req.URL == "" && req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url is required for url sources"})
			return
		}
	case models.SourceTypeURLList:
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file upload is required for url_list sources"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
			return
		}
		defer file.Close()

		key, err := h.blobs.Save(c.Request.Context(), fileHeader.Filename, file)
		if err != nil {
			h.logger.Error("Failed to store url list", logger.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store uploaded file"})
			return
		}
		source.Data = models.JSONMap{models.DataKeyFilePath: key}
	case models.SourceTypeWordPress:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "wordpress sources are not supported yet"})
		return
	}

	if err := h.sources.Create(c.Request.Context(), source); err != nil {
		h.logger.Error("Failed to create source", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create source"})
		return
	}

	job, err := queue.NewJob(queue.TypeProcessSource, queue.ProcessSourcePayload{
		SourceID: source.ID,
		URL:      req.URL,
	})
	if err == nil {
		_, err = h.producer.Enqueue(c.Request.Context(), job)
	}
	if err != nil {
		// The source stays queued; the refresh sweep will not pick it up,
		// so surface the enqueue failure instead of hiding it.
		h.logger.Error("Failed to enqueue source job",
			logger.String("source_id", source.ID),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Source created but ingestion could not be queued"})
		return
	}

	h.logger.Info("Source created",
		logger.String("source_id", source.ID),
		logger.String("bot_id", botID),
		logger.String("type", string(sourceType)),
	)
	c.JSON(http.StatusCreated, source)
}

func (h *SourceHandler) ListByBot(c *gin.Context) {
	botID := c.Param("id")

	if _, err := h.bots.GetByID(c.Request.Context(), botID, userID(c)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Bot not found"})
			return
		}
		h.logger.Error("Failed to load bot", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load bot"})
		return
	}

	sources, err := h.sources.ListByBot(c.Request.Context(), botID)
	if err != nil {
		h.logger.Error("Failed to list sources", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sources"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources, "count": len(sources)})
}

func (h *SourceHandler) GetByID(c *gin.Context) {
	source, err := h.sources.GetForUser(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		h.logger.Error("Failed to get source", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get source"})
		return
	}
	c.JSON(http.StatusOK, source)
}

// Status returns the source together with its documents, so callers can
// poll ingestion progress in one request.
func (h *SourceHandler) Status(c *gin.Context) {
	source, err := h.sources.GetForUser(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		h.logger.Error("Failed to get source", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get source"})
		return
	}

	docs, err := h.documents.ListBySource(c.Request.Context(), source.ID)
	if err != nil {
		h.logger.Error("Failed to list documents", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list documents"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"source": source, "documents": docs})
}

// Refresh forces a new ingestion run for a source.
func (h *SourceHandler) Refresh(c *gin.Context) {
	id := c.Param("id")

	source, err := h.sources.GetForUser(c.Request.Context(), id, userID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		h.logger.Error("Failed to get source", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get source"})
		return
	}

	if err := h.sources.TransitionStatus(c.Request.Context(), source.ID, models.StatusQueued); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": "Source is already being ingested"})
			return
		}
		h.logger.Error("Failed to queue source", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue source"})
		return
	}

	job, err := queue.NewJob(queue.TypeProcessSource, queue.ProcessSourcePayload{SourceID: source.ID})
	if err == nil {
		_, err = h.producer.Enqueue(c.Request.Context(), job)
	}
	if err != nil {
		h.logger.Error("Failed to enqueue refresh job",
			logger.String("source_id", source.ID),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue refresh"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *SourceHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.sources.DeleteWithCleanup(c.Request.Context(), h.outbox, id, userID(c)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		h.logger.Error("Failed to delete source",
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete source"})
		return
	}

	h.logger.Info("Source deleted", logger.String("source_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
