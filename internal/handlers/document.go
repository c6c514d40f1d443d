package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/fluentbot/internal/logger"
	"github.com/jonesrussell/fluentbot/internal/models"
	"github.com/jonesrussell/fluentbot/internal/queue"
	"github.com/jonesrussell/fluentbot/internal/repository"
)

type DocumentHandler struct {
	sources   *repository.SourceRepository
	documents *repository.DocumentRepository
	outbox    *repository.OutboxRepository
	producer  *queue.Producer
	logger    logger.Logger
}

func NewDocumentHandler(
	sources *repository.SourceRepository,
	documents *repository.DocumentRepository,
	outbox *repository.OutboxRepository,
	producer *queue.Producer,
	log logger.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		sources:   sources,
		documents: documents,
		outbox:    outbox,
		producer:  producer,
		logger:    log,
	}
}

type addDocumentRequest struct {
	URL string `json:"url" binding:"required"`
}

// Add queues one extra URL onto an existing source.
func (h *DocumentHandler) Add(c *gin.Context) {
	sourceID := c.Param("id")

	source, err := h.sources.GetForUser(c.Request.Context(), sourceID, userID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		h.logger.Error("Failed to get source", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get source"})
		return
	}

	var req addDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	// Park the source in queued before dispatching. A sibling run may
	// already hold it in indexing; the new document rides along with that
	// run, so the rejected transition is fine.
	if err := h.sources.TransitionStatus(c.Request.Context(), source.ID, models.StatusQueued); err != nil &&
		!errors.Is(err, models.ErrInvalidTransition) {
		h.logger.Error("Failed to queue source",
			logger.String("source_id", source.ID),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue document"})
		return
	}

	job, err := queue.NewJob(queue.TypeProcessDocument, queue.ProcessDocumentPayload{
		SourceID: source.ID,
		URL:      req.URL,
	})
	if err == nil {
		_, err = h.producer.Enqueue(c.Request.Context(), job)
	}
	if err != nil {
		h.logger.Error("Failed to enqueue document job",
			logger.String("source_id", source.ID),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue document"})
		return
	}

	h.logger.Info("Document queued",
		logger.String("source_id", source.ID),
		logger.String("url", req.URL),
	)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *DocumentHandler) ListBySource(c *gin.Context) {
	sourceID := c.Param("id")

	if _, err := h.sources.GetForUser(c.Request.Context(), sourceID, userID(c)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		h.logger.Error("Failed to get source", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get source"})
		return
	}

	docs, err := h.documents.ListBySource(c.Request.Context(), sourceID)
	if err != nil {
		h.logger.Error("Failed to list documents", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list documents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.documents.DeleteWithCleanup(c.Request.Context(), h.outbox, id, userID(c)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
			return
		}
		h.logger.Error("Failed to delete document",
			logger.String("document_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete document"})
		return
	}

	h.logger.Info("Document deleted", logger.String("document_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
