package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chat-sync/internal/backend"
	"chat-sync/internal/chatsync"
	"chat-sync/internal/logger"
	"chat-sync/internal/telemetry"
)

// ThreadHandler exposes the per-thread message synchronizers.
type ThreadHandler struct {
	sessions *chatsync.Sessions
	audit    *telemetry.AuditEmitter
}

// NewThreadHandler builds a ThreadHandler.
func NewThreadHandler(sessions *chatsync.Sessions, audit *telemetry.AuditEmitter) *ThreadHandler {
	return &ThreadHandler{sessions: sessions, audit: audit}
}

// OpenThread starts synchronizing a thread and returns its seeded log.
func (h *ThreadHandler) OpenThread(c *gin.Context) {
	thread, err := h.sessions.Open(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to open thread"})
		return
	}
	c.JSON(http.StatusOK, threadResponse(thread))
}

func (h *ThreadHandler) CloseThread(c *gin.Context) {
	if err := h.sessions.Close(c.Param("thread_id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not open"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ThreadHandler) GetMessages(c *gin.Context) {
	thread, ok := h.openThread(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, threadResponse(thread))
}

// LoadOlder fetches the next page of history; it is a no-op once exhausted.
func (h *ThreadHandler) LoadOlder(c *gin.Context) {
	thread, ok := h.openThread(c)
	if !ok {
		return
	}
	if err := thread.LoadOlderMessages(c.Request.Context()); err != nil {
		if errors.Is(err, chatsync.ErrThreadClosed) {
			c.JSON(http.StatusConflict, gin.H{"error": "thread closed"})
			return
		}
		logger.Warn("load older failed", zap.String("thread_id", thread.ID()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load older messages"})
		return
	}
	c.JSON(http.StatusOK, threadResponse(thread))
}

// SendMessage sends text optimistically. Blank text is accepted and ignored.
func (h *ThreadHandler) SendMessage(c *gin.Context) {
	thread, ok := h.openThread(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	itemID, err := thread.SendMessage(c.Request.Context(), req.Text)
	switch {
	case errors.Is(err, chatsync.ErrThreadClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "thread closed"})
		return
	case errors.Is(err, chatsync.ErrSendFailed):
		emitAudit(c, h.audit, "ERROR", "message send failed", thread.ID())
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send message"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	case itemID == "":
		c.Status(http.StatusNoContent)
		return
	}

	emitAudit(c, h.audit, "INFO", "message sent", thread.ID())
	c.JSON(http.StatusCreated, gin.H{"item_id": itemID})
}

func (h *ThreadHandler) openThread(c *gin.Context) (*chatsync.Thread, bool) {
	thread, ok := h.sessions.Get(c.Param("thread_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not open"})
		return nil, false
	}
	return thread, true
}

func threadResponse(thread *chatsync.Thread) gin.H {
	return gin.H{
		"thread_id": thread.ID(),
		"state":     thread.State(),
		"messages":  thread.Messages(),
	}
}
