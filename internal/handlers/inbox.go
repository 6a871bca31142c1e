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

// InboxHandler exposes the conversation list synchronizer.
type InboxHandler struct {
	inbox *chatsync.Inbox
	audit *telemetry.AuditEmitter
}

// NewInboxHandler builds an InboxHandler.
func NewInboxHandler(inbox *chatsync.Inbox, audit *telemetry.AuditEmitter) *InboxHandler {
	return &InboxHandler{inbox: inbox, audit: audit}
}

// ListConversations returns the current list ordered by recent activity.
func (h *InboxHandler) ListConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":       h.inbox.Version(),
		"running":       h.inbox.Running(),
		"conversations": h.inbox.Conversations(),
	})
}

// Search filters the list by title. An empty query returns every conversation.
func (h *InboxHandler) Search(c *gin.Context) {
	query := c.Query("q")
	c.JSON(http.StatusOK, gin.H{"query": query, "conversations": h.inbox.Search(query)})
}

func (h *InboxHandler) Focus(c *gin.Context) {
	h.inbox.Start()
	c.Status(http.StatusNoContent)
}

func (h *InboxHandler) Blur(c *gin.Context) {
	h.inbox.Stop()
	c.Status(http.StatusNoContent)
}

// Refresh fetches the list out of band.
func (h *InboxHandler) Refresh(c *gin.Context) {
	if err := h.inbox.RefreshNow(c.Request.Context()); err != nil {
		logger.Warn("inbox refresh failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to refresh conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": h.inbox.Version(), "conversations": h.inbox.Conversations()})
}

// MarkSeen flips the thread to READ locally; backend failures are not reported.
func (h *InboxHandler) MarkSeen(c *gin.Context) {
	threadID := c.Param("thread_id")
	var req struct {
		ItemID string `json:"item_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.inbox.MarkThreadSeen(c.Request.Context(), threadID, req.ItemID)
	c.Status(http.StatusNoContent)
}

// DeleteThread removes the thread; the list is untouched when the backend refuses.
func (h *InboxHandler) DeleteThread(c *gin.Context) {
	threadID := c.Param("thread_id")
	if err := h.inbox.DeleteThread(c.Request.Context(), threadID); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, backend.ErrNotFound) {
			status = http.StatusNotFound
		}
		emitAudit(c, h.audit, "ERROR", "thread delete failed", threadID)
		c.JSON(status, gin.H{"error": "could not delete thread"})
		return
	}

	emitAudit(c, h.audit, "INFO", "thread deleted", threadID)
	c.Status(http.StatusNoContent)
}
