package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/maryam-mebel/support-bot/internal/errs"
	"github.com/maryam-mebel/support-bot/internal/service"
)

// TicketHandler — REST-панель сайта поверх журнала обращений. Ответы,
// добавленные через POST /messages, доставляет фоновый relay-проход бота.
type TicketHandler struct {
	svc *service.TicketService
}

func NewTicketHandler(svc *service.TicketService) *TicketHandler {
	return &TicketHandler{svc: svc}
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	t, err := h.svc.ByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	messages, err := h.svc.Transcript(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transcript"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": t, "messages": messages})
}

func (h *TicketHandler) List(c *gin.Context) {
	filter := make(map[string]interface{})
	if v := c.Query("user_id"); v != "" {
		filter["user_id = ?"] = v
	}
	if v := c.Query("status"); v != "" {
		filter["status = ?"] = v
	}
	if v := c.Query("topic"); v != "" {
		filter["topic = ?"] = v
	}
	if v := c.Query("admin_id"); v != "" {
		filter["assigned_admin_id = ?"] = v
	}

	limit := 0
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, total, err := h.svc.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
	})
}

type appendMessageRequest struct {
	AdminID   int64  `json:"admin_id" binding:"required"`
	AdminName string `json:"admin_name" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

// AppendMessage пишет ответ оператора сайта в журнал тикета. Пользователю в
// чат его доставит фоновый проход, поэтому 202, а не 200.
func (h *TicketHandler) AppendMessage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	msg, err := h.svc.AppendAdminMessage(c.Request.Context(), id, req.AdminID, req.AdminName, req.Text)
	if err != nil {
		if errors.Is(err, errs.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append message"})
		return
	}
	c.JSON(http.StatusAccepted, msg)
}
