package handler

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maryam-mebel/support-bot/internal/dispatch"
	"github.com/maryam-mebel/support-bot/internal/telegram"
)

// WebhookHandler принимает webhook-апдейты чат-провайдера и сдаёт их в пул
// воркеров. Отвечаем быстро: провайдер ретраит всё, что не 200.
type WebhookHandler struct {
	pool *dispatch.Pool
}

func NewWebhookHandler(pool *dispatch.Pool) *WebhookHandler {
	return &WebhookHandler{pool: pool}
}

func (h *WebhookHandler) Inbound(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	ev, ok, err := telegram.ParseUpdate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}
	// Неинтересные апдейты (стикеры, сервисные сообщения) подтверждаем молча.
	if ok && !h.pool.Submit(ev) {
		log.Printf("webhook: pool closed, update dropped")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	c.Status(http.StatusOK)
}
