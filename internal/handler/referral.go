package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/maryam-mebel/support-bot/internal/service"
)

type ReferralHandler struct {
	svc *service.ReferralService
}

func NewReferralHandler(svc *service.ReferralService) *ReferralHandler {
	return &ReferralHandler{svc: svc}
}

// Leaderboard — таблица конкурса для сайта.
func (h *ReferralHandler) Leaderboard(c *gin.Context) {
	n := 10
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	users, err := h.svc.Leaderboard(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load leaderboard"})
		return
	}
	type row struct {
		Rank      int    `json:"rank"`
		UserID    int64  `json:"user_id"`
		FirstName string `json:"first_name"`
		Count     int    `json:"count"`
	}
	out := make([]row, len(users))
	for i, u := range users {
		out[i] = row{Rank: i + 1, UserID: u.ID, FirstName: u.FirstName, Count: u.ReferralCount}
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": out})
}
