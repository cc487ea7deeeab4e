package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/maryam-mebel/support-bot/internal/errs"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/service"
)

// UserHandler — карточка клиента для back-office: заметка, VIP, блокировка.
type UserHandler struct {
	svc *service.UserService
}

func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

func (h *UserHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	u, err := h.svc.ByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}

type updateUserRequest struct {
	Note   *string `json:"note"`
	VIP    *bool   `json:"vip"`
	Status *string `json:"status"`
}

func (h *UserHandler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.Status != nil {
		s := model.UserStatus(*req.Status)
		if s != model.UserStatusActive && s != model.UserStatusBlocked {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active or blocked"})
			return
		}
	}

	ctx := c.Request.Context()
	apply := func(err error) bool {
		if err == nil {
			return true
		}
		if errors.Is(err, errs.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
		}
		return false
	}
	if req.Note != nil && !apply(h.svc.SetNote(ctx, id, *req.Note)) {
		return
	}
	if req.VIP != nil && !apply(h.svc.SetVIP(ctx, id, *req.VIP)) {
		return
	}
	if req.Status != nil && !apply(h.svc.SetStatus(ctx, id, model.UserStatus(*req.Status))) {
		return
	}

	u, err := h.svc.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, u)
}
