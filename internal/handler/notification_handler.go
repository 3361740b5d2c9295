package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-behavior-api/internal/dto"
	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
	"github.com/noah-isme/sma-behavior-api/pkg/response"
)

type notificationService interface {
	ListUnread(ctx context.Context, role models.UserRole, recipientID string) ([]models.NotificationEvent, error)
	ListAll(ctx context.Context, role models.UserRole, recipientID string, limit int) ([]models.NotificationEvent, error)
	MarkReadAs(ctx context.Context, eventID string, role models.UserRole, recipientID string) error
	MarkAllRead(ctx context.Context, role models.UserRole, recipientID string) (int64, error)
	CountUnread(ctx context.Context, role models.UserRole, recipientID string) (int, error)
}

// NotificationHandler serves the caller's inbox.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler builds a new handler.
func NewNotificationHandler(service notificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List godoc
// @Summary List the caller's notifications, newest first
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread events"
// @Param limit query int false "Maximum events when listing all"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.NotificationListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid notification filter"))
		return
	}
	var events []models.NotificationEvent
	if query.Unread {
		events, err = h.service.ListUnread(c.Request.Context(), claims.Role, claims.UserID)
	} else {
		events, err = h.service.ListAll(c.Request.Context(), claims.Role, claims.UserID, query.Limit)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	if events == nil {
		events = []models.NotificationEvent{}
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// UnreadCount godoc
// @Summary Unread notification count
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	count, err := h.service.CountUnread(c.Request.Context(), claims.Role, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.UnreadCountResponse{Unread: count}, nil)
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Param id path string true "Notification ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.MarkReadAs(c.Request.Context(), c.Param("id"), claims.Role, claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark every notification read
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	updated, err := h.service.MarkAllRead(c.Request.Context(), claims.Role, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MarkAllReadResponse{Updated: updated}, nil)
}
