package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-behavior-api/internal/dto"
	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/internal/service"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
	"github.com/noah-isme/sma-behavior-api/pkg/response"
)

type acknowledgmentService interface {
	Acknowledge(ctx context.Context, req service.AcknowledgmentRequest) (*models.Acknowledgment, error)
	SubmitFeedback(ctx context.Context, req service.FeedbackRequest) (*models.Acknowledgment, error)
	GetStatus(ctx context.Context, req service.AcknowledgmentRequest) (*models.Acknowledgment, error)
}

// AcknowledgmentHandler exposes the parent acknowledgment and feedback loop.
type AcknowledgmentHandler struct {
	service acknowledgmentService
}

// NewAcknowledgmentHandler builds a new handler.
func NewAcknowledgmentHandler(service acknowledgmentService) *AcknowledgmentHandler {
	return &AcknowledgmentHandler{service: service}
}

// Acknowledge godoc
// @Summary Acknowledge an incident or case
// @Tags Acknowledgments
// @Accept json
// @Produce json
// @Param payload body service.AcknowledgmentRequest true "Target"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /acknowledgments [post]
func (h *AcknowledgmentHandler) Acknowledge(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.AcknowledgmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid acknowledgment payload"))
		return
	}
	req.ParentID = claims.UserID
	ack, err := h.service.Acknowledge(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ack, nil)
}

// Status godoc
// @Summary Get the caller's acknowledgment state for a target
// @Tags Acknowledgments
// @Produce json
// @Param targetType query string true "incident or case"
// @Param targetId query string true "Target ID"
// @Success 200 {object} response.Envelope
// @Router /acknowledgments [get]
func (h *AcknowledgmentHandler) Status(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.AcknowledgmentQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "targetType and targetId are required"))
		return
	}
	ack, err := h.service.GetStatus(c.Request.Context(), service.AcknowledgmentRequest{
		ParentID:   claims.UserID,
		TargetType: models.TargetType(query.TargetType),
		TargetID:   query.TargetID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ack, nil)
}

// Feedback godoc
// @Summary Send feedback about an incident or case
// @Tags Acknowledgments
// @Accept json
// @Produce json
// @Param payload body service.FeedbackRequest true "Feedback"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /feedback [post]
func (h *AcknowledgmentHandler) Feedback(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid feedback payload"))
		return
	}
	req.ParentID = claims.UserID
	ack, err := h.service.SubmitFeedback(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ack)
}
