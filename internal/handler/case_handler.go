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

type caseService interface {
	ApplyAssessment(ctx context.Context, req service.ApplyAssessmentRequest) (*models.Case, error)
	SetMonitoring(ctx context.Context, req service.SetMonitoringRequest) (*models.Case, error)
	RecordNewIncident(ctx context.Context, req service.RecordNewIncidentRequest) (*models.Case, error)
	CloseCase(ctx context.Context, req service.CloseCaseRequest) (*models.Case, error)
	AuthorizeViewer(ctx context.Context, caseID string, role models.UserRole, userID string) (*models.Case, error)
	ListCases(ctx context.Context, req service.CaseListRequest) ([]models.Case, error)
	CaseOverview(ctx context.Context, caseID string) (*service.CaseOverview, error)
}

type caseReporter interface {
	CaseReport(ctx context.Context, caseID string) (*service.ExportFile, error)
}

// CaseHandler exposes the expert case workflow.
type CaseHandler struct {
	cases   caseService
	reports caseReporter
}

// NewCaseHandler builds a new handler.
func NewCaseHandler(cases caseService, reports caseReporter) *CaseHandler {
	return &CaseHandler{cases: cases, reports: reports}
}

// List godoc
// @Summary List cases
// @Description Experts only see their own caseload.
// @Tags Cases
// @Produce json
// @Param expertId query string false "Expert ID (administrators only)"
// @Param studentId query string false "Student ID"
// @Param status query []string false "UNDER_REVIEW, MONITORING or CLOSED" collectionFormat(multi)
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /cases [get]
func (h *CaseHandler) List(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.CaseListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid case filter"))
		return
	}
	req := service.CaseListRequest{
		ExpertID:  query.ExpertID,
		StudentID: query.StudentID,
		Status:    query.Status,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	if !isAdmin(claims) {
		req.ExpertID = claims.UserID
	}
	cases, err := h.cases.ListCases(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cases, nil, map[string]interface{}{"count": len(cases)})
}

// Get godoc
// @Summary Get a case
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cases/{id} [get]
func (h *CaseHandler) Get(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	item, err := h.cases.AuthorizeViewer(c.Request.Context(), c.Param("id"), claims.Role, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Overview godoc
// @Summary Case with its incidents and parent acknowledgments
// @Tags Cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} response.Envelope
// @Router /cases/{id}/overview [get]
func (h *CaseHandler) Overview(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.cases.AuthorizeViewer(c.Request.Context(), c.Param("id"), claims.Role, claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	overview, err := h.cases.CaseOverview(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// Report godoc
// @Summary Download the case summary as PDF
// @Tags Cases
// @Produce application/pdf
// @Param id path string true "Case ID"
// @Success 200 {file} file
// @Router /cases/{id}/report [get]
func (h *CaseHandler) Report(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.cases.AuthorizeViewer(c.Request.Context(), c.Param("id"), claims.Role, claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.reports.CaseReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

// Assess godoc
// @Summary Apply the expert assessment
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.ApplyAssessmentRequest true "Assessment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/assessment [post]
func (h *CaseHandler) Assess(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.ApplyAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assessment payload"))
		return
	}
	req.CaseID = c.Param("id")
	req.ActorID = actorID(claims)
	h.respond(c, func(ctx context.Context) (*models.Case, error) { return h.cases.ApplyAssessment(ctx, req) })
}

// Monitor godoc
// @Summary Move a case into monitoring
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.SetMonitoringRequest true "Monitoring window"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/monitor [post]
func (h *CaseHandler) Monitor(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.SetMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid monitoring payload"))
		return
	}
	req.CaseID = c.Param("id")
	req.ActorID = actorID(claims)
	h.respond(c, func(ctx context.Context) (*models.Case, error) { return h.cases.SetMonitoring(ctx, req) })
}

// AddIncident godoc
// @Summary Link a new related incident and reopen a monitored case
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.RecordNewIncidentRequest true "Related incident"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/incidents [post]
func (h *CaseHandler) AddIncident(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.RecordNewIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid related incident payload"))
		return
	}
	req.CaseID = c.Param("id")
	req.ActorID = actorID(claims)
	h.respond(c, func(ctx context.Context) (*models.Case, error) { return h.cases.RecordNewIncident(ctx, req) })
}

// Close godoc
// @Summary Close a case
// @Tags Cases
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param payload body service.CloseCaseRequest true "Closing notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /cases/{id}/close [post]
func (h *CaseHandler) Close(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.CloseCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid close payload"))
		return
	}
	req.CaseID = c.Param("id")
	req.ActorID = actorID(claims)
	h.respond(c, func(ctx context.Context) (*models.Case, error) { return h.cases.CloseCase(ctx, req) })
}

func (h *CaseHandler) respond(c *gin.Context, mutate func(ctx context.Context) (*models.Case, error)) {
	updated, err := mutate(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}
