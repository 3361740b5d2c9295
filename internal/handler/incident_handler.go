package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/internal/service"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
	"github.com/noah-isme/sma-behavior-api/pkg/response"
)

type incidentService interface {
	CreateIncident(ctx context.Context, req service.CreateIncidentRequest) (*models.Incident, error)
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	ListIncidentsForStudent(ctx context.Context, studentID string) ([]models.Incident, error)
	AuthorizeParent(ctx context.Context, studentID, parentID string) error
}

type incidentEscalator interface {
	EscalateIncident(ctx context.Context, req service.EscalateIncidentRequest) (*models.Case, error)
}

type timelineExporter interface {
	IncidentTimeline(ctx context.Context, studentID, format string) (*service.ExportFile, error)
}

// IncidentHandler exposes incident recording, lookup, and escalation endpoints.
type IncidentHandler struct {
	incidents  incidentService
	escalation incidentEscalator
	exports    timelineExporter
}

// NewIncidentHandler builds a new handler.
func NewIncidentHandler(incidents incidentService, escalation incidentEscalator, exports timelineExporter) *IncidentHandler {
	return &IncidentHandler{incidents: incidents, escalation: escalation, exports: exports}
}

// Create godoc
// @Summary Record a behavior incident
// @Description The reporting teacher is taken from the access token. Outcome "escalated" also opens a case and requires expert_id.
// @Tags Incidents
// @Accept json
// @Produce json
// @Param payload body service.CreateIncidentRequest true "Incident payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /incidents [post]
func (h *IncidentHandler) Create(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid incident payload"))
		return
	}
	req.TeacherID = claims.UserID
	incident, err := h.incidents.CreateIncident(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, incident)
}

// Get godoc
// @Summary Get an incident
// @Tags Incidents
// @Produce json
// @Param id path string true "Incident ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /incidents/{id} [get]
func (h *IncidentHandler) Get(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	incident, err := h.incidents.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.authorizeStudent(c.Request.Context(), claims, incident.StudentID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// ListForStudent godoc
// @Summary List a student's incidents, newest first
// @Tags Incidents
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/incidents [get]
func (h *IncidentHandler) ListForStudent(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	studentID := c.Param("id")
	if err := h.authorizeStudent(c.Request.Context(), claims, studentID); err != nil {
		response.Error(c, err)
		return
	}
	incidents, err := h.incidents.ListIncidentsForStudent(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incidents, nil, map[string]interface{}{"count": len(incidents)})
}

// Export godoc
// @Summary Export a student's incident timeline
// @Tags Incidents
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /students/{id}/incidents/export [get]
func (h *IncidentHandler) Export(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	studentID := c.Param("id")
	if err := h.authorizeStudent(c.Request.Context(), claims, studentID); err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.exports.IncidentTimeline(c.Request.Context(), studentID, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

// Escalate godoc
// @Summary Escalate an incident to a behavioral expert
// @Tags Incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Param payload body service.EscalateIncidentRequest true "Escalation payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /incidents/{id}/escalate [post]
func (h *IncidentHandler) Escalate(c *gin.Context) {
	claims, err := requireClaims(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.EscalateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid escalation payload"))
		return
	}
	req.IncidentID = c.Param("id")

	if claims.Role == models.RoleTeacher {
		incident, err := h.incidents.GetIncident(c.Request.Context(), req.IncidentID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if incident.TeacherID != claims.UserID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only the reporting teacher can escalate this incident"))
			return
		}
	}

	created, err := h.escalation.EscalateIncident(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// authorizeStudent lets staff read any student's record and parents only their own children's.
func (h *IncidentHandler) authorizeStudent(ctx context.Context, claims *models.JWTClaims, studentID string) error {
	if claims.Role != models.RoleParent {
		return nil
	}
	return h.incidents.AuthorizeParent(ctx, studentID, claims.UserID)
}

func sendFile(c *gin.Context, file *service.ExportFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
