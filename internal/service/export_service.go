package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
	"github.com/noah-isme/sma-behavior-api/pkg/export"
)

// Export formats supported by the incident timeline export.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type timelineSource interface {
	ListIncidentsForStudent(ctx context.Context, studentID string) ([]models.Incident, error)
}

type overviewSource interface {
	CaseOverview(ctx context.Context, caseID string) (*CaseOverview, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderReport(title string, sections []export.Section) ([]byte, error)
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ExportService renders incident timelines and case summaries.
type ExportService struct {
	incidents timelineSource
	cases     overviewSource
	csv       csvRenderer
	pdf       pdfRenderer
	logger    *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(incidents timelineSource, cases overviewSource, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{incidents: incidents, cases: cases, csv: csv, pdf: pdf, logger: logger}
}

var timelineHeaders = []string{"occurred_at", "location", "category", "severity", "outcome", "strategies", "case_id", "description"}

// IncidentTimeline renders the student's incidents as CSV or PDF.
func (s *ExportService) IncidentTimeline(ctx context.Context, studentID, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", format))
	}
	incidents, err := s.incidents.ListIncidentsForStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{Headers: timelineHeaders, Rows: make([]map[string]string, 0, len(incidents))}
	for _, incident := range incidents {
		caseID := ""
		if incident.CaseID != nil {
			caseID = *incident.CaseID
		}
		strategies := make([]string, 0, len(incident.Strategies))
		for _, strategy := range incident.Strategies {
			if strategy.Effectiveness != "" {
				strategies = append(strategies, fmt.Sprintf("%s (%s)", strategy.Name, strategy.Effectiveness))
				continue
			}
			strategies = append(strategies, strategy.Name)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"occurred_at": incident.OccurredAt.Format(time.RFC3339),
			"location":    incident.Location,
			"category":    incident.Category,
			"severity":    string(incident.Severity),
			"outcome":     string(incident.Outcome),
			"strategies":  strings.Join(strategies, "; "),
			"case_id":     caseID,
			"description": incident.Description,
		})
	}

	file := &ExportFile{Filename: fmt.Sprintf("incidents-%s.%s", studentID, format)}
	switch format {
	case ExportFormatCSV:
		file.ContentType = "text/csv"
		file.Content, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		file.ContentType = "application/pdf"
		file.Content, err = s.pdf.Render(dataset, "Incident timeline")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render incident export")
	}
	s.logger.Debug("incident timeline exported", zap.String("student_id", studentID), zap.String("format", format), zap.Int("rows", len(incidents)))
	return file, nil
}

// CaseReport renders a PDF summary of the case, its incidents, and parent acknowledgments.
func (s *ExportService) CaseReport(ctx context.Context, caseID string) (*ExportFile, error) {
	overview, err := s.cases.CaseOverview(ctx, caseID)
	if err != nil {
		return nil, err
	}
	c := overview.Case

	summary := export.Dataset{Headers: []string{"Field", "Value"}}
	addField := func(name, value string) {
		summary.Rows = append(summary.Rows, map[string]string{"Field": name, "Value": value})
	}
	addField("Case", c.ID)
	if overview.Student != nil {
		addField("Student", overview.Student.FullName)
	}
	addField("Status", string(c.Status))
	addField("Severity", string(c.Severity))
	addField("Expert", c.ExpertID)
	addField("Opened", c.CreatedAt.Format(time.RFC3339))
	addField("Assessment", deref(c.Assessment))
	addField("Triggers", strings.Join(c.RecommendedTriggers, ", "))
	addField("Strategies", strings.Join(c.RecommendedStrategies, ", "))
	if c.Monitoring != nil {
		addField("Monitoring", fmt.Sprintf("%d days, %s", c.Monitoring.DurationDays, c.Monitoring.Notes))
	}
	addField("Closing notes", deref(c.ClosingNotes))

	incidents := export.Dataset{Headers: []string{"Date", "Category", "Severity", "Outcome"}}
	for _, incident := range overview.Incidents {
		incidents.Rows = append(incidents.Rows, map[string]string{
			"Date":     incident.OccurredAt.Format("2006-01-02"),
			"Category": incident.Category,
			"Severity": string(incident.Severity),
			"Outcome":  string(incident.Outcome),
		})
	}

	acks := export.Dataset{Headers: []string{"Parent", "Acknowledged", "Feedback"}}
	for _, ack := range overview.Acknowledgments {
		acknowledged := "no"
		if ack.AcknowledgedAt != nil {
			acknowledged = ack.AcknowledgedAt.Format("2006-01-02")
		}
		acks.Rows = append(acks.Rows, map[string]string{
			"Parent":       ack.ParentID,
			"Acknowledged": acknowledged,
			"Feedback":     deref(ack.FeedbackText),
		})
	}

	content, err := s.pdf.RenderReport("Behavior case summary", []export.Section{
		{Heading: "Case", Data: summary},
		{Heading: "Incidents", Data: incidents},
		{Heading: "Parent acknowledgments", Data: acks},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render case report")
	}
	return &ExportFile{Filename: fmt.Sprintf("case-%s.pdf", c.ID), ContentType: "application/pdf", Content: content}, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
