package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
	"github.com/noah-isme/sma-behavior-api/pkg/export"
)

type recordingPDF struct {
	title    string
	sections []export.Section
}

func (r *recordingPDF) Render(data export.Dataset, title string) ([]byte, error) {
	r.title = title
	r.sections = []export.Section{{Data: data}}
	return []byte("%PDF-timeline"), nil
}

func (r *recordingPDF) RenderReport(title string, sections []export.Section) ([]byte, error) {
	r.title = title
	r.sections = sections
	return []byte("%PDF-report"), nil
}

func TestIncidentTimelineCSV(t *testing.T) {
	w := newCasework(t)
	w.reportIncident(t, "low", "resolved", time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))
	_, c := w.escalatedCase(t)

	svc := NewExportService(w.incidents, w.escalations, zap.NewNop(), nil, nil)
	file, err := svc.IncidentTimeline(context.Background(), "student-1", "")
	require.NoError(t, err)
	require.Equal(t, "text/csv", file.ContentType)
	require.Equal(t, "incidents-student-1.csv", file.Filename)

	records, err := csv.NewReader(bytes.NewReader(file.Content)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, timelineHeaders, records[0])
	require.Equal(t, "escalated", records[1][4])
	require.Equal(t, c.ID, records[1][6])
	require.Equal(t, "Short break (somewhat)", records[1][5])
	require.Equal(t, "2026-02-03T10:00:00Z", records[2][0])
	require.Empty(t, records[2][6])
}

func TestIncidentTimelinePDFAndValidation(t *testing.T) {
	w := newCasework(t)
	w.reportIncident(t, "medium", "unresolved", time.Now().Add(-time.Hour))
	pdf := &recordingPDF{}
	svc := NewExportService(w.incidents, w.escalations, zap.NewNop(), nil, pdf)

	file, err := svc.IncidentTimeline(context.Background(), "student-1", "PDF")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", file.ContentType)
	require.Equal(t, "Incident timeline", pdf.title)
	require.Len(t, pdf.sections[0].Data.Rows, 1)

	_, err = svc.IncidentTimeline(context.Background(), "student-1", "xlsx")
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.IncidentTimeline(context.Background(), "missing", "csv")
	require.ErrorIs(t, err, appErrors.ErrStudentNotFound)
}

func TestCaseReportSections(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()
	_, err := w.acks.SubmitFeedback(ctx, FeedbackRequest{
		AcknowledgmentRequest: AcknowledgmentRequest{ParentID: "parent-2", TargetType: models.TargetCase, TargetID: c.ID},
		Text:                  "We will practice at home",
	})
	require.NoError(t, err)

	pdf := &recordingPDF{}
	svc := NewExportService(w.incidents, w.escalations, zap.NewNop(), nil, pdf)
	file, err := svc.CaseReport(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "case-"+c.ID+".pdf", file.Filename)
	require.Equal(t, []byte("%PDF-report"), file.Content)

	require.Len(t, pdf.sections, 3)
	require.Equal(t, "Case", pdf.sections[0].Heading)
	require.Equal(t, "Alex Johnson", pdf.sections[0].Data.Rows[1]["Value"])
	require.Len(t, pdf.sections[1].Data.Rows, 1)
	acks := pdf.sections[2].Data.Rows
	require.Len(t, acks, 2)
	require.Equal(t, "parent-1", acks[0]["Parent"])
	require.Equal(t, "no", acks[0]["Acknowledged"])
	require.Equal(t, "We will practice at home", acks[1]["Feedback"])

	_, err = svc.CaseReport(ctx, "missing")
	require.ErrorIs(t, err, appErrors.ErrCaseNotFound)
}

func TestCaseReportRendersRealPDF(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)

	svc := NewExportService(w.incidents, w.escalations, nil, nil, nil)
	file, err := svc.CaseReport(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(file.Content, []byte("%PDF")))
}
