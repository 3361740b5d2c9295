package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	data := Dataset{
		Headers: []string{"occurred_at", "severity"},
		Rows:    []map[string]string{{"occurred_at": "2024-03-01", "severity": "high"}},
	}
	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	require.Equal(t, "occurred_at,severity\n2024-03-01,high\n", string(out))

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestCSVExporterNeutralizesFormulas(t *testing.T) {
	data := Dataset{
		Headers: []string{"notes"},
		Rows:    []map[string]string{{"notes": "=HYPERLINK(\"x\")"}, {"notes": "-3 points"}, {"notes": "calm"}},
	}
	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	require.Equal(t, "notes\n\"'=HYPERLINK(\"\"x\"\")\"\n'-3 points\ncalm\n", string(out))
}

func TestPDFExporterRenderReport(t *testing.T) {
	sections := []Section{
		{Heading: "Case", Data: Dataset{Headers: []string{"Field", "Value"}, Rows: []map[string]string{{"Field": "Status", "Value": "CLOSED"}}}},
		{Heading: "Empty", Data: Dataset{}},
	}
	out, err := NewPDFExporter().RenderReport("case summary", sections)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().RenderReport("case summary", nil)
	require.Error(t, err)
}
