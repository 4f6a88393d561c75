package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	alerts "freshtrack-cloud/internal/alerts/domain"
	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
)

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
)

func walkIn() units.Unit {
	return units.Unit{ID: "u1", OrgID: "org-a", Name: "Walk-in 1", TempMin: 320, TempMax: 400, TempUnit: readings.Fahrenheit}
}

func TestBuildReadingsXLSX(t *testing.T) {
	battery := 87
	rows := []readings.Reading{
		{ID: "r1", UnitID: "u1", Temperature: 365, RecordedAt: periodStart.Add(time.Hour), Source: readings.SourceWebhook, BatteryPercent: &battery},
		{ID: "r2", UnitID: "u1", Temperature: 431, RecordedAt: periodStart.Add(2 * time.Hour), Source: readings.SourceWebhook},
	}
	data, err := BuildReadingsXLSX(walkIn(), rows, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if value, _ := f.GetCellValue(summarySheet, "B9"); value != "1" {
		t.Fatalf("expected one out-of-range reading in summary, got %q", value)
	}
	sheetRows, err := f.GetRows(readingsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(sheetRows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(sheetRows))
	}
	if sheetRows[1][1] != "36.5" || sheetRows[1][3] != "87" || sheetRows[1][5] != "FALSE" {
		t.Fatalf("unexpected first row %v", sheetRows[1])
	}
	if sheetRows[2][1] != "43.1" || sheetRows[2][5] != "TRUE" {
		t.Fatalf("unexpected second row %v", sheetRows[2])
	}
}

func TestBuildAlertHistoryPDF(t *testing.T) {
	history := []alerts.Alert{{
		ID: "a1", UnitID: "u1", Type: alerts.TypeAlarmActive, Severity: alerts.SeverityCritical,
		Status: alerts.StatusResolved, EscalationLevel: 1, TriggeredAt: periodStart.Add(time.Hour),
		AcknowledgedAt: periodStart.Add(90 * time.Minute), AcknowledgedBy: "ops@example.com",
		ResolvedAt: periodStart.Add(3 * time.Hour),
	}}
	data, err := BuildAlertHistoryPDF(walkIn(), history, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output is not a pdf")
	}
}
